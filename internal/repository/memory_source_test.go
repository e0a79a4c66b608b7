package repository

import (
	"edu_stats_backend/internal/model"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureJSON = `{
  "records": [
    {"batch_code": "B1", "subject_name": "数学", "subject_type": "exam", "student_id": "s2", "question_id": "q1", "score": 8, "max_score": 10, "school_id": "S2", "school_name": "二小", "grade_level": "4th_grade"},
    {"batch_code": "B1", "subject_name": "数学", "subject_type": "", "student_id": "s1", "question_id": "q2", "score": 5, "max_score": 10, "school_id": "S1", "school_name": "一小", "grade_level": "4th_grade"},
    {"batch_code": "B1", "subject_name": "数学", "subject_type": "exam", "student_id": "s1", "question_id": "q1", "score": 6, "max_score": 10, "school_id": "S1", "school_name": "一小", "grade_level": "4th_grade"},
    {"batch_code": "B2", "subject_name": "语文", "subject_type": "exam", "student_id": "s9", "question_id": "q1", "score": 1, "max_score": 10, "school_id": "S9", "school_name": "九小", "grade_level": "7th_grade"}
  ],
  "question_configs": [
    {"batch_code": "B1", "subject_name": "数学", "question_id": "q2", "max_score": 10},
    {"batch_code": "B1", "subject_name": "数学", "question_id": "q1", "max_score": 10}
  ],
  "dimension_mappings": [
    {"batch_code": "B1", "subject_name": "数学", "question_id": "q1", "dimension_type": "knowledge", "dimension_value": "algebra", "hierarchy_level": 1, "weight": 1},
    {"batch_code": "", "question_id": "q2", "dimension_type": "ability", "dimension_value": "reasoning", "hierarchy_level": 1, "weight": 1},
    {"batch_code": "B1", "question_id": "q7", "dimension_type": "knowledge", "dimension_value": "unused", "hierarchy_level": 1}
  ],
  "scale_options": [
    {"instrument_type": "likert", "scale_level": 3, "option_level": 2, "option_label": "一般"},
    {"instrument_type": "likert", "scale_level": 3, "option_level": 1, "option_label": "不满意"}
  ]
}`

func loadTestSource(t *testing.T) *MemorySource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(fixtureJSON), 0o644))
	f, err := LoadFixture(path)
	require.NoError(t, err)
	return NewMemorySource(f)
}

func TestLoadFixtureErrors(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadFixture(path)
	assert.Error(t, err)
}

func TestLoadFixtureYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	content := `records:
  - batch_code: B1
    subject_name: 数学
    subject_type: exam
    student_id: s1
    question_id: q1
    score: 6
    max_score: 10
    school_id: S1
    school_name: 一小
    grade_level: 4th_grade
scale_options:
  - instrument_type: likert
    scale_level: 3
    option_level: 1
    option_label: 不满意
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	f, err := LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, f.Records, 1)
	assert.Equal(t, "S1", f.Records[0].SchoolID)
	assert.Equal(t, 6.0, f.Records[0].Score)
	require.Len(t, f.ScaleOptions, 1)
	assert.Equal(t, "不满意", f.ScaleOptions[0].OptionLabel)
}

func TestMemorySourceSubjectsAndSchools(t *testing.T) {
	src := loadTestSource(t)

	subjects, err := src.Subjects("B1")
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, model.SubjectInfo{Name: "数学", Type: model.SubjectExam, MaxScore: 20, GradeLevel: "4th_grade"}, subjects[0])

	schools, err := src.Schools("B1")
	require.NoError(t, err)
	assert.Equal(t, []model.School{{Code: "S1", Name: "一小"}, {Code: "S2", Name: "二小"}}, schools)

	ok, err := src.BatchExists("B2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = src.BatchExists("B3")
	assert.False(t, ok)
}

func TestMemorySourceScoreRecords(t *testing.T) {
	src := loadTestSource(t)

	records, err := src.ScoreRecords(model.ScoreFilter{BatchCode: "B1"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"s1", "s1", "s2"}, []string{records[0].StudentID, records[1].StudentID, records[2].StudentID})
	assert.Equal(t, "q1", records[0].QuestionID)

	records, _ = src.ScoreRecords(model.ScoreFilter{BatchCode: "B1", SchoolCode: "S1", QuestionIDs: []string{"q2"}})
	require.Len(t, records, 1)
	assert.Equal(t, 5.0, records[0].Score)

	configs, _ := src.QuestionConfigs("B1", "数学")
	require.Len(t, configs, 2)
	assert.Equal(t, "q1", configs[0].QuestionID)
}

func TestMemorySourceDimensionMappings(t *testing.T) {
	src := loadTestSource(t)

	mappings, err := src.DimensionMappings("B1", nil)
	require.NoError(t, err)
	require.Len(t, mappings, 2, "mappings without scored questions are dropped")
	assert.Equal(t, "ability", mappings[0].DimensionType)

	mappings, _ = src.DimensionMappings("B1", []string{"knowledge"})
	require.Len(t, mappings, 1)
	assert.Equal(t, "algebra", mappings[0].DimensionValue)

	mappings, _ = src.SubjectDimensionMappings("B1", "数学")
	assert.Len(t, mappings, 1)

	opts, _ := src.ScaleOptions("likert", 3)
	require.Len(t, opts, 2)
	assert.Equal(t, 1, opts[0].OptionLevel)
}
