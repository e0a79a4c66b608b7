package service

import (
	"context"
	"edu_stats_backend/internal/config"
	"edu_stats_backend/internal/dimension"
	"edu_stats_backend/internal/model"
	"edu_stats_backend/internal/repository"
	"edu_stats_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const (
	mathSubject   = "数学"
	surveySubject = "学习动机"
)

type student struct {
	id, school string
	q1, q2     float64
}

func testFixture() *repository.Fixture {
	f := &repository.Fixture{
		QuestionConfigs: []model.QuestionConfig{
			{BatchCode: "B1", SubjectName: mathSubject, QuestionID: "q1", MaxScore: 50},
			{BatchCode: "B1", SubjectName: mathSubject, QuestionID: "q2", MaxScore: 50},
			{BatchCode: "B1", SubjectName: surveySubject, QuestionID: "s1", MaxScore: 5},
			{BatchCode: "B1", SubjectName: surveySubject, QuestionID: "s2", MaxScore: 5},
		},
		DimensionMappings: []model.DimensionMapping{
			{BatchCode: "B1", SubjectName: mathSubject, QuestionID: "q1", DimensionType: "knowledge", DimensionValue: "algebra", HierarchyLevel: 1},
			{BatchCode: "B1", SubjectName: mathSubject, QuestionID: "q2", DimensionType: "knowledge", DimensionValue: "geometry", HierarchyLevel: 1},
			{BatchCode: "B1", SubjectName: surveySubject, QuestionID: "s1", DimensionType: "motivation", DimensionValue: "intrinsic", HierarchyLevel: 1},
			{BatchCode: "B1", SubjectName: surveySubject, QuestionID: "s2", DimensionType: "motivation", DimensionValue: "intrinsic", HierarchyLevel: 1},
		},
	}
	schools := map[string]string{"S1": "第一小学", "S2": "第二小学", "S3": "第三小学"}

	// 各校数学平均分 90、90、80
	for _, s := range []student{
		{"a1", "S1", 45, 45}, {"a2", "S1", 50, 40},
		{"b1", "S2", 40, 50}, {"b2", "S2", 45, 45},
		{"c1", "S3", 40, 40}, {"c2", "S3", 40, 40},
	} {
		for q, score := range map[string]float64{"q1": s.q1, "q2": s.q2} {
			f.Records = append(f.Records, model.ScoreRecord{
				BatchCode: "B1", SubjectName: mathSubject, SubjectType: model.SubjectExam,
				StudentID: s.id, QuestionID: q, Score: score, MaxScore: 50,
				SchoolID: s.school, SchoolName: schools[s.school], GradeLevel: "4th_grade",
			})
		}
	}

	for _, s := range []student{{"a1", "S1", 5, 4}, {"b1", "S2", 4, 4}, {"c1", "S3", 3, 2}} {
		for q, level := range map[string]float64{"s1": s.q1, "s2": s.q2} {
			f.Records = append(f.Records, model.ScoreRecord{
				BatchCode: "B1", SubjectName: surveySubject, SubjectType: model.SubjectQuestionnaire,
				StudentID: s.id, QuestionID: q, Score: level, MaxScore: 5,
				SchoolID: s.school, SchoolName: schools[s.school], GradeLevel: "4th_grade",
			})
			f.OptionResponses = append(f.OptionResponses, model.OptionResponse{
				BatchCode: "B1", SubjectName: surveySubject, StudentID: s.id, SchoolID: s.school,
				QuestionID: q, InstrumentType: "motivation", ScaleLevel: 5, OptionLevel: int(level),
			})
		}
	}

	for i, label := range []string{"完全不符合", "比较不符合", "不确定", "比较符合", "完全符合"} {
		f.ScaleOptions = append(f.ScaleOptions, model.ScaleOption{
			InstrumentType: "motivation", ScaleLevel: 5, OptionLevel: i + 1, OptionLabel: label,
		})
	}
	return f
}

func newTestBuilder(t *testing.T) *SubjectsBuilder {
	t.Helper()
	source := repository.NewMemorySource(testFixture())
	e, err := NewCalculationEngine(config.DefaultStats(), source)
	require.NoError(t, err)
	b := NewSubjectsBuilder(e, source, "v1.2")
	b.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return b
}

func subjectByName(t *testing.T, report *model.Report, name string) model.SubjectBlock {
	t.Helper()
	for _, s := range report.Subjects {
		if s.SubjectName == name {
			return s
		}
	}
	require.FailNow(t, "subject not found", name)
	return model.SubjectBlock{}
}

func dimensionByCode(t *testing.T, block model.SubjectBlock, code string) model.DimensionBlock {
	t.Helper()
	for _, d := range block.Dimensions {
		if d.Code == code {
			return d
		}
	}
	require.FailNow(t, "dimension not found", code)
	return model.DimensionBlock{}
}

func TestDenseRank(t *testing.T) {
	ranks := DenseRank([]SchoolAverage{
		{Code: "S3", Avg: 80},
		{Code: "S2", Avg: 90},
		{Code: "S1", Avg: 90},
	})
	require.Len(t, ranks, 3)
	assert.Equal(t, []string{"S1", "S2", "S3"}, []string{ranks[0].SchoolCode, ranks[1].SchoolCode, ranks[2].SchoolCode})
	assert.Equal(t, []int{1, 1, 2}, []int{ranks[0].Rank, ranks[1].Rank, ranks[2].Rank})

	ranks = DenseRank([]SchoolAverage{
		{Code: "A", Avg: 85.0},
		{Code: "B", Avg: 85.001},
		{Code: "C", Avg: 70},
		{Code: "D", Avg: 92},
	})
	assert.Equal(t, "D", ranks[0].SchoolCode)
	assert.Equal(t, []int{1, 2, 2, 3}, []int{ranks[0].Rank, ranks[1].Rank, ranks[2].Rank, ranks[3].Rank}, "ties compare two-decimal averages")

	rank, total, ok := RankOf([]SchoolAverage{{Code: "A", Avg: 1}, {Code: "B", Avg: 2}}, "A")
	assert.True(t, ok)
	assert.Equal(t, 2, rank)
	assert.Equal(t, 2, total)

	_, _, ok = RankOf(nil, "A")
	assert.False(t, ok)
}

func TestBuildRegional(t *testing.T) {
	b := newTestBuilder(t)
	report, idx, err := b.BuildRegional("B1")
	require.NoError(t, err)
	require.NotNil(t, idx)

	assert.Equal(t, "v1.2", report.SchemaVersion)
	assert.Equal(t, model.LevelRegional, report.AggregationLevel)
	assert.Empty(t, report.SchoolCode)
	require.Len(t, report.Subjects, 2)

	math := subjectByName(t, report, mathSubject)
	assert.Equal(t, model.SubjectExam, math.Type)
	assert.Equal(t, 6, math.Metrics.StudentCount)
	assert.Equal(t, 100.0, math.Metrics.MaxScore)
	assert.Equal(t, 86.67, math.Metrics.Avg)
	assert.Equal(t, 90.0, math.Metrics.Max)
	assert.Equal(t, 80.0, math.Metrics.Min)
	assert.Equal(t, 0.87, math.Metrics.Difficulty)
	assert.Equal(t, 0.1, math.Metrics.Discrimination)
	assert.Equal(t, 80.0, math.Metrics.P10)
	assert.Equal(t, 90.0, math.Metrics.P50)
	assert.Equal(t, 90.0, math.Metrics.P90)
	assert.Nil(t, math.RegionRank)
	assert.Nil(t, math.TotalSchools)

	require.Len(t, math.SchoolRankings, 3)
	var ranks []int
	for _, r := range math.SchoolRankings {
		ranks = append(ranks, r.Rank)
	}
	assert.Equal(t, []int{1, 1, 2}, ranks)
	assert.Equal(t, "第三小学", math.SchoolRankings[2].SchoolName)

	algebra := dimensionByCode(t, math, "algebra")
	assert.Equal(t, "knowledge", algebra.Type)
	assert.Equal(t, 43.33, algebra.Avg)
	assert.Equal(t, 86.67, algebra.ScoreRate)
	assert.Nil(t, algebra.Rank)
	assert.Empty(t, math.Questions)
}

func TestBuildRegionalQuestionnaire(t *testing.T) {
	b := newTestBuilder(t)
	report, _, err := b.BuildRegional("B1")
	require.NoError(t, err)

	survey := subjectByName(t, report, surveySubject)
	assert.Equal(t, model.SubjectQuestionnaire, survey.Type)
	assert.Equal(t, 3, survey.Metrics.StudentCount)
	require.Len(t, survey.Questions, 2)

	s1 := survey.Questions[0]
	assert.Equal(t, "s1", s1.QuestionID)
	require.Len(t, s1.OptionDistribution, 3)
	assert.Equal(t, 3, s1.OptionDistribution[0].OptionLevel)
	assert.Equal(t, "不确定", s1.OptionDistribution[0].OptionLabel)
	assert.Equal(t, 33.33, s1.OptionDistribution[0].Pct)

	s2 := survey.Questions[1]
	require.Len(t, s2.OptionDistribution, 2)
	assert.Equal(t, 66.67, s2.OptionDistribution[1].Pct)

	intrinsic := dimensionByCode(t, survey, "intrinsic")
	require.Len(t, intrinsic.OptionDistribution, 4)
	assert.Equal(t, 2, intrinsic.OptionDistribution[0].OptionLevel)
	assert.Equal(t, 16.67, intrinsic.OptionDistribution[0].Pct)
	assert.Equal(t, 3, intrinsic.OptionDistribution[2].Count)
	assert.Equal(t, 50.0, intrinsic.OptionDistribution[2].Pct)
}

func TestBuildSchool(t *testing.T) {
	b := newTestBuilder(t)
	_, idx, err := b.BuildRegional("B1")
	require.NoError(t, err)

	for _, reuse := range []*RegionalIndex{idx, nil} {
		report, err := b.BuildSchool("B1", "S1", reuse)
		require.NoError(t, err)
		assert.Equal(t, model.LevelSchool, report.AggregationLevel)
		assert.Equal(t, "S1", report.SchoolCode)
		assert.Equal(t, "第一小学", report.SchoolName)

		math := subjectByName(t, report, mathSubject)
		assert.Empty(t, math.SchoolRankings)
		require.NotNil(t, math.RegionRank)
		assert.Equal(t, 1, *math.RegionRank)
		assert.Equal(t, 3, *math.TotalSchools)
		assert.Equal(t, 2, math.Metrics.StudentCount)
		assert.Equal(t, 90.0, math.Metrics.Avg)

		algebra := dimensionByCode(t, math, "algebra")
		require.NotNil(t, algebra.Rank)
		assert.Equal(t, 1, *algebra.Rank)
		assert.Equal(t, 47.5, algebra.Avg)
		geometry := dimensionByCode(t, math, "geometry")
		require.NotNil(t, geometry.Rank)
		assert.Equal(t, 2, *geometry.Rank)
	}

	report, err := b.BuildSchool("B1", "S3", idx)
	require.NoError(t, err)
	math := subjectByName(t, report, mathSubject)
	assert.Equal(t, 2, *math.RegionRank)
	survey := subjectByName(t, report, surveySubject)
	require.Len(t, survey.Questions, 2)
	assert.Equal(t, 100.0, survey.Questions[0].OptionDistribution[0].Pct)
}

func TestBuildErrors(t *testing.T) {
	b := newTestBuilder(t)

	_, _, err := b.BuildRegional("missing")
	assert.ErrorIs(t, err, util.ErrBatchNotFound)

	_, err = b.BuildSchool("B1", "S9", nil)
	assert.ErrorIs(t, err, util.ErrSchoolNotFound)
}

func TestFillMaxScoresFromConfig(t *testing.T) {
	f := testFixture()
	for i := range f.Records {
		if f.Records[i].SubjectName == mathSubject {
			f.Records[i].MaxScore = 0
		}
	}
	source := repository.NewMemorySource(f)
	e, err := NewCalculationEngine(config.DefaultStats(), source)
	require.NoError(t, err)
	b := NewSubjectsBuilder(e, source, "v1.2")

	data, err := b.loadSubject("B1", model.SubjectInfo{Name: mathSubject, Type: model.SubjectExam}, "S1")
	require.NoError(t, err)
	require.Len(t, data.records, 4)
	for _, r := range data.records {
		assert.Equal(t, 50.0, r.MaxScore)
	}
	assert.Equal(t, 100.0, data.fullMark())
}

func TestReportServiceRebuild(t *testing.T) {
	b := newTestBuilder(t)
	stats := config.DefaultStats()
	stats.Parallelism = 2
	svc := NewReportService(b, b.engine, nil, nil, nil, stats)

	summary, err := svc.Rebuild(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Schools)
	assert.Equal(t, 2, summary.Subjects)
	assert.Empty(t, summary.FailedSchools)
	assert.NotEmpty(t, summary.RunID)

	report, err := svc.School(context.Background(), "B1", "S2")
	require.NoError(t, err)
	assert.Equal(t, 1, *subjectByName(t, report, mathSubject).RegionRank)

	_, err = svc.Rebuild(context.Background(), "missing")
	assert.ErrorIs(t, err, util.ErrBatchNotFound)
}

func TestReportServiceDimensions(t *testing.T) {
	b := newTestBuilder(t)
	svc := NewReportService(b, b.engine, nil, nil, nil, config.DefaultStats())

	res, err := svc.Dimensions(context.Background(), "B1", []string{"knowledge"})
	require.NoError(t, err)
	assert.Equal(t, "B1", res.String("batch_code"))
	stats, ok := res["dimension_statistics"].(map[string]*dimension.TypeStats)
	require.True(t, ok)
	require.Contains(t, stats, "knowledge")
	assert.Equal(t, 2, stats["knowledge"].TotalDimensions)
	assert.NotContains(t, stats, "motivation")

	rows, total, err := svc.Aggregations("B1", 1, 20)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, total)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "stats_cache:B1:REGIONAL", cacheKey("B1", model.LevelRegional, ""))
	assert.Equal(t, "stats_cache:B1:SCHOOL:S1", cacheKey("B1", model.LevelSchool, "S1"))
	assert.Equal(t, "reports/B1/school_S1.json", ArchiveName(&model.Report{BatchCode: "B1", AggregationLevel: model.LevelSchool, SchoolCode: "S1"}))
}

func TestQuestionDiscrimination(t *testing.T) {
	b := newTestBuilder(t)

	out, err := b.QuestionDiscrimination("B1", mathSubject)
	require.NoError(t, err)
	require.Contains(t, out, "q1")
	require.Contains(t, out, "q2")
	summary, ok := out["_summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, summary["total_questions"])
	assert.Equal(t, 0, summary["failed"])

	_, err = b.QuestionDiscrimination("B1", "英语")
	assert.ErrorIs(t, err, util.ErrSubjectNotFound)
	_, err = b.QuestionDiscrimination("B9", mathSubject)
	assert.ErrorIs(t, err, util.ErrBatchNotFound)
}

func TestQuestionnaireReverseCoding(t *testing.T) {
	const subject = "学习态度"
	f := &repository.Fixture{
		DimensionMappings: []model.DimensionMapping{
			{BatchCode: "B2", SubjectName: subject, QuestionID: "pos", DimensionType: "attitude", DimensionValue: "attitude", HierarchyLevel: 1},
			{BatchCode: "B2", SubjectName: subject, QuestionID: "neg", DimensionType: "attitude", DimensionValue: "attitude", HierarchyLevel: 1,
				Metadata: datatypes.JSON(`{"direction": "reverse"}`)},
		},
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		for q, level := range map[string]int{"pos": 1, "neg": 5} {
			f.Records = append(f.Records, model.ScoreRecord{
				BatchCode: "B2", SubjectName: subject, SubjectType: model.SubjectQuestionnaire,
				StudentID: id, QuestionID: q, Score: float64(level), MaxScore: 5,
				SchoolID: "S1", SchoolName: "第一小学",
			})
			f.OptionResponses = append(f.OptionResponses, model.OptionResponse{
				BatchCode: "B2", SubjectName: subject, StudentID: id, SchoolID: "S1",
				QuestionID: q, InstrumentType: "attitude", ScaleLevel: 5, OptionLevel: level,
			})
		}
	}
	source := repository.NewMemorySource(f)
	e, err := NewCalculationEngine(config.DefaultStats(), source)
	require.NoError(t, err)
	b := NewSubjectsBuilder(e, source, "v1.2")

	report, _, err := b.BuildRegional("B2")
	require.NoError(t, err)
	block := subjectByName(t, report, subject)
	assert.Equal(t, 2.0, block.Metrics.Avg)

	dim := dimensionByCode(t, block, "attitude")
	assert.Equal(t, 2.0, dim.Avg)
	assert.Equal(t, 20.0, dim.ScoreRate)

	// 选项分布仍按原始作答统计
	for _, q := range block.Questions {
		if q.QuestionID == "neg" {
			require.Len(t, q.OptionDistribution, 1)
			assert.Equal(t, 5, q.OptionDistribution[0].OptionLevel)
		}
	}

	require.NotNil(t, block.Quality)
	assert.Equal(t, 3, block.Quality.TotalResponses)
	assert.Equal(t, 3, block.Quality.ValidResponses)
	assert.Equal(t, 1.0, block.Quality.ValidityRate)
}

func TestQuestionnaireWithoutReverseItemsKeepsRawLevels(t *testing.T) {
	b := newTestBuilder(t)

	report, _, err := b.BuildRegional("B1")
	require.NoError(t, err)
	block := subjectByName(t, report, surveySubject)
	// 三名学生的 s1+s2 分别为 9、8、5
	assert.Equal(t, 7.33, block.Metrics.Avg)
	require.NotNil(t, block.Quality)
	assert.Equal(t, 3, block.Quality.TotalResponses)
}
