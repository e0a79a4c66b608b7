package repository

import (
	"edu_stats_backend/internal/model"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixture 一个批次的全部输入数据，用于离线计算与导入
type Fixture struct {
	Records           []model.ScoreRecord      `json:"records"`
	QuestionConfigs   []model.QuestionConfig   `json:"question_configs"`
	DimensionMappings []model.DimensionMapping `json:"dimension_mappings"`
	OptionResponses   []model.OptionResponse   `json:"option_responses"`
	ScaleOptions      []model.ScaleOption      `json:"scale_options"`
}

// LoadFixture 读取批次数据，.yaml/.yml 按 YAML 解析，其余按 JSON
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("decode fixture %s: %w", path, err)
		}
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return &f, nil
}

// yamlToJSON 模型只声明了 json 标签，YAML 先转成 JSON 再解码
func yamlToJSON(data []byte) ([]byte, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// MemorySource 与 ScoreRepository 行为一致的内存数据源
type MemorySource struct {
	data *Fixture
}

func NewMemorySource(f *Fixture) *MemorySource {
	if f == nil {
		f = &Fixture{}
	}
	return &MemorySource{data: f}
}

func (m *MemorySource) Subjects(batchCode string) ([]model.SubjectInfo, error) {
	index := map[string]*model.SubjectInfo{}
	for _, r := range m.data.Records {
		if r.BatchCode != batchCode {
			continue
		}
		s, ok := index[r.SubjectName]
		if !ok {
			t := r.SubjectType
			if !t.Valid() {
				t = model.SubjectExam
			}
			s = &model.SubjectInfo{Name: r.SubjectName, Type: t}
			index[r.SubjectName] = s
		}
		if r.GradeLevel > s.GradeLevel {
			s.GradeLevel = r.GradeLevel
		}
	}
	for _, c := range m.data.QuestionConfigs {
		if s, ok := index[c.SubjectName]; ok && c.BatchCode == batchCode {
			s.MaxScore += c.MaxScore
		}
	}

	out := make([]model.SubjectInfo, 0, len(index))
	for _, s := range index {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemorySource) Schools(batchCode string) ([]model.School, error) {
	index := map[string]string{}
	for _, r := range m.data.Records {
		if r.BatchCode != batchCode {
			continue
		}
		if name, ok := index[r.SchoolID]; !ok || r.SchoolName > name {
			index[r.SchoolID] = r.SchoolName
		}
	}
	out := make([]model.School, 0, len(index))
	for code, name := range index {
		out = append(out, model.School{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemorySource) BatchExists(batchCode string) (bool, error) {
	for _, r := range m.data.Records {
		if r.BatchCode == batchCode {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemorySource) ScoreRecords(filter model.ScoreFilter) ([]model.ScoreRecord, error) {
	questions := stringSet(filter.QuestionIDs)
	var out []model.ScoreRecord
	for _, r := range m.data.Records {
		if r.BatchCode != filter.BatchCode {
			continue
		}
		if filter.SubjectName != "" && r.SubjectName != filter.SubjectName {
			continue
		}
		if filter.SchoolCode != "" && r.SchoolID != filter.SchoolCode {
			continue
		}
		if len(questions) > 0 && !questions[r.QuestionID] {
			continue
		}
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemorySource) QuestionConfigs(batchCode, subjectName string) ([]model.QuestionConfig, error) {
	var out []model.QuestionConfig
	for _, c := range m.data.QuestionConfigs {
		if c.BatchCode == batchCode && c.SubjectName == subjectName {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *MemorySource) DimensionMappings(batchCode string, dimensionTypes []string) ([]model.DimensionMapping, error) {
	scored := map[string]bool{}
	for _, r := range m.data.Records {
		if r.BatchCode == batchCode {
			scored[r.QuestionID] = true
		}
	}
	types := stringSet(dimensionTypes)
	var out []model.DimensionMapping
	for _, dm := range m.data.DimensionMappings {
		if dm.BatchCode != batchCode && dm.BatchCode != "" {
			continue
		}
		if !scored[dm.QuestionID] {
			continue
		}
		if len(types) > 0 && !types[dm.DimensionType] {
			continue
		}
		out = append(out, dm)
	}
	sortMappings(out)
	return out, nil
}

func (m *MemorySource) SubjectDimensionMappings(batchCode, subjectName string) ([]model.DimensionMapping, error) {
	var out []model.DimensionMapping
	for _, dm := range m.data.DimensionMappings {
		if dm.BatchCode == batchCode && dm.SubjectName == subjectName {
			out = append(out, dm)
		}
	}
	sortMappings(out)
	return out, nil
}

func (m *MemorySource) OptionResponses(filter model.ScoreFilter) ([]model.OptionResponse, error) {
	var out []model.OptionResponse
	for _, r := range m.data.OptionResponses {
		if r.BatchCode != filter.BatchCode || r.SubjectName != filter.SubjectName {
			continue
		}
		if filter.SchoolCode != "" && r.SchoolID != filter.SchoolCode {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (m *MemorySource) ScaleOptions(instrumentType string, scaleLevel int) ([]model.ScaleOption, error) {
	var out []model.ScaleOption
	for _, o := range m.data.ScaleOptions {
		if o.InstrumentType == instrumentType && o.ScaleLevel == scaleLevel {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OptionLevel < out[j].OptionLevel })
	return out, nil
}

// sortRecords 与数据库查询的 ORDER BY student_id, question_id 保持一致
func sortRecords(records []model.ScoreRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StudentID != records[j].StudentID {
			return records[i].StudentID < records[j].StudentID
		}
		return records[i].QuestionID < records[j].QuestionID
	})
}

func sortMappings(mappings []model.DimensionMapping) {
	sort.SliceStable(mappings, func(i, j int) bool {
		a, b := mappings[i], mappings[j]
		if a.DimensionType != b.DimensionType {
			return a.DimensionType < b.DimensionType
		}
		if a.HierarchyLevel != b.HierarchyLevel {
			return a.HierarchyLevel < b.HierarchyLevel
		}
		return a.DimensionValue < b.DimensionValue
	})
}

func stringSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
