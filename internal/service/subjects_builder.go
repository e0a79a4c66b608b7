package service

import (
	"edu_stats_backend/internal/dimension"
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/formula"
	"edu_stats_backend/internal/model"
	"edu_stats_backend/internal/survey"
	"edu_stats_backend/internal/util"
	"edu_stats_backend/pkg/logger"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// RecordSource 汇总计算所需的只读数据，并发读取必须安全
type RecordSource interface {
	Subjects(batchCode string) ([]model.SubjectInfo, error)
	Schools(batchCode string) ([]model.School, error)
	BatchExists(batchCode string) (bool, error)
	ScoreRecords(filter model.ScoreFilter) ([]model.ScoreRecord, error)
	QuestionConfigs(batchCode, subjectName string) ([]model.QuestionConfig, error)
	DimensionMappings(batchCode string, dimensionTypes []string) ([]model.DimensionMapping, error)
	SubjectDimensionMappings(batchCode, subjectName string) ([]model.DimensionMapping, error)
	OptionResponses(filter model.ScoreFilter) ([]model.OptionResponse, error)
	ScaleOptions(instrumentType string, scaleLevel int) ([]model.ScaleOption, error)
}

// 科目指标使用的百分位点
var metricPercentiles = []float64{10, 50, 90}

// RegionalIndex 区域层级算出的各校平均分，学校层级排名复用
type RegionalIndex struct {
	BatchCode string
	Schools   []model.School
	subjects  map[string]*subjectIndex
}

type subjectIndex struct {
	schools    []SchoolAverage
	dimensions map[string][]SchoolAverage
}

func newRegionalIndex(batchCode string, schools []model.School) *RegionalIndex {
	return &RegionalIndex{
		BatchCode: batchCode,
		Schools:   schools,
		subjects:  make(map[string]*subjectIndex),
	}
}

func (idx *RegionalIndex) names() map[string]string {
	out := make(map[string]string, len(idx.Schools))
	for _, s := range idx.Schools {
		out[s.Code] = s.Name
	}
	return out
}

func (idx *RegionalIndex) SchoolName(code string) (string, bool) {
	for _, s := range idx.Schools {
		if s.Code == code {
			return s.Name, true
		}
	}
	return "", false
}

// SchoolAverages 某科目各校平均分
func (idx *RegionalIndex) SchoolAverages(subject string) []SchoolAverage {
	if si, ok := idx.subjects[subject]; ok {
		return si.schools
	}
	return nil
}

// SubjectsBuilder 组装批次在区域与学校两个层级的科目输出
type SubjectsBuilder struct {
	engine        *engine.Engine
	source        RecordSource
	resolver      *survey.LabelResolver
	schemaVersion string
	now           func() time.Time
}

func NewSubjectsBuilder(e *engine.Engine, source RecordSource, schemaVersion string) *SubjectsBuilder {
	return &SubjectsBuilder{
		engine: e,
		source: source,
		resolver: survey.NewLabelResolver(
			survey.DictionaryLabels{Lookup: source.ScaleOptions},
			survey.InferredLabels{},
			survey.GenericLabels{},
		),
		schemaVersion: schemaVersion,
		now:           time.Now,
	}
}

type subjectData struct {
	info    model.SubjectInfo
	records []model.ScoreRecord
	totals  []dimension.StudentTotal
	groups  []dimension.TypeGroups
}

// fullMark 科目满分，未配置时取学生满分之和的最大值
func (d *subjectData) fullMark() float64 {
	if d.info.MaxScore > 0 {
		return d.info.MaxScore
	}
	full := 0.0
	for _, t := range d.totals {
		if t.MaxScore > full {
			full = t.MaxScore
		}
	}
	return full
}

func (d *subjectData) index(names map[string]string) *subjectIndex {
	si := &subjectIndex{
		schools:    schoolAverages(d.totals, names),
		dimensions: make(map[string][]SchoolAverage),
	}
	for _, tg := range d.groups {
		for _, g := range tg.Groups {
			totals := dimension.WeightedTotals(d.records, g.Weights())
			if len(totals) > 0 {
				si.dimensions[dimensionKey(g)] = schoolAverages(totals, names)
			}
		}
	}
	return si
}

func dimensionKey(g *dimension.Group) string {
	return g.Type + "/" + g.Key()
}

func (b *SubjectsBuilder) batch(batchCode string) ([]model.SubjectInfo, []model.School, error) {
	ok, err := b.source.BatchExists(batchCode)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", util.ErrBatchNotFound, batchCode)
	}
	subjects, err := b.source.Subjects(batchCode)
	if err != nil {
		return nil, nil, err
	}
	schools, err := b.source.Schools(batchCode)
	if err != nil {
		return nil, nil, err
	}
	return subjects, schools, nil
}

func (b *SubjectsBuilder) loadSubject(batchCode string, info model.SubjectInfo, schoolCode string) (*subjectData, error) {
	records, err := b.source.ScoreRecords(model.ScoreFilter{
		BatchCode:   batchCode,
		SubjectName: info.Name,
		SchoolCode:  schoolCode,
	})
	if err != nil {
		return nil, err
	}
	if err := dimension.FillMaxScores(records, b.source.QuestionConfigs); err != nil {
		return nil, err
	}
	mappings, err := b.source.SubjectDimensionMappings(batchCode, info.Name)
	if err != nil {
		return nil, err
	}
	groups := dimension.GroupMappings(mappings)
	if info.Type == model.SubjectQuestionnaire {
		if err := b.reverseCode(records, groups); err != nil {
			return nil, err
		}
	}
	return &subjectData{
		info:    info,
		records: records,
		totals:  dimension.WeightedTotals(records, nil),
		groups:  groups,
	}, nil
}

// surveyDimensions 维度映射转为问卷维度配置，题目方向取自映射 metadata
func surveyDimensions(groups []dimension.TypeGroups) ([]survey.Dimension, bool) {
	var dims []survey.Dimension
	hasReverse := false
	for _, tg := range groups {
		for _, g := range tg.Groups {
			d := survey.Dimension{Code: dimensionKey(g), Name: g.Name()}
			seen := map[string]bool{}
			for _, m := range g.Mappings {
				if seen[m.QuestionID] {
					continue
				}
				seen[m.QuestionID] = true
				if m.Reverse() {
					d.ReverseQuestions = append(d.ReverseQuestions, m.QuestionID)
					hasReverse = true
				} else {
					d.ForwardQuestions = append(d.ForwardQuestions, m.QuestionID)
				}
			}
			dims = append(dims, d)
		}
	}
	return dims, hasReverse
}

// scaleWidth 题目满分即量表点数，缺失时按 5 点量表
func scaleWidth(maxScore float64) int {
	if w := int(math.Round(maxScore)); w >= 2 {
		return w
	}
	return 5
}

// reverseCode 问卷明细按题目方向正向化后写回得分，不同点数的量表分别转换。
// 超出量表的作答保留原值。
func (b *SubjectsBuilder) reverseCode(records []model.ScoreRecord, groups []dimension.TypeGroups) error {
	dims, hasReverse := surveyDimensions(groups)
	if !hasReverse {
		return nil
	}
	byWidth := map[int][]int{}
	for i, r := range records {
		w := scaleWidth(r.MaxScore)
		byWidth[w] = append(byWidth[w], i)
	}
	for width, indices := range byWidth {
		sets := map[string]*model.SurveyResponseSet{}
		var ordered []*model.SurveyResponseSet
		for _, i := range indices {
			r := records[i]
			set, ok := sets[r.StudentID]
			if !ok {
				set = &model.SurveyResponseSet{StudentID: r.StudentID, SchoolID: r.SchoolID, Raw: map[string]int{}}
				sets[r.StudentID] = set
				ordered = append(ordered, set)
			}
			set.Raw[r.QuestionID] = int(math.Round(r.Score))
		}
		_, err := b.engine.Calculate(engine.ScaleTransform, engine.Input{Responses: ordered}, engine.Config{
			survey.KeyDimensions:  dims,
			survey.KeyScaleConfig: survey.NewScaleConfig(width),
		})
		if err != nil {
			return fmt.Errorf("scale transformation: %w", err)
		}
		for _, i := range indices {
			r := &records[i]
			if v, ok := sets[r.StudentID].Transformed[r.QuestionID]; ok {
				r.Score = float64(v)
			}
		}
	}
	return nil
}

func (b *SubjectsBuilder) newReport(batchCode string, level model.AggregationLevel) *model.Report {
	return &model.Report{
		SchemaVersion:    b.schemaVersion,
		BatchCode:        batchCode,
		AggregationLevel: level,
		Subjects:         make([]model.SubjectBlock, 0),
		UpdatedAt:        b.now(),
	}
}

// BuildIndex 只计算各校平均分，不生成科目输出
func (b *SubjectsBuilder) BuildIndex(batchCode string) (*RegionalIndex, error) {
	subjects, schools, err := b.batch(batchCode)
	if err != nil {
		return nil, err
	}
	idx := newRegionalIndex(batchCode, schools)
	names := idx.names()
	for _, info := range subjects {
		data, err := b.loadSubject(batchCode, info, "")
		if err != nil {
			return nil, fmt.Errorf("load subject %s: %w", info.Name, err)
		}
		if len(data.totals) > 0 {
			idx.subjects[info.Name] = data.index(names)
		}
	}
	return idx, nil
}

// BuildRegional 区域层级输出，同时返回供学校层级复用的各校平均分
func (b *SubjectsBuilder) BuildRegional(batchCode string) (*model.Report, *RegionalIndex, error) {
	subjects, schools, err := b.batch(batchCode)
	if err != nil {
		return nil, nil, err
	}
	idx := newRegionalIndex(batchCode, schools)
	names := idx.names()
	report := b.newReport(batchCode, model.LevelRegional)

	for _, info := range subjects {
		data, err := b.loadSubject(batchCode, info, "")
		if err != nil {
			return nil, nil, fmt.Errorf("load subject %s: %w", info.Name, err)
		}
		if len(data.totals) == 0 {
			continue
		}
		si := data.index(names)
		idx.subjects[info.Name] = si

		block, _, err := b.subjectBlock(batchCode, data, "")
		if err != nil {
			return nil, nil, fmt.Errorf("subject %s: %w", info.Name, err)
		}
		block.SchoolRankings = DenseRank(si.schools)
		report.Subjects = append(report.Subjects, *block)
	}

	util.RoundFloats(report)
	logger.Log.Info("Regional report built",
		zap.String("batch", batchCode),
		zap.Int("subjects", len(report.Subjects)),
		zap.Int("schools", len(schools)))
	return report, idx, nil
}

// BuildSchool 学校层级输出。idx 为空或不属于该批次时重新计算各校平均分。
func (b *SubjectsBuilder) BuildSchool(batchCode, schoolCode string, idx *RegionalIndex) (*model.Report, error) {
	if idx == nil || idx.BatchCode != batchCode {
		var err error
		if idx, err = b.BuildIndex(batchCode); err != nil {
			return nil, err
		}
	}
	schoolName, ok := idx.SchoolName(schoolCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", util.ErrSchoolNotFound, schoolCode)
	}
	subjects, err := b.source.Subjects(batchCode)
	if err != nil {
		return nil, err
	}

	report := b.newReport(batchCode, model.LevelSchool)
	report.SchoolCode = schoolCode
	report.SchoolName = schoolName

	for _, info := range subjects {
		si, ok := idx.subjects[info.Name]
		if !ok {
			continue
		}
		data, err := b.loadSubject(batchCode, info, schoolCode)
		if err != nil {
			return nil, fmt.Errorf("load subject %s: %w", info.Name, err)
		}
		if len(data.totals) == 0 {
			continue
		}
		block, keys, err := b.subjectBlock(batchCode, data, schoolCode)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", info.Name, err)
		}

		if rank, total, ok := RankOf(si.schools, schoolCode); ok {
			block.RegionRank = &rank
			block.TotalSchools = &total
		}
		for i := range block.Dimensions {
			if rank, _, ok := RankOf(si.dimensions[keys[i]], schoolCode); ok {
				block.Dimensions[i].Rank = &rank
			}
		}
		report.Subjects = append(report.Subjects, *block)
	}

	util.RoundFloats(report)
	logger.Log.Debug("School report built",
		zap.String("batch", batchCode),
		zap.String("school", schoolCode),
		zap.Int("subjects", len(report.Subjects)))
	return report, nil
}

// subjectBlock 科目指标、维度与问卷分布，返回的 keys 与 Dimensions 一一对应
func (b *SubjectsBuilder) subjectBlock(batchCode string, data *subjectData, schoolCode string) (*model.SubjectBlock, []string, error) {
	metrics, err := b.metrics(data)
	if err != nil {
		return nil, nil, err
	}
	block := &model.SubjectBlock{
		SubjectName: data.info.Name,
		Type:        data.info.Type,
		Metrics:     metrics,
	}

	var keys []string
	var groups []*dimension.Group
	for _, tg := range data.groups {
		for _, g := range tg.Groups {
			totals := dimension.WeightedTotals(data.records, g.Weights())
			if len(totals) == 0 {
				continue
			}
			full := dimension.FullMark(data.records, g.Weights())
			avg := 0.0
			for _, t := range totals {
				avg += t.Score
			}
			avg /= float64(len(totals))
			rate := 0.0
			if full > 0 {
				rate = avg / full * 100
			}
			block.Dimensions = append(block.Dimensions, model.DimensionBlock{
				Code:      g.Value,
				Name:      g.Name(),
				Type:      g.Type,
				Avg:       avg,
				ScoreRate: rate,
			})
			keys = append(keys, dimensionKey(g))
			groups = append(groups, g)
		}
	}

	if data.info.Type == model.SubjectQuestionnaire {
		if err := b.optionDistributions(batchCode, data.info.Name, schoolCode, block, groups); err != nil {
			return nil, nil, err
		}
	}
	return block, keys, nil
}

// metrics 在学生科目总分上调用各统计策略
func (b *SubjectsBuilder) metrics(data *subjectData) (model.SubjectMetrics, error) {
	scores := make([]float64, len(data.totals))
	for i, t := range data.totals {
		scores[i] = t.Score
	}
	full := data.fullMark()
	in := engine.ScoreInput(scores)
	cfg := engine.Config{engine.KeyPercentiles: metricPercentiles}
	if full > 0 {
		cfg[engine.KeyMaxScore] = full
	}
	if data.info.GradeLevel != "" {
		cfg[engine.KeyGradeLevel] = data.info.GradeLevel
	}

	basic, err := b.engine.Calculate(engine.BasicStatistics, in, cfg)
	if err != nil {
		return model.SubjectMetrics{}, err
	}
	edu, err := b.engine.Calculate(engine.EducationalMetrics, in, cfg)
	if err != nil {
		return model.SubjectMetrics{}, err
	}
	disc, err := b.engine.Calculate(engine.Discrimination, in, cfg)
	if err != nil {
		return model.SubjectMetrics{}, err
	}
	pct, err := b.engine.Calculate(engine.Percentiles, in, cfg)
	if err != nil {
		return model.SubjectMetrics{}, err
	}

	return model.SubjectMetrics{
		StudentCount:   basic.Int("count"),
		MaxScore:       edu.Float("max_score"),
		Avg:            basic.Float("mean"),
		StdDev:         basic.Float("std"),
		Max:            basic.Float("max"),
		Min:            basic.Float("min"),
		Difficulty:     edu.Float("difficulty_coefficient"),
		Discrimination: disc.Float("discrimination_index"),
		P10:            pct.Float("P10"),
		P50:            pct.Float("P50"),
		P90:            pct.Float("P90"),
	}, nil
}

// optionDistributions 问卷科目的题目与维度选项分布
func (b *SubjectsBuilder) optionDistributions(batchCode, subject, schoolCode string, block *model.SubjectBlock, groups []*dimension.Group) error {
	rows, err := b.source.OptionResponses(model.ScoreFilter{
		BatchCode:   batchCode,
		SubjectName: subject,
		SchoolCode:  schoolCode,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	labels := b.resolver.Resolve(survey.LabelQuery{BatchCode: batchCode, SubjectName: subject, Rows: rows})

	in := engine.Input{Responses: model.ResponseSets(rows)}
	res, err := b.engine.Calculate(engine.FrequencyAnalysis, in, engine.Config{})
	if err != nil {
		return err
	}
	freqs, _ := res["question_frequencies"].(map[string]survey.QuestionFrequency)
	questions, _ := res["questions"].([]string)

	for _, q := range questions {
		block.Questions = append(block.Questions, model.QuestionBlock{
			QuestionID:         q,
			OptionDistribution: optionShares(freqs[q].Frequencies, labels),
		})
	}
	for i, g := range groups {
		pooled := map[int]int{}
		for _, q := range g.Questions() {
			for level, n := range freqs[q].Frequencies {
				pooled[level] += n
			}
		}
		if len(pooled) > 0 {
			block.Dimensions[i].OptionDistribution = optionShares(pooled, labels)
		}
	}

	width := 0
	for _, row := range rows {
		if row.ScaleLevel > width {
			width = row.ScaleLevel
		}
	}
	quality, err := b.engine.Calculate(engine.SurveyQuality, in, engine.Config{
		engine.KeyQuestions: questions,
		survey.KeyScaleMax:  scaleWidth(float64(width)),
	})
	if err != nil {
		return err
	}
	if summary, ok := quality["quality_summary"].(survey.QualitySummary); ok {
		block.Quality = &summary
	}
	return nil
}

// optionShares 百分比按 0-100 输出，各项独立取整不做归一
func optionShares(counts map[int]int, labels map[int]string) []model.OptionShare {
	total := 0
	levels := make([]int, 0, len(counts))
	for level, n := range counts {
		total += n
		levels = append(levels, level)
	}
	sort.Ints(levels)

	out := make([]model.OptionShare, 0, len(levels))
	for _, level := range levels {
		share := model.OptionShare{
			OptionLevel: level,
			OptionLabel: labels[level],
			Count:       counts[level],
		}
		if total > 0 {
			share.Pct = float64(counts[level]) / float64(total) * 100
		}
		out = append(out, share)
	}
	return out
}

// QuestionDiscrimination 某科目逐题区分度，每个学生在一道题上只取一条得分
func (b *SubjectsBuilder) QuestionDiscrimination(batchCode, subjectName string) (map[string]any, error) {
	subjects, _, err := b.batch(batchCode)
	if err != nil {
		return nil, err
	}
	var info *model.SubjectInfo
	for i := range subjects {
		if subjects[i].Name == subjectName {
			info = &subjects[i]
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", util.ErrSubjectNotFound, subjectName)
	}

	data, err := b.loadSubject(batchCode, *info, "")
	if err != nil {
		return nil, err
	}
	questions := make(map[string][]float64)
	maxScores := make(map[string]float64)
	for _, r := range data.records {
		questions[r.QuestionID] = append(questions[r.QuestionID], r.Score)
		if r.MaxScore > maxScores[r.QuestionID] {
			maxScores[r.QuestionID] = r.MaxScore
		}
	}
	out := formula.BatchDiscrimination(b.engine, questions, maxScores, nil)
	util.RoundFloats(out)
	return out, nil
}
