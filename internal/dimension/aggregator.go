package dimension

import (
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/formula"
	"edu_stats_backend/internal/model"
	"edu_stats_backend/pkg/logger"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// 交叉分析所需的最少共同学生数
const MinCorrelationSample = 10

var (
	ErrNoMappings = errors.New("no dimension mappings for batch")
	ErrNoScores   = errors.New("no score records for mapped questions")
)

// Source 维度聚合所需的只读数据
type Source interface {
	DimensionMappings(batchCode string, dimensionTypes []string) ([]model.DimensionMapping, error)
	ScoreRecords(filter model.ScoreFilter) ([]model.ScoreRecord, error)
	QuestionConfigs(batchCode, subjectName string) ([]model.QuestionConfig, error)
}

type Request struct {
	BatchCode      string
	DimensionTypes []string
	Level          model.AggregationLevel
	SchoolCode     string
}

// Stats 单个维度的统计结果
type Stats struct {
	ID                  string             `json:"dimension_id"`
	Name                string             `json:"dimension_name"`
	Type                string             `json:"dimension_type"`
	HierarchyLevel      int                `json:"hierarchy_level"`
	ParentDimension     string             `json:"parent_dimension,omitempty"`
	TotalScore          float64            `json:"total_score"`
	TotalQuestions      int                `json:"total_questions"`
	StudentCount        int                `json:"student_count"`
	AvgScore            float64            `json:"avg_score"`
	ScoreRate           float64            `json:"score_rate"`
	StdDev              float64            `json:"std_dev"`
	MinScore            float64            `json:"min_score"`
	MaxScore            float64            `json:"max_score"`
	Difficulty          float64            `json:"difficulty_coefficient"`
	Discrimination      float64            `json:"discrimination_index"`
	DiscriminationLevel string             `json:"discrimination_level"`
	PassRate            float64            `json:"pass_rate"`
	ExcellentRate       float64            `json:"excellent_rate"`
	GradeDistribution   map[string]any     `json:"grade_distribution"`
	Percentiles         map[string]float64 `json:"percentiles"`
	Warnings            []string           `json:"warnings,omitempty"`
}

// Failure 单个维度计算失败时的占位
type Failure struct {
	Error string `json:"error"`
}

type TypeStats struct {
	DimensionType   string                    `json:"dimension_type"`
	TotalDimensions int                       `json:"total_dimensions"`
	Dimensions      map[string]any            `json:"dimensions"` // *Stats 或 Failure
	Hierarchy       map[string]HierarchyLevel `json:"hierarchy_analysis"`
}

type HierarchyLevel struct {
	DimensionCount int     `json:"dimension_count"`
	QuestionCount  int     `json:"question_count"`
	StudentCount   int     `json:"student_count"`
	AvgScoreRate   float64 `json:"avg_score_rate"`
	StdScoreRate   float64 `json:"std_score_rate"`
}

type CrossCorrelation struct {
	Correlation  float64 `json:"correlation"`
	SampleSize   int     `json:"sample_size"`
	Type1AvgRate float64 `json:"type1_avg_rate"`
	Type2AvgRate float64 `json:"type2_avg_rate"`
	Message      string  `json:"message,omitempty"`
}

type PivotRow struct {
	DimensionType  string  `json:"dimension_type"`
	DimensionValue string  `json:"dimension_value"`
	HierarchyLevel int     `json:"hierarchy_level"`
	ScoreCount     int     `json:"score_count"`
	ScoreMean      float64 `json:"score_mean"`
	ScoreStd       float64 `json:"score_std"`
	MaxScoreMean   float64 `json:"max_score_mean"`
	StudentCount   int     `json:"student_id_nunique"`
	ScoreRate      float64 `json:"score_rate"`
}

type PivotSummary struct {
	TotalCombinations int     `json:"total_combinations"`
	DimensionTypes    int     `json:"dimension_types"`
	AvgScoreRate      float64 `json:"avg_score_rate"`
}

type Pivot struct {
	Rows    []PivotRow   `json:"pivot_table"`
	Summary PivotSummary `json:"summary"`
}

type Summary struct {
	TotalDimensionTypes int     `json:"total_dimension_types"`
	TotalDimensions     int     `json:"total_dimensions"`
	AvgScoreRate        float64 `json:"avg_score_rate"`
	AvgDifficulty       float64 `json:"avg_difficulty"`
	AvgDiscrimination   float64 `json:"avg_discrimination"`
	ScoreRateStd        float64 `json:"score_rate_std"`
}

type Metadata struct {
	TotalMappings       int `json:"total_mappings"`
	DimensionTypesCount int `json:"dimension_types_count"`
	TotalQuestions      int `json:"total_questions"`
	TotalStudents       int `json:"total_students"`
}

// Analysis 维度聚合的完整输出
type Analysis struct {
	BatchCode        string                      `json:"batch_code"`
	AggregationLevel model.AggregationLevel      `json:"aggregation_level"`
	SchoolCode       string                      `json:"school_code,omitempty"`
	Statistics       map[string]*TypeStats       `json:"dimension_statistics"`
	Cross            map[string]CrossCorrelation `json:"cross_dimension_analysis"`
	Pivot            Pivot                       `json:"pivot_table"`
	Summary          Summary                     `json:"summary"`
	Metadata         Metadata                    `json:"metadata"`
}

// Aggregator 维度聚合器，统计量全部经由引擎中的策略计算
type Aggregator struct {
	engine *engine.Engine
	source Source
}

func NewAggregator(e *engine.Engine, source Source) *Aggregator {
	return &Aggregator{engine: e, source: source}
}

func (a *Aggregator) Calculate(req Request) (*Analysis, error) {
	if req.Level == "" {
		req.Level = model.LevelRegional
	}
	log := logger.Log.With(zap.String("batch", req.BatchCode), zap.Strings("types", req.DimensionTypes))

	mappings, err := a.source.DimensionMappings(req.BatchCode, req.DimensionTypes)
	if err != nil {
		return nil, fmt.Errorf("load dimension mappings: %w", err)
	}
	if len(mappings) == 0 {
		log.Warn("No dimension mappings found")
		return nil, ErrNoMappings
	}

	questions := uniqueQuestions(mappings)
	records, err := a.source.ScoreRecords(model.ScoreFilter{
		BatchCode:   req.BatchCode,
		SchoolCode:  req.SchoolCode,
		QuestionIDs: questions,
	})
	if err != nil {
		return nil, fmt.Errorf("load score records: %w", err)
	}
	if len(records) == 0 {
		log.Warn("No score records for mapped questions")
		return nil, ErrNoScores
	}
	if err := FillMaxScores(records, a.source.QuestionConfigs); err != nil {
		return nil, err
	}

	types := GroupMappings(mappings)
	out := &Analysis{
		BatchCode:        req.BatchCode,
		AggregationLevel: req.Level,
		SchoolCode:       req.SchoolCode,
		Statistics:       make(map[string]*TypeStats, len(types)),
	}
	for _, tg := range types {
		out.Statistics[tg.Type] = a.typeStats(tg, records)
	}
	out.Cross = crossAnalysis(types, records)
	out.Pivot = pivot(types, records)
	out.Summary = summarize(out.Statistics)

	students := map[string]bool{}
	for _, r := range records {
		students[r.StudentID] = true
	}
	out.Metadata = Metadata{
		TotalMappings:       len(mappings),
		DimensionTypesCount: len(types),
		TotalQuestions:      len(questions),
		TotalStudents:       len(students),
	}
	log.Info("Dimension aggregation completed",
		zap.Int("dimension_types", len(types)),
		zap.Int("students", len(students)))
	return out, nil
}

func (a *Aggregator) typeStats(tg TypeGroups, records []model.ScoreRecord) *TypeStats {
	ts := &TypeStats{
		DimensionType:   tg.Type,
		TotalDimensions: len(tg.Groups),
		Dimensions:      make(map[string]any, len(tg.Groups)),
	}
	for _, g := range tg.Groups {
		stats, err := a.GroupStats(g, records)
		if err != nil {
			logger.Log.Warn("Dimension calculation failed",
				zap.String("dimension_type", g.Type),
				zap.String("dimension", g.Key()),
				zap.Error(err))
			ts.Dimensions[g.Key()] = Failure{Error: err.Error()}
			continue
		}
		ts.Dimensions[g.Key()] = stats
	}
	ts.Hierarchy = hierarchy(tg, records)
	return ts
}

// GroupStats 对单个维度的加权学生总分依次执行各统计策略
func (a *Aggregator) GroupStats(g *Group, records []model.ScoreRecord) (*Stats, error) {
	weights := g.Weights()
	totals := WeightedTotals(records, weights)
	if len(totals) == 0 {
		return nil, fmt.Errorf("dimension %s has no score records", g.Key())
	}
	fullMark := FullMark(records, weights)
	if fullMark <= 0 {
		return nil, fmt.Errorf("dimension %s has no positive max score", g.Key())
	}

	scores := make([]float64, len(totals))
	grades := make([]string, len(totals))
	for i, t := range totals {
		scores[i] = t.Score
		grades[i] = t.GradeLevel
	}
	cfg := engine.Config{engine.KeyMaxScore: fullMark}
	if grade := dominantGrade(totals); grade != "" {
		cfg[engine.KeyGradeLevel] = grade
	}
	in := engine.ScoreInput(scores)

	basic, err := a.engine.Calculate(engine.BasicStatistics, in, cfg)
	if err != nil {
		return nil, err
	}
	pct, err := a.engine.Calculate(engine.Percentiles, in, cfg)
	if err != nil {
		return nil, err
	}
	edu, err := a.engine.Calculate(engine.EducationalMetrics, in, cfg)
	if err != nil {
		return nil, err
	}
	dist, err := a.engine.Calculate(engine.GradeDistribution, engine.Input{Scores: scores, GradeLevels: grades}, cfg)
	if err != nil {
		return nil, err
	}
	disc, err := a.engine.Calculate(engine.Discrimination, in, cfg)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		ID:                  g.Key(),
		Name:                g.Name(),
		Type:                g.Type,
		HierarchyLevel:      g.Level,
		ParentDimension:     g.Parent(),
		TotalScore:          fullMark,
		TotalQuestions:      len(g.Questions()),
		StudentCount:        basic.Int("count"),
		AvgScore:            basic.Float("mean"),
		StdDev:              basic.Float("std"),
		MinScore:            basic.Float("min"),
		MaxScore:            basic.Float("max"),
		Difficulty:          edu.Float("difficulty_coefficient"),
		PassRate:            edu.Float("pass_rate"),
		ExcellentRate:       edu.Float("excellent_rate"),
		Discrimination:      disc.Float("discrimination_index"),
		DiscriminationLevel: disc.String("interpretation"),
		GradeDistribution:   map[string]any(dist),
		Percentiles:         map[string]float64{},
	}
	s.ScoreRate = s.AvgScore / fullMark
	for _, p := range a.engine.Defaults().Floats(engine.KeyPercentiles, engine.DefaultPercentiles) {
		key := formula.PercentileKey(p)
		s.Percentiles[key] = pct.Float(key)
	}
	delete(s.GradeDistribution, engine.MetaKey)
	s.Warnings = append(s.Warnings, disc.Warnings()...)
	return s, nil
}

// scoreRates 不加权的学生得分率
func scoreRates(records []model.ScoreRecord, questions []string) map[string]float64 {
	set := make(map[string]float64, len(questions))
	for _, q := range questions {
		set[q] = 1
	}
	totals := WeightedTotals(records, set)
	out := make(map[string]float64, len(totals))
	for _, t := range totals {
		out[t.StudentID] = t.ScoreRate()
	}
	return out
}

// crossAnalysis 维度类型两两之间学生得分率的 Pearson 相关
func crossAnalysis(types []TypeGroups, records []model.ScoreRecord) map[string]CrossCorrelation {
	out := map[string]CrossCorrelation{}
	for i := 0; i < len(types); i++ {
		for j := i + 1; j < len(types); j++ {
			a := scoreRates(records, types[i].Questions())
			b := scoreRates(records, types[j].Questions())
			key := types[i].Type + "_x_" + types[j].Type
			out[key] = correlate(a, b)
		}
	}
	return out
}

func correlate(a, b map[string]float64) CrossCorrelation {
	var x, y []float64
	ids := formula.SortedKeys(a)
	for _, id := range ids {
		if v, ok := b[id]; ok {
			x = append(x, a[id])
			y = append(y, v)
		}
	}
	c := CrossCorrelation{SampleSize: len(x)}
	if len(x) < MinCorrelationSample {
		c.Message = "insufficient sample size"
		return c
	}
	c.Type1AvgRate = formula.Mean(x)
	c.Type2AvgRate = formula.Mean(y)
	if r := formula.Pearson(x, y); !math.IsNaN(r) {
		c.Correlation = r
	}
	return c
}

// hierarchy 按层级合并该类型下所有维度的题目，统计学生得分率
func hierarchy(tg TypeGroups, records []model.ScoreRecord) map[string]HierarchyLevel {
	byLevel := map[int][]*Group{}
	for _, g := range tg.Groups {
		byLevel[g.Level] = append(byLevel[g.Level], g)
	}
	levels := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	out := make(map[string]HierarchyLevel, len(levels))
	for _, l := range levels {
		var questions []string
		seen := map[string]bool{}
		for _, g := range byLevel[l] {
			for _, q := range g.Questions() {
				if !seen[q] {
					seen[q] = true
					questions = append(questions, q)
				}
			}
		}
		rates := scoreRates(records, questions)
		if len(rates) == 0 {
			continue
		}
		values := make([]float64, 0, len(rates))
		for _, id := range formula.SortedKeys(rates) {
			values = append(values, rates[id])
		}
		out[fmt.Sprintf("level_%d", l)] = HierarchyLevel{
			DimensionCount: len(byLevel[l]),
			QuestionCount:  len(questions),
			StudentCount:   len(values),
			AvgScoreRate:   formula.Mean(values),
			StdScoreRate:   formula.SampleStd(values),
		}
	}
	return out
}

// pivot 每个 (类型, 维度值, 层级) 一行，统计原始单题得分
func pivot(types []TypeGroups, records []model.ScoreRecord) Pivot {
	byQuestion := map[string][]model.ScoreRecord{}
	for _, r := range records {
		byQuestion[r.QuestionID] = append(byQuestion[r.QuestionID], r)
	}
	p := Pivot{Rows: []PivotRow{}}
	typeSet := map[string]bool{}
	var rates []float64
	for _, tg := range types {
		for _, g := range tg.Groups {
			var scores, maxes []float64
			students := map[string]bool{}
			for _, q := range g.Questions() {
				for _, r := range byQuestion[q] {
					scores = append(scores, r.Score)
					maxes = append(maxes, r.MaxScore)
					students[r.StudentID] = true
				}
			}
			if len(scores) == 0 {
				continue
			}
			row := PivotRow{
				DimensionType:  g.Type,
				DimensionValue: g.Value,
				HierarchyLevel: g.Level,
				ScoreCount:     len(scores),
				ScoreMean:      formula.Mean(scores),
				ScoreStd:       formula.SampleStd(scores),
				MaxScoreMean:   formula.Mean(maxes),
				StudentCount:   len(students),
			}
			if row.MaxScoreMean > 0 {
				row.ScoreRate = row.ScoreMean / row.MaxScoreMean
			}
			p.Rows = append(p.Rows, row)
			typeSet[g.Type] = true
			rates = append(rates, row.ScoreRate)
		}
	}
	p.Summary = PivotSummary{
		TotalCombinations: len(p.Rows),
		DimensionTypes:    len(typeSet),
		AvgScoreRate:      formula.Mean(rates),
	}
	return p
}

func summarize(stats map[string]*TypeStats) Summary {
	s := Summary{TotalDimensionTypes: len(stats)}
	var rates, difficulties, discriminations []float64
	for _, ts := range stats {
		s.TotalDimensions += len(ts.Dimensions)
		for _, d := range ts.Dimensions {
			st, ok := d.(*Stats)
			if !ok {
				continue
			}
			rates = append(rates, st.ScoreRate)
			difficulties = append(difficulties, st.Difficulty)
			discriminations = append(discriminations, st.Discrimination)
		}
	}
	s.AvgScoreRate = formula.Mean(rates)
	s.AvgDifficulty = formula.Mean(difficulties)
	s.AvgDiscrimination = formula.Mean(discriminations)
	if len(rates) > 1 {
		s.ScoreRateStd = populationStd(rates, s.AvgScoreRate)
	}
	return s
}

func populationStd(values []float64, mean float64) float64 {
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)))
}

func uniqueQuestions(mappings []model.DimensionMapping) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mappings {
		if !seen[m.QuestionID] {
			seen[m.QuestionID] = true
			out = append(out, m.QuestionID)
		}
	}
	sort.Strings(out)
	return out
}
