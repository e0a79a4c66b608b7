package dimension

import (
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/model"
)

// Strategy 以 dimension_aggregate 名称注册到引擎，数据由 Source 读取而不是来自输入
type Strategy struct {
	aggregator *Aggregator
}

func NewStrategy(a *Aggregator) *Strategy {
	return &Strategy{aggregator: a}
}

func (s *Strategy) Name() engine.Name { return engine.DimensionAggregate }

func (s *Strategy) Validate(_ engine.Input, cfg engine.Config) engine.Validation {
	v := engine.NewValidation()
	batch := cfg.String(engine.KeyBatchCode, "")
	if batch == "" {
		v.ConfigFail("batch_code is required")
	}
	if level := cfg.String(engine.KeyAggregationLevel, string(model.LevelRegional)); level != string(model.LevelRegional) && level != string(model.LevelSchool) {
		v.ConfigFail("aggregation_level must be REGIONAL or SCHOOL, got %q", level)
	}
	if cfg.Has(engine.KeyDimensionTypes) && cfg.Strings(engine.KeyDimensionTypes) == nil {
		v.Warn("dimension_types should be a list, ignored")
	}
	v.Stats["batch_code"] = batch
	v.Stats["dimension_types"] = cfg.Strings(engine.KeyDimensionTypes)
	return v
}

func (s *Strategy) Calculate(_ engine.Input, cfg engine.Config) (engine.Result, error) {
	analysis, err := s.aggregator.Calculate(Request{
		BatchCode:      cfg.String(engine.KeyBatchCode, ""),
		DimensionTypes: cfg.Strings(engine.KeyDimensionTypes),
		Level:          model.AggregationLevel(cfg.String(engine.KeyAggregationLevel, string(model.LevelRegional))),
		SchoolCode:     cfg.String(KeySchoolCode, ""),
	})
	if err != nil {
		return nil, err
	}
	return engine.Result{
		"batch_code":               analysis.BatchCode,
		"aggregation_level":        analysis.AggregationLevel,
		"dimension_statistics":     analysis.Statistics,
		"cross_dimension_analysis": analysis.Cross,
		"pivot_table":              analysis.Pivot,
		"summary":                  analysis.Summary,
		"metadata":                 analysis.Metadata,
	}, nil
}

// KeySchoolCode 学校层级聚合时的学校代码
const KeySchoolCode = "school_code"

func (s *Strategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "DimensionStatistics",
		Version:     "1.0",
		Description: "weighted multi-dimension aggregation with hierarchy, cross-type correlation and pivot view",
		Formula:     "total = sum(score * w); max = sum(question_max * w)",
	}
}

// Register 注册 dimension_aggregate 策略
func Register(e *engine.Engine, source Source) (*Aggregator, error) {
	a := NewAggregator(e, source)
	if err := e.Register(NewStrategy(a)); err != nil {
		return nil, err
	}
	return a, nil
}
