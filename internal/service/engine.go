package service

import (
	"edu_stats_backend/internal/config"
	"edu_stats_backend/internal/dimension"
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/formula"
	"edu_stats_backend/internal/survey"
)

// NewCalculationEngine 注册全部九个策略，stats 作为每次调用的基础配置
func NewCalculationEngine(stats config.StatsConfig, source RecordSource, opts ...engine.Option) (*engine.Engine, error) {
	opts = append([]engine.Option{engine.WithDefaults(engine.FromStats(stats))}, opts...)
	e := engine.New(opts...)

	if err := formula.Register(e); err != nil {
		return nil, err
	}
	if err := survey.Register(e); err != nil {
		return nil, err
	}
	if _, err := dimension.Register(e, source); err != nil {
		return nil, err
	}
	return e, nil
}
