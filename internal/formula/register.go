package formula

import "edu_stats_backend/internal/engine"

// Register 注册全部成绩类策略
func Register(e *engine.Engine) error {
	for _, s := range []engine.Strategy{
		BasicStatisticsStrategy{},
		PercentileStrategy{},
		EducationalMetricsStrategy{},
		DiscriminationStrategy{},
		GradeDistributionStrategy{},
	} {
		if err := e.Register(s); err != nil {
			return err
		}
	}
	return nil
}
