package survey

import "edu_stats_backend/internal/engine"

// Register 注册问卷类策略
func Register(e *engine.Engine) error {
	for _, s := range []engine.Strategy{
		ScaleTransformStrategy{},
		FrequencyStrategy{},
		QualityStrategy{},
	} {
		if err := e.Register(s); err != nil {
			return err
		}
	}
	return nil
}
