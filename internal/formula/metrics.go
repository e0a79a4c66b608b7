package formula

import (
	"edu_stats_backend/internal/engine"
)

// EducationalMetricsStrategy 得分率、难度系数、学段等级分布、及格率与优秀率。
// 及格率与优秀率固定使用 60%/85%，与学段无关；学段只影响 grade_distribution。
type EducationalMetricsStrategy struct{}

func (EducationalMetricsStrategy) Name() engine.Name { return engine.EducationalMetrics }

func (EducationalMetricsStrategy) Validate(in engine.Input, cfg engine.Config) engine.Validation {
	v := engine.ValidateScores(in)
	validateMaxScore(&v, cfg)
	if v.IsValid {
		if g := cfg.String(engine.KeyGradeLevel, engine.DefaultGradeLevel); g != "" {
			if _, ok := ResolveBand(g); !ok {
				v.Warn("unknown grade_level %q, falling back to elementary thresholds", g)
			}
		}
	}
	return v
}

func (EducationalMetricsStrategy) Calculate(in engine.Input, cfg engine.Config) (engine.Result, error) {
	maxScore := cfg.Float(engine.KeyMaxScore, engine.DefaultMaxScore)
	gradeLevel := cfg.String(engine.KeyGradeLevel, engine.DefaultGradeLevel)
	valid, _, _ := in.ValidScores()

	scoreRate := Mean(valid) / maxScore
	band, _ := ResolveBand(gradeLevel)
	buckets, counts := bandDistribution(valid, maxScore, band)

	dist := make(map[string]any, len(buckets)*2)
	n := float64(len(valid))
	for i, b := range buckets {
		dist[b.Key+"_count"] = counts[i]
		dist[b.Key+"_rate"] = float64(counts[i]) / n
	}

	return engine.Result{
		"average_score_rate":     scoreRate,
		"difficulty_coefficient": scoreRate,
		"grade_level":            gradeLevel,
		"grade_type":             string(band),
		"grade_distribution":     dist,
		"pass_rate":              rateAtLeast(valid, maxScore*PassThreshold),
		"excellent_rate":         rateAtLeast(valid, maxScore*ExcellentThreshold),
		"max_score":              maxScore,
		"count":                  len(valid),
	}, nil
}

func (EducationalMetricsStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "EducationalMetrics",
		Version:     "1.0",
		Description: "score rate, difficulty coefficient, grade-band distribution, pass (>=60%) and excellent (>=85%) rates",
		Formula:     "difficulty = mean / max_score",
	}
}
