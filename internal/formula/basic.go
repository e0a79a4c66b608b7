package formula

import (
	"edu_stats_backend/internal/engine"
	"sort"
)

type BasicStatisticsStrategy struct{}

func (BasicStatisticsStrategy) Name() engine.Name { return engine.BasicStatistics }

func (BasicStatisticsStrategy) Validate(in engine.Input, _ engine.Config) engine.Validation {
	return engine.ValidateScores(in)
}

func (BasicStatisticsStrategy) Calculate(in engine.Input, _ engine.Config) (engine.Result, error) {
	valid, _, _ := in.ValidScores()
	return engine.Result(Summarize(valid).toMap()), nil
}

func (BasicStatisticsStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "BasicStatistics",
		Version:     "1.0",
		Description: "count, sum, mean, median, sample std/variance, min, max, range, skewness, kurtosis, mode",
		Formula:     "std = sqrt(sum((x-mean)^2)/(n-1))",
	}
}

type PercentileStrategy struct{}

func (PercentileStrategy) Name() engine.Name { return engine.Percentiles }

func (PercentileStrategy) Validate(in engine.Input, cfg engine.Config) engine.Validation {
	v := engine.ValidateScores(in)
	for _, p := range cfg.Floats(engine.KeyPercentiles, engine.DefaultPercentiles) {
		if p < 0 || p > 100 {
			v.ConfigFail("percentile %v outside [0, 100]", p)
		}
	}
	return v
}

func (PercentileStrategy) Calculate(in engine.Input, cfg engine.Config) (engine.Result, error) {
	valid, _, _ := in.ValidScores()
	sorted := sortedCopy(valid)
	points := cfg.Floats(engine.KeyPercentiles, engine.DefaultPercentiles)

	res := engine.Result{"count": len(sorted)}
	for _, p := range points {
		res[PercentileKey(p)] = FloorPercentile(sorted, p)
	}
	if hasPoint(points, 25) && hasPoint(points, 75) {
		res["IQR"] = FloorPercentile(sorted, 75) - FloorPercentile(sorted, 25)
	}
	return res, nil
}

func (PercentileStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "EducationalPercentile",
		Version:     "1.0",
		Description: "floor-rule percentile without interpolation",
		Formula:     "index = floor(n * p / 100), clamped to [0, n-1]",
	}
}

func hasPoint(points []float64, p float64) bool {
	for _, x := range points {
		if x == p {
			return true
		}
	}
	return false
}

// Percentiles 按配置计算多个百分位，键为 P<p>
func Percentiles(values []float64, points []float64) map[string]float64 {
	sorted := sortedCopy(values)
	out := make(map[string]float64, len(points))
	for _, p := range points {
		out[PercentileKey(p)] = FloorPercentile(sorted, p)
	}
	return out
}

// SortedKeys 固定输出顺序
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
