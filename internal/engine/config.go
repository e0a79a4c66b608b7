package engine

import (
	"edu_stats_backend/internal/config"
	"strconv"
)

// 识别的配置键
const (
	KeyMaxScore          = "max_score"
	KeyGradeLevel        = "grade_level"
	KeyPercentiles       = "percentiles"
	KeyGroupPercentage   = "group_percentage"
	KeyDimensionTypes    = "dimension_types"
	KeyAggregationLevel  = "aggregation_level"
	KeyBatchCode         = "batch_code"
	KeyQuestions         = "questions"
	KeyResponseTimeMin   = "response_time_min"
	KeyResponseTimeMax   = "response_time_max"
	KeyStraightLineMax   = "straight_line_max"
	KeyCompletionRateMin = "completion_rate_min"
	KeyVarianceThreshold = "variance_threshold"
)

const (
	DefaultMaxScore        = 100.0
	DefaultGradeLevel      = "1st_grade"
	DefaultGroupPercentage = 0.27
)

var DefaultPercentiles = []float64{10, 25, 50, 75, 90}

// Config 策略配置，值可以是数值、字符串、切片或策略自定义的结构
type Config map[string]any

// Merge 返回新配置，other 覆盖 c
func (c Config) Merge(other Config) Config {
	out := make(Config, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Config) Float(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (c Config) Floats(key string, def []float64) []float64 {
	switch v := c[key].(type) {
	case []float64:
		return v
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out
	case []any:
		out := make([]float64, 0, len(v))
		for _, n := range v {
			out = append(out, toFloat(n))
		}
		return out
	}
	return def
}

func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Value 取策略自定义类型的配置值
func Value[T any](c Config, key string) (T, bool) {
	v, ok := c[key].(T)
	return v, ok
}

// FromStats 把配置文件中的统计默认值转换为引擎基础配置
func FromStats(s config.StatsConfig) Config {
	return Config{
		KeyMaxScore:          s.MaxScore,
		KeyGradeLevel:        s.GradeLevel,
		KeyPercentiles:       append([]float64(nil), s.Percentiles...),
		KeyGroupPercentage:   s.GroupPercentage,
		KeyResponseTimeMin:   s.Quality.ResponseTimeMin,
		KeyResponseTimeMax:   s.Quality.ResponseTimeMax,
		KeyStraightLineMax:   s.Quality.StraightLineMax,
		KeyCompletionRateMin: s.Quality.CompletionRateMin,
		KeyVarianceThreshold: s.Quality.VarianceThreshold,
	}
}
