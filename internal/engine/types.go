package engine

import (
	"edu_stats_backend/internal/model"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Name 策略名称，取值限定在下列常量内
type Name string

const (
	BasicStatistics    Name = "basic_statistics"
	Percentiles        Name = "percentiles"
	EducationalMetrics Name = "educational_metrics"
	Discrimination     Name = "discrimination"
	GradeDistribution  Name = "grade_distribution"
	DimensionAggregate Name = "dimension_aggregate"
	ScaleTransform     Name = "scale_transformation"
	FrequencyAnalysis  Name = "frequency_analysis"
	SurveyQuality      Name = "survey_quality"
)

// KnownNames 全部受支持的策略名
var KnownNames = []Name{
	BasicStatistics,
	Percentiles,
	EducationalMetrics,
	Discrimination,
	GradeDistribution,
	DimensionAggregate,
	ScaleTransform,
	FrequencyAnalysis,
	SurveyQuality,
}

func (n Name) Known() bool {
	for _, k := range KnownNames {
		if k == n {
			return true
		}
	}
	return false
}

var (
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrUnsupportedStrategy = errors.New("strategy name outside the supported set")
	ErrDuplicateStrategy   = errors.New("strategy already registered")
)

// Strategy 所有计算策略共同遵循的契约
type Strategy interface {
	Name() Name
	Validate(in Input, cfg Config) Validation
	Calculate(in Input, cfg Config) (Result, error)
	Describe() AlgorithmInfo
}

type AlgorithmInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Formula     string `json:"formula,omitempty"`
}

// Input 一次策略调用的数据。Scores 中 NaN/Inf 视为无效值；
// GradeLevels 若非空则与 Scores 一一对应。
type Input struct {
	Scores      []float64
	GradeLevels []string
	Responses   []*model.SurveyResponseSet
}

func ScoreInput(scores []float64) Input {
	return Input{Scores: scores}
}

// Size 样本量
func (in Input) Size() int {
	if len(in.Responses) > 0 {
		return len(in.Responses)
	}
	return len(in.Scores)
}

// ValidScores 过滤无效值，同时返回对应的年级与无效数量
func (in Input) ValidScores() ([]float64, []string, int) {
	valid := make([]float64, 0, len(in.Scores))
	var grades []string
	withGrades := len(in.GradeLevels) == len(in.Scores) && len(in.GradeLevels) > 0
	invalid := 0
	for i, s := range in.Scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			invalid++
			continue
		}
		valid = append(valid, s)
		if withGrades {
			grades = append(grades, in.GradeLevels[i])
		}
	}
	return valid, grades, invalid
}

// Validation 输入校验结果。ConfigErrors 与 Errors 均为致命错误，前者优先返回。
type Validation struct {
	IsValid      bool           `json:"is_valid"`
	ConfigErrors []string       `json:"config_errors,omitempty"`
	Errors       []string       `json:"errors"`
	Warnings     []string       `json:"warnings"`
	Stats        map[string]any `json:"stats"`
}

func NewValidation() Validation {
	return Validation{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
		Stats:    map[string]any{},
	}
}

func (v *Validation) Fail(format string, args ...any) {
	v.IsValid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *Validation) ConfigFail(format string, args ...any) {
	v.IsValid = false
	v.ConfigErrors = append(v.ConfigErrors, fmt.Sprintf(format, args...))
}

func (v *Validation) Warn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// ValidateScores 数值列的通用校验：空或全部无效为致命错误，部分无效为警告
func ValidateScores(in Input) Validation {
	v := NewValidation()
	if len(in.Scores) == 0 {
		v.Fail("score column is empty")
		return v
	}
	valid, _, invalid := in.ValidScores()
	if len(valid) == 0 {
		v.Fail("no valid scores in %d records", len(in.Scores))
		return v
	}
	if invalid > 0 {
		v.Warn("found %d invalid scores, dropped before calculation", invalid)
	}
	v.Stats["total_records"] = len(in.Scores)
	v.Stats["valid_scores"] = len(valid)
	v.Stats["invalid_scores"] = invalid
	return v
}

// ValidationError 数据错误
type ValidationError struct {
	Strategy Name
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid input: %s", e.Strategy, strings.Join(e.Errors, "; "))
}

// ConfigError 配置错误，在计算之前返回
type ConfigError struct {
	Strategy Name
	Errors   []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid config: %s", e.Strategy, strings.Join(e.Errors, "; "))
}

// Result 策略输出，引擎会额外写入 _meta
type Result map[string]any

const MetaKey = "_meta"

type Meta struct {
	DataSize      int           `json:"data_size"`
	AlgorithmInfo AlgorithmInfo `json:"algorithm_info"`
	Warnings      []string      `json:"warnings,omitempty"`
}

func (r Result) Float(key string) float64 {
	return toFloat(r[key])
}

func (r Result) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (r Result) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Result) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Sub 取嵌套结果
func (r Result) Sub(key string) Result {
	switch v := r[key].(type) {
	case Result:
		return v
	case map[string]any:
		return Result(v)
	}
	return Result{}
}

func (r Result) Meta() Meta {
	m, _ := r[MetaKey].(Meta)
	return m
}

// Warnings 合并策略自身与校验阶段的警告
func (r Result) Warnings() []string {
	var out []string
	if w, ok := r["warnings"].([]string); ok {
		out = append(out, w...)
	}
	out = append(out, r.Meta().Warnings...)
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
