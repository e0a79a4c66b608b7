package survey

import (
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/formula"
	"edu_stats_backend/internal/model"
	"fmt"
	"math"
	"sort"
)

const (
	KeyDimensions     = "dimensions"
	KeyScaleConfig    = "scale_config"
	KeyUseTransformed = "use_transformed"
)

// QuestionTransform 单题转换统计
type QuestionTransform struct {
	Type                    Direction   `json:"type"`
	OriginalDistribution    map[int]int `json:"original_distribution"`
	TransformedDistribution map[int]int `json:"transformed_distribution"`
	ValidCount              int         `json:"valid_count"`
	InvalidCount            int         `json:"invalid_count"`
}

// ScaleTransformStrategy 按维度配置把原始作答正向化，Raw 保留不变，结果写入 Transformed；
// 同时给出维度得分汇总与维度间相关。
type ScaleTransformStrategy struct{}

func (ScaleTransformStrategy) Name() engine.Name { return engine.ScaleTransform }

func (ScaleTransformStrategy) Validate(in engine.Input, cfg engine.Config) engine.Validation {
	v := validateResponses(in)
	dims, _ := engine.Value[[]Dimension](cfg, KeyDimensions)
	if len(dims) == 0 {
		v.ConfigFail("dimension config is required")
		return v
	}
	if _, err := directions(dims); err != nil {
		v.ConfigFail("%s", err.Error())
	}
	scale := scaleConfig(cfg)
	if len(scale.Forward) == 0 || len(scale.Reverse) == 0 {
		v.ConfigFail("scale_config must define forward and reverse tables")
	}
	return v
}

func validateResponses(in engine.Input) engine.Validation {
	v := engine.NewValidation()
	if len(in.Responses) == 0 {
		v.Fail("no survey responses")
		return v
	}
	answered := 0
	for _, r := range in.Responses {
		if r != nil && len(r.Raw) > 0 {
			answered++
		}
	}
	if answered == 0 {
		v.Fail("all %d respondents have empty answers", len(in.Responses))
	} else if answered < len(in.Responses) {
		v.Warn("found %d respondents without any answer", len(in.Responses)-answered)
	}
	v.Stats["total_respondents"] = len(in.Responses)
	v.Stats["answered_respondents"] = answered
	return v
}

func scaleConfig(cfg engine.Config) ScaleConfig {
	if sc, ok := engine.Value[ScaleConfig](cfg, KeyScaleConfig); ok {
		return sc
	}
	return DefaultScale
}

func (ScaleTransformStrategy) Calculate(in engine.Input, cfg engine.Config) (engine.Result, error) {
	dims, _ := engine.Value[[]Dimension](cfg, KeyDimensions)
	scale := scaleConfig(cfg)
	dirs, err := directions(dims)
	if err != nil {
		return nil, err
	}

	summary, warnings := Transform(in.Responses, dirs, scale)
	analysis := AggregateDimensions(in.Responses, dims)

	res := engine.Result{
		"transformation_summary": summary,
		"dimension_scores":       analysis.Scores,
		"dimension_correlations": analysis.Correlations,
		"overall":                analysis.Overall,
		"warnings":               warnings,
	}
	if scale.Labels != nil {
		res["scale_labels"] = scale.Labels
	}
	return res, nil
}

// Transform 原地写入 Transformed。未在任何维度中出现的题目按正向处理并给出警告，
// 映射表中不存在的等级视为缺失。
func Transform(responses []*model.SurveyResponseSet, dirs map[string]Direction, scale ScaleConfig) (map[string]*QuestionTransform, []string) {
	summary := make(map[string]*QuestionTransform)
	unassigned := make(map[string]bool)

	for _, r := range responses {
		if r == nil {
			continue
		}
		r.Transformed = make(map[string]int, len(r.Raw))
		for q, raw := range r.Raw {
			dir, ok := dirs[q]
			if !ok {
				dir = Forward
				unassigned[q] = true
			}
			table := scale.Forward
			if dir == Reverse {
				table = scale.Reverse
			}
			qt, ok := summary[q]
			if !ok {
				qt = &QuestionTransform{
					Type:                    dir,
					OriginalDistribution:    map[int]int{},
					TransformedDistribution: map[int]int{},
				}
				summary[q] = qt
			}
			qt.OriginalDistribution[raw]++
			v, ok := table.Apply(raw)
			if !ok {
				qt.InvalidCount++
				continue
			}
			r.Transformed[q] = v
			qt.TransformedDistribution[v]++
			qt.ValidCount++
		}
	}

	warnings := []string{}
	for _, q := range formula.SortedKeys(unassigned) {
		warnings = append(warnings, fmt.Sprintf("question %s is not assigned to any dimension, treated as forward", q))
	}
	for _, q := range formula.SortedKeys(summary) {
		if n := summary[q].InvalidCount; n > 0 {
			warnings = append(warnings, fmt.Sprintf("question %s has %d answers outside the scale", q, n))
		}
	}
	return summary, warnings
}

// DimensionScore 单个问卷维度的得分汇总
type DimensionScore struct {
	Code              string             `json:"code"`
	Name              string             `json:"name"`
	Count             int                `json:"count"`
	Mean              float64            `json:"mean"`
	Std               float64            `json:"std"`
	Median            float64            `json:"median"`
	Min               float64            `json:"min"`
	Max               float64            `json:"max"`
	Weight            float64            `json:"weight"`
	WeightedMean      float64            `json:"weighted_mean"`
	QuestionsCount    int                `json:"questions_count"`
	Percentiles       map[string]float64 `json:"percentiles"`
	LevelDistribution map[int]int        `json:"level_distribution"`
}

// Correlation 维度间 Pearson 相关
type Correlation struct {
	DimensionA  string  `json:"dimension_a"`
	DimensionB  string  `json:"dimension_b"`
	Correlation float64 `json:"correlation"`
	Strength    string  `json:"strength"`
	SampleSize  int     `json:"sample_size"`
}

type Overall struct {
	TotalRespondents int     `json:"total_respondents"`
	DimensionCount   int     `json:"dimension_count"`
	OverallMean      float64 `json:"overall_mean"`
	HighestDimension string  `json:"highest_dimension,omitempty"`
	LowestDimension  string  `json:"lowest_dimension,omitempty"`
	ScoreRange       float64 `json:"score_range"`
}

type DimensionAnalysis struct {
	Scores       map[string]DimensionScore       `json:"dimension_scores"`
	StudentScore map[string]map[string]float64 `json:"-"` // 维度 -> 学生 -> 得分
	Correlations []Correlation                   `json:"correlations"`
	Overall      Overall                         `json:"overall"`
}

// CorrelationStrength |r| < 0.3 weak，0.3-0.6 moderate，> 0.6 strong
func CorrelationStrength(r float64) string {
	a := math.Abs(r)
	switch {
	case a < 0.3:
		return "weak"
	case a <= 0.6:
		return "moderate"
	default:
		return "strong"
	}
}

// StudentDimensionScores 每名学生在维度内的加权平均（使用正向化后的等级）
func StudentDimensionScores(responses []*model.SurveyResponseSet, dim Dimension) map[string]float64 {
	out := make(map[string]float64)
	questions := dim.Questions()
	for _, r := range responses {
		if r == nil {
			continue
		}
		var num, den float64
		for _, q := range questions {
			v, ok := r.Answer(q, true)
			if !ok {
				continue
			}
			w := dim.questionWeight(q)
			num += w * float64(v)
			den += w
		}
		if den > 0 {
			out[r.StudentID] = num / den
		}
	}
	return out
}

// AggregateDimensions 维度得分、维度间相关及整体指标
func AggregateDimensions(responses []*model.SurveyResponseSet, dims []Dimension) DimensionAnalysis {
	a := DimensionAnalysis{
		Scores:       make(map[string]DimensionScore, len(dims)),
		StudentScore: make(map[string]map[string]float64, len(dims)),
		Correlations: []Correlation{},
	}
	var means []float64
	var codes []string
	for _, dim := range dims {
		perStudent := StudentDimensionScores(responses, dim)
		a.StudentScore[dim.Code] = perStudent
		values := make([]float64, 0, len(perStudent))
		for _, id := range formula.SortedKeys(perStudent) {
			values = append(values, perStudent[id])
		}
		s := formula.Summarize(values)
		levels := map[int]int{}
		for _, v := range values {
			levels[int(math.Round(v))]++
		}
		ds := DimensionScore{
			Code:              dim.Code,
			Name:              dim.label(),
			Count:             s.Count,
			Mean:              s.Mean,
			Std:               s.Std,
			Median:            s.Median,
			Min:               s.Min,
			Max:               s.Max,
			Weight:            dim.EffectiveWeight(),
			WeightedMean:      s.Mean * dim.EffectiveWeight(),
			QuestionsCount:    len(dim.Questions()),
			Percentiles:       formula.Percentiles(values, []float64{25, 50, 75}),
			LevelDistribution: levels,
		}
		a.Scores[dim.Code] = ds
		if s.Count > 0 {
			means = append(means, s.Mean)
			codes = append(codes, dim.Code)
		}
	}

	for i := 0; i < len(dims); i++ {
		for j := i + 1; j < len(dims); j++ {
			a.Correlations = append(a.Correlations, correlate(dims[i].Code, dims[j].Code, a.StudentScore[dims[i].Code], a.StudentScore[dims[j].Code]))
		}
	}

	a.Overall = Overall{
		TotalRespondents: len(responses),
		DimensionCount:   len(dims),
	}
	if len(means) > 0 {
		a.Overall.OverallMean = formula.Mean(means)
		hi, lo := 0, 0
		for i := range means {
			if means[i] > means[hi] {
				hi = i
			}
			if means[i] < means[lo] {
				lo = i
			}
		}
		a.Overall.HighestDimension = codes[hi]
		a.Overall.LowestDimension = codes[lo]
		a.Overall.ScoreRange = means[hi] - means[lo]
	}
	return a
}

func correlate(codeA, codeB string, a, b map[string]float64) Correlation {
	ids := make([]string, 0, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	x := make([]float64, len(ids))
	y := make([]float64, len(ids))
	for i, id := range ids {
		x[i], y[i] = a[id], b[id]
	}
	c := Correlation{DimensionA: codeA, DimensionB: codeB, SampleSize: len(ids)}
	r := formula.Pearson(x, y)
	if math.IsNaN(r) {
		c.Strength = "undefined"
		return c
	}
	c.Correlation = r
	c.Strength = CorrelationStrength(r)
	return c
}

func (ScaleTransformStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "LikertScaleTransformation",
		Version:     "1.0",
		Description: "forward/reverse Likert transformation with weighted dimension aggregation",
		Formula:     "reverse(level) = width + 1 - level",
	}
}
