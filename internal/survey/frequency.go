package survey

import (
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/formula"
	"edu_stats_backend/internal/model"
	"sort"
)

type OptionStatistics struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	Mode   float64 `json:"mode"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// QuestionFrequency 单题选项频数，Percentages 以有效作答为分母
type QuestionFrequency struct {
	Frequencies    map[int]int       `json:"frequencies"`
	Percentages    map[int]float64   `json:"percentages"`
	TotalResponses int               `json:"total_responses"`
	ValidResponses int               `json:"valid_responses"`
	MissingCount   int               `json:"missing_count"`
	MissingRate    float64           `json:"missing_rate"`
	ResponseRate   float64           `json:"response_rate"`
	Statistics     *OptionStatistics `json:"statistics,omitempty"`
}

// Levels 升序的选项等级
func (f QuestionFrequency) Levels() []int {
	out := make([]int, 0, len(f.Frequencies))
	for lvl := range f.Frequencies {
		out = append(out, lvl)
	}
	sort.Ints(out)
	return out
}

type FrequencySummary struct {
	TotalQuestions         int         `json:"total_questions"`
	TotalPossibleResponses int         `json:"total_possible_responses"`
	TotalValidResponses    int         `json:"total_valid_responses"`
	TotalMissingResponses  int         `json:"total_missing_responses"`
	OverallResponseRate    float64     `json:"overall_response_rate"`
	OptionDistribution     map[int]int `json:"option_distribution"`
}

type FrequencyStrategy struct{}

func (FrequencyStrategy) Name() engine.Name { return engine.FrequencyAnalysis }

func (FrequencyStrategy) Validate(in engine.Input, cfg engine.Config) engine.Validation {
	v := validateResponses(in)
	if !v.IsValid {
		return v
	}
	if qs := cfg.Strings(engine.KeyQuestions); len(qs) > 0 {
		present := questionUnion(in.Responses)
		var missing []string
		for _, q := range qs {
			if !present[q] {
				missing = append(missing, q)
			}
		}
		if len(missing) > 0 {
			v.Warn("questions without any answer: %v", missing)
		}
	}
	return v
}

func (FrequencyStrategy) Calculate(in engine.Input, cfg engine.Config) (engine.Result, error) {
	questions := questionOrder(in.Responses, cfg)
	transformed, _ := engine.Value[bool](cfg, KeyUseTransformed)

	freqs, summary := Frequencies(in.Responses, questions, transformed)
	return engine.Result{
		"question_frequencies": freqs,
		"overall_summary":      summary,
		"questions":            questions,
	}, nil
}

// Frequencies 逐题统计选项频数
func Frequencies(responses []*model.SurveyResponseSet, questions []string, transformed bool) (map[string]QuestionFrequency, FrequencySummary) {
	total := len(responses)
	freqs := make(map[string]QuestionFrequency, len(questions))
	summary := FrequencySummary{
		TotalQuestions:         len(questions),
		TotalPossibleResponses: total * len(questions),
		OptionDistribution:     map[int]int{},
	}

	for _, q := range questions {
		f := QuestionFrequency{
			Frequencies:    map[int]int{},
			Percentages:    map[int]float64{},
			TotalResponses: total,
		}
		var values []float64
		for _, r := range responses {
			if r == nil {
				continue
			}
			v, ok := r.Answer(q, transformed)
			if !ok {
				continue
			}
			f.Frequencies[v]++
			values = append(values, float64(v))
		}
		f.ValidResponses = len(values)
		f.MissingCount = total - f.ValidResponses
		if total > 0 {
			f.MissingRate = float64(f.MissingCount) / float64(total)
			f.ResponseRate = float64(f.ValidResponses) / float64(total)
		}
		for lvl, c := range f.Frequencies {
			f.Percentages[lvl] = float64(c) / float64(f.ValidResponses)
			summary.OptionDistribution[lvl] += c
		}
		if len(values) > 0 {
			s := formula.Summarize(values)
			f.Statistics = &OptionStatistics{
				Mean:   s.Mean,
				Std:    s.Std,
				Median: s.Median,
				Mode:   s.Mode,
				Min:    s.Min,
				Max:    s.Max,
			}
		}
		summary.TotalValidResponses += f.ValidResponses
		summary.TotalMissingResponses += f.MissingCount
		freqs[q] = f
	}
	if summary.TotalPossibleResponses > 0 {
		summary.OverallResponseRate = float64(summary.TotalValidResponses) / float64(summary.TotalPossibleResponses)
	}
	return freqs, summary
}

func (FrequencyStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "OptionFrequency",
		Version:     "1.0",
		Description: "per-question option counts and percentages over valid responses",
		Formula:     "pct = count / valid; response_rate = valid / total",
	}
}

func questionUnion(responses []*model.SurveyResponseSet) map[string]bool {
	out := map[string]bool{}
	for _, r := range responses {
		if r == nil {
			continue
		}
		for q := range r.Raw {
			out[q] = true
		}
	}
	return out
}

// questionOrder 配置中的题目顺序优先，否则取全部作答题目升序
func questionOrder(responses []*model.SurveyResponseSet, cfg engine.Config) []string {
	if qs := cfg.Strings(engine.KeyQuestions); len(qs) > 0 {
		return qs
	}
	return formula.SortedKeys(questionUnion(responses))
}
