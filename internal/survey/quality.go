package survey

import (
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/formula"
	"edu_stats_backend/internal/model"
	"fmt"
	"sort"
)

const (
	KeyScaleMin = "scale_min"
	KeyScaleMax = "scale_max"

	// 判定直线作答与无变化作答所需的最少作答数
	minAnswersForFlag = 3
	// 判定作答模式所需的最少作答数
	minAnswersForPattern = 4
)

// QualityRules 作答质量规则
type QualityRules struct {
	ResponseTimeMin   float64 `json:"response_time_min"`
	ResponseTimeMax   float64 `json:"response_time_max"`
	StraightLineMax   int     `json:"straight_line_max"`
	CompletionRateMin float64 `json:"completion_rate_min"`
	VarianceThreshold float64 `json:"variance_threshold"`
}

func RulesFromConfig(cfg engine.Config) QualityRules {
	return QualityRules{
		ResponseTimeMin:   cfg.Float(engine.KeyResponseTimeMin, 30),
		ResponseTimeMax:   cfg.Float(engine.KeyResponseTimeMax, 1800),
		StraightLineMax:   cfg.Int(engine.KeyStraightLineMax, 10),
		CompletionRateMin: cfg.Float(engine.KeyCompletionRateMin, 0.8),
		VarianceThreshold: cfg.Float(engine.KeyVarianceThreshold, 0.1),
	}
}

// 质量标记
const (
	FlagLowCompletion = "low_completion"
	FlagStraightLine  = "straight_line"
	FlagNoVariance    = "no_variance"
	FlagTooFast       = "too_fast"
	FlagTooSlow       = "too_slow"
)

// 作答模式
const (
	PatternAlternating = "alternating_pattern"
	PatternAscending   = "ascending_pattern"
	PatternDescending  = "descending_pattern"
	PatternExtremeOnly = "extreme_only"
)

type FlagStat struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Threshold  float64 `json:"threshold"`
}

type ResponseTimeStat struct {
	TooFastCount      int      `json:"too_fast_count"`
	TooFastPercentage float64  `json:"too_fast_percentage"`
	TooSlowCount      int      `json:"too_slow_count"`
	TooSlowPercentage float64  `json:"too_slow_percentage"`
	MinThreshold      float64  `json:"min_threshold"`
	MaxThreshold      float64  `json:"max_threshold"`
	MeanTime          *float64 `json:"mean_time,omitempty"`
}

type QualitySummary = model.QualitySummary

type CompletionAnalysis struct {
	Mean            float64 `json:"mean_completion_rate"`
	Std             float64 `json:"std_completion_rate"`
	Min             float64 `json:"min_completion_rate"`
	Max             float64 `json:"max_completion_rate"`
	FullCount       int     `json:"full_completion_count"`
	PartialCount    int     `json:"partial_completion_count"`
	NoCompleteCount int     `json:"no_completion_count"`
}

// RespondentQuality 单个学生的质量判定
type RespondentQuality struct {
	StudentID      string   `json:"student_id"`
	CompletionRate float64  `json:"completion_rate"`
	MaxRun         int      `json:"max_run"`
	Variance       *float64 `json:"variance,omitempty"`
	Flags          []string `json:"flags"`
	Patterns       []string `json:"patterns,omitempty"`
	Valid          bool     `json:"valid"`
}

type QualityReport struct {
	Summary      QualitySummary      `json:"quality_summary"`
	Flags        map[string]FlagStat `json:"quality_flags"`
	ResponseTime *ResponseTimeStat   `json:"response_time,omitempty"`
	Patterns     map[string]int      `json:"response_patterns"`
	Respondents  []RespondentQuality `json:"respondent_flags"`
	Completion   CompletionAnalysis  `json:"completion_analysis"`
	Recommend    []string            `json:"recommendations"`
}

// AssessRespondent 按题目顺序检查单个学生。致命标记（完成率、直线作答、无变化）使其无效，
// 响应时间仅作提示。
func AssessRespondent(r *model.SurveyResponseSet, questions []string, rules QualityRules, scaleMin, scaleMax int) RespondentQuality {
	answers := make([]int, 0, len(questions))
	for _, q := range questions {
		if v, ok := r.Raw[q]; ok {
			answers = append(answers, v)
		}
	}
	rq := RespondentQuality{StudentID: r.StudentID, Flags: []string{}, Valid: true}
	if len(questions) > 0 {
		rq.CompletionRate = float64(len(answers)) / float64(len(questions))
	}
	if rq.CompletionRate < rules.CompletionRateMin {
		rq.Flags = append(rq.Flags, FlagLowCompletion)
		rq.Valid = false
	}

	if len(answers) >= minAnswersForFlag {
		rq.MaxRun = longestRun(answers)
		if rules.StraightLineMax > 0 && rq.MaxRun >= rules.StraightLineMax {
			rq.Flags = append(rq.Flags, FlagStraightLine)
			rq.Valid = false
		}
		values := make([]float64, len(answers))
		for i, a := range answers {
			values[i] = float64(a)
		}
		variance := formula.SampleVariance(values)
		rq.Variance = &variance
		if variance <= rules.VarianceThreshold {
			rq.Flags = append(rq.Flags, FlagNoVariance)
			rq.Valid = false
		}
	}

	if r.ResponseSeconds != nil {
		switch t := *r.ResponseSeconds; {
		case t < rules.ResponseTimeMin:
			rq.Flags = append(rq.Flags, FlagTooFast)
		case t > rules.ResponseTimeMax:
			rq.Flags = append(rq.Flags, FlagTooSlow)
		}
	}

	if len(answers) >= minAnswersForPattern {
		rq.Patterns = detectPatterns(answers, scaleMin, scaleMax)
	}
	return rq
}

func longestRun(answers []int) int {
	if len(answers) == 0 {
		return 0
	}
	best, run := 1, 1
	for i := 1; i < len(answers); i++ {
		if answers[i] == answers[i-1] {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 1
		}
	}
	return best
}

// detectPatterns 识别交替、单调递增、单调递减与只选极值四种模式，均要求至少出现两个不同选项
func detectPatterns(answers []int, scaleMin, scaleMax int) []string {
	distinct := map[int]bool{}
	for _, a := range answers {
		distinct[a] = true
	}
	if len(distinct) < 2 {
		return nil
	}
	var out []string

	alternating := len(distinct) == 2
	for i := 2; alternating && i < len(answers); i++ {
		if answers[i] != answers[i-2] {
			alternating = false
		}
	}
	if alternating {
		out = append(out, PatternAlternating)
	}
	if sort.IntsAreSorted(answers) {
		out = append(out, PatternAscending)
	}
	descending := true
	for i := 1; i < len(answers); i++ {
		if answers[i] > answers[i-1] {
			descending = false
			break
		}
	}
	if descending {
		out = append(out, PatternDescending)
	}
	if len(distinct) == 2 && distinct[scaleMin] && distinct[scaleMax] {
		out = append(out, PatternExtremeOnly)
	}
	return out
}

// AssessQuality 汇总全部学生的质量判定
func AssessQuality(responses []*model.SurveyResponseSet, questions []string, rules QualityRules, scaleMin, scaleMax int) QualityReport {
	total := 0
	report := QualityReport{
		Flags:       map[string]FlagStat{},
		Patterns:    map[string]int{PatternAlternating: 0, PatternAscending: 0, PatternDescending: 0, PatternExtremeOnly: 0},
		Respondents: []RespondentQuality{},
	}
	flagCounts := map[string]int{}
	var completions, times []float64

	for _, r := range responses {
		if r == nil {
			continue
		}
		total++
		rq := AssessRespondent(r, questions, rules, scaleMin, scaleMax)
		completions = append(completions, rq.CompletionRate)
		if r.ResponseSeconds != nil {
			times = append(times, *r.ResponseSeconds)
		}
		for _, f := range rq.Flags {
			flagCounts[f]++
		}
		for _, p := range rq.Patterns {
			report.Patterns[p]++
		}
		if rq.Valid {
			report.Summary.ValidResponses++
		}
		if len(rq.Flags) > 0 || len(rq.Patterns) > 0 {
			report.Respondents = append(report.Respondents, rq)
		}
	}
	report.Summary.TotalResponses = total
	if total == 0 {
		report.Recommend = []string{"数据质量良好，无明显质量问题"}
		return report
	}

	pct := func(n int) float64 { return float64(n) / float64(total) }
	report.Flags[FlagLowCompletion] = FlagStat{Count: flagCounts[FlagLowCompletion], Percentage: pct(flagCounts[FlagLowCompletion]), Threshold: rules.CompletionRateMin}
	report.Flags[FlagStraightLine] = FlagStat{Count: flagCounts[FlagStraightLine], Percentage: pct(flagCounts[FlagStraightLine]), Threshold: float64(rules.StraightLineMax)}
	report.Flags[FlagNoVariance] = FlagStat{Count: flagCounts[FlagNoVariance], Percentage: pct(flagCounts[FlagNoVariance]), Threshold: rules.VarianceThreshold}

	issues := flagCounts[FlagLowCompletion] + flagCounts[FlagStraightLine] + flagCounts[FlagNoVariance]
	if len(times) > 0 {
		rt := &ResponseTimeStat{
			TooFastCount: flagCounts[FlagTooFast],
			TooSlowCount: flagCounts[FlagTooSlow],
			MinThreshold: rules.ResponseTimeMin,
			MaxThreshold: rules.ResponseTimeMax,
		}
		rt.TooFastPercentage = float64(rt.TooFastCount) / float64(len(times))
		rt.TooSlowPercentage = float64(rt.TooSlowCount) / float64(len(times))
		mean := formula.Mean(times)
		rt.MeanTime = &mean
		report.ResponseTime = rt
		issues += rt.TooFastCount + rt.TooSlowCount
	}
	for _, n := range report.Patterns {
		issues += n
	}

	report.Summary.QualityIssues = issues
	report.Summary.ValidityRate = pct(report.Summary.ValidResponses)
	report.Completion = completionAnalysis(completions)
	report.Recommend = qualityRecommendations(report)
	return report
}

func completionAnalysis(rates []float64) CompletionAnalysis {
	s := formula.Summarize(rates)
	c := CompletionAnalysis{Mean: s.Mean, Std: s.Std, Min: s.Min, Max: s.Max}
	for _, r := range rates {
		switch {
		case r >= 1:
			c.FullCount++
		case r > 0:
			c.PartialCount++
		default:
			c.NoCompleteCount++
		}
	}
	return c
}

func percentText(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

func qualityRecommendations(r QualityReport) []string {
	var out []string
	if f := r.Flags[FlagLowCompletion]; f.Percentage > 0.1 {
		out = append(out, fmt.Sprintf("发现 %s 的响应完成率过低，建议检查问卷长度和题目设计", percentText(f.Percentage)))
	}
	if f := r.Flags[FlagStraightLine]; f.Percentage > 0.05 {
		out = append(out, fmt.Sprintf("发现 %s 的直线响应，建议增加反向题目或注意力检查题", percentText(f.Percentage)))
	}
	if f := r.Flags[FlagNoVariance]; f.Percentage > 0.05 {
		out = append(out, fmt.Sprintf("发现 %s 的无变化响应，可能存在敷衍作答情况", percentText(f.Percentage)))
	}
	if rt := r.ResponseTime; rt != nil {
		if rt.TooFastPercentage > 0.05 {
			out = append(out, fmt.Sprintf("发现 %s 的响应时间过快，可能存在草率作答", percentText(rt.TooFastPercentage)))
		}
		if rt.TooSlowPercentage > 0.1 {
			out = append(out, fmt.Sprintf("发现 %s 的响应时间过慢，可能存在中途中断情况", percentText(rt.TooSlowPercentage)))
		}
	}
	if len(out) == 0 {
		out = append(out, "数据质量良好，无明显质量问题")
	}
	return out
}

type QualityStrategy struct{}

func (QualityStrategy) Name() engine.Name { return engine.SurveyQuality }

func (QualityStrategy) Validate(in engine.Input, cfg engine.Config) engine.Validation {
	v := validateResponses(in)
	rules := RulesFromConfig(cfg)
	if rules.CompletionRateMin < 0 || rules.CompletionRateMin > 1 {
		v.ConfigFail("completion_rate_min must be within [0, 1], got %v", rules.CompletionRateMin)
	}
	if rules.StraightLineMax < 2 {
		v.ConfigFail("straight_line_max must be at least 2, got %d", rules.StraightLineMax)
	}
	if rules.ResponseTimeMin > rules.ResponseTimeMax {
		v.ConfigFail("response_time_min %v exceeds response_time_max %v", rules.ResponseTimeMin, rules.ResponseTimeMax)
	}
	return v
}

func (QualityStrategy) Calculate(in engine.Input, cfg engine.Config) (engine.Result, error) {
	questions := questionOrder(in.Responses, cfg)
	rules := RulesFromConfig(cfg)
	report := AssessQuality(in.Responses, questions, rules, cfg.Int(KeyScaleMin, 1), cfg.Int(KeyScaleMax, 5))

	res := engine.Result{
		"quality_summary":     report.Summary,
		"quality_flags":       report.Flags,
		"response_patterns":   report.Patterns,
		"respondent_flags":    report.Respondents,
		"completion_analysis": report.Completion,
		"recommendations":     report.Recommend,
		"rules":               rules,
	}
	if report.ResponseTime != nil {
		res["response_time"] = report.ResponseTime
	}
	return res, nil
}

func (QualityStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "SurveyResponseQuality",
		Version:     "1.0",
		Description: "completion, straight-lining, variance, timing and pattern checks",
	}
}
