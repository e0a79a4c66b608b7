package formula

import (
	"edu_stats_backend/internal/engine"
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	LowConfidenceSampleSize = 10
	RecommendedSampleSize   = 30
)

// DiscriminationLevel 区分度等级：excellent ≥0.4，good ≥0.3，acceptable ≥0.2，其余 poor
func DiscriminationLevel(index float64) string {
	switch {
	case index >= 0.4:
		return "excellent"
	case index >= 0.3:
		return "good"
	case index >= 0.2:
		return "acceptable"
	default:
		return "poor"
	}
}

// GroupSize 27% 规则下高低分组人数，至少 1 人
func GroupSize(n int, groupPercentage float64) int {
	size := int(float64(n) * groupPercentage)
	if size < 1 {
		size = 1
	}
	return size
}

type DiscriminationResult struct {
	Index         float64
	Level         string
	HighMean      float64
	LowMean       float64
	GroupSize     int
	Total         int
	LowConfidence bool
	High          []float64
	Low           []float64
	Warnings      []string
}

// ComputeDiscrimination 降序排列后取前后 group 人，index = (高组均分 - 低组均分) / 满分
func ComputeDiscrimination(scores []float64, maxScore, groupPercentage float64) DiscriminationResult {
	sorted := sortedCopy(scores)
	// 降序
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	n := len(sorted)
	g := GroupSize(n, groupPercentage)
	if g > n {
		g = n
	}
	high := sorted[:g]
	low := sorted[n-g:]

	r := DiscriminationResult{
		HighMean:  Mean(high),
		LowMean:   Mean(low),
		GroupSize: g,
		Total:     n,
		High:      high,
		Low:       low,
	}
	r.Index = (r.HighMean - r.LowMean) / maxScore
	r.Level = DiscriminationLevel(r.Index)

	if n < LowConfidenceSampleSize {
		r.LowConfidence = true
		r.Warnings = append(r.Warnings, fmt.Sprintf("sample size %d is below %d, discrimination index has low confidence", n, LowConfidenceSampleSize))
	} else if n < RecommendedSampleSize {
		r.Warnings = append(r.Warnings, fmt.Sprintf("sample size %d is below the recommended %d", n, RecommendedSampleSize))
	}
	if n > 0 && sorted[0]-sorted[n-1] < maxScore*0.1 {
		r.Warnings = append(r.Warnings, "score distribution is concentrated (range below 10% of max_score), discrimination may be understated")
	}
	return r
}

func groupDetail(scores []float64, maxScore float64) map[string]any {
	s := Summarize(scores)
	return map[string]any{
		"size":       s.Count,
		"mean":       s.Mean,
		"min":        s.Min,
		"max":        s.Max,
		"median":     s.Median,
		"std":        s.Std,
		"score_rate": s.Mean / maxScore,
	}
}

type DiscriminationStrategy struct{}

func (DiscriminationStrategy) Name() engine.Name { return engine.Discrimination }

func (DiscriminationStrategy) Validate(in engine.Input, cfg engine.Config) engine.Validation {
	v := engine.ValidateScores(in)
	validateMaxScore(&v, cfg)
	if gp := cfg.Float(engine.KeyGroupPercentage, engine.DefaultGroupPercentage); gp < 0.1 || gp > 0.5 {
		v.ConfigFail("group_percentage must be within [0.1, 0.5], got %v", gp)
	}
	return v
}

func (DiscriminationStrategy) Calculate(in engine.Input, cfg engine.Config) (engine.Result, error) {
	maxScore := cfg.Float(engine.KeyMaxScore, engine.DefaultMaxScore)
	gp := cfg.Float(engine.KeyGroupPercentage, engine.DefaultGroupPercentage)
	valid, _, _ := in.ValidScores()

	r := ComputeDiscrimination(valid, maxScore, gp)
	overlap := r.GroupSize*2 > r.Total || (len(r.High) > 0 && len(r.Low) > 0 && r.High[len(r.High)-1] <= r.Low[0])

	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return engine.Result{
		"discrimination_index": r.Index,
		"interpretation":       r.Level,
		"high_group_mean":      r.HighMean,
		"low_group_mean":       r.LowMean,
		"group_size":           r.GroupSize,
		"high_group_size":      len(r.High),
		"low_group_size":       len(r.Low),
		"total_students":       r.Total,
		"group_percentage":     gp,
		"max_score":            maxScore,
		"low_confidence":       r.LowConfidence,
		"group_details": map[string]any{
			"high":    groupDetail(r.High, maxScore),
			"low":     groupDetail(r.Low, maxScore),
			"overlap": overlap,
		},
		"warnings": warnings,
	}, nil
}

func (DiscriminationStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "Discrimination27",
		Version:     "1.0",
		Description: "upper/lower 27% group discrimination index",
		Formula:     "D = (mean(high) - mean(low)) / max_score",
	}
}

// BatchDiscrimination 逐题计算区分度。单题失败记录为 {"error": ...}，不影响其他题目；
// 结果额外包含 _summary。
func BatchDiscrimination(e *engine.Engine, questions map[string][]float64, maxScores map[string]float64, cfg engine.Config) map[string]any {
	out := make(map[string]any, len(questions)+1)
	levels := map[string]int{}
	var indices []float64
	failed := 0

	ids := make([]string, 0, len(questions))
	for id := range questions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		qcfg := cfg.Merge(nil)
		if m, ok := maxScores[id]; ok {
			qcfg[engine.KeyMaxScore] = m
		}
		res, err := e.Calculate(engine.Discrimination, engine.ScoreInput(questions[id]), qcfg)
		if err != nil {
			failed++
			out[id] = map[string]any{"error": err.Error()}
			continue
		}
		out[id] = res
		idx := res.Float("discrimination_index")
		indices = append(indices, idx)
		levels[res.String("interpretation")]++
	}

	summary := map[string]any{
		"total_questions": len(questions),
		"successful":      len(indices),
		"failed":          failed,
		"level_counts":    levels,
	}
	if len(indices) > 0 {
		s := Summarize(indices)
		summary["avg_discrimination"] = s.Mean
		summary["min_discrimination"] = s.Min
		summary["max_discrimination"] = s.Max
	}
	out["_summary"] = summary
	return out
}

var ErrNoStudents = errors.New("no students with complete scores")

// ExamDiscrimination 以学生总分划分高低组，再逐题比较两组的平均得分率
func ExamDiscrimination(studentScores map[string]map[string]float64, maxScores map[string]float64, groupPercentage float64) (map[string]float64, error) {
	type total struct {
		id    string
		score float64
	}
	totals := make([]total, 0, len(studentScores))
	for id, qs := range studentScores {
		t := 0.0
		for _, s := range qs {
			t += s
		}
		totals = append(totals, total{id: id, score: t})
	}
	if len(totals) == 0 {
		return nil, ErrNoStudents
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].score != totals[j].score {
			return totals[i].score > totals[j].score
		}
		return totals[i].id < totals[j].id
	})
	g := GroupSize(len(totals), groupPercentage)
	high, low := totals[:g], totals[len(totals)-g:]

	out := make(map[string]float64, len(maxScores))
	for qid, full := range maxScores {
		if full <= 0 {
			continue
		}
		var hs, ls []float64
		for _, t := range high {
			hs = append(hs, studentScores[t.id][qid])
		}
		for _, t := range low {
			ls = append(ls, studentScores[t.id][qid])
		}
		d := (Mean(hs) - Mean(ls)) / full
		if math.IsNaN(d) {
			d = 0
		}
		out[qid] = d
	}
	return out, nil
}
