package formula

import (
	"edu_stats_backend/internal/engine"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Band 学段，决定等级划分阈值
type Band string

const (
	BandElementary Band = "elementary"
	BandMiddle     Band = "middle_school"
)

type gradeBucket struct {
	Key       string
	Label     string
	Threshold float64 // 得分率下限
}

// 小学：优秀≥90%，良好80-89%，及格60-79%，不及格<60%
var elementaryBuckets = []gradeBucket{
	{Key: "excellent", Label: "优秀", Threshold: 0.90},
	{Key: "good", Label: "良好", Threshold: 0.80},
	{Key: "pass", Label: "及格", Threshold: 0.60},
	{Key: "fail", Label: "不及格", Threshold: 0},
}

// 初中：A≥85%，B 70-84%，C 60-69%，D<60%
var middleBuckets = []gradeBucket{
	{Key: "A", Label: "A等", Threshold: 0.85},
	{Key: "B", Label: "B等", Threshold: 0.70},
	{Key: "C", Label: "C等", Threshold: 0.60},
	{Key: "D", Label: "D等", Threshold: 0},
}

const (
	PassThreshold      = 0.60
	ExcellentThreshold = 0.85
)

var chineseGrades = map[string]int{
	"一年级": 1, "二年级": 2, "三年级": 3, "四年级": 4, "五年级": 5, "六年级": 6,
	"七年级": 7, "八年级": 8, "九年级": 9, "初一": 7, "初二": 8, "初三": 9,
}

// gradeNumber 解析 "4th_grade"、"G4"、"4"、"四年级" 等写法
func gradeNumber(gradeLevel string) (int, bool) {
	g := strings.ToLower(strings.TrimSpace(gradeLevel))
	if n, ok := chineseGrades[g]; ok {
		return n, true
	}
	g = strings.TrimSuffix(g, "_grade")
	g = strings.TrimPrefix(g, "grade")
	g = strings.TrimPrefix(g, "g")
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		g = strings.TrimSuffix(g, suffix)
	}
	g = strings.Trim(g, "_ ")
	n, err := strconv.Atoi(g)
	if err != nil || n < 1 || n > 9 {
		return 0, false
	}
	return n, true
}

// ResolveBand 1-6 年级为小学，7-9 年级为初中；无法识别时按小学处理并返回 false
func ResolveBand(gradeLevel string) (Band, bool) {
	n, ok := gradeNumber(gradeLevel)
	if !ok {
		return BandElementary, false
	}
	if n >= 7 {
		return BandMiddle, true
	}
	return BandElementary, true
}

func bucketsFor(band Band) []gradeBucket {
	if band == BandMiddle {
		return middleBuckets
	}
	return elementaryBuckets
}

// bandDistribution 按学段统计各等级人数与比例，各等级人数之和等于样本量
func bandDistribution(scores []float64, maxScore float64, band Band) ([]gradeBucket, []int) {
	buckets := bucketsFor(band)
	counts := make([]int, len(buckets))
	for _, s := range scores {
		for i, b := range buckets {
			if i == len(buckets)-1 || s >= maxScore*b.Threshold {
				counts[i]++
				break
			}
		}
	}
	return buckets, counts
}

func rateAtLeast(scores []float64, threshold float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	n := 0
	for _, s := range scores {
		if s >= threshold {
			n++
		}
	}
	return float64(n) / float64(len(scores))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GradeDistributionStrategy 按学段阈值输出带标签的等级分布
type GradeDistributionStrategy struct{}

func (GradeDistributionStrategy) Name() engine.Name { return engine.GradeDistribution }

func (GradeDistributionStrategy) Validate(in engine.Input, cfg engine.Config) engine.Validation {
	v := engine.ValidateScores(in)
	validateMaxScore(&v, cfg)
	if v.IsValid {
		for _, g := range gradesOf(in, cfg) {
			if _, ok := ResolveBand(g); !ok {
				v.Warn("unknown grade_level %q, falling back to elementary thresholds", g)
			}
		}
	}
	return v
}

func gradesOf(in engine.Input, cfg engine.Config) []string {
	if len(in.GradeLevels) == len(in.Scores) && len(in.GradeLevels) > 0 {
		seen := map[string]bool{}
		var out []string
		for _, g := range in.GradeLevels {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
		sort.Strings(out)
		return out
	}
	return []string{cfg.String(engine.KeyGradeLevel, engine.DefaultGradeLevel)}
}

func (GradeDistributionStrategy) Calculate(in engine.Input, cfg engine.Config) (engine.Result, error) {
	maxScore := cfg.Float(engine.KeyMaxScore, engine.DefaultMaxScore)
	valid, grades, _ := in.ValidScores()

	levels := gradesOf(in, cfg)
	if len(levels) <= 1 || grades == nil {
		return gradeResult(valid, levels[0], maxScore), nil
	}

	byGrade := make(map[string][]float64)
	for i, s := range valid {
		byGrade[grades[i]] = append(byGrade[grades[i]], s)
	}
	gradeResults := make(map[string]any, len(byGrade))
	for _, g := range levels {
		if scores := byGrade[g]; len(scores) > 0 {
			gradeResults[g] = gradeResult(scores, g, maxScore)
		}
	}
	return engine.Result{
		"type":               "mixed_grades",
		"grade_results":      gradeResults,
		"overall_statistics": gradeStatistics(valid, maxScore),
		"total_students":     len(valid),
		"grade_count":        len(gradeResults),
		"max_score":          maxScore,
	}, nil
}

func gradeResult(scores []float64, gradeLevel string, maxScore float64) engine.Result {
	band, known := ResolveBand(gradeLevel)
	buckets, counts := bandDistribution(scores, maxScore, band)

	n := float64(len(scores))
	countMap := map[string]any{}
	rateMap := map[string]any{}
	pctMap := map[string]any{}
	labelMap := map[string]any{}
	thresholds := map[string]any{}
	rates := map[string]float64{}
	for i, b := range buckets {
		rate := float64(counts[i]) / n
		countMap[b.Key] = counts[i]
		rateMap[b.Key] = rate
		pctMap[b.Key] = round2(rate * 100)
		labelMap[b.Key] = b.Label
		thresholds[b.Key] = b.Threshold
		rates[b.Key] = rate
	}

	res := engine.Result{
		"grade_level": gradeLevel,
		"grade_type":  string(band),
		"total_count": len(scores),
		"max_score":   maxScore,
		"distribution": map[string]any{
			"counts":      countMap,
			"rates":       rateMap,
			"percentages": pctMap,
			"labels":      labelMap,
		},
		"statistics":      gradeStatistics(scores, maxScore),
		"recommendations": gradeRecommendations(rates, band),
		"thresholds_used": thresholds,
	}
	if !known {
		res["warnings"] = []string{"unknown grade_level " + strconv.Quote(gradeLevel) + ", elementary thresholds applied"}
	}
	return res
}

func gradeStatistics(scores []float64, maxScore float64) map[string]any {
	s := Summarize(scores)
	return map[string]any{
		"mean":           s.Mean,
		"median":         s.Median,
		"std":            s.Std,
		"min":            s.Min,
		"max":            s.Max,
		"range":          s.Range,
		"score_rate":     s.Mean / maxScore,
		"pass_rate":      rateAtLeast(scores, maxScore*PassThreshold),
		"excellent_rate": rateAtLeast(scores, maxScore*ExcellentThreshold),
	}
}

func gradeRecommendations(rates map[string]float64, band Band) []string {
	recs := []string{}
	if band == BandElementary {
		if rates["fail"] > 0.2 {
			recs = append(recs, "不及格率过高，建议加强基础知识教学")
		}
		if rates["excellent"] < 0.1 {
			recs = append(recs, "优秀率偏低，建议提供拓展学习材料")
		}
		if rates["excellent"] > 0.5 {
			recs = append(recs, "整体表现优秀，可适当提高教学难度")
		}
	} else {
		if rates["D"] > 0.15 {
			recs = append(recs, "D等学生比例较高，需要加强个别辅导")
		}
		if rates["A"] < 0.15 {
			recs = append(recs, "A等学生比例偏低，建议增加挑战性内容")
		}
		if rates["C"]+rates["D"] > 0.4 {
			recs = append(recs, "中低分段学生较多，建议分层教学")
		}
	}
	if rates["fail"]+rates["D"] > 0.25 {
		recs = append(recs, "建议开展针对性的学困生帮扶工作")
	}
	return recs
}

func (GradeDistributionStrategy) Describe() engine.AlgorithmInfo {
	return engine.AlgorithmInfo{
		Name:        "GradeLevelDistribution",
		Version:     "1.0",
		Description: "band-specific labeled grade distribution: elementary 90/80/60, middle school 85/70/60",
		Formula:     "rate = count(score >= max_score * threshold) / n",
	}
}

func validateMaxScore(v *engine.Validation, cfg engine.Config) {
	if m := cfg.Float(engine.KeyMaxScore, engine.DefaultMaxScore); m <= 0 {
		v.ConfigFail("max_score must be positive, got %v", m)
	}
}
