package service

import (
	"edu_stats_backend/internal/dimension"
	"edu_stats_backend/internal/model"
	"edu_stats_backend/internal/util"
	"sort"
)

// SchoolAverage 学校在某科目或某维度上的平均分
type SchoolAverage struct {
	Code string
	Name string
	Avg  float64
}

// DenseRank 按两位小数平均分降序、学校代码升序排列，并列同名次且名次不跳号
func DenseRank(avgs []SchoolAverage) []model.SchoolRanking {
	sorted := make([]SchoolAverage, len(avgs))
	copy(sorted, avgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := util.Round2(sorted[i].Avg), util.Round2(sorted[j].Avg)
		if a != b {
			return a > b
		}
		return sorted[i].Code < sorted[j].Code
	})

	out := make([]model.SchoolRanking, len(sorted))
	rank := 0
	for i, s := range sorted {
		if i == 0 || util.Round2(s.Avg) != util.Round2(sorted[i-1].Avg) {
			rank++
		}
		out[i] = model.SchoolRanking{
			SchoolCode: s.Code,
			SchoolName: s.Name,
			Avg:        s.Avg,
			Rank:       rank,
		}
	}
	return out
}

// RankOf 学校在全部学校中的名次，学校不在列表中时 ok 为 false
func RankOf(avgs []SchoolAverage, schoolCode string) (rank, total int, ok bool) {
	for _, r := range DenseRank(avgs) {
		if r.SchoolCode == schoolCode {
			return r.Rank, len(avgs), true
		}
	}
	return 0, len(avgs), false
}

// schoolAverages 按学校汇总学生总分的平均值，按学校代码排序
func schoolAverages(totals []dimension.StudentTotal, names map[string]string) []SchoolAverage {
	type acc struct {
		sum   float64
		count int
	}
	bySchool := map[string]*acc{}
	for _, t := range totals {
		a, ok := bySchool[t.SchoolID]
		if !ok {
			a = &acc{}
			bySchool[t.SchoolID] = a
		}
		a.sum += t.Score
		a.count++
	}
	out := make([]SchoolAverage, 0, len(bySchool))
	for code, a := range bySchool {
		out = append(out, SchoolAverage{Code: code, Name: names[code], Avg: a.sum / float64(a.count)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
