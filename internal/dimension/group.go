package dimension

import (
	"edu_stats_backend/internal/model"
	"fmt"
	"sort"
)

// Group 同一维度类型下 (维度值, 层级) 相同的映射集合
type Group struct {
	Type     string
	Value    string
	Level    int
	Mappings []model.DimensionMapping
}

// Key 形如 "algebra_L1"
func (g *Group) Key() string {
	return fmt.Sprintf("%s_L%d", g.Value, g.Level)
}

func (g *Group) Name() string {
	if len(g.Mappings) == 0 {
		return g.Value
	}
	return g.Mappings[0].DisplayName()
}

func (g *Group) Parent() string {
	for _, m := range g.Mappings {
		if m.ParentDimension != nil {
			return *m.ParentDimension
		}
	}
	return ""
}

// Weights 题目 -> 权重，未配置或负权重按 1.0
func (g *Group) Weights() map[string]float64 {
	out := make(map[string]float64, len(g.Mappings))
	for _, m := range g.Mappings {
		out[m.QuestionID] = m.EffectiveWeight()
	}
	return out
}

func (g *Group) Questions() []string {
	seen := make(map[string]bool, len(g.Mappings))
	out := make([]string, 0, len(g.Mappings))
	for _, m := range g.Mappings {
		if !seen[m.QuestionID] {
			seen[m.QuestionID] = true
			out = append(out, m.QuestionID)
		}
	}
	return out
}

// TypeGroups 一个维度类型下的全部分组
type TypeGroups struct {
	Type   string
	Groups []*Group
}

// Questions 该类型涉及的全部题目
func (t TypeGroups) Questions() []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range t.Groups {
		for _, q := range g.Questions() {
			if !seen[q] {
				seen[q] = true
				out = append(out, q)
			}
		}
	}
	return out
}

// GroupMappings 先按维度类型、再按 (维度值, 层级) 分组。输出按类型、层级、维度值排序。
func GroupMappings(mappings []model.DimensionMapping) []TypeGroups {
	byType := map[string]map[string]*Group{}
	for _, m := range mappings {
		groups, ok := byType[m.DimensionType]
		if !ok {
			groups = map[string]*Group{}
			byType[m.DimensionType] = groups
		}
		key := m.Key()
		g, ok := groups[key]
		if !ok {
			g = &Group{Type: m.DimensionType, Value: m.DimensionValue, Level: m.HierarchyLevel}
			groups[key] = g
		}
		g.Mappings = append(g.Mappings, m)
	}

	out := make([]TypeGroups, 0, len(byType))
	for t, groups := range byType {
		tg := TypeGroups{Type: t}
		for _, g := range groups {
			tg.Groups = append(tg.Groups, g)
		}
		sort.Slice(tg.Groups, func(i, j int) bool {
			a, b := tg.Groups[i], tg.Groups[j]
			if a.Level != b.Level {
				return a.Level < b.Level
			}
			return a.Value < b.Value
		})
		out = append(out, tg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// StudentTotal 学生在某个维度上的加权总分
type StudentTotal struct {
	StudentID  string
	SchoolID   string
	GradeLevel string
	Score      float64
	MaxScore   float64
}

func (t StudentTotal) ScoreRate() float64 {
	if t.MaxScore <= 0 {
		return 0
	}
	return t.Score / t.MaxScore
}

// WeightedTotals 对 weights 中出现的题目按 score×w、max×w 逐学生求和，结果按学号排序。
// weights 为空时所有题目权重为 1。
func WeightedTotals(records []model.ScoreRecord, weights map[string]float64) []StudentTotal {
	index := map[string]*StudentTotal{}
	for _, r := range records {
		w := 1.0
		if weights != nil {
			var ok bool
			if w, ok = weights[r.QuestionID]; !ok {
				continue
			}
		}
		t, ok := index[r.StudentID]
		if !ok {
			t = &StudentTotal{StudentID: r.StudentID, SchoolID: r.SchoolID, GradeLevel: r.GradeLevel}
			index[r.StudentID] = t
		}
		t.Score += r.Score * w
		t.MaxScore += r.MaxScore * w
	}
	out := make([]StudentTotal, 0, len(index))
	for _, t := range index {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// FullMark 维度满分 Σ(w × 题目满分)，题目满分取该题第一条记录
func FullMark(records []model.ScoreRecord, weights map[string]float64) float64 {
	seen := map[string]bool{}
	total := 0.0
	for _, r := range records {
		w, ok := weights[r.QuestionID]
		if !ok || seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true
		total += r.MaxScore * w
	}
	return total
}

// MaxScoreLookup 按批次与科目读取题目配置
type MaxScoreLookup func(batchCode, subjectName string) ([]model.QuestionConfig, error)

// FillMaxScores 明细缺少满分时用所属科目的题目配置补齐，每个科目只读取一次
func FillMaxScores(records []model.ScoreRecord, lookup MaxScoreLookup) error {
	cache := map[[2]string]map[string]float64{}
	for i := range records {
		r := &records[i]
		if r.MaxScore > 0 {
			continue
		}
		key := [2]string{r.BatchCode, r.SubjectName}
		maxes, ok := cache[key]
		if !ok {
			configs, err := lookup(r.BatchCode, r.SubjectName)
			if err != nil {
				return fmt.Errorf("load question configs for %s: %w", r.SubjectName, err)
			}
			maxes = make(map[string]float64, len(configs))
			for _, c := range configs {
				maxes[c.QuestionID] = c.MaxScore
			}
			cache[key] = maxes
		}
		r.MaxScore = maxes[r.QuestionID]
	}
	return nil
}

// dominantGrade 出现次数最多的年级，并列取字典序最小
func dominantGrade(totals []StudentTotal) string {
	counts := map[string]int{}
	for _, t := range totals {
		if t.GradeLevel != "" {
			counts[t.GradeLevel]++
		}
	}
	best, bestN := "", 0
	for g, n := range counts {
		if n > bestN || (n == bestN && g < best) {
			best, bestN = g, n
		}
	}
	return best
}
