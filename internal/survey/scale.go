package survey

import (
	"fmt"
	"sort"
)

// ScaleTable 选项等级映射
type ScaleTable map[int]int

// ScaleConfig 正向与反向映射表，默认 5 点量表
type ScaleConfig struct {
	Forward ScaleTable     `json:"forward"`
	Reverse ScaleTable     `json:"reverse"`
	Labels  map[int]string `json:"labels,omitempty"`
}

// ForwardTable 恒等映射 1..width
func ForwardTable(width int) ScaleTable {
	t := make(ScaleTable, width)
	for i := 1; i <= width; i++ {
		t[i] = i
	}
	return t
}

// ReverseTable level -> width+1-level
func ReverseTable(width int) ScaleTable {
	t := make(ScaleTable, width)
	for i := 1; i <= width; i++ {
		t[i] = width + 1 - i
	}
	return t
}

func NewScaleConfig(width int) ScaleConfig {
	cfg := ScaleConfig{Forward: ForwardTable(width), Reverse: ReverseTable(width)}
	if width == len(LikertLabels) {
		cfg.Labels = LikertLabels
	}
	return cfg
}

var DefaultScale = NewScaleConfig(5)

// Apply 未定义的等级返回 false
func (t ScaleTable) Apply(level int) (int, bool) {
	v, ok := t[level]
	return v, ok
}

func (t ScaleTable) Levels() []int {
	out := make([]int, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// LikertLabels 5 点同意度量表
var LikertLabels = map[int]string{
	1: "完全不同意",
	2: "不同意",
	3: "中性",
	4: "同意",
	5: "完全同意",
}

// Dimension 问卷维度配置
type Dimension struct {
	Code             string             `json:"code"`
	Name             string             `json:"name"`
	ForwardQuestions []string           `json:"forward_questions"`
	ReverseQuestions []string           `json:"reverse_questions"`
	Weight           float64            `json:"weight"`
	QuestionWeights  map[string]float64 `json:"question_weights,omitempty"`
}

func (d Dimension) Questions() []string {
	out := make([]string, 0, len(d.ForwardQuestions)+len(d.ReverseQuestions))
	out = append(out, d.ForwardQuestions...)
	return append(out, d.ReverseQuestions...)
}

func (d Dimension) EffectiveWeight() float64 {
	if d.Weight <= 0 {
		return 1.0
	}
	return d.Weight
}

func (d Dimension) questionWeight(q string) float64 {
	if w, ok := d.QuestionWeights[q]; ok && w > 0 {
		return w
	}
	return 1.0
}

func (d Dimension) label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Code
}

// Direction 题目方向
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// directions 汇总全部维度的题目方向，同一题目方向冲突时报错
func directions(dims []Dimension) (map[string]Direction, error) {
	out := make(map[string]Direction)
	set := func(q string, d Direction) error {
		if prev, ok := out[q]; ok && prev != d {
			return fmt.Errorf("question %s is configured as both forward and reverse", q)
		}
		out[q] = d
		return nil
	}
	for _, dim := range dims {
		for _, q := range dim.ForwardQuestions {
			if err := set(q, Forward); err != nil {
				return nil, err
			}
		}
		for _, q := range dim.ReverseQuestions {
			if err := set(q, Reverse); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
