package survey

import (
	"edu_stats_backend/internal/model"
	"edu_stats_backend/pkg/logger"
	"sort"

	"go.uber.org/zap"
)

// LabelQuery 某科目的问卷作答明细
type LabelQuery struct {
	BatchCode   string
	SubjectName string
	Rows        []model.OptionResponse
}

// LabelSource 选项等级到标签的一种来源，无结果时返回空映射
type LabelSource interface {
	Name() string
	Labels(q LabelQuery) (map[int]string, error)
}

// DictionaryLabels 取出现最多的 instrument_type/scale_level 组合，从量表字典读取标签
type DictionaryLabels struct {
	Lookup func(instrumentType string, scaleLevel int) ([]model.ScaleOption, error)
}

func (DictionaryLabels) Name() string { return "dictionary" }

func (d DictionaryLabels) Labels(q LabelQuery) (map[int]string, error) {
	if d.Lookup == nil {
		return nil, nil
	}
	type instrument struct {
		kind  string
		level int
	}
	counts := map[instrument]int{}
	for _, r := range q.Rows {
		if r.InstrumentType == "" || r.ScaleLevel <= 0 {
			continue
		}
		counts[instrument{r.InstrumentType, r.ScaleLevel}]++
	}
	if len(counts) == 0 {
		return nil, nil
	}
	candidates := make([]instrument, 0, len(counts))
	for k := range counts {
		candidates = append(candidates, k)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.level < b.level
	})
	best := candidates[0]

	opts, err := d.Lookup(best.kind, best.level)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(opts))
	for _, o := range opts {
		out[o.OptionLevel] = o.OptionLabel
	}
	return out, nil
}

// InferredLabels 按作答明细推断每个等级最常见的标签
type InferredLabels struct{}

func (InferredLabels) Name() string { return "inferred" }

func (InferredLabels) Labels(q LabelQuery) (map[int]string, error) {
	counts := map[int]map[string]int{}
	for _, r := range q.Rows {
		if r.OptionLabel == "" {
			continue
		}
		if counts[r.OptionLevel] == nil {
			counts[r.OptionLevel] = map[string]int{}
		}
		counts[r.OptionLevel][r.OptionLabel]++
	}
	out := make(map[int]string, len(counts))
	for lvl, labels := range counts {
		best, bestN := "", 0
		for label, n := range labels {
			if n > bestN || (n == bestN && label < best) {
				best, bestN = label, n
			}
		}
		out[lvl] = best
	}
	return out, nil
}

// genericLabels 按等级数给出的通用满意度标签
var genericLabels = map[int][]string{
	3: {"不满意", "一般", "满意"},
	4: {"不满意", "一般", "满意", "非常满意"},
	5: {"非常不满意", "不满意", "一般", "满意", "非常满意"},
	7: {"非常不满意", "不满意", "较不满意", "一般", "较满意", "满意", "非常满意"},
}

// GenericLabels 等级连续且数量匹配时从最小等级起编号，否则按 1..n 编号
type GenericLabels struct{}

func (GenericLabels) Name() string { return "generic" }

func (GenericLabels) Labels(q LabelQuery) (map[int]string, error) {
	levels := map[int]bool{}
	for _, r := range q.Rows {
		levels[r.OptionLevel] = true
	}
	base, ok := genericLabels[len(levels)]
	if !ok {
		return nil, nil
	}
	minLevel, maxLevel := 0, 0
	first := true
	for lvl := range levels {
		if first || lvl < minLevel {
			minLevel = lvl
		}
		if first || lvl > maxLevel {
			maxLevel = lvl
		}
		first = false
	}
	start := 1
	if maxLevel-minLevel+1 == len(base) {
		start = minLevel
	}
	out := make(map[int]string, len(base))
	for i, label := range base {
		out[start+i] = label
	}
	return out, nil
}

// LabelResolver 依次尝试各来源，取第一个非空结果
type LabelResolver struct {
	Sources []LabelSource
}

func NewLabelResolver(sources ...LabelSource) *LabelResolver {
	return &LabelResolver{Sources: sources}
}

func (r *LabelResolver) Resolve(q LabelQuery) map[int]string {
	for _, src := range r.Sources {
		labels, err := src.Labels(q)
		if err != nil {
			logger.Log.Warn("Failed to resolve option labels",
				zap.String("source", src.Name()),
				zap.String("batch", q.BatchCode),
				zap.String("subject", q.SubjectName),
				zap.Error(err))
			continue
		}
		if len(labels) > 0 {
			return labels
		}
	}
	return map[int]string{}
}
