package formula

import (
	"math"
	"sort"
	"strconv"
)

// Summary 基础描述统计
type Summary struct {
	Count    int     `json:"count"`
	Sum      float64 `json:"sum"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Std      float64 `json:"std"`
	Variance float64 `json:"variance"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Range    float64 `json:"range"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
	Mode     float64 `json:"mode"`
}

// Summarize 计算描述统计。标准差为样本标准差，n=1 时为 0；
// 偏度、峰度为无偏修正值，样本不足时为 0。
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}
	sorted := sortedCopy(values)
	s := Summary{
		Count:  n,
		Sum:    sum(values),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: medianSorted(sorted),
		Mode:   modeSorted(sorted),
	}
	s.Mean = s.Sum / float64(n)
	s.Range = s.Max - s.Min
	s.Variance = SampleVariance(values)
	s.Std = math.Sqrt(s.Variance)
	s.Skewness = skewness(values, s.Mean)
	s.Kurtosis = kurtosis(values, s.Mean)
	return s
}

func (s Summary) toMap() map[string]any {
	return map[string]any{
		"count":    s.Count,
		"sum":      s.Sum,
		"mean":     s.Mean,
		"median":   s.Median,
		"std":      s.Std,
		"variance": s.Variance,
		"min":      s.Min,
		"max":      s.Max,
		"range":    s.Range,
		"skewness": s.Skewness,
		"kurtosis": s.Kurtosis,
		"mode":     s.Mode,
	}
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// SampleVariance ddof=1
func SampleVariance(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return ss / float64(n-1)
}

func SampleStd(values []float64) float64 {
	return math.Sqrt(SampleVariance(values))
}

func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return medianSorted(sortedCopy(values))
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// modeSorted 多众数时取最小值
func modeSorted(sorted []float64) float64 {
	best, bestCount := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestCount {
			best, bestCount = sorted[i], j-i
		}
		i = j
	}
	return best
}

func centralMoments(values []float64, mean float64) (m2, m3, m4 float64) {
	for _, v := range values {
		d := v - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	return
}

// skewness 调整后的 Fisher-Pearson 系数
func skewness(values []float64, mean float64) float64 {
	n := float64(len(values))
	if n < 3 {
		return 0
	}
	m2, m3, _ := centralMoments(values, mean)
	m2 /= n
	m3 /= n
	if m2 == 0 {
		return 0
	}
	g1 := m3 / math.Pow(m2, 1.5)
	return math.Sqrt(n*(n-1)) / (n - 2) * g1
}

// kurtosis 超额峰度，无偏修正
func kurtosis(values []float64, mean float64) float64 {
	n := float64(len(values))
	if n < 4 {
		return 0
	}
	m2, _, m4 := centralMoments(values, mean)
	if m2 == 0 {
		return 0
	}
	num := n * (n + 1) * (n - 1) * m4
	den := (n - 2) * (n - 3) * m2 * m2
	adj := 3 * (n - 1) * (n - 1) / ((n - 2) * (n - 3))
	return num/den - adj
}

// FloorPercentile 教育统计惯例的下取整百分位：
// 升序后取下标 floor(n*p/100)，并夹在 [0, n-1]，不做插值。
func FloorPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p / 100))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// PercentileKey 百分位输出键，如 P10、P2.5
func PercentileKey(p float64) string {
	return "P" + strconv.FormatFloat(p, 'f', -1, 64)
}

// Pearson 相关系数，样本不足或方差为 0 时返回 NaN
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n < 2 {
		return math.NaN()
	}
	mx, my := Mean(x), Mean(y)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}
