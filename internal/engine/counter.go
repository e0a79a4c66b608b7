package engine

import (
	"sort"
	"sync"
	"time"
)

// Observer 计算完成回调，用于对接监控
type Observer interface {
	ObserveCalculation(strategy string, duration time.Duration, err error)
}

type operationStats struct {
	count     int64
	successes int64
	failures  int64
	total     time.Duration
}

// OperationSnapshot 单个策略的调用统计
type OperationSnapshot struct {
	Strategy     Name    `json:"strategy"`
	Count        int64   `json:"count"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// PerformanceCounter 仅用于观测，不影响计算结果
type PerformanceCounter struct {
	mu  sync.Mutex
	ops map[Name]*operationStats
}

func NewPerformanceCounter() *PerformanceCounter {
	return &PerformanceCounter{ops: make(map[Name]*operationStats)}
}

func (p *PerformanceCounter) Record(name Name, d time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.ops[name]
	if !ok {
		s = &operationStats{}
		p.ops[name] = s
	}
	s.count++
	s.total += d
	if err != nil {
		s.failures++
	} else {
		s.successes++
	}
}

func (p *PerformanceCounter) Snapshot() []OperationSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OperationSnapshot, 0, len(p.ops))
	for name, s := range p.ops {
		snap := OperationSnapshot{
			Strategy:  name,
			Count:     s.count,
			Successes: s.successes,
			Failures:  s.failures,
		}
		if s.count > 0 {
			snap.SuccessRate = float64(s.successes) / float64(s.count)
			snap.AvgLatencyMs = float64(s.total.Microseconds()) / 1000 / float64(s.count)
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

func (p *PerformanceCounter) Reset() {
	p.mu.Lock()
	p.ops = make(map[Name]*operationStats)
	p.mu.Unlock()
}
