package engine

import (
	"edu_stats_backend/pkg/logger"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine 策略注册表与统一调度入口。进程启动时构造一次，显式传递给调用方。
type Engine struct {
	strategies map[Name]Strategy
	counter    *PerformanceCounter
	observer   Observer

	mu       sync.RWMutex
	defaults Config
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithDefaults 设置基础配置，每次调用的配置覆盖其上
func WithDefaults(cfg Config) Option {
	return func(e *Engine) { e.defaults = cfg }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		strategies: make(map[Name]Strategy),
		counter:    NewPerformanceCounter(),
		defaults:   Config{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register 只接受受支持集合中的策略名，重复注册返回错误
func (e *Engine) Register(s Strategy) error {
	name := s.Name()
	if !name.Known() {
		return fmt.Errorf("%w: %s", ErrUnsupportedStrategy, name)
	}
	if _, ok := e.strategies[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, name)
	}
	e.strategies[name] = s
	return nil
}

func (e *Engine) Has(name Name) bool {
	_, ok := e.strategies[name]
	return ok
}

func (e *Engine) lookup(name Name) (Strategy, error) {
	s, ok := e.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return s, nil
}

// SetDefaults 配置热更新时替换基础配置
func (e *Engine) SetDefaults(cfg Config) {
	e.mu.Lock()
	e.defaults = cfg
	e.mu.Unlock()
}

func (e *Engine) Defaults() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaults.Merge(nil)
}

// Validate 只做校验不计算
func (e *Engine) Validate(name Name, in Input, cfg Config) (Validation, error) {
	s, err := e.lookup(name)
	if err != nil {
		return Validation{}, err
	}
	return s.Validate(in, e.Defaults().Merge(cfg)), nil
}

// Calculate 查找策略、校验输入、执行计算并附加 _meta
func (e *Engine) Calculate(name Name, in Input, cfg Config) (Result, error) {
	start := time.Now()
	result, err := e.calculate(name, in, cfg)
	d := time.Since(start)

	e.counter.Record(name, d, err)
	if e.observer != nil {
		e.observer.ObserveCalculation(string(name), d, err)
	}
	if err != nil {
		logger.Log.Debug("calculation failed",
			zap.String("strategy", string(name)),
			zap.Int("data_size", in.Size()),
			zap.Error(err))
	}
	return result, err
}

func (e *Engine) calculate(name Name, in Input, cfg Config) (Result, error) {
	s, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	merged := e.Defaults().Merge(cfg)

	v := s.Validate(in, merged)
	if len(v.ConfigErrors) > 0 {
		return nil, &ConfigError{Strategy: name, Errors: v.ConfigErrors}
	}
	if !v.IsValid {
		return nil, &ValidationError{Strategy: name, Errors: v.Errors}
	}
	for _, w := range v.Warnings {
		logger.Log.Warn("data quality warning", zap.String("strategy", string(name)), zap.String("warning", w))
	}

	result, err := s.Calculate(in, merged)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if result == nil {
		result = Result{}
	}
	result[MetaKey] = Meta{
		DataSize:      in.Size(),
		AlgorithmInfo: s.Describe(),
		Warnings:      v.Warnings,
	}
	return result, nil
}

type StrategyInfo struct {
	Name          Name          `json:"name"`
	AlgorithmInfo AlgorithmInfo `json:"algorithm_info"`
}

func (e *Engine) Strategies() []StrategyInfo {
	out := make([]StrategyInfo, 0, len(e.strategies))
	for name, s := range e.strategies {
		out = append(out, StrategyInfo{Name: name, AlgorithmInfo: s.Describe()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) Stats() []OperationSnapshot {
	return e.counter.Snapshot()
}
