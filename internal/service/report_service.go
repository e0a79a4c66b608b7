package service

import (
	"context"
	"edu_stats_backend/internal/config"
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/model"
	"edu_stats_backend/internal/repository"
	"edu_stats_backend/internal/util"
	"edu_stats_backend/pkg/logger"
	"edu_stats_backend/pkg/monitoring"
	"edu_stats_backend/pkg/tracing"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReportStore 汇总结果的持久化
type ReportStore interface {
	Upsert(agg *model.StatisticalAggregation) error
	MarkStatus(batchCode string, level model.AggregationLevel, schoolCode string, status model.CalculationStatus, runID string) error
	Find(batchCode string, level model.AggregationLevel, schoolCode string) (*model.StatisticalAggregation, error)
	List(batchCode string, page, limit int) ([]repository.AggregationListRow, int64, error)
}

// BuildSummary 一次整批计算的结果
type BuildSummary struct {
	RunID         string            `json:"run_id"`
	BatchCode     string            `json:"batch_code"`
	Subjects      int               `json:"subjects"`
	Schools       int               `json:"schools"`
	FailedSchools map[string]string `json:"failed_schools,omitempty"`
	DurationMs    int64             `json:"duration_ms"`
}

// ReportService 报告的读取、计算、缓存与归档。Store、Cache、Storage 均可为 nil。
type ReportService struct {
	Builder *SubjectsBuilder
	Engine  *engine.Engine
	Store   ReportStore
	Cache   *redis.Client
	Storage *StorageService

	mu       sync.RWMutex
	stats    config.StatsConfig
	building sync.Map
}

func NewReportService(
	builder *SubjectsBuilder,
	e *engine.Engine,
	store ReportStore,
	cache *redis.Client,
	storage *StorageService,
	stats config.StatsConfig,
) *ReportService {
	return &ReportService{
		Builder: builder,
		Engine:  e,
		Store:   store,
		Cache:   cache,
		Storage: storage,
		stats:   stats,
	}
}

// UpdateStats 配置热更新
func (s *ReportService) UpdateStats(stats config.StatsConfig) {
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

func (s *ReportService) statsConfig() config.StatsConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func cacheKey(batchCode string, level model.AggregationLevel, schoolCode string) string {
	key := util.CacheKeyPrefix + batchCode + ":" + string(level)
	if schoolCode != "" {
		key += ":" + schoolCode
	}
	return key
}

func (s *ReportService) cacheTTL(level model.AggregationLevel) time.Duration {
	stats := s.statsConfig()
	if level == model.LevelSchool {
		return time.Duration(stats.CacheTTLSchool) * time.Second
	}
	return time.Duration(stats.CacheTTLRegional) * time.Second
}

// Regional 读取区域报告，缓存与库中都没有时现场计算
func (s *ReportService) Regional(ctx context.Context, batchCode string) (*model.Report, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ReportService.Regional")
	defer span.End()
	span.SetAttributes(attribute.String("batch", batchCode))

	if report, ok := s.load(ctx, batchCode, model.LevelRegional, ""); ok {
		return report, nil
	}

	start := time.Now()
	report, _, err := s.Builder.BuildRegional(batchCode)
	monitoring.ObserveBuild(string(model.LevelRegional), start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.save(ctx, report, uuid.NewString(), 0, time.Since(start)); err != nil {
		return nil, err
	}
	return report, nil
}

// School 读取学校报告
func (s *ReportService) School(ctx context.Context, batchCode, schoolCode string) (*model.Report, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ReportService.School")
	defer span.End()
	span.SetAttributes(attribute.String("batch", batchCode), attribute.String("school", schoolCode))

	if report, ok := s.load(ctx, batchCode, model.LevelSchool, schoolCode); ok {
		return report, nil
	}

	start := time.Now()
	report, err := s.Builder.BuildSchool(batchCode, schoolCode, nil)
	monitoring.ObserveBuild(string(model.LevelSchool), start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.save(ctx, report, uuid.NewString(), 0, time.Since(start)); err != nil {
		return nil, err
	}
	return report, nil
}

// Rebuild 重新计算整个批次：先区域，再逐校。单校失败只记录，不中断其他学校。
func (s *ReportService) Rebuild(ctx context.Context, batchCode string) (*BuildSummary, error) {
	if _, loaded := s.building.LoadOrStore(batchCode, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: %s", util.ErrBuildInProgress, batchCode)
	}
	defer s.building.Delete(batchCode)

	ctx, span := tracing.Tracer.Start(ctx, "ReportService.Rebuild")
	defer span.End()

	runID := uuid.NewString()
	span.SetAttributes(attribute.String("batch", batchCode), attribute.String("run_id", runID))
	start := time.Now()

	s.markStatus(batchCode, model.LevelRegional, "", model.StatusProcessing, runID)
	regional, idx, err := s.Builder.BuildRegional(batchCode)
	monitoring.ObserveBuild(string(model.LevelRegional), start, err)
	if err != nil {
		s.markStatus(batchCode, model.LevelRegional, "", model.StatusFailed, runID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.save(ctx, regional, runID, len(idx.Schools), time.Since(start)); err != nil {
		return nil, err
	}

	summary := &BuildSummary{
		RunID:     runID,
		BatchCode: batchCode,
		Subjects:  len(regional.Subjects),
		Schools:   len(idx.Schools),
	}
	failed, err := s.buildSchools(ctx, idx, runID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(failed) > 0 {
		summary.FailedSchools = failed
	}
	summary.DurationMs = time.Since(start).Milliseconds()

	logger.Log.Info("Batch rebuilt",
		zap.String("batch", batchCode),
		zap.String("run_id", runID),
		zap.Int("schools", summary.Schools),
		zap.Int("failed", len(failed)),
		zap.Int64("duration_ms", summary.DurationMs))
	return summary, nil
}

// buildSchools 逐校计算，parallelism > 1 时并发，每个学校使用独立的中间数据
func (s *ReportService) buildSchools(ctx context.Context, idx *RegionalIndex, runID string) (map[string]string, error) {
	parallelism := s.statsConfig().Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	failed := map[string]string{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, school := range idx.Schools {
		code := school.Code
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			report, err := s.Builder.BuildSchool(idx.BatchCode, code, idx)
			monitoring.ObserveBuild(string(model.LevelSchool), start, err)
			if err != nil {
				logger.Log.Warn("School build failed",
					zap.String("batch", idx.BatchCode),
					zap.String("school", code),
					zap.Error(err))
				s.markStatus(idx.BatchCode, model.LevelSchool, code, model.StatusFailed, runID)
				mu.Lock()
				failed[code] = err.Error()
				mu.Unlock()
				return nil
			}
			return s.save(gctx, report, runID, 1, time.Since(start))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return failed, nil
}

// Dimensions 批次维度统计
func (s *ReportService) Dimensions(ctx context.Context, batchCode string, dimensionTypes []string) (engine.Result, error) {
	_, span := tracing.Tracer.Start(ctx, "ReportService.Dimensions")
	defer span.End()
	span.SetAttributes(attribute.String("batch", batchCode), attribute.StringSlice("dimension_types", dimensionTypes))

	cfg := engine.Config{engine.KeyBatchCode: batchCode}
	if len(dimensionTypes) > 0 {
		cfg[engine.KeyDimensionTypes] = dimensionTypes
	}
	res, err := s.Engine.Calculate(engine.DimensionAggregate, engine.Input{}, cfg)
	if err != nil {
		return nil, err
	}
	util.RoundFloats(res)
	return res, nil
}

// QuestionDiscrimination 科目逐题区分度，不缓存
func (s *ReportService) QuestionDiscrimination(ctx context.Context, batchCode, subjectName string) (map[string]any, error) {
	_, span := tracing.Tracer.Start(ctx, "ReportService.QuestionDiscrimination")
	defer span.End()
	span.SetAttributes(attribute.String("batch", batchCode), attribute.String("subject", subjectName))

	out, err := s.Builder.QuestionDiscrimination(batchCode, subjectName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// Aggregations 批次已保存的汇总记录
func (s *ReportService) Aggregations(batchCode string, page, limit int) ([]repository.AggregationListRow, int64, error) {
	if s.Store == nil {
		return []repository.AggregationListRow{}, 0, nil
	}
	return s.Store.List(batchCode, page, limit)
}

// load 依次查缓存与数据库，只有 completed 状态的记录可用
func (s *ReportService) load(ctx context.Context, batchCode string, level model.AggregationLevel, schoolCode string) (*model.Report, bool) {
	key := cacheKey(batchCode, level, schoolCode)
	if s.Cache != nil {
		data, err := s.Cache.Get(ctx, key).Bytes()
		if err == nil {
			var report model.Report
			if err := json.Unmarshal(data, &report); err == nil {
				monitoring.ReportCacheHits.WithLabelValues("cache").Inc()
				return &report, true
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.Log.Warn("Failed to read report cache", zap.String("key", key), zap.Error(err))
		}
	}

	if s.Store == nil {
		return nil, false
	}
	agg, err := s.Store.Find(batchCode, level, schoolCode)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Log.Warn("Failed to load stored report", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if agg.CalculationStatus != model.StatusCompleted || len(agg.StatisticsData) == 0 {
		return nil, false
	}
	var report model.Report
	if err := json.Unmarshal(agg.StatisticsData, &report); err != nil {
		logger.Log.Warn("Stored report is not valid JSON", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	monitoring.ReportCacheHits.WithLabelValues("store").Inc()
	s.setCache(ctx, key, agg.StatisticsData, level)
	return &report, true
}

// save 写库、写缓存、归档。只有写库失败会返回错误。
func (s *ReportService) save(ctx context.Context, report *model.Report, runID string, schools int, elapsed time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	if s.Store != nil {
		err := s.Store.Upsert(&model.StatisticalAggregation{
			BatchCode:         report.BatchCode,
			AggregationLevel:  report.AggregationLevel,
			SchoolCode:        report.SchoolCode,
			SchoolName:        report.SchoolName,
			StatisticsData:    datatypes.JSON(data),
			CalculationStatus: model.StatusCompleted,
			RunID:             runID,
			TotalStudents:     reportStudents(report),
			TotalSchools:      schools,
			CalculationMillis: elapsed.Milliseconds(),
		})
		if err != nil {
			return fmt.Errorf("save %s report: %w", report.AggregationLevel, err)
		}
	}

	s.setCache(ctx, cacheKey(report.BatchCode, report.AggregationLevel, report.SchoolCode), data, report.AggregationLevel)

	if s.Storage != nil {
		if url, err := s.Storage.Archive(ctx, report); err != nil {
			logger.Log.Warn("Failed to archive report", zap.String("batch", report.BatchCode), zap.Error(err))
		} else {
			logger.Log.Debug("Report archived", zap.String("url", url))
		}
	}
	return nil
}

func (s *ReportService) setCache(ctx context.Context, key string, data []byte, level model.AggregationLevel) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Set(ctx, key, data, s.cacheTTL(level)).Err(); err != nil {
		logger.Log.Warn("Failed to write report cache", zap.String("key", key), zap.Error(err))
	}
}

func (s *ReportService) markStatus(batchCode string, level model.AggregationLevel, schoolCode string, status model.CalculationStatus, runID string) {
	if s.Store == nil {
		return
	}
	if err := s.Store.MarkStatus(batchCode, level, schoolCode, status, runID); err != nil {
		logger.Log.Warn("Failed to update calculation status",
			zap.String("batch", batchCode),
			zap.String("level", string(level)),
			zap.String("school", schoolCode),
			zap.Error(err))
	}
}

// reportStudents 报告中各科目参与人数的最大值
func reportStudents(report *model.Report) int {
	n := 0
	for _, sub := range report.Subjects {
		if sub.Metrics.StudentCount > n {
			n = sub.Metrics.StudentCount
		}
	}
	return n
}
