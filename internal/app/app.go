package app

import (
	"context"
	"edu_stats_backend/internal/config"
	"edu_stats_backend/internal/controller"
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/repository"
	"edu_stats_backend/internal/service"
	"edu_stats_backend/pkg/configwatcher"
	"edu_stats_backend/pkg/database"
	"edu_stats_backend/pkg/logger"
	"edu_stats_backend/pkg/monitoring"
	"edu_stats_backend/pkg/security"
	"edu_stats_backend/pkg/tracing"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	source      service.RecordSource
	aggregation service.ReportStore
}

type services struct {
	engine  *engine.Engine
	builder *service.SubjectsBuilder
	storage *service.StorageService
	report  *service.ReportService
}

type controllers struct {
	report   *controller.ReportController
	strategy *controller.StrategyController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// reloadConfig 只有统计参数支持热更新，其余配置需要重启
func (a *App) reloadConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

// initRepositories 指定 fixture 时只在内存中读取作答数据，汇总结果不落库
func (a *App) initRepositories(db *gorm.DB, cfg *config.Config) (*repositories, error) {
	if cfg.FixturePath != "" {
		f, err := repository.LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		logger.Log.Info("Running on fixture data",
			zap.String("path", cfg.FixturePath),
			zap.Int("records", len(f.Records)))
		return &repositories{source: repository.NewMemorySource(f)}, nil
	}

	scores := repository.NewScoreRepository(db)
	if cfg.ImportPath != "" {
		f, err := repository.LoadFixture(cfg.ImportPath)
		if err != nil {
			return nil, err
		}
		if err := scores.Import(f); err != nil {
			return nil, err
		}
		logger.Log.Info("Fixture imported",
			zap.String("path", cfg.ImportPath),
			zap.Int("records", len(f.Records)))
	}
	return &repositories{
		source:      scores,
		aggregation: repository.NewAggregationRepository(db),
	}, nil
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) (*services, error) {
	e, err := service.NewCalculationEngine(cfg.Stats, repos.source, engine.WithObserver(monitoring.CalculationObserver{}))
	if err != nil {
		return nil, err
	}

	s := &services{engine: e}
	s.builder = service.NewSubjectsBuilder(e, repos.source, cfg.Stats.SchemaVersion)
	s.storage = service.NewStorageService(&cfg.Storage)
	s.report = service.NewReportService(s.builder, e, repos.aggregation, rdb, s.storage, cfg.Stats)

	a.RegisterConfigCallback(func(c *config.Config) {
		e.SetDefaults(engine.FromStats(c.Stats))
		s.report.UpdateStats(c.Stats)
	})
	return s, nil
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		report:   controller.NewReportController(s.report),
		strategy: controller.NewStrategyController(s.engine),
		health:   controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	app := &App{Config: cfg}

	if cfg.FixturePath == "" {
		db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
		if err != nil {
			logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		}
		if cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode {
			if err := database.Migrate(db); err != nil {
				logger.Log.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		app.DB = db
	}
	if cfg.MigrateOnly {
		return app
	}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			// 没有缓存也能计算
			logger.Log.Warn("Redis unavailable, report cache disabled", zap.Error(err))
		} else {
			app.Redis = rdb
		}
	}

	repos, err := app.initRepositories(app.DB, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize repositories", zap.Error(err))
	}
	services, err := app.initServices(repos, cfg, app.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize calculation engine", zap.Error(err))
	}
	app.services = services
	controllers := app.initControllers(services, app.DB, app.Redis)

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("edu-stats-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Server.Mode != gin.ReleaseMode {
		router.Use(gin.Logger())
	}
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app
}

// BuildBatch 一次性重算批次并退出，供定时任务调用
func (a *App) BuildBatch(ctx context.Context, batchCode string) error {
	summary, err := a.services.report.Rebuild(ctx, batchCode)
	if err != nil {
		return err
	}
	logger.Log.Info("Batch build finished",
		zap.String("batch", summary.BatchCode),
		zap.String("run_id", summary.RunID),
		zap.Int("subjects", summary.Subjects),
		zap.Int("schools", summary.Schools),
		zap.Any("failed_schools", summary.FailedSchools),
		zap.Int64("duration_ms", summary.DurationMs))
	if len(summary.FailedSchools) > 0 {
		return errors.New("some school reports failed, see logs")
	}
	return nil
}

func (a *App) Run(configPath string) {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		path := filepath.Join(configPath, "config.yaml")
		if err := configwatcher.WatchConfig(ctx, path, a.reloadConfig); err != nil {
			logger.Log.Warn("Config hot reload disabled", zap.String("path", path), zap.Error(err))
		}
	}()

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	<-ctx.Done()
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	a.Close(shutdownCtx)

	logger.Log.Info("Server exiting")
}

// Close 释放追踪、缓存与数据库连接
func (a *App) Close(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = logger.Log.Sync()
}
