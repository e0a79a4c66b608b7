package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Log       LogConfig       `mapstructure:"log"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool   `mapstructure:"-"` // 强制执行数据库迁移
	MigrateOnly  bool   `mapstructure:"-"` // 仅迁移模式（迁移后退出）
	BuildBatch   string `mapstructure:"-"` // 一次性汇总指定批次后退出
	FixturePath  string `mapstructure:"-"` // 从 JSON 文件读取作答数据，不连接数据库
	ImportPath   string `mapstructure:"-"` // 启动时把 JSON 文件导入数据库
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

// StorageConfig 汇总结果归档位置，type 为空时不归档
type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

// LogConfig level 为空时 debug 模式输出 debug，其余输出 info
type LogConfig struct {
	Service    string `mapstructure:"service"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Host     string
	Port     int
	Password string
	DB       int
}

// StatsConfig 统计计算的默认参数，每次策略调用都以此为基础配置
type StatsConfig struct {
	MaxScore         float64      `mapstructure:"max_score"`
	GradeLevel       string       `mapstructure:"grade_level"`
	Percentiles      []float64    `mapstructure:"percentiles"`
	GroupPercentage  float64      `mapstructure:"group_percentage"`
	SchemaVersion    string       `mapstructure:"schema_version"`
	Parallelism      int          `mapstructure:"parallelism"`
	CacheTTLRegional int          `mapstructure:"cache_ttl_regional"` // 秒
	CacheTTLSchool   int          `mapstructure:"cache_ttl_school"`   // 秒
	Quality          QualityRules `mapstructure:"quality"`
}

type QualityRules struct {
	ResponseTimeMin   float64 `mapstructure:"response_time_min"`
	ResponseTimeMax   float64 `mapstructure:"response_time_max"`
	StraightLineMax   int     `mapstructure:"straight_line_max"`
	CompletionRateMin float64 `mapstructure:"completion_rate_min"`
	VarianceThreshold float64 `mapstructure:"variance_threshold"`
}

// DefaultStats 与配置文件缺省时的取值一致
func DefaultStats() StatsConfig {
	return StatsConfig{
		MaxScore:         100,
		GradeLevel:       "1st_grade",
		Percentiles:      []float64{10, 25, 50, 75, 90},
		GroupPercentage:  0.27,
		SchemaVersion:    "v1.2",
		Parallelism:      1,
		CacheTTLRegional: 3600,
		CacheTTLSchool:   1800,
		Quality: QualityRules{
			ResponseTimeMin:   30,
			ResponseTimeMax:   1800,
			StraightLineMax:   10,
			CompletionRateMin: 0.8,
			VarianceThreshold: 0.1,
		},
	}
}

func setDefaults() {
	d := DefaultStats()
	viper.SetDefault("stats.max_score", d.MaxScore)
	viper.SetDefault("stats.grade_level", d.GradeLevel)
	viper.SetDefault("stats.percentiles", d.Percentiles)
	viper.SetDefault("stats.group_percentage", d.GroupPercentage)
	viper.SetDefault("stats.schema_version", d.SchemaVersion)
	viper.SetDefault("stats.parallelism", d.Parallelism)
	viper.SetDefault("stats.cache_ttl_regional", d.CacheTTLRegional)
	viper.SetDefault("stats.cache_ttl_school", d.CacheTTLSchool)
	viper.SetDefault("stats.quality.response_time_min", d.Quality.ResponseTimeMin)
	viper.SetDefault("stats.quality.response_time_max", d.Quality.ResponseTimeMax)
	viper.SetDefault("stats.quality.straight_line_max", d.Quality.StraightLineMax)
	viper.SetDefault("stats.quality.completion_rate_min", d.Quality.CompletionRateMin)
	viper.SetDefault("stats.quality.variance_threshold", d.Quality.VarianceThreshold)

	viper.SetDefault("log.service", "edu-stats-backend")
	viper.SetDefault("log.file", "logs/stats.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age_days", 30)

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.charset", "utf8mb4")
	viper.SetDefault("database.parsetime", true)
	viper.SetDefault("rate_limit.max_requests", 1000)
	viper.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("EDU_STATS")
	viper.AutomaticEnv()
	setDefaults()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Storage / OSS
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	viper.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	viper.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	viper.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// Stats
	viper.BindEnv("stats.parallelism", "STATS_PARALLELISM")
	viper.BindEnv("stats.schema_version", "STATS_SCHEMA_VERSION")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if err := cfg.Stats.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" && cfg.Storage.LocalPath != "" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// Validate 校验统计默认参数，配置错误在任何计算之前返回
func (s StatsConfig) Validate() error {
	if s.MaxScore <= 0 {
		return fmt.Errorf("stats.max_score must be positive, got %v", s.MaxScore)
	}
	if s.GroupPercentage < 0.1 || s.GroupPercentage > 0.5 {
		return fmt.Errorf("stats.group_percentage must be within [0.1, 0.5], got %v", s.GroupPercentage)
	}
	for _, p := range s.Percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("stats.percentiles contains %v outside [0, 100]", p)
		}
	}
	if s.Quality.CompletionRateMin < 0 || s.Quality.CompletionRateMin > 1 {
		return fmt.Errorf("stats.quality.completion_rate_min must be within [0, 1], got %v", s.Quality.CompletionRateMin)
	}
	if s.Quality.StraightLineMax < 2 {
		return fmt.Errorf("stats.quality.straight_line_max must be at least 2, got %d", s.Quality.StraightLineMax)
	}
	return nil
}
