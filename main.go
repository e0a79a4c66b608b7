// @title 学业质量监测统计服务 API
// @version 1.0
// @description 按批次汇总考试与问卷作答数据，输出区域与学校报告。
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"edu_stats_backend/internal/app"
	"edu_stats_backend/internal/config"
	"edu_stats_backend/internal/util"
	"edu_stats_backend/pkg/logger"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "configs", "配置文件所在目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	buildBatch := flag.String("build-batch", "", "重新计算指定批次的全部报告后退出")
	fixture := flag.String("fixture", "", "从 JSON 文件读取作答数据，不连接数据库")
	importPath := flag.String("import", "", "启动时把 JSON 文件中的批次数据导入数据库")
	issueToken := flag.String("issue-token", "", "为指定用户签发管理员令牌并退出")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 签发令牌不需要初始化数据库
	if *issueToken != "" {
		token, err := util.GenerateJWT(*issueToken, util.RoleAdmin, cfg.JWT.Secret, cfg.JWT.ExpireTime)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// 设置运行时标志
	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly
	cfg.BuildBatch = *buildBatch
	cfg.FixturePath = *fixture
	cfg.ImportPath = *importPath

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if cfg.MigrateOnly {
		logger.Log.Info("Database migration finished, exiting")
		application.Close(context.Background())
		return
	}

	if cfg.BuildBatch != "" {
		err := application.BuildBatch(context.Background(), cfg.BuildBatch)
		application.Close(context.Background())
		if err != nil {
			logger.Log.Error("Batch build failed", zap.String("batch", cfg.BuildBatch), zap.Error(err))
			os.Exit(1)
		}
		return
	}

	application.Run(*configPath)
}
