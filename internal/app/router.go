package app

import (
	"edu_stats_backend/internal/config"
	"edu_stats_backend/internal/middleware"
	"edu_stats_backend/internal/util"
	"edu_stats_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		// 2. 计算引擎
		v1.GET("/strategies", c.strategy.ListStrategies)
		v1.GET("/engine/stats", c.strategy.GetStats)

		// 3. 报告读取
		batches := v1.Group("/batches/:batch")
		batches.GET("/regional", c.report.GetRegional)
		batches.GET("/schools/:school", c.report.GetSchool)
		batches.GET("/dimensions", c.report.GetDimensions)
		batches.GET("/aggregations", c.report.ListAggregations)
		batches.GET("/subjects/:subject/discrimination", c.report.GetQuestionDiscrimination)

		// 4. 重算仅限管理员
		admin := batches.Group("")
		admin.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RoleMiddleware(util.RoleAdmin))
		{
			admin.POST("/rebuild", c.report.Rebuild)
		}
	}
}
