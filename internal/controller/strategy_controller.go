package controller

import (
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type StrategyController struct {
	Engine *engine.Engine
}

func NewStrategyController(e *engine.Engine) *StrategyController {
	return &StrategyController{Engine: e}
}

// @Summary 已注册的计算策略
// @Tags 计算引擎
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/v1/strategies [get]
func (c *StrategyController) ListStrategies(ctx *gin.Context) {
	util.Success(ctx, c.Engine.Strategies())
}

// @Summary 各策略的调用次数与耗时
// @Tags 计算引擎
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/v1/engine/stats [get]
func (c *StrategyController) GetStats(ctx *gin.Context) {
	util.Success(ctx, gin.H{
		"operations": c.Engine.Stats(),
		"defaults":   c.Engine.Defaults(),
	})
}
