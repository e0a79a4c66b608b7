package controller

import (
	"edu_stats_backend/internal/dimension"
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/service"
	"edu_stats_backend/internal/util"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type ReportController struct {
	ReportService *service.ReportService
}

func NewReportController(reportService *service.ReportService) *ReportController {
	return &ReportController{ReportService: reportService}
}

// @Summary 区域汇总报告
// @Description 优先读取缓存与已保存结果，均不存在时现场计算
// @Tags 统计报告
// @Produce json
// @Param batch path string true "批次代码"
// @Success 200 {object} util.Response
// @Router /api/v1/batches/{batch}/regional [get]
func (c *ReportController) GetRegional(ctx *gin.Context) {
	report, err := c.ReportService.Regional(ctx.Request.Context(), ctx.Param("batch"))
	if err != nil {
		handleReportError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// @Summary 学校汇总报告
// @Tags 统计报告
// @Produce json
// @Param batch path string true "批次代码"
// @Param school path string true "学校代码"
// @Success 200 {object} util.Response
// @Router /api/v1/batches/{batch}/schools/{school} [get]
func (c *ReportController) GetSchool(ctx *gin.Context) {
	report, err := c.ReportService.School(ctx.Request.Context(), ctx.Param("batch"), ctx.Param("school"))
	if err != nil {
		handleReportError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// @Summary 重新计算批次
// @Description 计算区域报告与全部学校报告并覆盖缓存
// @Tags 统计报告
// @Produce json
// @Security BearerAuth
// @Param batch path string true "批次代码"
// @Success 200 {object} util.Response
// @Router /api/v1/batches/{batch}/rebuild [post]
func (c *ReportController) Rebuild(ctx *gin.Context) {
	summary, err := c.ReportService.Rebuild(ctx.Request.Context(), ctx.Param("batch"))
	if err != nil {
		handleReportError(ctx, err)
		return
	}
	util.Success(ctx, summary)
}

// @Summary 批次维度统计
// @Tags 统计报告
// @Produce json
// @Param batch path string true "批次代码"
// @Param types query string false "维度类型，逗号分隔"
// @Success 200 {object} util.Response
// @Router /api/v1/batches/{batch}/dimensions [get]
func (c *ReportController) GetDimensions(ctx *gin.Context) {
	types := util.SplitList(ctx.Query("types"))
	res, err := c.ReportService.Dimensions(ctx.Request.Context(), ctx.Param("batch"), types)
	if err != nil {
		handleReportError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary 科目逐题区分度
// @Tags 统计报告
// @Produce json
// @Param batch path string true "批次代码"
// @Param subject path string true "科目名称"
// @Success 200 {object} util.Response
// @Router /api/v1/batches/{batch}/subjects/{subject}/discrimination [get]
func (c *ReportController) GetQuestionDiscrimination(ctx *gin.Context) {
	res, err := c.ReportService.QuestionDiscrimination(ctx.Request.Context(), ctx.Param("batch"), ctx.Param("subject"))
	if err != nil {
		handleReportError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary 已保存的汇总记录
// @Tags 统计报告
// @Produce json
// @Param batch path string true "批次代码"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response
// @Router /api/v1/batches/{batch}/aggregations [get]
func (c *ReportController) ListAggregations(ctx *gin.Context) {
	page := util.QueryInt(ctx.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := util.QueryInt(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, total, err := c.ReportService.Aggregations(ctx.Param("batch"), page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{
		List:  rows,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func handleReportError(ctx *gin.Context, err error) {
	var cfgErr *engine.ConfigError
	var valErr *engine.ValidationError
	switch {
	case errors.Is(err, util.ErrBatchNotFound), errors.Is(err, util.ErrSchoolNotFound), errors.Is(err, util.ErrSubjectNotFound):
		util.Error(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, dimension.ErrNoMappings), errors.Is(err, dimension.ErrNoScores):
		util.Error(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, util.ErrBuildInProgress):
		util.Error(ctx, http.StatusConflict, err.Error())
	case errors.As(err, &cfgErr), errors.As(err, &valErr):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
