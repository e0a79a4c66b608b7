package controller

import (
	"edu_stats_backend/internal/config"
	"edu_stats_backend/internal/middleware"
	"edu_stats_backend/internal/model"
	"edu_stats_backend/internal/repository"
	"edu_stats_backend/internal/service"
	"edu_stats_backend/internal/util"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func testSource() *repository.MemorySource {
	f := &repository.Fixture{
		QuestionConfigs: []model.QuestionConfig{
			{BatchCode: "B1", SubjectName: "数学", QuestionID: "q1", MaxScore: 50},
			{BatchCode: "B1", SubjectName: "数学", QuestionID: "q2", MaxScore: 50},
		},
		DimensionMappings: []model.DimensionMapping{
			{BatchCode: "B1", SubjectName: "数学", QuestionID: "q1", DimensionType: "knowledge", DimensionValue: "algebra", HierarchyLevel: 1},
			{BatchCode: "B1", SubjectName: "数学", QuestionID: "q2", DimensionType: "knowledge", DimensionValue: "geometry", HierarchyLevel: 1},
		},
	}
	rows := []struct {
		student, school string
		q1, q2          float64
	}{
		{"a1", "S1", 45, 45}, {"a2", "S1", 50, 40},
		{"b1", "S2", 40, 50}, {"b2", "S2", 45, 45},
		{"c1", "S3", 40, 40}, {"c2", "S3", 40, 40},
	}
	for _, r := range rows {
		for q, score := range map[string]float64{"q1": r.q1, "q2": r.q2} {
			f.Records = append(f.Records, model.ScoreRecord{
				BatchCode: "B1", SubjectName: "数学", SubjectType: model.SubjectExam,
				StudentID: r.student, QuestionID: q, Score: score, MaxScore: 50,
				SchoolID: r.school, SchoolName: r.school + "学校", GradeLevel: "4th_grade",
			})
		}
	}
	return repository.NewMemorySource(f)
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	source := testSource()
	e, err := service.NewCalculationEngine(config.DefaultStats(), source)
	require.NoError(t, err)
	builder := service.NewSubjectsBuilder(e, source, "v1.2")
	reports := NewReportController(service.NewReportService(builder, e, nil, nil, nil, config.DefaultStats()))
	strategies := NewStrategyController(e)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/strategies", strategies.ListStrategies)
	v1.GET("/engine/stats", strategies.GetStats)
	v1.GET("/batches/:batch/regional", reports.GetRegional)
	v1.GET("/batches/:batch/schools/:school", reports.GetSchool)
	v1.GET("/batches/:batch/dimensions", reports.GetDimensions)
	v1.GET("/batches/:batch/aggregations", reports.ListAggregations)
	v1.GET("/batches/:batch/subjects/:subject/discrimination", reports.GetQuestionDiscrimination)
	v1.POST("/batches/:batch/rebuild", middleware.AuthMiddleware(testSecret), middleware.RoleMiddleware(util.RoleAdmin), reports.Rebuild)
	router.GET("/api/health", NewHealthController(nil, nil).HealthCheck)
	return router
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func perform(t *testing.T, router *gin.Engine, method, path, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestGetRegional(t *testing.T) {
	router := setupRouter(t)

	w, body := perform(t, router, http.MethodGet, "/api/v1/batches/B1/regional", "")
	require.Equal(t, http.StatusOK, w.Code)

	var report model.Report
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, model.LevelRegional, report.AggregationLevel)
	require.Len(t, report.Subjects, 1)
	assert.Equal(t, 86.67, report.Subjects[0].Metrics.Avg)
	assert.Len(t, report.Subjects[0].SchoolRankings, 3)

	w, _ = perform(t, router, http.MethodGet, "/api/v1/batches/NOPE/regional", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSchool(t *testing.T) {
	router := setupRouter(t)

	w, body := perform(t, router, http.MethodGet, "/api/v1/batches/B1/schools/S3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report model.Report
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, "S3", report.SchoolCode)
	require.NotNil(t, report.Subjects[0].RegionRank)
	assert.Equal(t, 2, *report.Subjects[0].RegionRank)

	w, _ = perform(t, router, http.MethodGet, "/api/v1/batches/B1/schools/S9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRebuildRequiresAdmin(t *testing.T) {
	router := setupRouter(t)

	w, _ := perform(t, router, http.MethodPost, "/api/v1/batches/B1/rebuild", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	viewer, err := util.GenerateJWT("u1", util.RoleViewer, testSecret, time.Hour)
	require.NoError(t, err)
	w, _ = perform(t, router, http.MethodPost, "/api/v1/batches/B1/rebuild", viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	forged, err := util.GenerateJWT("u1", util.RoleAdmin, "other-secret", time.Hour)
	require.NoError(t, err)
	w, _ = perform(t, router, http.MethodPost, "/api/v1/batches/B1/rebuild", forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin, err := util.GenerateJWT("u1", util.RoleAdmin, testSecret, time.Hour)
	require.NoError(t, err)
	w, body := perform(t, router, http.MethodPost, "/api/v1/batches/B1/rebuild", admin)
	require.Equal(t, http.StatusOK, w.Code)

	var summary service.BuildSummary
	require.NoError(t, json.Unmarshal(body.Data, &summary))
	assert.Equal(t, "B1", summary.BatchCode)
	assert.Equal(t, 3, summary.Schools)
	assert.Equal(t, 1, summary.Subjects)
	assert.Empty(t, summary.FailedSchools)
	assert.NotEmpty(t, summary.RunID)
}

func TestGetDimensions(t *testing.T) {
	router := setupRouter(t)

	w, body := perform(t, router, http.MethodGet, "/api/v1/batches/B1/dimensions?types=knowledge", "")
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		BatchCode  string         `json:"batch_code"`
		Statistics map[string]any `json:"dimension_statistics"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "B1", data.BatchCode)
	assert.Contains(t, data.Statistics, "knowledge")

	w, _ = perform(t, router, http.MethodGet, "/api/v1/batches/NOPE/dimensions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetQuestionDiscrimination(t *testing.T) {
	router := setupRouter(t)

	w, body := perform(t, router, http.MethodGet, "/api/v1/batches/B1/subjects/"+url.PathEscape("数学")+"/discrimination", "")
	require.Equal(t, http.StatusOK, w.Code)
	var data map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Contains(t, data, "q1")
	assert.Contains(t, data, "q2")
	assert.Contains(t, data, "_summary")

	w, _ = perform(t, router, http.MethodGet, "/api/v1/batches/B1/subjects/"+url.PathEscape("英语")+"/discrimination", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAggregationsWithoutStore(t *testing.T) {
	router := setupRouter(t)

	w, body := perform(t, router, http.MethodGet, "/api/v1/batches/B1/aggregations?page=0&limit=500", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page util.PageResponse
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, int64(0), page.Total)
}

func TestStrategiesAndStats(t *testing.T) {
	router := setupRouter(t)

	w, body := perform(t, router, http.MethodGet, "/api/v1/strategies", "")
	require.Equal(t, http.StatusOK, w.Code)
	var strategies []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &strategies))
	assert.Len(t, strategies, 9)

	perform(t, router, http.MethodGet, "/api/v1/batches/B1/regional", "")
	w, body = perform(t, router, http.MethodGet, "/api/v1/engine/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Operations []map[string]any `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.NotEmpty(t, stats.Operations)
}

func TestHealthCheckOffline(t *testing.T) {
	router := setupRouter(t)

	w, body := perform(t, router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), `"database":"disabled"`)
}
