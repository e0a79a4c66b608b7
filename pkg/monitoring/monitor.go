package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	CalculationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_calculations_total",
			Help: "Total number of strategy calculations",
		},
		[]string{"strategy", "status"},
	)

	CalculationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stats_calculation_duration_seconds",
			Help:    "Duration of strategy calculations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"strategy"},
	)

	ReportBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stats_report_build_duration_seconds",
			Help:    "Duration of report builds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"level", "status"},
	)

	ReportCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_report_reads_total",
			Help: "Report reads by source",
		},
		[]string{"source"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(CalculationCounter)
	prometheus.MustRegister(CalculationDuration)
	prometheus.MustRegister(ReportBuildDuration)
	prometheus.MustRegister(ReportCacheHits)
}

// CalculationObserver 把引擎的每次策略调用记录到 prometheus
type CalculationObserver struct{}

func (CalculationObserver) ObserveCalculation(strategy string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	CalculationCounter.WithLabelValues(strategy, status).Inc()
	CalculationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveBuild 记录一次报告构建
func ObserveBuild(level string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	ReportBuildDuration.WithLabelValues(level, status).Observe(time.Since(start).Seconds())
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
