// Package metrics 以 Prometheus 暴露服務指標，並實現 links.Recorder
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace 指標前綴
const Namespace = "redirector"

// Metrics 服務指標
//
// 每個實例使用獨立的 Registry，測試可以建立多個互不干擾。
type Metrics struct {
	registry *prometheus.Registry

	redirectsTotal        *prometheus.CounterVec
	adminOpsTotal         *prometheus.CounterVec
	consistencyViolations *prometheus.CounterVec
	loginAttemptsTotal    *prometheus.CounterVec
	cacheLinks            prometheus.Gauge
	requestDuration       *prometheus.HistogramVec
}

// New 建立並註冊所有指標
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		redirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "redirects_total",
				Help:      "Redirect lookups by result",
			},
			[]string{"result"},
		),

		adminOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "admin_operations_total",
				Help:      "Admin write operations by operation and result",
			},
			[]string{"op", "result"},
		),

		consistencyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "consistency_violations_total",
				Help:      "Durable writes whose affected row count was not exactly one",
			},
			[]string{"op"},
		),

		loginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "login_attempts_total",
				Help:      "Token requests by result",
			},
			[]string{"result"},
		),

		cacheLinks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "cache_links",
				Help:      "Number of links held in the mapping cache",
			},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	registry.MustRegister(
		m.redirectsTotal,
		m.adminOpsTotal,
		m.consistencyViolations,
		m.loginAttemptsTotal,
		m.cacheLinks,
		m.requestDuration,
	)
	return m
}

// ObserveRedirect 實現 links.Recorder
func (m *Metrics) ObserveRedirect(result string) {
	m.redirectsTotal.WithLabelValues(result).Inc()
}

// ObserveAdmin 實現 links.Recorder
func (m *Metrics) ObserveAdmin(op, result string) {
	m.adminOpsTotal.WithLabelValues(op, result).Inc()
}

// ConsistencyViolation 實現 links.Recorder
func (m *Metrics) ConsistencyViolation(op string) {
	m.consistencyViolations.WithLabelValues(op).Inc()
}

// SetCacheSize 實現 links.Recorder
func (m *Metrics) SetCacheSize(n int) {
	m.cacheLinks.Set(float64(n))
}

// ObserveLogin 記錄登入結果
func (m *Metrics) ObserveLogin(result string) {
	m.loginAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRequest 記錄 HTTP 請求延遲
//
// route 必須是路由樣式（例如 "GET /{code}"），不能是原始路徑，否則標籤基數會爆炸。
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底層 Registry（測試用）
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
