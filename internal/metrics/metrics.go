// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// resource.MutationRecorder、middleware.AuthFailureRecorder、
// middleware.RateLimitRecorderを満たす。
type Collector struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	mutations      *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planboard_http_requests_total",
			Help: "ルート・メソッド・ステータス別のHTTPリクエスト数",
		}, []string{"route", "method", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planboard_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planboard_record_mutations_total",
			Help: "リソース種別・操作別の変更成功数",
		}, []string{"resource", "operation"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planboard_auth_failures_total",
			Help: "理由別の認証失敗数",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planboard_rate_limited_total",
			Help: "種別ごとのレート制限による拒否数",
		}, []string{"limit_type"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planboard_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.latency,
		c.mutations,
		c.authFailures,
		c.rateLimited,
		c.sessionsPurged,
	)

	return c
}

// RecordRequest はHTTPリクエストの結果と処理時間を記録する。
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordMutation はリソースの変更成功を記録する。
func (c *Collector) RecordMutation(resource, operation string) {
	c.mutations.WithLabelValues(resource, operation).Inc()
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Middleware はリクエスト数と処理時間を記録するミドルウェアを返す。
// ラベルにはURLではなくchiのルートパターンを使い、カーディナリティを抑える。
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		c.RecordRequest(route, r.Method, rec.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
