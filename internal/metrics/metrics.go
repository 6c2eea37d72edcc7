// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやハンドラー層から利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordTokenRefresh(outcome string)
	RecordUpstreamLatency(target string, duration time.Duration)
	RecordHealthCacheHit()
	RecordHealthCacheStale()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus       *prometheus.CounterVec
	tokenRefresh     *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	healthCacheHit   prometheus.Counter
	healthCacheStale prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirpboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirpboard_token_refresh_total",
			Help: "アクセストークンリフレッシュの結果別合計数",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chirpboard_upstream_latency_seconds",
			Help:    "上流API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		healthCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chirpboard_health_cache_hit_total",
			Help: "ヘルスキャッシュヒットの合計数",
		}),
		healthCacheStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chirpboard_health_cache_stale_total",
			Help: "期限切れキャッシュで代替応答した合計数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.tokenRefresh,
		c.upstreamLatency,
		c.healthCacheHit,
		c.healthCacheStale,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
// outcomeは"success"または"failure"。
func (c *Collector) RecordTokenRefresh(outcome string) {
	c.tokenRefresh.WithLabelValues(outcome).Inc()
}

// RecordUpstreamLatency は上流API呼び出しのレイテンシを記録する。
// targetは"discord"または"botapi"。
func (c *Collector) RecordUpstreamLatency(target string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordHealthCacheHit はヘルスキャッシュヒットを記録する。
func (c *Collector) RecordHealthCacheHit() {
	c.healthCacheHit.Inc()
}

// RecordHealthCacheStale は期限切れキャッシュでの代替応答を記録する。
func (c *Collector) RecordHealthCacheStale() {
	c.healthCacheStale.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
