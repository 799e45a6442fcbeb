package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace は全メトリクスに付与する名前空間。
const namespace = "gateway"

// 認証検証の結果ラベル。
const (
	OutcomePublic        = "public"
	OutcomeAuthenticated = "authenticated"
	OutcomeMissing       = "missing"
	OutcomeRejected      = "rejected"
	OutcomeUnavailable   = "unavailable"
)

// アバターアップロードの結果ラベル。
const (
	UploadAccepted = "accepted"
	UploadRejected = "rejected"
	UploadTooLarge = "too_large"
	UploadFailed   = "failed"
)

// Collector はGatewayのメトリクスをまとめて保持する。
type Collector struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	authVerifications *prometheus.CounterVec
	upstreamErrors    *prometheus.CounterVec
	avatarUploads     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、専用レジストリに登録する。
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Gatewayが応答したリクエスト数。",
		}, []string{"service", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Gatewayでのリクエスト処理時間。",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service"}),
		authVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_verifications_total",
			Help:      "認証ゲートキーパーの判定結果ごとの件数。",
		}, []string{"outcome"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "上流サービスへの到達に失敗した件数。",
		}, []string{"service"}),
		avatarUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avatar_uploads_total",
			Help:      "アバターアップロードの結果ごとの件数。",
		}, []string{"outcome"}),
	}

	registry.MustRegister(c.requests, c.requestDuration, c.authVerifications, c.upstreamErrors, c.avatarUploads)
	return c
}

// ObserveRequest は1リクエストの応答を記録する。
func (c *Collector) ObserveRequest(service, method string, status int, elapsed time.Duration) {
	c.requests.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// ObserveAuth は認証ゲートキーパーの判定結果を記録する。
func (c *Collector) ObserveAuth(outcome string) {
	c.authVerifications.WithLabelValues(outcome).Inc()
}

// AuthCounter は判定結果ごとのカウンターを返す。
func (c *Collector) AuthCounter(outcome string) prometheus.Counter {
	return c.authVerifications.WithLabelValues(outcome)
}

// ObserveUpstreamError は上流サービスへの到達失敗を記録する。
func (c *Collector) ObserveUpstreamError(service string) {
	c.upstreamErrors.WithLabelValues(service).Inc()
}

// ObserveUpload はアバターアップロードの結果を記録する。
func (c *Collector) ObserveUpload(outcome string) {
	c.avatarUploads.WithLabelValues(outcome).Inc()
}

// Handler はPrometheus形式でメトリクスを公開するHTTPハンドラを返す。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
