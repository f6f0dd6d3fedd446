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
// 認証サービス、メール送信、RPCゲートウェイ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthEvent(event, outcome string)
	RecordSessionValidation(result string)
	RecordMailSent(kind, outcome string, duration time.Duration)
	RecordRPCCall(path, code string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents         *prometheus.CounterVec
	sessionValidations *prometheus.CounterVec
	mailSent           *prometheus.CounterVec
	mailLatency        prometheus.Histogram
	rpcCalls           *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr360_auth_events_total",
			Help: "認証イベント（サインイン、サインアップ等）の結果別件数",
		}, []string{"event", "outcome"}),
		sessionValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr360_session_validations_total",
			Help: "セッション検証の結果別件数",
		}, []string{"result"}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr360_mail_sent_total",
			Help: "メール送信の種類・結果別件数",
		}, []string{"kind", "outcome"}),
		mailLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hr360_mail_send_latency_seconds",
			Help:    "メール送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr360_rpc_calls_total",
			Help: "RPCプロシージャ呼び出しのパス・結果コード別件数",
		}, []string{"path", "code"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hr360_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authEvents,
		c.sessionValidations,
		c.mailSent,
		c.mailLatency,
		c.rpcCalls,
		c.httpStatus,
	)

	return c
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordSessionValidation はセッション検証結果を記録する。
func (c *Collector) RecordSessionValidation(result string) {
	c.sessionValidations.WithLabelValues(result).Inc()
}

// RecordMailSent はメール送信の結果とレイテンシを記録する。
func (c *Collector) RecordMailSent(kind, outcome string, duration time.Duration) {
	c.mailSent.WithLabelValues(kind, outcome).Inc()
	c.mailLatency.Observe(duration.Seconds())
}

// RecordRPCCall はRPC呼び出しを記録する。
func (c *Collector) RecordRPCCall(path, code string) {
	c.rpcCalls.WithLabelValues(path, code).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
