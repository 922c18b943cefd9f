// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess                = "success"
	OutcomeInvalidInput           = "invalid_input"
	OutcomeNotFound               = "not_found"
	OutcomeAlreadyUsed            = "already_used"
	OutcomeConcurrentModification = "concurrent_modification"
	OutcomeTerminal               = "terminal"
	OutcomeInvalidPhase           = "invalid_phase"
	OutcomeStoreError             = "store_error"

	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationDropped = "dropped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、通知ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordRedemption(outcome string)
	RecordPhaseAdvance(outcome string)
	RecordPhaseTransition(phase string)
	RecordNotification(result string)
	RecordStoreOperation(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	redemptions      *prometheus.CounterVec
	phaseAdvances    *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_license_redemptions_total",
			Help: "ライセンスコード引き換えの結果別の合計数",
		}, []string{"outcome"}),
		phaseAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_phase_advances_total",
			Help: "フェーズ進行要求の結果別の合計数",
		}, []string{"outcome"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_phase_transitions_total",
			Help: "遷移先フェーズ別のコミット済み遷移数",
		}, []string{"phase"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_notifications_total",
			Help: "通知送信の結果別の合計数",
		}, []string{"result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atelier_store_operation_seconds",
			Help:    "レコードストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.redemptions,
		c.phaseAdvances,
		c.phaseTransitions,
		c.notifications,
		c.storeLatency,
		c.httpStatus,
	)

	return c
}

// RecordRedemption は引き換え結果を記録する。
func (c *Collector) RecordRedemption(outcome string) {
	c.redemptions.WithLabelValues(outcome).Inc()
}

// RecordPhaseAdvance はフェーズ進行要求の結果を記録する。
func (c *Collector) RecordPhaseAdvance(outcome string) {
	c.phaseAdvances.WithLabelValues(outcome).Inc()
}

// RecordPhaseTransition はコミットされたフェーズ遷移を遷移先フェーズごとに記録する。
func (c *Collector) RecordPhaseTransition(phase string) {
	c.phaseTransitions.WithLabelValues(phase).Inc()
}

// RecordNotification は通知送信の結果を記録する。
func (c *Collector) RecordNotification(result string) {
	c.notifications.WithLabelValues(result).Inc()
}

// RecordStoreOperation はストア操作のレイテンシを記録する。
func (c *Collector) RecordStoreOperation(operation string, duration time.Duration) {
	c.storeLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordRedemption(string)                    {}
func (NopCollector) RecordPhaseAdvance(string)                  {}
func (NopCollector) RecordPhaseTransition(string)               {}
func (NopCollector) RecordNotification(string)                  {}
func (NopCollector) RecordStoreOperation(string, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)                       {}

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

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
