// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 移行処理と移行イベント送信の両方から利用する。
type MetricsCollector interface {
	RecordReconcile(result string, duration time.Duration)
	RecordGroupCreated()
	RecordMappingDropped(kind string)
	RecordEventSent()
	RecordEventFailed()
	RecordEventDropped()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reconcileTotal   *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	groupsCreated    prometheus.Counter
	mappingDropped   *prometheus.CounterVec
	eventsSent       prometheus.Counter
	eventsFailed     prometheus.Counter
	eventsDropped    prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usermigrator_reconcile_total",
			Help: "結果別のユーザー移行処理の合計数",
		}, []string{"result"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "usermigrator_reconcile_latency_seconds",
			Help:    "ユーザー移行処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		groupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usermigrator_groups_created_total",
			Help: "移行時に作成したグループの合計数",
		}),
		mappingDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usermigrator_mapping_dropped_total",
			Help: "解決できずに除外したロール・グループの合計数",
		}, []string{"kind"}),
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usermigrator_events_sent_total",
			Help: "送信に成功した移行イベントの合計数",
		}),
		eventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usermigrator_events_failed_total",
			Help: "送信に失敗した移行イベントの合計数",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usermigrator_events_dropped_total",
			Help: "キュー満杯または停止後のため破棄した移行イベントの合計数",
		}),
	}

	reg.MustRegister(
		c.reconcileTotal,
		c.reconcileLatency,
		c.groupsCreated,
		c.mappingDropped,
		c.eventsSent,
		c.eventsFailed,
		c.eventsDropped,
	)

	return c
}

// RecordReconcile は移行処理の結果とレイテンシを記録する。
func (c *Collector) RecordReconcile(result string, duration time.Duration) {
	c.reconcileTotal.WithLabelValues(result).Inc()
	c.reconcileLatency.Observe(duration.Seconds())
}

// RecordGroupCreated はグループ作成を記録する。
func (c *Collector) RecordGroupCreated() {
	c.groupsCreated.Inc()
}

// RecordMappingDropped はロール・グループの除外を記録する。
func (c *Collector) RecordMappingDropped(kind string) {
	c.mappingDropped.WithLabelValues(kind).Inc()
}

// RecordEventSent は移行イベントの送信成功を記録する。
func (c *Collector) RecordEventSent() {
	c.eventsSent.Inc()
}

// RecordEventFailed は移行イベントの送信失敗を記録する。
func (c *Collector) RecordEventFailed() {
	c.eventsFailed.Inc()
}

// RecordEventDropped は移行イベントの破棄を記録する。
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
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
