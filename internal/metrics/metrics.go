// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期オーケストレーターから利用する。
type MetricsCollector interface {
	RecordSyncSuccess(source string)
	RecordSyncFailure(source string)
	RecordRecordsSynced(source string, count int)
	RecordRecordsSkipped(source string, count int)
	RecordSyncDuration(source string, duration time.Duration)
	RecordAggregationRun(days int)
	RecordAggregationFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess     *prometheus.CounterVec
	syncFail        *prometheus.CounterVec
	recordsSynced   *prometheus.CounterVec
	recordsSkipped  *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	aggregationRuns prometheus.Counter
	aggregationDays prometheus.Counter
	aggregationFail prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalsync_sync_success_total",
			Help: "ソース別の同期成功の合計数",
		}, []string{"source"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalsync_sync_fail_total",
			Help: "ソース別の同期失敗の合計数",
		}, []string{"source"}),
		recordsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalsync_records_synced_total",
			Help: "ソース別の保存された計測値の合計数",
		}, []string{"source"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalsync_records_skipped_total",
			Help: "ソース別の重複によりスキップされた計測値の合計数",
		}, []string{"source"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitalsync_sync_duration_seconds",
			Help:    "ソース別の同期所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"source"}),
		aggregationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_aggregation_runs_total",
			Help: "日次集計の実行の合計数",
		}),
		aggregationDays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_aggregation_days_total",
			Help: "日次集計で再計算された日数の合計",
		}),
		aggregationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_aggregation_fail_total",
			Help: "日次集計の失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.recordsSynced,
		c.recordsSkipped,
		c.syncDuration,
		c.aggregationRuns,
		c.aggregationDays,
		c.aggregationFail,
	)

	return c
}

// RecordSyncSuccess はソースの同期成功を記録する。
func (c *Collector) RecordSyncSuccess(source string) {
	c.syncSuccess.WithLabelValues(source).Inc()
}

// RecordSyncFailure はソースの同期失敗を記録する。
func (c *Collector) RecordSyncFailure(source string) {
	c.syncFail.WithLabelValues(source).Inc()
}

// RecordRecordsSynced は保存された計測値の件数を記録する。
func (c *Collector) RecordRecordsSynced(source string, count int) {
	c.recordsSynced.WithLabelValues(source).Add(float64(count))
}

// RecordRecordsSkipped は重複によりスキップされた計測値の件数を記録する。
func (c *Collector) RecordRecordsSkipped(source string, count int) {
	c.recordsSkipped.WithLabelValues(source).Add(float64(count))
}

// RecordSyncDuration はソースの同期所要時間を記録する。
func (c *Collector) RecordSyncDuration(source string, duration time.Duration) {
	c.syncDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordAggregationRun は日次集計の実行と再計算された日数を記録する。
func (c *Collector) RecordAggregationRun(days int) {
	c.aggregationRuns.Inc()
	c.aggregationDays.Add(float64(days))
}

// RecordAggregationFailure は日次集計の失敗を記録する。
func (c *Collector) RecordAggregationFailure() {
	c.aggregationFail.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// ルーターの/metricsエンドポイントにマウントされる。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
