// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
)

// SourceRepository はソースデータの永続化インターフェース。
type SourceRepository interface {
	// FindByProviderName はプロバイダー名でソースを検索する。見つからない場合はnilを返す。
	FindByProviderName(ctx context.Context, name string) (*model.Source, error)

	// List は全ソースを登録順に返す。
	List(ctx context.Context) ([]*model.Source, error)

	// UpdateLastSyncedAt は同期成功時刻を更新する。
	UpdateLastSyncedAt(ctx context.Context, id string, syncedAt time.Time) error
}

// MetricTypeRepository はメトリクス辞書の永続化インターフェース。
type MetricTypeRepository interface {
	// ListAll は全メトリクス種別を返す。
	// 同期サービスはこれをname→MetricTypeの辞書として使用する。
	ListAll(ctx context.Context) ([]*model.MetricType, error)

	// FindByName は指定名のメトリクス種別を取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.MetricType, error)
}

// MeasurementRepository は計測値の永続化インターフェース。
type MeasurementRepository interface {
	// Exists は同一の三つ組 (metric_type_id, source_id, measured_at) の
	// 計測値が既に存在するかを返す。
	Exists(ctx context.Context, metricTypeID, sourceID string, measuredAt time.Time) (bool, error)

	// Insert は計測値を保存する。
	// 一意制約違反の場合はmodel.ErrDuplicateMeasurementを返す。
	Insert(ctx context.Context, m *model.Measurement) error

	// ListInRange は [start, end) の計測値をmeasured_at昇順で返す。
	// 同一時刻の場合はcreated_at、idの順で安定ソートされる。
	ListInRange(ctx context.Context, start, end time.Time) ([]*model.Measurement, error)
}

// DailySummaryRepository は日次集計結果の永続化インターフェース。
type DailySummaryRepository interface {
	// FindByDate は指定日のサマリーを取得する。見つからない場合はnilを返す。
	FindByDate(ctx context.Context, date time.Time) (*model.DailySummary, error)

	// ListByDateRange は [start, end] のサマリーを日付昇順で返す。
	ListByDateRange(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error)

	// Upsert はsummary_dateをキーとしてサマリーを挿入または全列更新する。
	Upsert(ctx context.Context, summary *model.DailySummary) error
}

// SyncRunRepository は同期実行記録の永続化インターフェース。
type SyncRunRepository interface {
	// Create は実行記録を保存する。
	Create(ctx context.Context, run *model.SyncRun) error

	// ListRecent は実行記録をstarted_at降順で最大limit件返す。
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)

	// DeleteOlderThan はstarted_atがcutoffより古い実行記録を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
