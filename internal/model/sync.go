// Package model はドメインモデルを定義する。
package model

import "time"

// SyncResult は1ソースの同期結果を表す。
type SyncResult struct {
	SourceName     string
	RecordsFetched int // ソースから取得したレコード数
	RecordsSynced  int // 新規に保存された計測値数
	RecordsSkipped int // 重複・範囲外・未対応フィールドでスキップされた数
	StartedAt      time.Time
	FinishedAt     time.Time
}

// SyncTrigger は同期の起動契機を表す。
type SyncTrigger string

const (
	// SyncTriggerScheduled はスケジューラーによる定期実行。
	SyncTriggerScheduled SyncTrigger = "scheduled"
	// SyncTriggerManual はAPI経由の手動実行。
	SyncTriggerManual SyncTrigger = "manual"
)

// SyncRun はオーケストレーターの1回の実行記録を表す。
type SyncRun struct {
	ID             string
	Trigger        SyncTrigger
	SucceededCount int
	FailedCount    int
	RecordsSynced  int
	Detail         string // ソースごとの実行結果JSON（SourceRunDetailの配列）
	StartedAt      time.Time
	FinishedAt     time.Time
}

// SourceRunDetail はSyncRun.Detailに格納されるソースごとの実行結果。
type SourceRunDetail struct {
	Source        string `json:"source"`
	Status        string `json:"status"`
	RecordsSynced int    `json:"records_synced,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SourceRunDetailのStatus値
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)
