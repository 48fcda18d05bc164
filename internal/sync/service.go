// Package sync は各ソースの同期サービスとオーケストレーターを提供する。
package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
)

// Service は1ソースの同期処理のインターフェース。
// オーケストレーターは具象型を知らず、登録されたServiceの集合を順に実行する。
type Service interface {
	// SourceName は担当するプロバイダー名を返す。
	SourceName() string

	// Sync はソースからデータを取得し、計測値として保存する。
	Sync(ctx context.Context) (*model.SyncResult, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// tally は1回の同期の件数を集計する。
type tally struct {
	fetched int
	synced  int
	skipped int
}

// add はレコーダーの処理結果を件数に反映する。
func (t *tally) add(outcome RecordOutcome) {
	if outcome == RecordInserted {
		t.synced++
	} else {
		t.skipped++
	}
}

// result は集計結果をSyncResultにまとめる。
func (t *tally) result(sourceName string, started, finished time.Time) *model.SyncResult {
	return &model.SyncResult{
		SourceName:     sourceName,
		RecordsFetched: t.fetched,
		RecordsSynced:  t.synced,
		RecordsSkipped: t.skipped,
		StartedAt:      started,
		FinishedAt:     finished,
	}
}

// rawJSON は監査用のraw_data JSONを生成する。
// 失敗した場合は空文字列を返し、計測値の保存自体は妨げない。
func rawJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// field はソースの1フィールドとメトリクス名の対応。
type field struct {
	name  string
	value float64
}

// recordFields は同一レコード由来のフィールド群を同じ時刻・raw_dataで保存する。
func recordFields(ctx context.Context, run *RunRecorder, measuredAt time.Time, raw string, fields []field, t *tally) error {
	for _, f := range fields {
		outcome, err := run.Record(ctx, model.ParsedRecord{
			MetricName: f.name,
			Value:      f.value,
			MeasuredAt: measuredAt,
			RawData:    raw,
		})
		if err != nil {
			return err
		}
		t.add(outcome)
	}
	return nil
}
