package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/vitalsync/internal/repository"
)

// Guard は計測値の重複登録を防ぐ冪等性ガード。
// ストアへの存在確認が正であり、processedキャッシュは同一実行内の
// 再問い合わせを省くためのヒントに過ぎない。実行をまたぐ・並行する
// 重複はストアの一意制約が最終的に排除する。
type Guard struct {
	measurements repository.MeasurementRepository
	processed    map[string]struct{}
}

// NewGuard は1回の同期実行に対応するGuardを生成する。
// キャッシュは実行単位であり、Guardを実行をまたいで使い回してはならない。
func NewGuard(measurements repository.MeasurementRepository) *Guard {
	return &Guard{
		measurements: measurements,
		processed:    make(map[string]struct{}),
	}
}

// IsDuplicate は同一の三つ組 (metricTypeID, sourceID, measuredAt) の
// 計測値が既に存在するかを返す。タイムスタンプは完全一致で比較する。
func (g *Guard) IsDuplicate(ctx context.Context, metricTypeID, sourceID string, measuredAt time.Time) (bool, error) {
	if _, ok := g.processed[guardKey(metricTypeID, sourceID, measuredAt)]; ok {
		return true, nil
	}

	exists, err := g.measurements.Exists(ctx, metricTypeID, sourceID, measuredAt)
	if err != nil {
		return false, fmt.Errorf("計測値の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// MarkProcessed は同一実行内で処理済みの三つ組を記録する。
func (g *Guard) MarkProcessed(metricTypeID, sourceID string, measuredAt time.Time) {
	g.processed[guardKey(metricTypeID, sourceID, measuredAt)] = struct{}{}
}

func guardKey(metricTypeID, sourceID string, measuredAt time.Time) string {
	return metricTypeID + "|" + sourceID + "|" + measuredAt.UTC().Format(time.RFC3339Nano)
}
