// Package cleanup は同期実行記録の自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したsync_runsの行を日次バッチで削除する。
// 計測値と日次サマリーは監査・再集計のために削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultRetentionDays は実行記録のデフォルト保持日数。
const defaultRetentionDays = 90

// RunPurger は保持期間を超過した実行記録の削除を抽象化するインターフェース。
type RunPurger interface {
	// DeleteOlderThan はstarted_atがcutoffより古い実行記録を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した同期実行記録の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	runs          RunPurger
	logger        *slog.Logger
	RetentionDays int // 実行記録の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(runs RunPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		runs:          runs,
		logger:        logger,
		RetentionDays: defaultRetentionDays,
	}
}

// Run は保持期間を超過した同期実行記録を削除する。
// started_atがRetentionDays日前より古い行が対象となる。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := start.UTC().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.runs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("実行記録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("実行記録クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("実行記録クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
