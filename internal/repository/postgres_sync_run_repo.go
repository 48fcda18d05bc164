package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
)

// PostgresSyncRunRepo はPostgreSQLを使用した同期実行記録リポジトリ。
type PostgresSyncRunRepo struct {
	db *sql.DB
}

// NewPostgresSyncRunRepo はPostgresSyncRunRepoを生成する。
func NewPostgresSyncRunRepo(db *sql.DB) *PostgresSyncRunRepo {
	return &PostgresSyncRunRepo{db: db}
}

// Create は実行記録を保存する。
func (r *PostgresSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, trigger, succeeded_count, failed_count, records_synced, detail, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, string(run.Trigger), run.SucceededCount, run.FailedCount,
		run.RecordsSynced, nullString(run.Detail), run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("同期実行記録の保存に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は実行記録をstarted_at降順で最大limit件返す。
func (r *PostgresSyncRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, trigger, succeeded_count, failed_count, records_synced, detail, started_at, finished_at
		 FROM sync_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("同期実行記録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		run := &model.SyncRun{}
		var trigger string
		var detail sql.NullString

		if err := rows.Scan(
			&run.ID, &trigger, &run.SucceededCount, &run.FailedCount,
			&run.RecordsSynced, &detail, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("同期実行記録行の読み取りに失敗しました: %w", err)
		}

		run.Trigger = model.SyncTrigger(trigger)
		run.Detail = nullStringValue(detail)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期実行記録の走査に失敗しました: %w", err)
	}

	return runs, nil
}

// DeleteOlderThan はstarted_atがcutoffより古い実行記録を削除し、削除件数を返す。
func (r *PostgresSyncRunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_runs WHERE started_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("同期実行記録の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return deleted, nil
}

// compile-time interface check
var _ SyncRunRepository = (*PostgresSyncRunRepo)(nil)
