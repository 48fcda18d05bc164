package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// FindByProviderName はプロバイダー名でソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByProviderName(ctx context.Context, name string) (*model.Source, error) {
	source := &model.Source{}
	var lastSyncedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider_name, is_enabled, last_synced_at, created_at, updated_at
		 FROM sources WHERE provider_name = $1`,
		name,
	).Scan(
		&source.ID, &source.ProviderName, &source.IsEnabled,
		&lastSyncedAt, &source.CreatedAt, &source.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}

	if lastSyncedAt.Valid {
		source.LastSyncedAt = &lastSyncedAt.Time
	}

	return source, nil
}

// List は全ソースを登録順に返す。
func (r *PostgresSourceRepo) List(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider_name, is_enabled, last_synced_at, created_at, updated_at
		 FROM sources ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source := &model.Source{}
		var lastSyncedAt sql.NullTime

		if err := rows.Scan(
			&source.ID, &source.ProviderName, &source.IsEnabled,
			&lastSyncedAt, &source.CreatedAt, &source.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ソース行の読み取りに失敗しました: %w", err)
		}

		if lastSyncedAt.Valid {
			source.LastSyncedAt = &lastSyncedAt.Time
		}

		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}

	return sources, nil
}

// UpdateLastSyncedAt は同期成功時刻を更新する。
func (r *PostgresSourceRepo) UpdateLastSyncedAt(ctx context.Context, id string, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET last_synced_at = $2, updated_at = now() WHERE id = $1`,
		id, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("同期時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
