package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/vitalsync/internal/model"
)

// PostgresMetricTypeRepo はPostgreSQLを使用したメトリクス辞書リポジトリ。
type PostgresMetricTypeRepo struct {
	db *sql.DB
}

// NewPostgresMetricTypeRepo はPostgresMetricTypeRepoを生成する。
func NewPostgresMetricTypeRepo(db *sql.DB) *PostgresMetricTypeRepo {
	return &PostgresMetricTypeRepo{db: db}
}

// ListAll は全メトリクス種別を名前昇順で返す。
func (r *PostgresMetricTypeRepo) ListAll(ctx context.Context) ([]*model.MetricType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, display_name, unit, category, min_value, max_value, created_at
		 FROM metric_types ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("メトリクス辞書の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var types []*model.MetricType
	for rows.Next() {
		mt := &model.MetricType{}
		var minValue, maxValue sql.NullFloat64

		if err := rows.Scan(
			&mt.ID, &mt.Name, &mt.DisplayName, &mt.Unit, &mt.Category,
			&minValue, &maxValue, &mt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("メトリクス種別行の読み取りに失敗しました: %w", err)
		}

		if minValue.Valid {
			mt.MinValue = &minValue.Float64
		}
		if maxValue.Valid {
			mt.MaxValue = &maxValue.Float64
		}

		types = append(types, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メトリクス辞書の走査に失敗しました: %w", err)
	}

	return types, nil
}

// FindByName は指定名のメトリクス種別を取得する。見つからない場合はnilを返す。
func (r *PostgresMetricTypeRepo) FindByName(ctx context.Context, name string) (*model.MetricType, error) {
	mt := &model.MetricType{}
	var minValue, maxValue sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, unit, category, min_value, max_value, created_at
		 FROM metric_types WHERE name = $1`,
		name,
	).Scan(
		&mt.ID, &mt.Name, &mt.DisplayName, &mt.Unit, &mt.Category,
		&minValue, &maxValue, &mt.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メトリクス種別の取得に失敗しました: %w", err)
	}

	if minValue.Valid {
		mt.MinValue = &minValue.Float64
	}
	if maxValue.Valid {
		mt.MaxValue = &maxValue.Float64
	}

	return mt, nil
}

// compile-time interface check
var _ MetricTypeRepository = (*PostgresMetricTypeRepo)(nil)
