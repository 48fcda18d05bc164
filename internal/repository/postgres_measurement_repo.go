package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/vitalsync/internal/model"
)

// pgUniqueViolation はPostgreSQLのunique_violationエラーコード。
const pgUniqueViolation = "23505"

// PostgresMeasurementRepo はPostgreSQLを使用した計測値リポジトリ。
type PostgresMeasurementRepo struct {
	db *sql.DB
}

// NewPostgresMeasurementRepo はPostgresMeasurementRepoを生成する。
func NewPostgresMeasurementRepo(db *sql.DB) *PostgresMeasurementRepo {
	return &PostgresMeasurementRepo{db: db}
}

// Exists は同一の三つ組 (metric_type_id, source_id, measured_at) の
// 計測値が既に存在するかを返す。
func (r *PostgresMeasurementRepo) Exists(ctx context.Context, metricTypeID, sourceID string, measuredAt time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM measurements
		    WHERE metric_type_id = $1 AND source_id = $2 AND measured_at = $3
		)`,
		metricTypeID, sourceID, measuredAt,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("計測値の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Insert は計測値を保存する。
// 一意制約違反の場合はmodel.ErrDuplicateMeasurementを返す。
// 存在確認と挿入の間に同一三つ組が挿入された場合も、この制約が最終防壁となる。
func (r *PostgresMeasurementRepo) Insert(ctx context.Context, m *model.Measurement) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO measurements (id, metric_type_id, source_id, value, measured_at, raw_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.MetricTypeID, m.SourceID, m.Value, m.MeasuredAt,
		nullString(m.RawData), m.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return model.ErrDuplicateMeasurement
		}
		return fmt.Errorf("計測値の保存に失敗しました: %w", err)
	}
	return nil
}

// ListInRange は [start, end) の計測値を返す。
// measured_at、created_at、idの昇順で安定ソートされるため、
// 同一入力に対する走査順は常に一定となる。
func (r *PostgresMeasurementRepo) ListInRange(ctx context.Context, start, end time.Time) ([]*model.Measurement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, metric_type_id, source_id, value, measured_at, raw_data, created_at
		 FROM measurements
		 WHERE measured_at >= $1 AND measured_at < $2
		 ORDER BY measured_at ASC, created_at ASC, id ASC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("計測値一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var measurements []*model.Measurement
	for rows.Next() {
		m := &model.Measurement{}
		var rawData sql.NullString

		if err := rows.Scan(
			&m.ID, &m.MetricTypeID, &m.SourceID, &m.Value, &m.MeasuredAt,
			&rawData, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("計測値行の読み取りに失敗しました: %w", err)
		}

		m.RawData = nullStringValue(rawData)
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("計測値一覧の走査に失敗しました: %w", err)
	}

	return measurements, nil
}

// compile-time interface check
var _ MeasurementRepository = (*PostgresMeasurementRepo)(nil)
