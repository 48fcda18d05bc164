package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vitalsync/internal/model"
)

// dateFormat はDATE型カラムとの比較に使用する日付フォーマット。
// time.Timeを直接渡すとサーバーのタイムゾーンでキャストされるため、
// 日付は常に文字列で受け渡しする。
const dateFormat = "2006-01-02"

// PostgresDailySummaryRepo はPostgreSQLを使用した日次サマリーリポジトリ。
type PostgresDailySummaryRepo struct {
	db *sql.DB
}

// NewPostgresDailySummaryRepo はPostgresDailySummaryRepoを生成する。
func NewPostgresDailySummaryRepo(db *sql.DB) *PostgresDailySummaryRepo {
	return &PostgresDailySummaryRepo{db: db}
}

const dailySummaryColumns = `id, summary_date, sleep_score, sleep_duration_seconds, steps,
	activity_calories, weight, body_fat, resting_heart_rate, heart_rate_variability,
	stress_level, resilience_level, calories, protein, carbohydrates, fat, fiber,
	sugar, sodium, exercise_minutes, created_at, updated_at`

// FindByDate は指定日のサマリーを取得する。見つからない場合はnilを返す。
func (r *PostgresDailySummaryRepo) FindByDate(ctx context.Context, date time.Time) (*model.DailySummary, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+dailySummaryColumns+` FROM daily_summaries WHERE summary_date = $1`,
		date.UTC().Format(dateFormat),
	)

	summary, err := scanDailySummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("日次サマリーの取得に失敗しました: %w", err)
	}
	return summary, nil
}

// ListByDateRange は [start, end] のサマリーを日付昇順で返す。
func (r *PostgresDailySummaryRepo) ListByDateRange(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+dailySummaryColumns+`
		 FROM daily_summaries
		 WHERE summary_date >= $1 AND summary_date <= $2
		 ORDER BY summary_date ASC`,
		start.UTC().Format(dateFormat), end.UTC().Format(dateFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("日次サマリー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var summaries []*model.DailySummary
	for rows.Next() {
		summary, err := scanDailySummary(rows)
		if err != nil {
			return nil, fmt.Errorf("日次サマリー行の読み取りに失敗しました: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("日次サマリー一覧の走査に失敗しました: %w", err)
	}

	return summaries, nil
}

// Upsert はsummary_dateをキーとしてサマリーを挿入または全列更新する。
// ID・監査時刻は永続化の関心事としてここで採番・刻印する（既存行の
// id/created_atは維持される）。再集計時に値が消えたメトリクス列はNULLに
// 戻るため、同一の計測値セットに対する結果は常に同一となる。
func (r *PostgresDailySummaryRepo) Upsert(ctx context.Context, summary *model.DailySummary) error {
	now := time.Now().UTC()
	id := summary.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := summary.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO daily_summaries (
		    id, summary_date, sleep_score, sleep_duration_seconds, steps,
		    activity_calories, weight, body_fat, resting_heart_rate, heart_rate_variability,
		    stress_level, resilience_level, calories, protein, carbohydrates, fat, fiber,
		    sugar, sodium, exercise_minutes, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		 ON CONFLICT (summary_date) DO UPDATE SET
		    sleep_score = EXCLUDED.sleep_score,
		    sleep_duration_seconds = EXCLUDED.sleep_duration_seconds,
		    steps = EXCLUDED.steps,
		    activity_calories = EXCLUDED.activity_calories,
		    weight = EXCLUDED.weight,
		    body_fat = EXCLUDED.body_fat,
		    resting_heart_rate = EXCLUDED.resting_heart_rate,
		    heart_rate_variability = EXCLUDED.heart_rate_variability,
		    stress_level = EXCLUDED.stress_level,
		    resilience_level = EXCLUDED.resilience_level,
		    calories = EXCLUDED.calories,
		    protein = EXCLUDED.protein,
		    carbohydrates = EXCLUDED.carbohydrates,
		    fat = EXCLUDED.fat,
		    fiber = EXCLUDED.fiber,
		    sugar = EXCLUDED.sugar,
		    sodium = EXCLUDED.sodium,
		    exercise_minutes = EXCLUDED.exercise_minutes,
		    updated_at = EXCLUDED.updated_at`,
		id, summary.SummaryDate.UTC().Format(dateFormat),
		nullIntPtr(summary.SleepScore), nullIntPtr(summary.SleepDurationSeconds),
		nullIntPtr(summary.Steps), nullFloat64Ptr(summary.ActivityCalories),
		nullFloat64Ptr(summary.Weight), nullFloat64Ptr(summary.BodyFat),
		nullIntPtr(summary.RestingHeartRate), nullFloat64Ptr(summary.HeartRateVariability),
		nullStringPtr(summary.StressLevel), nullStringPtr(summary.ResilienceLevel),
		nullFloat64Ptr(summary.Calories), nullFloat64Ptr(summary.Protein),
		nullFloat64Ptr(summary.Carbohydrates), nullFloat64Ptr(summary.Fat),
		nullFloat64Ptr(summary.Fiber), nullFloat64Ptr(summary.Sugar),
		nullFloat64Ptr(summary.Sodium), nullFloat64Ptr(summary.ExerciseMinutes),
		createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("日次サマリーのupsertに失敗しました: %w", err)
	}
	return nil
}

// rowScanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDailySummary は1行分のサマリーを読み取る。
func scanDailySummary(row rowScanner) (*model.DailySummary, error) {
	summary := &model.DailySummary{}
	var sleepScore, sleepDurationSeconds, steps, restingHeartRate sql.NullInt64
	var activityCalories, weight, bodyFat, hrv sql.NullFloat64
	var stressLevel, resilienceLevel sql.NullString
	var calories, protein, carbohydrates, fat, fiber, sugar, sodium, exerciseMinutes sql.NullFloat64

	err := row.Scan(
		&summary.ID, &summary.SummaryDate,
		&sleepScore, &sleepDurationSeconds, &steps,
		&activityCalories, &weight, &bodyFat, &restingHeartRate, &hrv,
		&stressLevel, &resilienceLevel,
		&calories, &protein, &carbohydrates, &fat, &fiber,
		&sugar, &sodium, &exerciseMinutes,
		&summary.CreatedAt, &summary.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	summary.SleepScore = intPtr(sleepScore)
	summary.SleepDurationSeconds = intPtr(sleepDurationSeconds)
	summary.Steps = intPtr(steps)
	summary.ActivityCalories = float64Ptr(activityCalories)
	summary.Weight = float64Ptr(weight)
	summary.BodyFat = float64Ptr(bodyFat)
	summary.RestingHeartRate = intPtr(restingHeartRate)
	summary.HeartRateVariability = float64Ptr(hrv)
	summary.StressLevel = stringPtr(stressLevel)
	summary.ResilienceLevel = stringPtr(resilienceLevel)
	summary.Calories = float64Ptr(calories)
	summary.Protein = float64Ptr(protein)
	summary.Carbohydrates = float64Ptr(carbohydrates)
	summary.Fat = float64Ptr(fat)
	summary.Fiber = float64Ptr(fiber)
	summary.Sugar = float64Ptr(sugar)
	summary.Sodium = float64Ptr(sodium)
	summary.ExerciseMinutes = float64Ptr(exerciseMinutes)

	return summary, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullStringPtr は*stringをsql.NullStringに変換する。
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullIntPtr は*intをsql.NullInt64に変換する。
func nullIntPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// nullFloat64Ptr は*float64をsql.NullFloat64に変換する。
func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// stringPtr はsql.NullStringを*stringに変換する。
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// intPtr はsql.NullInt64を*intに変換する。
func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

// float64Ptr はsql.NullFloat64を*float64に変換する。
func float64Ptr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// compile-time interface check
var _ DailySummaryRepository = (*PostgresDailySummaryRepo)(nil)
