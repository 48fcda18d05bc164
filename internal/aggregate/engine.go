// Package aggregate は計測値を日次サマリーへ集約するエンジンを提供する。
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
	"github.com/hitoshi/vitalsync/internal/repository"
)

// Engine は日付範囲内の各日について計測値から日次サマリーを再構築する。
// サマリーは計測値テーブルから常に再生成できる導出データであり、
// 同じ計測値集合に対する再実行は同一のサマリー行を生成する。
type Engine struct {
	metricTypes  repository.MetricTypeRepository
	measurements repository.MeasurementRepository
	summaries    repository.DailySummaryRepository
	logger       *slog.Logger
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	metricTypes repository.MetricTypeRepository,
	measurements repository.MeasurementRepository,
	summaries repository.DailySummaryRepository,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		metricTypes:  metricTypes,
		measurements: measurements,
		summaries:    summaries,
		logger:       logger,
	}
}

// AggregateDailySummaries は [start, end] の各暦日について日次サマリーを
// 再計算し、再計算した日数を返す。計測値のない日はサマリーを作らず
// 読み飛ばす。各メトリクスはその日の最新の計測値が採用され、全列がその場で
// 組み立て直されるため、増分更新による取りこぼしは起きない。
func (e *Engine) AggregateDailySummaries(ctx context.Context, start, end time.Time) (int, error) {
	dict, err := e.metricNames(ctx)
	if err != nil {
		return 0, err
	}

	startDay := dayOf(start)
	endDay := dayOf(end)

	days := 0
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		aggregated, err := e.aggregateDay(ctx, dict, day)
		if err != nil {
			return 0, err
		}
		if aggregated {
			days++
		}
	}

	e.logger.Info("日次集計が完了しました",
		slog.String("start", startDay.Format("2006-01-02")),
		slog.String("end", endDay.Format("2006-01-02")),
		slog.Int("days", days),
	)
	return days, nil
}

// aggregateDay は1日分のサマリーを組み立てて保存する。
// 計測値のない日は何もせずfalseを返す。
func (e *Engine) aggregateDay(ctx context.Context, dict map[string]string, day time.Time) (bool, error) {
	measurements, err := e.measurements.ListInRange(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return false, fmt.Errorf("計測値の取得に失敗しました: %w", err)
	}
	if len(measurements) == 0 {
		return false, nil
	}

	// measured_at昇順（同時刻はcreated_at, id順）で並んでいるため、
	// 後から上書きした値がその日の最新値になる。
	latest := make(map[string]float64)
	for _, m := range measurements {
		name, ok := dict[m.MetricTypeID]
		if !ok {
			continue
		}
		latest[name] = m.Value
	}

	summary := buildSummary(day, latest)
	if err := e.summaries.Upsert(ctx, summary); err != nil {
		return false, fmt.Errorf("日次集計の保存に失敗しました: %w", err)
	}
	return true, nil
}

// metricNames はメトリクス種別IDから名前への辞書を構築する。
func (e *Engine) metricNames(ctx context.Context) (map[string]string, error) {
	types, err := e.metricTypes.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("メトリクス辞書の読み込みに失敗しました: %w", err)
	}

	dict := make(map[string]string, len(types))
	for _, mt := range types {
		dict[mt.ID] = mt.Name
	}
	return dict, nil
}

// buildSummary はその日の最新値からサマリー行を組み立てる。
// サマリー列を持たないメトリクス（bmi、体水分率など）は計測値としてのみ
// 保持され、ここでは読み飛ばされる。
func buildSummary(day time.Time, latest map[string]float64) *model.DailySummary {
	summary := &model.DailySummary{SummaryDate: day}

	for name, value := range latest {
		switch name {
		case model.MetricSleepScore:
			summary.SleepScore = intRef(value)
		case model.MetricSleepDuration:
			v := hoursToSeconds(value)
			summary.SleepDurationSeconds = &v
		case model.MetricSteps:
			summary.Steps = intRef(value)
		case model.MetricActivityCalories:
			summary.ActivityCalories = floatRef(value)
		case model.MetricWeight:
			summary.Weight = floatRef(value)
		case model.MetricBodyFat:
			summary.BodyFat = floatRef(value)
		case model.MetricRestingHeartRate:
			summary.RestingHeartRate = intRef(value)
		case model.MetricHeartRateVariability:
			summary.HeartRateVariability = floatRef(value)
		case model.MetricStressLevel:
			v := decodeStressLevel(value)
			summary.StressLevel = &v
		case model.MetricResilienceLevel:
			v := decodeResilienceLevel(value)
			summary.ResilienceLevel = &v
		case model.MetricCalories:
			summary.Calories = floatRef(value)
		case model.MetricProtein:
			summary.Protein = floatRef(value)
		case model.MetricCarbohydrates:
			summary.Carbohydrates = floatRef(value)
		case model.MetricFat:
			summary.Fat = floatRef(value)
		case model.MetricFiber:
			summary.Fiber = floatRef(value)
		case model.MetricSugar:
			summary.Sugar = floatRef(value)
		case model.MetricSodium:
			summary.Sodium = floatRef(value)
		case model.MetricExerciseMinutes:
			summary.ExerciseMinutes = floatRef(value)
		}
	}
	return summary
}

// dayOf は時刻をUTCの暦日（00:00:00）に切り詰める。
func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func intRef(v float64) *int {
	i := int(math.Round(v))
	return &i
}

func floatRef(v float64) *float64 {
	return &v
}
