// Package model はドメインモデルを定義する。
package model

import "time"

// DailySummary は1日分の集計結果を表す。日付ごとに1行がupsertされる。
// 各メトリクス列はその日の計測値が存在しない場合nilとなる。
type DailySummary struct {
	ID                   string
	SummaryDate          time.Time // UTC日付（時刻部は00:00:00）
	SleepScore           *int
	SleepDurationSeconds *int
	Steps                *int
	ActivityCalories     *float64
	Weight               *float64
	BodyFat              *float64
	RestingHeartRate     *int
	HeartRateVariability *float64
	StressLevel          *string // restored, normal, stressful, unknown
	ResilienceLevel      *string // limited, adequate, solid, strong, exceptional, unknown
	Calories             *float64
	Protein              *float64
	Carbohydrates        *float64
	Fat                  *float64
	Fiber                *float64
	Sugar                *float64
	Sodium               *float64
	ExerciseMinutes      *float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
