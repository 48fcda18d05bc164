package model

// メトリクス辞書のシード名。
// 同期サービスのフィールド対応付けと日次集計の列対応の両方で使用する。
// 辞書の実体はmetric_typesテーブルであり、ここにない名前の計測値は
// 同期時に互換性ポリシーとしてスキップされる。
const (
	// nutrition
	MetricCalories        = "calories"
	MetricProtein         = "protein"
	MetricCarbohydrates   = "carbohydrates"
	MetricFat             = "fat"
	MetricFiber           = "fiber"
	MetricSugar           = "sugar"
	MetricSodium          = "sodium"
	MetricExerciseEnergy  = "exercise_energy"
	MetricExerciseMinutes = "exercise_minutes"

	// body
	MetricWeight          = "weight"
	MetricBMI             = "bmi"
	MetricBodyFat         = "body_fat"
	MetricBodyWater       = "body_water"
	MetricMuscleMass      = "muscle_mass"
	MetricBoneMass        = "bone_mass"
	MetricVisceralFat     = "visceral_fat"
	MetricBasalMetabolism = "basal_metabolism"

	// sleep
	MetricSleepScore    = "sleep_score"
	MetricSleepDuration = "sleep_duration"

	// activity
	MetricSteps            = "steps"
	MetricActivityCalories = "activity_calories"

	// heart
	MetricRestingHeartRate     = "resting_heart_rate"
	MetricHeartRateVariability = "heart_rate_variability"
	MetricStressLevel          = "stress_level"
	MetricResilienceLevel      = "resilience_level"
)
