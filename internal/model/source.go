// Package model はドメインモデルを定義する。
package model

import "time"

// Source はデータ取得元の外部サービスを表す。
type Source struct {
	ID           string
	ProviderName string
	IsEnabled    bool
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// 定義済みプロバイダー名
const (
	// ProviderCronometer は栄養記録サービスCronometer。
	ProviderCronometer = "cronometer"
	// ProviderOura はOuraリング（睡眠・活動トラッカー）。
	ProviderOura = "oura"
	// ProviderPicooc はPicooc体組成計。
	ProviderPicooc = "picooc"
)

// MetricCategory はメトリクスの分類を表す。
type MetricCategory string

const (
	// MetricCategorySleep は睡眠関連メトリクス。
	MetricCategorySleep MetricCategory = "sleep"
	// MetricCategoryActivity は活動関連メトリクス。
	MetricCategoryActivity MetricCategory = "activity"
	// MetricCategoryBody は体組成関連メトリクス。
	MetricCategoryBody MetricCategory = "body"
	// MetricCategoryNutrition は栄養関連メトリクス。
	MetricCategoryNutrition MetricCategory = "nutrition"
	// MetricCategoryHeart は心拍関連メトリクス。
	MetricCategoryHeart MetricCategory = "heart"
)

// MetricType は計測値の種別定義を表す。
// Nameをキーとしてソースのフィールドとの対応付けに使用される。
type MetricType struct {
	ID          string
	Name        string
	DisplayName string
	Unit        string
	Category    MetricCategory
	MinValue    *float64
	MaxValue    *float64
	CreatedAt   time.Time
}

// InRange は値が許容範囲内かどうかを判定する。範囲が未定義の項目は常にtrue。
func (m *MetricType) InRange(v float64) bool {
	if m.MinValue != nil && v < *m.MinValue {
		return false
	}
	if m.MaxValue != nil && v > *m.MaxValue {
		return false
	}
	return true
}
