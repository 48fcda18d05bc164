// Package model はドメインモデルを定義する。
package model

import "time"

// Measurement は単一の計測値を表す。
// (MetricTypeID, SourceID, MeasuredAt) の三つ組で一意であり、
// 同じ三つ組の再登録は冪等に無視される。
type Measurement struct {
	ID           string
	MetricTypeID string
	SourceID     string
	Value        float64
	MeasuredAt   time.Time // UTCに正規化済み
	RawData      string    // 取得元レコードのJSON（サニタイズ済み）
	CreatedAt    time.Time
}

// ParsedRecord はソースから取得・パースした未保存の計測データを表す。
// 同期サービスがパース後にレコーダーへ渡す。
type ParsedRecord struct {
	MetricName string
	Value      float64
	MeasuredAt time.Time
	RawData    string // 未サニタイズのJSON
}
