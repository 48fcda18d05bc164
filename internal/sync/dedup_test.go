package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGuard_IsDuplicate_ConsultsStore(t *testing.T) {
	measuredAt := time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		exists bool
		want   bool
	}{
		{name: "既存レコードあり", exists: true, want: true},
		{name: "既存レコードなし", exists: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockMeasurementRepo{
				existsFunc: func(_, _ string, _ time.Time) (bool, error) {
					return tt.exists, nil
				},
			}
			guard := NewGuard(repo)

			got, err := guard.IsDuplicate(context.Background(), "mt-1", "src-1", measuredAt)
			if err != nil {
				t.Fatalf("IsDuplicate() がエラーを返した: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsDuplicate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGuard_IsDuplicate_CacheHitSkipsStore(t *testing.T) {
	repo := &mockMeasurementRepo{}
	guard := NewGuard(repo)
	measuredAt := time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC)

	guard.MarkProcessed("mt-1", "src-1", measuredAt)

	got, err := guard.IsDuplicate(context.Background(), "mt-1", "src-1", measuredAt)
	if err != nil {
		t.Fatalf("IsDuplicate() がエラーを返した: %v", err)
	}
	if !got {
		t.Error("IsDuplicate() = false, want true（キャッシュ済み）")
	}
	if repo.existsCalls != 0 {
		t.Errorf("Existsの呼び出し回数 = %d, want 0", repo.existsCalls)
	}
}

func TestGuard_IsDuplicate_DistinguishesTriples(t *testing.T) {
	repo := &mockMeasurementRepo{}
	guard := NewGuard(repo)
	measuredAt := time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC)

	guard.MarkProcessed("mt-1", "src-1", measuredAt)

	tests := []struct {
		name         string
		metricTypeID string
		sourceID     string
		measuredAt   time.Time
	}{
		{name: "メトリクス種別が異なる", metricTypeID: "mt-2", sourceID: "src-1", measuredAt: measuredAt},
		{name: "ソースが異なる", metricTypeID: "mt-1", sourceID: "src-2", measuredAt: measuredAt},
		{name: "計測時刻が異なる", metricTypeID: "mt-1", sourceID: "src-1", measuredAt: measuredAt.Add(time.Nanosecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.IsDuplicate(context.Background(), tt.metricTypeID, tt.sourceID, tt.measuredAt)
			if err != nil {
				t.Fatalf("IsDuplicate() がエラーを返した: %v", err)
			}
			if got {
				t.Error("IsDuplicate() = true, want false（別の三つ組）")
			}
		})
	}
}

func TestGuard_IsDuplicate_NormalizesTimezone(t *testing.T) {
	// 同一瞬間の異なるタイムゾーン表現は同じ三つ組として扱う
	repo := &mockMeasurementRepo{}
	guard := NewGuard(repo)

	jst := time.FixedZone("JST", 9*60*60)
	guard.MarkProcessed("mt-1", "src-1", time.Date(2026, 8, 20, 16, 30, 0, 0, jst))

	got, err := guard.IsDuplicate(context.Background(), "mt-1", "src-1", time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("IsDuplicate() がエラーを返した: %v", err)
	}
	if !got {
		t.Error("IsDuplicate() = false, want true（UTC正規化後は同一時刻）")
	}
}

func TestGuard_IsDuplicate_WrapsStoreError(t *testing.T) {
	repo := &mockMeasurementRepo{
		existsFunc: func(_, _ string, _ time.Time) (bool, error) {
			return false, errors.New("connection refused")
		},
	}
	guard := NewGuard(repo)

	_, err := guard.IsDuplicate(context.Background(), "mt-1", "src-1", time.Now())
	if err == nil {
		t.Fatal("ストアのエラーが伝播していない")
	}
	if !strings.Contains(err.Error(), "存在確認に失敗") {
		t.Errorf("エラーメッセージが不正: %v", err)
	}
}
