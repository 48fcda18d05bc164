package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// mockPurger はRunPurgerのテスト用モック。
type mockPurger struct {
	called  bool
	cutoff  time.Time
	deleted int64
	err     error
}

func (m *mockPurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.called = true
	m.cutoff = cutoff
	return m.deleted, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, newTestLogger(&buf))

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
}

func TestNewCleanupJob_SetsRetentionDays(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, newTestLogger(&buf))

	if job.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", job.RetentionDays)
	}
}

func TestCleanupJob_Run_PurgesWithRetentionCutoff(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{deleted: 5}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.RetentionDays = 30

	before := time.Now().UTC().AddDate(0, 0, -30)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	after := time.Now().UTC().AddDate(0, 0, -30)

	if !mock.called {
		t.Fatal("DeleteOlderThanが呼び出されるべき")
	}
	// cutoffは現在時刻から保持日数を引いた時刻
	if mock.cutoff.Before(before) || mock.cutoff.After(after) {
		t.Errorf("cutoff = %v, want between %v and %v", mock.cutoff, before, after)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{deleted: 12}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == "実行記録クリーンアップジョブが完了しました" {
			found = true
			if entry["deleted_count"] != float64(12) {
				t.Errorf("deleted_count = %v, want 12", entry["deleted_count"])
			}
			if entry["retention_days"] != float64(90) {
				t.Errorf("retention_days = %v, want 90", entry["retention_days"])
			}
		}
	}
	if !found {
		t.Errorf("完了ログが出力されるべき: %s", buf.String())
	}
}

func TestCleanupJob_Run_ZeroDeleted_Succeeds(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{deleted: 0}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("削除対象がなくてもエラーにならないべき: %v", err)
	}
}

func TestCleanupJob_Run_PropagatesError(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{err: errors.New("接続が切断されました")}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("削除の失敗はエラーとして返すべき")
	}
	if !strings.Contains(err.Error(), "実行記録クリーンアップの実行に失敗") {
		t.Errorf("エラーメッセージが不正: %v", err)
	}

	if !strings.Contains(buf.String(), "実行記録クリーンアップジョブの実行に失敗しました") {
		t.Error("失敗ログが出力されるべき")
	}
}
