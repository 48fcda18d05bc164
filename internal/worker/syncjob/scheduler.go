// Package syncjob は同期オーケストレーターの定期実行を提供する。
// ティッカーで全ソースの同期パスを起動し、1パスごとにタイムアウトを設ける。
package syncjob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
)

// SyncRunner はスケジューラーが起動する同期オーケストレーターのインターフェース。
type SyncRunner interface {
	// SyncAll は有効な全ソースを順次同期し、実行記録を返す。
	SyncAll(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error)
}

// Scheduler は同期パスの定期実行を行う。
// ソース間の並列化はオーケストレーター側で行わないため、スケジューラーも
// パスを直列に起動する。前のパスが終わるまで次のパスは始まらない。
type Scheduler struct {
	runner  SyncRunner
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// timeoutは1回の同期パス全体の制限時間。0以下の場合は制限しない。
func NewScheduler(runner SyncRunner, logger *slog.Logger, timeout time.Duration) *Scheduler {
	return &Scheduler{
		runner:  runner,
		logger:  logger,
		timeout: timeout,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、以降はコンテキストがキャンセルされるまで
// interval間隔で同期パスを繰り返す。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("timeout", s.timeout),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期パスの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("同期パスの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回の同期パスをタイムアウト付きで実行する。
// シャットダウンによる中断はエラーとして扱わない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	run, err := s.runner.SyncAll(runCtx, model.SyncTriggerScheduled)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return err
	}

	duration := time.Since(start)
	s.logger.Info("同期パスを実行しました",
		slog.Int("succeeded", run.SucceededCount),
		slog.Int("failed", run.FailedCount),
		slog.Int("records_synced", run.RecordsSynced),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
