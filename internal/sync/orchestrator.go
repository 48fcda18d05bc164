package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vitalsync/internal/metrics"
	"github.com/hitoshi/vitalsync/internal/model"
	"github.com/hitoshi/vitalsync/internal/repository"
)

// Aggregator は日次集計エンジンのインターフェース。
type Aggregator interface {
	// AggregateDailySummaries は [start, end] の各日の日次集計を再計算し、
	// 再計算した日数を返す。
	AggregateDailySummaries(ctx context.Context, start, end time.Time) (int, error)
}

// Orchestrator は登録された同期サービスを順次実行し、実行記録を残す。
// スクレイピング対象への負荷を予測可能に保つため、ソース間の並列実行は
// 行わない。多重起動は拒否する。
type Orchestrator struct {
	services              []Service
	sources               repository.SourceRepository
	runs                  repository.SyncRunRepository
	aggregator            Aggregator
	collector             metrics.MetricsCollector
	logger                *slog.Logger
	aggregationWindowDays int

	running atomic.Bool
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
// servicesの順序がそのまま同期の実行順になる。
func NewOrchestrator(
	services []Service,
	sources repository.SourceRepository,
	runs repository.SyncRunRepository,
	aggregator Aggregator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	aggregationWindowDays int,
) *Orchestrator {
	return &Orchestrator{
		services:              services,
		sources:               sources,
		runs:                  runs,
		aggregator:            aggregator,
		collector:             collector,
		logger:                logger,
		aggregationWindowDays: aggregationWindowDays,
	}
}

// SyncAll は有効な全ソースを順次同期する。
// 1ソースの失敗（パニックを含む）は捕捉して失敗件数に数え、残りのソースは
// 継続する。1件以上成功した場合は直近の集計ウィンドウを再計算する。
// 集計の失敗は記録するだけで同期結果には影響させない。
func (o *Orchestrator) SyncAll(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, model.NewSyncInProgressError()
	}
	defer o.running.Store(false)

	started := time.Now().UTC()

	enabled, err := o.enabledSources(ctx)
	if err != nil {
		return nil, err
	}

	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: started,
	}
	details := make([]model.SourceRunDetail, 0, len(o.services))

	for _, svc := range o.services {
		name := svc.SourceName()
		src, ok := enabled[name]
		if !ok {
			o.logger.Info("無効化されたソースをスキップします", slog.String("source", name))
			continue
		}

		syncStarted := time.Now()
		result, err := o.syncOne(ctx, svc)
		o.collector.RecordSyncDuration(name, time.Since(syncStarted))
		if err != nil {
			o.collector.RecordSyncFailure(name)
			o.logger.Error("ソースの同期に失敗しました",
				slog.String("source", name),
				slog.String("error", err.Error()),
			)
			run.FailedCount++
			details = append(details, model.SourceRunDetail{
				Source: name,
				Status: model.RunStatusFailed,
				Error:  err.Error(),
			})
			continue
		}

		o.collector.RecordSyncSuccess(name)
		o.collector.RecordRecordsSynced(name, result.RecordsSynced)
		o.collector.RecordRecordsSkipped(name, result.RecordsSkipped)
		run.SucceededCount++
		run.RecordsSynced += result.RecordsSynced
		details = append(details, model.SourceRunDetail{
			Source:        name,
			Status:        model.RunStatusSuccess,
			RecordsSynced: result.RecordsSynced,
		})

		o.updateLastSyncedAt(ctx, src.ID, name)
	}

	if run.SucceededCount > 0 {
		o.aggregateRecentDays(ctx)
	}

	run.FinishedAt = time.Now().UTC()
	run.Detail = rawJSON(details)
	o.saveRun(ctx, run)

	o.logger.Info("同期パスが完了しました",
		slog.String("trigger", string(trigger)),
		slog.Int("succeeded", run.SucceededCount),
		slog.Int("failed", run.FailedCount),
		slog.Int("records_synced", run.RecordsSynced),
	)
	return run, nil
}

// SyncSource は指定ソースのみを手動同期する。
// 未登録のソース名はエラー。無効化されたソースは警告の上で同期を試みる
// （手動実行では無効化は助言に留まる）。失敗時はソース固有のエラーを返す。
func (o *Orchestrator) SyncSource(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, model.NewSyncInProgressError()
	}
	defer o.running.Store(false)

	var svc Service
	for _, s := range o.services {
		if s.SourceName() == name {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, model.NewSourceNotFoundError(name)
	}

	src, err := o.sources.FindByProviderName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src != nil && !src.IsEnabled {
		o.logger.Warn("無効化されたソースを手動同期します", slog.String("source", name))
	}

	started := time.Now().UTC()
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: started,
	}

	syncStarted := time.Now()
	result, syncErr := o.syncOne(ctx, svc)
	o.collector.RecordSyncDuration(name, time.Since(syncStarted))
	if syncErr != nil {
		o.collector.RecordSyncFailure(name)
		o.logger.Error("ソースの同期に失敗しました",
			slog.String("source", name),
			slog.String("error", syncErr.Error()),
		)
		run.FailedCount = 1
		run.FinishedAt = time.Now().UTC()
		run.Detail = rawJSON([]model.SourceRunDetail{{
			Source: name,
			Status: model.RunStatusFailed,
			Error:  syncErr.Error(),
		}})
		o.saveRun(ctx, run)

		var apiErr *model.APIError
		if errors.As(syncErr, &apiErr) {
			return nil, syncErr
		}
		return nil, model.NewSyncFailedError(name, syncErr.Error())
	}

	o.collector.RecordSyncSuccess(name)
	o.collector.RecordRecordsSynced(name, result.RecordsSynced)
	o.collector.RecordRecordsSkipped(name, result.RecordsSkipped)
	run.SucceededCount = 1
	run.RecordsSynced = result.RecordsSynced
	if src != nil {
		o.updateLastSyncedAt(ctx, src.ID, name)
	}

	o.aggregateRecentDays(ctx)

	run.FinishedAt = time.Now().UTC()
	run.Detail = rawJSON([]model.SourceRunDetail{{
		Source:        name,
		Status:        model.RunStatusSuccess,
		RecordsSynced: result.RecordsSynced,
	}})
	o.saveRun(ctx, run)

	o.logger.Info("同期パスが完了しました",
		slog.String("trigger", string(trigger)),
		slog.String("source", name),
		slog.Int("records_synced", run.RecordsSynced),
	)
	return run, nil
}

// syncOne は1ソースの同期をパニック隔離付きで実行する。
func (o *Orchestrator) syncOne(ctx context.Context, svc Service) (result *model.SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("同期処理がパニックしました",
				slog.String("source", svc.SourceName()),
				slog.String("panic", fmt.Sprintf("%v", r)),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("同期処理がパニックしました: %v", r)
		}
	}()
	return svc.Sync(ctx)
}

// enabledSources は有効なソースをプロバイダー名で引けるようにして返す。
func (o *Orchestrator) enabledSources(ctx context.Context) (map[string]*model.Source, error) {
	list, err := o.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}

	enabled := make(map[string]*model.Source)
	for _, src := range list {
		if src.IsEnabled {
			enabled[src.ProviderName] = src
		}
	}
	return enabled, nil
}

// updateLastSyncedAt は同期成功時刻を記録する。
// 失敗しても同期自体は成功扱いのまま残す。再実行は冪等なため、
// 取得期間が進まないことによる再取得はガードが吸収する。
func (o *Orchestrator) updateLastSyncedAt(ctx context.Context, sourceID, name string) {
	if err := o.sources.UpdateLastSyncedAt(ctx, sourceID, time.Now().UTC()); err != nil {
		o.logger.Error("同期成功時刻の更新に失敗しました",
			slog.String("source", name),
			slog.String("error", err.Error()),
		)
	}
}

// aggregateRecentDays は直近の集計ウィンドウの日次集計を再計算する。
// 計測値は保存済みであり集計は独立して再実行できるため、失敗しても
// 同期結果には影響させない。
func (o *Orchestrator) aggregateRecentDays(ctx context.Context) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -o.aggregationWindowDays)

	days, err := o.aggregator.AggregateDailySummaries(ctx, start, end)
	if err != nil {
		o.collector.RecordAggregationFailure()
		o.logger.Error("日次集計に失敗しました", slog.String("error", err.Error()))
		return
	}
	o.collector.RecordAggregationRun(days)
}

// saveRun は実行記録を保存する。保存失敗は同期結果に影響させない。
func (o *Orchestrator) saveRun(ctx context.Context, run *model.SyncRun) {
	if err := o.runs.Create(ctx, run); err != nil {
		o.logger.Error("同期実行記録の保存に失敗しました", slog.String("error", err.Error()))
	}
}
