package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vitalsync/internal/model"
	"github.com/hitoshi/vitalsync/internal/repository"
)

// RecordOutcome はRecordの処理結果の分類。
type RecordOutcome int

const (
	// RecordInserted は新規に保存されたことを表す。
	RecordInserted RecordOutcome = iota
	// RecordSkippedUnmapped はメトリクス辞書に対応する種別がなく
	// スキップされたことを表す。
	RecordSkippedUnmapped
	// RecordSkippedOutOfRange は許容範囲外の値としてスキップされたことを表す。
	RecordSkippedOutOfRange
	// RecordSkippedDuplicate は既存の計測値と重複するためスキップされたことを表す。
	RecordSkippedDuplicate
)

// Recorder はパース済みレコードを計測値として保存する。
// 各同期サービスはNewRunで実行単位のRunRecorderを作り、そこへレコードを流し込む。
type Recorder struct {
	metricTypes  repository.MetricTypeRepository
	measurements repository.MeasurementRepository
	logger       *slog.Logger
}

// NewRecorder はRecorderの新しいインスタンスを生成する。
func NewRecorder(
	metricTypes repository.MetricTypeRepository,
	measurements repository.MeasurementRepository,
	logger *slog.Logger,
) *Recorder {
	return &Recorder{
		metricTypes:  metricTypes,
		measurements: measurements,
		logger:       logger,
	}
}

// RunRecorder は1回の同期実行に束ねられた保存処理。
// メトリクス辞書はNewRunで1回だけ読み込み、以降は名前でO(1)参照する。
type RunRecorder struct {
	recorder *Recorder
	sourceID string
	dict     map[string]*model.MetricType
	guard    *Guard
}

// NewRun は同期実行1回分のRunRecorderを生成する。
func (r *Recorder) NewRun(ctx context.Context, sourceID string) (*RunRecorder, error) {
	types, err := r.metricTypes.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("メトリクス辞書の読み込みに失敗しました: %w", err)
	}

	dict := make(map[string]*model.MetricType, len(types))
	for _, mt := range types {
		dict[mt.Name] = mt
	}

	return &RunRecorder{
		recorder: r,
		sourceID: sourceID,
		dict:     dict,
		guard:    NewGuard(r.measurements),
	}, nil
}

// Record はパース済みレコードを1件保存する。
// 辞書に対応のないメトリクス・許容範囲外・重複は正常なスキップとして
// 区別して返し、永続化の失敗のみエラーとする。
func (run *RunRecorder) Record(ctx context.Context, rec model.ParsedRecord) (RecordOutcome, error) {
	mt, ok := run.dict[rec.MetricName]
	if !ok {
		// 対応しないフィールドは互換性ポリシーとして黙ってスキップする
		return RecordSkippedUnmapped, nil
	}

	if !mt.InRange(rec.Value) {
		run.recorder.logger.Warn("許容範囲外の計測値をスキップしました",
			slog.String("metric", rec.MetricName),
			slog.Float64("value", rec.Value),
		)
		return RecordSkippedOutOfRange, nil
	}

	measuredAt := rec.MeasuredAt.UTC()

	dup, err := run.guard.IsDuplicate(ctx, mt.ID, run.sourceID, measuredAt)
	if err != nil {
		return RecordSkippedDuplicate, err
	}
	if dup {
		run.guard.MarkProcessed(mt.ID, run.sourceID, measuredAt)
		return RecordSkippedDuplicate, nil
	}

	m := &model.Measurement{
		ID:           uuid.New().String(),
		MetricTypeID: mt.ID,
		SourceID:     run.sourceID,
		Value:        rec.Value,
		MeasuredAt:   measuredAt,
		RawData:      rec.RawData,
		CreatedAt:    time.Now().UTC(),
	}

	if err := run.recorder.measurements.Insert(ctx, m); err != nil {
		if errors.Is(err, model.ErrDuplicateMeasurement) {
			// 一意制約が正。並行実行との競合はここで正常な重複として吸収する
			run.guard.MarkProcessed(mt.ID, run.sourceID, measuredAt)
			return RecordSkippedDuplicate, nil
		}
		return RecordSkippedDuplicate, fmt.Errorf("計測値の保存に失敗しました: %w", err)
	}

	run.guard.MarkProcessed(mt.ID, run.sourceID, measuredAt)
	return RecordInserted, nil
}
