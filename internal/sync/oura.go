package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
	"github.com/hitoshi/vitalsync/internal/oura"
	"github.com/hitoshi/vitalsync/internal/repository"
)

// ouraClient は同期サービスが利用するOura APIクライアントの操作。
type ouraClient interface {
	GetDailySleep(ctx context.Context, start, end time.Time) ([]oura.DailySleep, error)
	GetDailyActivity(ctx context.Context, start, end time.Time) ([]oura.DailyActivity, error)
	GetDailyStress(ctx context.Context, start, end time.Time) ([]oura.DailyStress, error)
	GetDailyResilience(ctx context.Context, start, end time.Time) ([]oura.DailyResilience, error)
}

// stressCodes はストレス日次サマリーの文字列から保存用コードへの符号化表。
// 復号は集計側のデコード表が行い、両者は同じ順序付けを共有する。
var stressCodes = map[string]float64{
	"restored":  0,
	"normal":    1,
	"stressful": 2,
}

// resilienceCodes はレジリエンスレベルの符号化表。
var resilienceCodes = map[string]float64{
	"limited":     0,
	"adequate":    1,
	"solid":       2,
	"strong":      3,
	"exceptional": 4,
}

// OuraConfig はOura同期サービスの設定。
type OuraConfig struct {
	AccessToken  string
	BaseURL      string
	Overlap      time.Duration
	LookbackDays int
	FetchTimeout time.Duration
	FetchMaxSize int64
}

// OuraService はOuraリングの日次サマリーAPIを同期する。
// 睡眠・活動・ストレス・レジリエンスの4コレクションを取得し、
// 文字列区分は整数コードに符号化して保存する。
type OuraService struct {
	cfg       OuraConfig
	sources   repository.SourceRepository
	recorder  *Recorder
	ssrfGuard SSRFValidator
	logger    *slog.Logger

	// テストから差し替えるためのクライアント生成フック
	newClient func() ouraClient
}

// インターフェース実装の確認
var _ Service = (*OuraService)(nil)

// NewOuraService はOuraServiceの新しいインスタンスを生成する。
func NewOuraService(
	cfg OuraConfig,
	sources repository.SourceRepository,
	recorder *Recorder,
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
) *OuraService {
	s := &OuraService{
		cfg:       cfg,
		sources:   sources,
		recorder:  recorder,
		ssrfGuard: ssrfGuard,
		logger:    logger,
	}
	s.newClient = func() ouraClient {
		httpClient := s.ssrfGuard.NewSafeClient(s.cfg.FetchTimeout, s.cfg.FetchMaxSize)
		return oura.NewClient(httpClient, s.logger, s.cfg.BaseURL, s.cfg.AccessToken)
	}
	return s
}

// SourceName はプロバイダー名を返す。
func (s *OuraService) SourceName() string {
	return model.ProviderOura
}

// Sync はOuraから指定期間の日次サマリーを取得し計測値として保存する。
func (s *OuraService) Sync(ctx context.Context) (*model.SyncResult, error) {
	started := time.Now().UTC()

	if s.cfg.AccessToken == "" {
		return nil, model.NewMissingCredentialError(model.ProviderOura)
	}

	src, err := s.sources.FindByProviderName(ctx, model.ProviderOura)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("ソースが登録されていません: %s", model.ProviderOura)
	}

	if err := s.ssrfGuard.ValidateURL(s.cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("ベースURLの検証に失敗しました: %w", err)
	}

	w := computeWindow(src.LastSyncedAt, started, s.cfg.Overlap, s.cfg.LookbackDays)

	client := s.newClient()

	run, err := s.recorder.NewRun(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	var t tally
	if err := s.syncSleep(ctx, client, run, w, &t); err != nil {
		return nil, err
	}
	if err := s.syncActivity(ctx, client, run, w, &t); err != nil {
		return nil, err
	}
	if err := s.syncStress(ctx, client, run, w, &t); err != nil {
		return nil, err
	}
	if err := s.syncResilience(ctx, client, run, w, &t); err != nil {
		return nil, err
	}

	finished := time.Now().UTC()
	s.logger.Info("Ouraの同期が完了しました",
		slog.Int("fetched", t.fetched),
		slog.Int("synced", t.synced),
		slog.Int("skipped", t.skipped),
	)
	return t.result(model.ProviderOura, started, finished), nil
}

// syncSleep は日次睡眠サマリーを保存する。
// 睡眠時間はAPIが秒で返すため、辞書の単位（時間）に変換する。
func (s *OuraService) syncSleep(ctx context.Context, client ouraClient, run *RunRecorder, w Window, t *tally) error {
	items, err := client.GetDailySleep(ctx, w.Start, w.End)
	if err != nil {
		return err
	}

	for _, item := range items {
		t.fetched++
		day, ok := s.parseDay(item.Day, "daily_sleep")
		if !ok {
			t.skipped++
			continue
		}

		raw := rawJSON(item)
		fields := make([]field, 0, 4)
		if item.Score != nil {
			fields = append(fields, field{model.MetricSleepScore, float64(*item.Score)})
		}
		if item.TotalSleepDuration != nil {
			fields = append(fields, field{model.MetricSleepDuration, float64(*item.TotalSleepDuration) / 3600})
		}
		if item.RestingHeartRate != nil {
			fields = append(fields, field{model.MetricRestingHeartRate, *item.RestingHeartRate})
		}
		if item.HeartRateVariability != nil {
			fields = append(fields, field{model.MetricHeartRateVariability, *item.HeartRateVariability})
		}

		if err := recordFields(ctx, run, day, raw, fields, t); err != nil {
			return err
		}
	}
	return nil
}

// syncActivity は日次活動サマリーを保存する。
func (s *OuraService) syncActivity(ctx context.Context, client ouraClient, run *RunRecorder, w Window, t *tally) error {
	items, err := client.GetDailyActivity(ctx, w.Start, w.End)
	if err != nil {
		return err
	}

	for _, item := range items {
		t.fetched++
		day, ok := s.parseDay(item.Day, "daily_activity")
		if !ok {
			t.skipped++
			continue
		}

		raw := rawJSON(item)
		fields := make([]field, 0, 2)
		if item.Steps != nil {
			fields = append(fields, field{model.MetricSteps, float64(*item.Steps)})
		}
		if item.ActiveCalories != nil {
			fields = append(fields, field{model.MetricActivityCalories, *item.ActiveCalories})
		}

		if err := recordFields(ctx, run, day, raw, fields, t); err != nil {
			return err
		}
	}
	return nil
}

// syncStress は日次ストレスサマリーを符号化して保存する。
// 符号化表にない区分は警告してスキップする。
func (s *OuraService) syncStress(ctx context.Context, client ouraClient, run *RunRecorder, w Window, t *tally) error {
	items, err := client.GetDailyStress(ctx, w.Start, w.End)
	if err != nil {
		return err
	}

	for _, item := range items {
		t.fetched++
		day, ok := s.parseDay(item.Day, "daily_stress")
		if !ok {
			t.skipped++
			continue
		}
		if item.DaySummary == nil {
			t.skipped++
			continue
		}

		code, ok := stressCodes[*item.DaySummary]
		if !ok {
			s.logger.Warn("未知のストレス区分をスキップしました",
				slog.String("day", item.Day),
				slog.String("day_summary", *item.DaySummary),
			)
			t.skipped++
			continue
		}

		if err := recordFields(ctx, run, day, rawJSON(item), []field{{model.MetricStressLevel, code}}, t); err != nil {
			return err
		}
	}
	return nil
}

// syncResilience は日次レジリエンスサマリーを符号化して保存する。
func (s *OuraService) syncResilience(ctx context.Context, client ouraClient, run *RunRecorder, w Window, t *tally) error {
	items, err := client.GetDailyResilience(ctx, w.Start, w.End)
	if err != nil {
		return err
	}

	for _, item := range items {
		t.fetched++
		day, ok := s.parseDay(item.Day, "daily_resilience")
		if !ok {
			t.skipped++
			continue
		}
		if item.Level == nil {
			t.skipped++
			continue
		}

		code, ok := resilienceCodes[*item.Level]
		if !ok {
			s.logger.Warn("未知のレジリエンスレベルをスキップしました",
				slog.String("day", item.Day),
				slog.String("level", *item.Level),
			)
			t.skipped++
			continue
		}

		if err := recordFields(ctx, run, day, rawJSON(item), []field{{model.MetricResilienceLevel, code}}, t); err != nil {
			return err
		}
	}
	return nil
}

// parseDay はコレクションの日付文字列をUTC日付に解釈する。
// 解釈できないレコードは警告してスキップ対象とする。
func (s *OuraService) parseDay(day, collection string) (time.Time, bool) {
	d, err := time.ParseInLocation(dayLayout, day, time.UTC)
	if err != nil {
		s.logger.Warn("日付を解釈できないレコードをスキップしました",
			slog.String("collection", collection),
			slog.String("day", day),
		)
		return time.Time{}, false
	}
	return d, true
}
