package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
	"github.com/hitoshi/vitalsync/internal/picooc"
	"github.com/hitoshi/vitalsync/internal/repository"
)

// picoocClient は同期サービスが利用するPicooc APIクライアントの操作。
type picoocClient interface {
	Login(ctx context.Context, username, password string) error
	BodyIndexList(ctx context.Context, since time.Time) ([]picooc.BodyRecord, error)
}

// PicoocConfig はPicooc同期サービスの設定。
type PicoocConfig struct {
	Username     string
	Password     string
	BaseURL      string
	Overlap      time.Duration
	LookbackDays int
	FetchTimeout time.Duration
	FetchMaxSize int64
}

// PicoocService はPicooc体組成計の計測値を同期する。
// 計測値には実測のタイムスタンプが付くため、日付粒度のソースと異なり
// 同日複数回の計測がそれぞれ保存される。
type PicoocService struct {
	cfg       PicoocConfig
	sources   repository.SourceRepository
	recorder  *Recorder
	ssrfGuard SSRFValidator
	logger    *slog.Logger

	// テストから差し替えるためのクライアント生成フック
	newClient func() picoocClient
}

// インターフェース実装の確認
var _ Service = (*PicoocService)(nil)

// NewPicoocService はPicoocServiceの新しいインスタンスを生成する。
func NewPicoocService(
	cfg PicoocConfig,
	sources repository.SourceRepository,
	recorder *Recorder,
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
) *PicoocService {
	s := &PicoocService{
		cfg:       cfg,
		sources:   sources,
		recorder:  recorder,
		ssrfGuard: ssrfGuard,
		logger:    logger,
	}
	s.newClient = func() picoocClient {
		httpClient := s.ssrfGuard.NewSafeClient(s.cfg.FetchTimeout, s.cfg.FetchMaxSize)
		return picooc.NewClient(httpClient, s.logger, s.cfg.BaseURL)
	}
	return s
}

// SourceName はプロバイダー名を返す。
func (s *PicoocService) SourceName() string {
	return model.ProviderPicooc
}

// Sync はPicoocにログインし、取得期間内の体組成計測値を保存する。
func (s *PicoocService) Sync(ctx context.Context) (*model.SyncResult, error) {
	started := time.Now().UTC()

	if s.cfg.Username == "" || s.cfg.Password == "" {
		return nil, model.NewMissingCredentialError(model.ProviderPicooc)
	}

	src, err := s.sources.FindByProviderName(ctx, model.ProviderPicooc)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("ソースが登録されていません: %s", model.ProviderPicooc)
	}

	if err := s.ssrfGuard.ValidateURL(s.cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("ベースURLの検証に失敗しました: %w", err)
	}

	w := computeWindow(src.LastSyncedAt, started, s.cfg.Overlap, s.cfg.LookbackDays)

	client := s.newClient()
	if err := client.Login(ctx, s.cfg.Username, s.cfg.Password); err != nil {
		return nil, err
	}

	records, err := client.BodyIndexList(ctx, w.Start)
	if err != nil {
		return nil, err
	}

	run, err := s.recorder.NewRun(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	var t tally
	for _, rec := range records {
		t.fetched++
		if err := s.recordBody(ctx, run, rec, &t); err != nil {
			return nil, err
		}
	}

	finished := time.Now().UTC()
	s.logger.Info("Picoocの同期が完了しました",
		slog.Int("fetched", t.fetched),
		slog.Int("synced", t.synced),
		slog.Int("skipped", t.skipped),
	)
	return t.result(model.ProviderPicooc, started, finished), nil
}

// recordBody は1回の計測を8項目の計測値に展開して保存する。
// 体組成計はインピーダンス計測に失敗した項目を0で返すため、0は未計測として
// スキップする。
func (s *PicoocService) recordBody(ctx context.Context, run *RunRecorder, rec picooc.BodyRecord, t *tally) error {
	raw := rawJSON(struct {
		MeasuredAt      string  `json:"measured_at"`
		Weight          float64 `json:"weight"`
		BMI             float64 `json:"bmi"`
		BodyFat         float64 `json:"body_fat"`
		BodyWater       float64 `json:"body_water"`
		BoneMass        float64 `json:"bone_mass"`
		SkeletalMuscle  float64 `json:"skeletal_muscle"`
		VisceralFat     int     `json:"visceral_fat"`
		BasalMetabolism int     `json:"basal_metabolism"`
	}{
		rec.MeasuredAt.UTC().Format(time.RFC3339),
		rec.Weight,
		rec.BMI,
		rec.BodyFat,
		rec.BodyWater,
		rec.BoneMass,
		rec.SkeletalMuscle,
		rec.VisceralFat,
		rec.BasalMetabolism,
	})

	all := []field{
		{model.MetricWeight, rec.Weight},
		{model.MetricBMI, rec.BMI},
		{model.MetricBodyFat, rec.BodyFat},
		{model.MetricBodyWater, rec.BodyWater},
		{model.MetricBoneMass, rec.BoneMass},
		{model.MetricMuscleMass, rec.SkeletalMuscle},
		{model.MetricVisceralFat, float64(rec.VisceralFat)},
		{model.MetricBasalMetabolism, float64(rec.BasalMetabolism)},
	}

	fields := make([]field, 0, len(all))
	for _, f := range all {
		if f.value == 0 {
			t.skipped++
			continue
		}
		fields = append(fields, f)
	}

	return recordFields(ctx, run, rec.MeasuredAt, raw, fields, t)
}
