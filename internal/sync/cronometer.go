package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/vitalsync/internal/cronometer"
	"github.com/hitoshi/vitalsync/internal/model"
	"github.com/hitoshi/vitalsync/internal/repository"
	"github.com/hitoshi/vitalsync/internal/security"
)

// dayLayout は日付粒度の計測値に使う日付形式。
const dayLayout = "2006-01-02"

// logoutTimeout はセッション後始末の猶予時間。
// 同期が取り消された場合でもこの時間内でログアウトを試みる。
const logoutTimeout = 10 * time.Second

// cronometerClient は同期サービスが利用するプロトコルクライアントの操作。
type cronometerClient interface {
	ObtainAntiForgeryToken(ctx context.Context) (string, error)
	Login(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context) (int, error)
	GenerateAuthorizationToken(ctx context.Context) (string, error)
	Export(ctx context.Context, kind cronometer.ExportKind, start, end time.Time) (string, error)
	Logout(ctx context.Context) error
}

// biometricMetrics はbiometricsエクスポートのラベルからメトリクス名への対応。
// ラベルはサニタイズ・小文字化・前後空白除去の上で引く。
// 対応表にないラベルは互換性ポリシーとしてスキップされる。
var biometricMetrics = map[string]string{
	"weight":                 model.MetricWeight,
	"body weight":            model.MetricWeight,
	"body fat":               model.MetricBodyFat,
	"body fat percentage":    model.MetricBodyFat,
	"heart rate":             model.MetricRestingHeartRate,
	"resting heart rate":     model.MetricRestingHeartRate,
	"heart rate variability": model.MetricHeartRateVariability,
}

// biometricUnits はメトリクスごとに受け付ける単位。
// 単位列が空の行は常に許容する。
var biometricUnits = map[string][]string{
	model.MetricWeight:               {"kg", "kilograms"},
	model.MetricBodyFat:              {"%", "percent"},
	model.MetricRestingHeartRate:     {"bpm"},
	model.MetricHeartRateVariability: {"ms"},
}

// CronometerConfig はCronometer同期サービスの設定。
type CronometerConfig struct {
	Username       string
	Password       string
	BaseURL        string
	Overlap        time.Duration
	LookbackDays   int
	FetchTimeout   time.Duration
	FetchMaxSize   int64
	ExportInterval time.Duration
}

// CronometerService はCronometerのCSVエクスポートを同期する。
// 実行ごとに新しいプロトコルクライアントを生成し、CSRF取得→ログイン→
// 認証→トークン発行→5種のエクスポート取得→ログアウトの順で実行する。
type CronometerService struct {
	cfg       CronometerConfig
	sources   repository.SourceRepository
	recorder  *Recorder
	ssrfGuard SSRFValidator
	sanitizer security.ContentSanitizerService
	reader    *cronometer.Reader
	logger    *slog.Logger

	// テストから差し替えるためのクライアント生成フック
	newClient func() cronometerClient
}

// インターフェース実装の確認
var _ Service = (*CronometerService)(nil)

// NewCronometerService はCronometerServiceの新しいインスタンスを生成する。
func NewCronometerService(
	cfg CronometerConfig,
	sources repository.SourceRepository,
	recorder *Recorder,
	ssrfGuard SSRFValidator,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
) *CronometerService {
	s := &CronometerService{
		cfg:       cfg,
		sources:   sources,
		recorder:  recorder,
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		reader:    cronometer.NewReader(logger),
		logger:    logger,
	}
	s.newClient = func() cronometerClient {
		httpClient := s.ssrfGuard.NewSafeClient(s.cfg.FetchTimeout, s.cfg.FetchMaxSize)
		return cronometer.NewClient(httpClient, s.logger, s.cfg.BaseURL, s.cfg.ExportInterval)
	}
	return s
}

// SourceName はプロバイダー名を返す。
func (s *CronometerService) SourceName() string {
	return model.ProviderCronometer
}

// Sync はCronometerから指定期間のエクスポートを取得し計測値として保存する。
// セッションは取り消しを含む全ての終了経路でログアウトにより後始末される。
func (s *CronometerService) Sync(ctx context.Context) (*model.SyncResult, error) {
	started := time.Now().UTC()

	if s.cfg.Username == "" || s.cfg.Password == "" {
		return nil, model.NewMissingCredentialError(model.ProviderCronometer)
	}

	src, err := s.sources.FindByProviderName(ctx, model.ProviderCronometer)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("ソースが登録されていません: %s", model.ProviderCronometer)
	}

	if err := s.ssrfGuard.ValidateURL(s.cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("ベースURLの検証に失敗しました: %w", err)
	}

	w := computeWindow(src.LastSyncedAt, started, s.cfg.Overlap, s.cfg.LookbackDays)

	client := s.newClient()

	if _, err := client.ObtainAntiForgeryToken(ctx); err != nil {
		return nil, err
	}
	if err := client.Login(ctx, s.cfg.Username, s.cfg.Password); err != nil {
		return nil, err
	}
	defer func() {
		// 取り消し後でもセッションを閉じるため、独立したコンテキストで実行する。
		// 失敗時の警告はクライアント側が記録する。
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()
		_ = client.Logout(logoutCtx)
	}()
	if _, err := client.Authenticate(ctx); err != nil {
		return nil, err
	}
	if _, err := client.GenerateAuthorizationToken(ctx); err != nil {
		return nil, err
	}

	run, err := s.recorder.NewRun(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	// 1種別の取得失敗は残りの種別の取得を妨げない。失敗があった場合は
	// 全種別を試みた後に同期自体を失敗として返す。同期成功時刻が進まない
	// ため、次回の取得期間が失敗分を再カバーする。
	var t tally
	var exportErr error
	for _, kind := range cronometer.AllExportKinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := client.Export(ctx, kind, w.Start, w.End)
		if err != nil {
			s.logger.Error("エクスポートの取得に失敗しました",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			if exportErr == nil {
				exportErr = err
			}
			continue
		}

		if err := s.recordExport(ctx, run, kind, body, &t); err != nil {
			return nil, err
		}
	}
	if exportErr != nil {
		return nil, fmt.Errorf("エクスポートの取得に失敗しました: %w", exportErr)
	}

	finished := time.Now().UTC()
	s.logger.Info("Cronometerの同期が完了しました",
		slog.Int("fetched", t.fetched),
		slog.Int("synced", t.synced),
		slog.Int("skipped", t.skipped),
	)
	return t.result(model.ProviderCronometer, started, finished), nil
}

// recordExport は取得済みエクスポートを種別ごとの対応付けで保存する。
// 解析や永続化の失敗はその場で同期を中断させる。
func (s *CronometerService) recordExport(
	ctx context.Context,
	run *RunRecorder,
	kind cronometer.ExportKind,
	body string,
	t *tally,
) error {
	switch kind {
	case cronometer.ExportDailySummary:
		return s.recordNutrition(ctx, run, body, t)
	case cronometer.ExportServings:
		return s.recordServings(body, t)
	case cronometer.ExportExercises:
		return s.recordExercises(ctx, run, body, t)
	case cronometer.ExportBiometrics:
		return s.recordBiometrics(ctx, run, body, t)
	case cronometer.ExportNotes:
		return s.recordNotes(body, t)
	}
	return nil
}

// recordNutrition は日次栄養サマリーを保存する。
// 行内の栄養素は正規化済みメトリクス名で渡され、辞書にない名前はスキップされる。
func (s *CronometerService) recordNutrition(ctx context.Context, run *RunRecorder, body string, t *tally) error {
	rows, err := s.reader.ParseDailyNutrition(body)
	if err != nil {
		return err
	}

	for _, row := range rows {
		t.fetched++
		raw := rawJSON(struct {
			Day       string             `json:"day"`
			Nutrients map[string]float64 `json:"nutrients"`
		}{row.Day.Format(dayLayout), row.Nutrients})

		for name, value := range row.Nutrients {
			outcome, err := run.Record(ctx, model.ParsedRecord{
				MetricName: name,
				Value:      value,
				MeasuredAt: row.Day,
				RawData:    raw,
			})
			if err != nil {
				return err
			}
			t.add(outcome)
		}
	}
	return nil
}

// recordServings は食事記録を処理する。個々の食事は対応するメトリクスを
// 持たないため全件スキップする。栄養素の合計はdailySummary側から保存される。
func (s *CronometerService) recordServings(body string, t *tally) error {
	rows, err := s.reader.ParseServings(body)
	if err != nil {
		return err
	}

	for range rows {
		t.fetched++
		t.skipped++
	}
	return nil
}

// recordExercises は運動記録を日単位に合算して保存する。
// エクスポートの時刻が日付粒度のため、個々の運動をそのまま保存すると
// 同一の三つ組で衝突する。
func (s *CronometerService) recordExercises(ctx context.Context, run *RunRecorder, body string, t *tally) error {
	rows, err := s.reader.ParseExercises(body)
	if err != nil {
		return err
	}

	type dayTotal struct {
		minutes     float64
		calories    float64
		hasMinutes  bool
		hasCalories bool
		names       []string
	}
	totals := make(map[time.Time]*dayTotal)
	var order []time.Time // 出現順を保って決定的に処理する

	for _, row := range rows {
		t.fetched++
		dt, ok := totals[row.Day]
		if !ok {
			dt = &dayTotal{}
			totals[row.Day] = dt
			order = append(order, row.Day)
		}
		if row.Minutes != nil {
			dt.minutes += *row.Minutes
			dt.hasMinutes = true
		}
		if row.CaloriesBurned != nil {
			dt.calories += *row.CaloriesBurned
			dt.hasCalories = true
		}
		if name := s.sanitizer.Sanitize(row.Name); name != "" {
			dt.names = append(dt.names, name)
		}
	}

	for _, day := range order {
		dt := totals[day]
		raw := rawJSON(struct {
			Day            string   `json:"day"`
			Exercises      []string `json:"exercises"`
			Minutes        float64  `json:"minutes"`
			CaloriesBurned float64  `json:"calories_burned"`
		}{day.Format(dayLayout), dt.names, dt.minutes, dt.calories})

		if dt.hasMinutes {
			outcome, err := run.Record(ctx, model.ParsedRecord{
				MetricName: model.MetricExerciseMinutes,
				Value:      dt.minutes,
				MeasuredAt: day,
				RawData:    raw,
			})
			if err != nil {
				return err
			}
			t.add(outcome)
		}
		if dt.hasCalories {
			outcome, err := run.Record(ctx, model.ParsedRecord{
				MetricName: model.MetricExerciseEnergy,
				Value:      dt.calories,
				MeasuredAt: day,
				RawData:    raw,
			})
			if err != nil {
				return err
			}
			t.add(outcome)
		}
	}
	return nil
}

// recordBiometrics は生体記録を保存する。ラベルと単位は対応表で検証し、
// 同日複数回の記録は日付粒度のため最初の1件のみが保存される。
func (s *CronometerService) recordBiometrics(ctx context.Context, run *RunRecorder, body string, t *tally) error {
	rows, err := s.reader.ParseBiometrics(body)
	if err != nil {
		return err
	}

	for _, row := range rows {
		t.fetched++

		label := strings.ToLower(strings.TrimSpace(s.sanitizer.Sanitize(row.Metric)))
		name, ok := biometricMetrics[label]
		if !ok {
			t.skipped++
			continue
		}
		if !acceptsUnit(name, row.Unit) {
			s.logger.Warn("未対応の単位のバイオメトリクスをスキップしました",
				slog.String("metric", row.Metric),
				slog.String("unit", row.Unit),
			)
			t.skipped++
			continue
		}

		raw := rawJSON(struct {
			Day    string  `json:"day"`
			Metric string  `json:"metric"`
			Unit   string  `json:"unit"`
			Amount float64 `json:"amount"`
		}{row.Day.Format(dayLayout), s.sanitizer.Sanitize(row.Metric), row.Unit, row.Amount})

		outcome, err := run.Record(ctx, model.ParsedRecord{
			MetricName: name,
			Value:      row.Amount,
			MeasuredAt: row.Day,
			RawData:    raw,
		})
		if err != nil {
			return err
		}
		t.add(outcome)
	}
	return nil
}

// recordNotes はメモを処理する。メモは自由記述でありメトリクスを持たないため、
// 件数のみ数えて全件スキップする。
func (s *CronometerService) recordNotes(body string, t *tally) error {
	rows, err := s.reader.ParseNotes(body)
	if err != nil {
		return err
	}

	for range rows {
		t.fetched++
		t.skipped++
	}
	return nil
}

// acceptsUnit はメトリクスが受け付ける単位かを判定する。
func acceptsUnit(metricName, unit string) bool {
	if unit == "" {
		return true
	}
	accepted, ok := biometricUnits[metricName]
	if !ok {
		return true
	}
	normalized := strings.ToLower(strings.TrimSpace(unit))
	for _, a := range accepted {
		if normalized == a {
			return true
		}
	}
	return false
}
