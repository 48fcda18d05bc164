package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/vitalsync/internal/aggregate"
	"github.com/hitoshi/vitalsync/internal/config"
	"github.com/hitoshi/vitalsync/internal/database"
	"github.com/hitoshi/vitalsync/internal/handler"
	"github.com/hitoshi/vitalsync/internal/logger"
	"github.com/hitoshi/vitalsync/internal/metrics"
	"github.com/hitoshi/vitalsync/internal/middleware"
	"github.com/hitoshi/vitalsync/internal/repository"
	"github.com/hitoshi/vitalsync/internal/security"
	syncpkg "github.com/hitoshi/vitalsync/internal/sync"
	"github.com/hitoshi/vitalsync/internal/worker/cleanup"
	"github.com/hitoshi/vitalsync/internal/worker/syncjob"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// pipeline は同期パイプラインの組み立て結果。
// オーケストレーターと、APIおよびワーカーが直接利用するリポジトリを保持する。
type pipeline struct {
	orchestrator *syncpkg.Orchestrator
	runs         *repository.PostgresSyncRunRepo
	summaries    *repository.PostgresDailySummaryRepo
}

// buildPipeline はリポジトリから同期オーケストレーターまでの依存関係を
// ワイヤリングする。serveとworkerの両モードが同じ構成を共有する。
func buildPipeline(cfg *config.Config, db *sql.DB, reg prometheus.Registerer) *pipeline {
	log := slog.Default()

	// 1. リポジトリの初期化
	sourceRepo := repository.NewPostgresSourceRepo(db)
	metricTypeRepo := repository.NewPostgresMetricTypeRepo(db)
	measurementRepo := repository.NewPostgresMeasurementRepo(db)
	summaryRepo := repository.NewPostgresDailySummaryRepo(db)
	runRepo := repository.NewPostgresSyncRunRepo(db)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 3. 同期サービスの初期化
	recorder := syncpkg.NewRecorder(metricTypeRepo, measurementRepo, log)

	cronometerSvc := syncpkg.NewCronometerService(syncpkg.CronometerConfig{
		Username:       cfg.CronometerUsername,
		Password:       cfg.CronometerPassword,
		BaseURL:        cfg.CronometerBaseURL,
		Overlap:        cfg.SyncOverlap,
		LookbackDays:   cfg.FirstSyncLookbackDays,
		FetchTimeout:   cfg.FetchTimeout,
		FetchMaxSize:   cfg.FetchMaxSize,
		ExportInterval: cfg.ExportInterval,
	}, sourceRepo, recorder, ssrfGuard, sanitizer, log)

	ouraSvc := syncpkg.NewOuraService(syncpkg.OuraConfig{
		AccessToken:  cfg.OuraAccessToken,
		BaseURL:      cfg.OuraBaseURL,
		Overlap:      cfg.SyncOverlap,
		LookbackDays: cfg.FirstSyncLookbackDays,
		FetchTimeout: cfg.FetchTimeout,
		FetchMaxSize: cfg.FetchMaxSize,
	}, sourceRepo, recorder, ssrfGuard, log)

	picoocSvc := syncpkg.NewPicoocService(syncpkg.PicoocConfig{
		Username:     cfg.PicoocUsername,
		Password:     cfg.PicoocPassword,
		BaseURL:      cfg.PicoocBaseURL,
		Overlap:      cfg.SyncOverlap,
		LookbackDays: cfg.FirstSyncLookbackDays,
		FetchTimeout: cfg.FetchTimeout,
		FetchMaxSize: cfg.FetchMaxSize,
	}, sourceRepo, recorder, ssrfGuard, log)

	// 4. 集計エンジンとオーケストレーターの初期化
	engine := aggregate.NewEngine(metricTypeRepo, measurementRepo, summaryRepo, log)
	collector := metrics.NewCollector(reg)

	orchestrator := syncpkg.NewOrchestrator(
		[]syncpkg.Service{cronometerSvc, ouraSvc, picoocSvc},
		sourceRepo, runRepo, engine, collector, log,
		cfg.AggregationWindowDays,
	)

	return &pipeline{
		orchestrator: orchestrator,
		runs:         runRepo,
		summaries:    summaryRepo,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 同期パイプラインの組み立て
	registry := prometheus.NewRegistry()
	p := buildPipeline(cfg, db, registry)

	// 3. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSync)),

		SyncRunner:    p.orchestrator,
		SyncRunLister: p.runs,
		SummaryReader: p.summaries,

		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、同期スケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
// 手動同期は別プロセスのAPIサーバーが処理するため、このモードは
// 定期実行のみを担う。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 同期パイプラインの組み立て
	// ワーカーはメトリクスを公開しないが、オーケストレーターの計装は
	// 共通のため専用レジストリに記録だけ行う。
	registry := prometheus.NewRegistry()
	p := buildPipeline(cfg, db, registry)

	// 3. スケジューラの初期化
	scheduler := syncjob.NewScheduler(p.orchestrator, slog.Default(), cfg.SyncTimeout)

	// 4. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(p.runs, slog.Default())
	if cfg.RunRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.RunRetentionDays
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Duration("sync_timeout", cfg.SyncTimeout),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// クリーンアップジョブを定期でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Int("version", int(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
