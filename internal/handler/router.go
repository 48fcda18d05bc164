package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/vitalsync/internal/metrics"
	"github.com/hitoshi/vitalsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 同期トリガーと実行履歴
	SyncRunner    SyncRunnerInterface
	SyncRunLister SyncRunListerInterface

	// 日次サマリー照会
	SummaryReader SummaryReaderInterface

	// Prometheusメトリクス公開
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → LoggingMiddleware → RecoveryMiddleware → SecurityHeadersMiddleware
//	→ RateLimitMiddleware(GeneralMiddleware)
//
// ヘルスチェック（/health）とメトリクス公開（/metrics）はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// リバースプロキシ背後でもクライアント単位のレート制限が機能するよう、
	// RemoteAddrをX-Forwarded-For等から復元する
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	syncHandler := NewSyncHandler(deps.SyncRunner, deps.SyncRunLister)
	summaryHandler := NewSummaryHandler(deps.SummaryReader)

	// --- レート制限の外のルート ---

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- レート制限の対象のルート ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 同期トリガーと実行履歴
		r.Route("/api/sync", func(r chi.Router) {
			// 手動同期はスクレイピング先への負荷になるため専用レート制限を追加
			r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/", syncHandler.TriggerSyncAll)
			r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/{source}", syncHandler.TriggerSyncSource)

			r.Get("/runs", syncHandler.ListRuns)
		})

		// 日次サマリー照会
		r.Route("/api/summaries", func(r chi.Router) {
			r.Get("/", summaryHandler.ListSummaries)
			r.Get("/{date}", summaryHandler.GetSummary)
		})
	})

	return r
}

// handleHealth はliveness確認用のヘルスチェックレスポンスを返す。
// GET /health
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
