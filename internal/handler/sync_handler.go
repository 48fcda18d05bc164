// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/vitalsync/internal/middleware"
	"github.com/hitoshi/vitalsync/internal/model"
)

// defaultRunsLimit は同期実行履歴の1回の取得件数（デフォルト）。
const defaultRunsLimit = 20

// maxRunsLimit は同期実行履歴の1回の取得件数の上限。
const maxRunsLimit = 100

// SyncRunnerInterface は同期ハンドラーが必要とするオーケストレーターのインターフェース。
type SyncRunnerInterface interface {
	// SyncAll は有効な全ソースを順次同期し、実行記録を返す。
	SyncAll(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error)
	// SyncSource は指定ソースのみを同期し、実行記録を返す。
	SyncSource(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error)
}

// SyncRunListerInterface は同期実行履歴の取得インターフェース。
type SyncRunListerInterface interface {
	// ListRecent は実行記録をstarted_at降順で最大limit件返す。
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
}

// SyncHandler は同期トリガーと実行履歴のHTTPハンドラー。
type SyncHandler struct {
	runner SyncRunnerInterface
	runs   SyncRunListerInterface
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(runner SyncRunnerInterface, runs SyncRunListerInterface) *SyncHandler {
	return &SyncHandler{
		runner: runner,
		runs:   runs,
	}
}

// syncRunResponse は同期実行記録のAPIレスポンス。
type syncRunResponse struct {
	ID             string                  `json:"id"`
	Trigger        string                  `json:"trigger"`
	SucceededCount int                     `json:"succeeded_count"`
	FailedCount    int                     `json:"failed_count"`
	RecordsSynced  int                     `json:"records_synced"`
	Details        []model.SourceRunDetail `json:"details"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     time.Time               `json:"finished_at"`
}

// syncRunListResponse は同期実行履歴のレスポンス。
type syncRunListResponse struct {
	Runs []syncRunResponse `json:"runs"`
}

// TriggerSyncAll は全ソースの手動同期を処理する。同期は同一リクエスト内で
// 完了し、実行記録を返す。
// POST /api/sync
func (h *SyncHandler) TriggerSyncAll(w http.ResponseWriter, r *http.Request) {
	run, err := h.runner.SyncAll(r.Context(), model.SyncTriggerManual)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSyncRunResponse(run))
}

// TriggerSyncSource は指定ソースのみの手動同期を処理する。
// POST /api/sync/:source
func (h *SyncHandler) TriggerSyncSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")

	run, err := h.runner.SyncSource(r.Context(), name, model.SyncTriggerManual)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSyncRunResponse(run))
}

// ListRuns は同期実行履歴を新しい順に取得する。
// GET /api/sync/runs?limit=20
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitパラメータが不正です。",
				Category: "validation",
				Action:   "limitには1以上の整数を指定してください。",
			})
			return
		}
		limit = v
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := syncRunListResponse{Runs: make([]syncRunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toSyncRunResponse(run))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SetupSyncRoutes は同期トリガー関連のルーティングを設定したchi.Routerを返す。
// syncTriggerMiddleware が nil でない場合、手動同期エンドポイントに
// 同期専用レート制限を適用する。
func SetupSyncRoutes(runner SyncRunnerInterface, runs SyncRunListerInterface, syncTriggerMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	h := NewSyncHandler(runner, runs)

	r.Route("/api/sync", func(r chi.Router) {
		if syncTriggerMiddleware != nil {
			r.With(syncTriggerMiddleware).Post("/", h.TriggerSyncAll)
			r.With(syncTriggerMiddleware).Post("/{source}", h.TriggerSyncSource)
		} else {
			r.Post("/", h.TriggerSyncAll)
			r.Post("/{source}", h.TriggerSyncSource)
		}

		r.Get("/runs", h.ListRuns)
	})

	return r
}

// --- ヘルパー関数 ---

// toSyncRunResponse はmodel.SyncRunからAPIレスポンスに変換する。
// Detail列のJSONが壊れている場合は空の詳細として返す。
func toSyncRunResponse(run *model.SyncRun) syncRunResponse {
	details := []model.SourceRunDetail{}
	if run.Detail != "" {
		if err := json.Unmarshal([]byte(run.Detail), &details); err != nil {
			slog.Warn("実行記録の詳細JSONの解析に失敗しました",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
			details = []model.SourceRunDetail{}
		}
	}

	return syncRunResponse{
		ID:             run.ID,
		Trigger:        string(run.Trigger),
		SucceededCount: run.SucceededCount,
		FailedCount:    run.FailedCount,
		RecordsSynced:  run.RecordsSynced,
		Details:        details,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSourceNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidDateRange, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeSyncFailed:
		return http.StatusBadGateway
	case model.ErrCodeSyncInProgress:
		return http.StatusConflict
	case model.ErrCodeMissingCredential:
		// 資格情報の不備は運用者側の設定問題であり、呼び出し側では解決できない
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
