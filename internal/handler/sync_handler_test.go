package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/vitalsync/internal/model"
)

// --- モック定義 ---

// mockSyncRunner はSyncRunnerInterfaceのモック実装。
type mockSyncRunner struct {
	syncAllFn    func(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error)
	syncSourceFn func(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error)
}

func (m *mockSyncRunner) SyncAll(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error) {
	if m.syncAllFn != nil {
		return m.syncAllFn(ctx, trigger)
	}
	return nil, nil
}

func (m *mockSyncRunner) SyncSource(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error) {
	if m.syncSourceFn != nil {
		return m.syncSourceFn(ctx, name, trigger)
	}
	return nil, nil
}

// mockSyncRunLister はSyncRunListerInterfaceのモック実装。
type mockSyncRunLister struct {
	listRecentFn func(ctx context.Context, limit int) ([]*model.SyncRun, error)
}

func (m *mockSyncRunLister) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// sampleRun はテスト用の実行記録を生成するヘルパー。
func sampleRun(id string, trigger model.SyncTrigger) *model.SyncRun {
	detail, _ := json.Marshal([]model.SourceRunDetail{
		{Source: model.ProviderCronometer, Status: model.RunStatusSuccess, RecordsSynced: 12},
		{Source: model.ProviderOura, Status: model.RunStatusFailed, Error: "接続に失敗しました"},
	})
	started := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	return &model.SyncRun{
		ID:             id,
		Trigger:        trigger,
		SucceededCount: 1,
		FailedCount:    1,
		RecordsSynced:  12,
		Detail:         string(detail),
		StartedAt:      started,
		FinishedAt:     started.Add(42 * time.Second),
	}
}

// --- POST /api/sync テスト ---

func TestSyncHandler_TriggerSyncAll_Success(t *testing.T) {
	runner := &mockSyncRunner{
		syncAllFn: func(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error) {
			if trigger != model.SyncTriggerManual {
				t.Errorf("trigger = %q, want %q", trigger, model.SyncTriggerManual)
			}
			return sampleRun("run-1", trigger), nil
		},
	}
	h := NewSyncHandler(runner, &mockSyncRunLister{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	w := httptest.NewRecorder()

	h.TriggerSyncAll(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var result syncRunResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.ID != "run-1" {
		t.Errorf("id = %q, want %q", result.ID, "run-1")
	}
	if result.Trigger != "manual" {
		t.Errorf("trigger = %q, want %q", result.Trigger, "manual")
	}
	if result.SucceededCount != 1 || result.FailedCount != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", result.SucceededCount, result.FailedCount)
	}
	if len(result.Details) != 2 {
		t.Fatalf("details length = %d, want 2", len(result.Details))
	}
	if result.Details[1].Error != "接続に失敗しました" {
		t.Errorf("details[1].error = %q, want %q", result.Details[1].Error, "接続に失敗しました")
	}
}

func TestSyncHandler_TriggerSyncAll_SyncInProgress(t *testing.T) {
	runner := &mockSyncRunner{
		syncAllFn: func(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error) {
			return nil, model.NewSyncInProgressError()
		},
	}
	h := NewSyncHandler(runner, &mockSyncRunLister{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	w := httptest.NewRecorder()

	h.TriggerSyncAll(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeSyncInProgress {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeSyncInProgress)
	}
}

func TestSyncHandler_TriggerSyncAll_InternalError(t *testing.T) {
	runner := &mockSyncRunner{
		syncAllFn: func(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error) {
			return nil, errors.New("ソース一覧の取得に失敗しました")
		},
	}
	h := NewSyncHandler(runner, &mockSyncRunLister{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	w := httptest.NewRecorder()

	h.TriggerSyncAll(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", result["code"], "INTERNAL_ERROR")
	}
}

// --- POST /api/sync/:source テスト ---

func TestSyncHandler_TriggerSyncSource_Success(t *testing.T) {
	runner := &mockSyncRunner{
		syncSourceFn: func(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error) {
			if name != model.ProviderOura {
				t.Errorf("name = %q, want %q", name, model.ProviderOura)
			}
			if trigger != model.SyncTriggerManual {
				t.Errorf("trigger = %q, want %q", trigger, model.SyncTriggerManual)
			}
			return sampleRun("run-2", trigger), nil
		},
	}
	h := NewSyncHandler(runner, &mockSyncRunLister{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/oura", nil)
	req = withChiURLParam(req, "source", model.ProviderOura)
	w := httptest.NewRecorder()

	h.TriggerSyncSource(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result syncRunResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.ID != "run-2" {
		t.Errorf("id = %q, want %q", result.ID, "run-2")
	}
}

func TestSyncHandler_TriggerSyncSource_SourceNotFound(t *testing.T) {
	runner := &mockSyncRunner{
		syncSourceFn: func(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error) {
			return nil, model.NewSourceNotFoundError(name)
		},
	}
	h := NewSyncHandler(runner, &mockSyncRunLister{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/fitbit", nil)
	req = withChiURLParam(req, "source", "fitbit")
	w := httptest.NewRecorder()

	h.TriggerSyncSource(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeSourceNotFound {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeSourceNotFound)
	}
}

func TestSyncHandler_TriggerSyncSource_SyncFailed(t *testing.T) {
	runner := &mockSyncRunner{
		syncSourceFn: func(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error) {
			return nil, model.NewSyncFailedError(name, "ログインに失敗しました")
		},
	}
	h := NewSyncHandler(runner, &mockSyncRunLister{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/cronometer", nil)
	req = withChiURLParam(req, "source", model.ProviderCronometer)
	w := httptest.NewRecorder()

	h.TriggerSyncSource(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeSyncFailed {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeSyncFailed)
	}
}

// --- GET /api/sync/runs テスト ---

func TestSyncHandler_ListRuns_ReturnsRuns(t *testing.T) {
	lister := &mockSyncRunLister{
		listRecentFn: func(ctx context.Context, limit int) ([]*model.SyncRun, error) {
			if limit != defaultRunsLimit {
				t.Errorf("limit = %d, want %d", limit, defaultRunsLimit)
			}
			return []*model.SyncRun{
				sampleRun("run-new", model.SyncTriggerManual),
				sampleRun("run-old", model.SyncTriggerScheduled),
			}, nil
		},
	}
	h := NewSyncHandler(&mockSyncRunner{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/runs", nil)
	w := httptest.NewRecorder()

	h.ListRuns(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result syncRunListResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Runs) != 2 {
		t.Fatalf("runs length = %d, want 2", len(result.Runs))
	}
	if result.Runs[0].ID != "run-new" || result.Runs[1].ID != "run-old" {
		t.Errorf("run order = [%q, %q], want [run-new, run-old]", result.Runs[0].ID, result.Runs[1].ID)
	}
	if result.Runs[1].Trigger != "scheduled" {
		t.Errorf("runs[1].trigger = %q, want %q", result.Runs[1].Trigger, "scheduled")
	}
}

func TestSyncHandler_ListRuns_CustomLimit(t *testing.T) {
	var gotLimit int
	lister := &mockSyncRunLister{
		listRecentFn: func(ctx context.Context, limit int) ([]*model.SyncRun, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	h := NewSyncHandler(&mockSyncRunner{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/runs?limit=5", nil)
	w := httptest.NewRecorder()

	h.ListRuns(w, req)

	if gotLimit != 5 {
		t.Errorf("limit = %d, want 5", gotLimit)
	}
}

func TestSyncHandler_ListRuns_LimitClampedToMax(t *testing.T) {
	var gotLimit int
	lister := &mockSyncRunLister{
		listRecentFn: func(ctx context.Context, limit int) ([]*model.SyncRun, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	h := NewSyncHandler(&mockSyncRunner{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/runs?limit=5000", nil)
	w := httptest.NewRecorder()

	h.ListRuns(w, req)

	if gotLimit != maxRunsLimit {
		t.Errorf("limit = %d, want %d", gotLimit, maxRunsLimit)
	}
}

func TestSyncHandler_ListRuns_InvalidLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "非数値", query: "limit=abc"},
		{name: "ゼロ", query: "limit=0"},
		{name: "負数", query: "limit=-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSyncHandler(&mockSyncRunner{}, &mockSyncRunLister{})

			req := httptest.NewRequest(http.MethodGet, "/api/sync/runs?"+tt.query, nil)
			w := httptest.NewRecorder()

			h.ListRuns(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			result := parseAPIErrorResponse(t, w)
			if result["code"] != "INVALID_REQUEST" {
				t.Errorf("code = %q, want %q", result["code"], "INVALID_REQUEST")
			}
		})
	}
}

func TestSyncHandler_ListRuns_RepositoryError(t *testing.T) {
	lister := &mockSyncRunLister{
		listRecentFn: func(ctx context.Context, limit int) ([]*model.SyncRun, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewSyncHandler(&mockSyncRunner{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/runs", nil)
	w := httptest.NewRecorder()

	h.ListRuns(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestSyncHandler_ListRuns_BrokenDetailJSON(t *testing.T) {
	run := sampleRun("run-broken", model.SyncTriggerScheduled)
	run.Detail = "{broken json"
	lister := &mockSyncRunLister{
		listRecentFn: func(ctx context.Context, limit int) ([]*model.SyncRun, error) {
			return []*model.SyncRun{run}, nil
		},
	}
	h := NewSyncHandler(&mockSyncRunner{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/runs", nil)
	w := httptest.NewRecorder()

	h.ListRuns(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result syncRunListResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Runs) != 1 {
		t.Fatalf("runs length = %d, want 1", len(result.Runs))
	}
	// 壊れた詳細JSONは空配列として返ること
	if result.Runs[0].Details == nil || len(result.Runs[0].Details) != 0 {
		t.Errorf("details = %v, want empty", result.Runs[0].Details)
	}
}

// --- ルーティングテスト ---

func TestSetupSyncRoutes_RoutesRequests(t *testing.T) {
	runner := &mockSyncRunner{
		syncAllFn: func(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error) {
			return sampleRun("run-all", trigger), nil
		},
		syncSourceFn: func(ctx context.Context, name string, trigger model.SyncTrigger) (*model.SyncRun, error) {
			if name != model.ProviderPicooc {
				t.Errorf("name = %q, want %q", name, model.ProviderPicooc)
			}
			return sampleRun("run-one", trigger), nil
		},
	}
	lister := &mockSyncRunLister{
		listRecentFn: func(ctx context.Context, limit int) ([]*model.SyncRun, error) {
			return []*model.SyncRun{}, nil
		},
	}
	router := SetupSyncRoutes(runner, lister, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{name: "全ソース同期", method: http.MethodPost, path: "/api/sync", wantStatus: http.StatusOK},
		{name: "単一ソース同期", method: http.MethodPost, path: "/api/sync/picooc", wantStatus: http.StatusOK},
		{name: "実行履歴", method: http.MethodGet, path: "/api/sync/runs", wantStatus: http.StatusOK},
		{name: "未定義メソッド", method: http.MethodDelete, path: "/api/sync", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestSetupSyncRoutes_AppliesTriggerMiddleware(t *testing.T) {
	applied := 0
	countingMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			applied++
			next.ServeHTTP(w, r)
		})
	}
	runner := &mockSyncRunner{
		syncAllFn: func(ctx context.Context, trigger model.SyncTrigger) (*model.SyncRun, error) {
			return sampleRun("run-1", trigger), nil
		},
	}
	router := SetupSyncRoutes(runner, &mockSyncRunLister{}, countingMiddleware)

	// 手動同期にはミドルウェアが適用されること
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	if applied != 1 {
		t.Errorf("applied after POST /api/sync = %d, want 1", applied)
	}

	// 実行履歴の取得には適用されないこと
	req = httptest.NewRequest(http.MethodGet, "/api/sync/runs", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	if applied != 1 {
		t.Errorf("applied after GET /api/sync/runs = %d, want 1", applied)
	}
}

// --- エラーマッピングテスト ---

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{name: "ソース未登録", err: model.NewSourceNotFoundError("fitbit"), want: http.StatusNotFound},
		{name: "日付範囲不正", err: model.NewInvalidDateRangeError("開始日が不正"), want: http.StatusBadRequest},
		{name: "URL不正", err: model.NewInvalidURLError("スキームが不正"), want: http.StatusBadRequest},
		{name: "SSRF遮断", err: model.NewSSRFBlockedError(), want: http.StatusForbidden},
		{name: "同期失敗", err: model.NewSyncFailedError("oura", "接続に失敗"), want: http.StatusBadGateway},
		{name: "多重起動", err: model.NewSyncInProgressError(), want: http.StatusConflict},
		{name: "資格情報不足", err: model.NewMissingCredentialError("cronometer"), want: http.StatusInternalServerError},
		{name: "未知のコード", err: &model.APIError{Code: "UNKNOWN"}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}
