package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/vitalsync/internal/model"
)

// --- モック定義 ---

// mockSummaryReader はSummaryReaderInterfaceのモック実装。
type mockSummaryReader struct {
	findByDateFn      func(ctx context.Context, date time.Time) (*model.DailySummary, error)
	listByDateRangeFn func(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error)
}

func (m *mockSummaryReader) FindByDate(ctx context.Context, date time.Time) (*model.DailySummary, error) {
	if m.findByDateFn != nil {
		return m.findByDateFn(ctx, date)
	}
	return nil, nil
}

func (m *mockSummaryReader) ListByDateRange(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error) {
	if m.listByDateRangeFn != nil {
		return m.listByDateRangeFn(ctx, start, end)
	}
	return nil, nil
}

// --- テストヘルパー ---

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func strp(v string) *string { return &v }

// sampleSummary はテスト用の日次サマリーを生成するヘルパー。
// 体組成系の列はnilのままにして、欠測のnull表現も検証できるようにする。
func sampleSummary(date time.Time) *model.DailySummary {
	return &model.DailySummary{
		ID:                   "summary-" + date.Format(summaryDateLayout),
		SummaryDate:          date,
		SleepScore:           intp(82),
		SleepDurationSeconds: intp(27000),
		Steps:                intp(9800),
		RestingHeartRate:     intp(52),
		StressLevel:          strp("normal"),
		Calories:             floatp(2143.5),
		Protein:              floatp(112.3),
		UpdatedAt:            date.Add(30 * time.Hour),
	}
}

// --- GET /api/summaries テスト ---

func TestSummaryHandler_ListSummaries_ExplicitRange(t *testing.T) {
	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	reader := &mockSummaryReader{
		listByDateRangeFn: func(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error) {
			if !start.Equal(wantStart) {
				t.Errorf("start = %v, want %v", start, wantStart)
			}
			if !end.Equal(wantEnd) {
				t.Errorf("end = %v, want %v", end, wantEnd)
			}
			return []*model.DailySummary{
				sampleSummary(wantStart),
				sampleSummary(wantStart.AddDate(0, 0, 1)),
			}, nil
		},
	}
	h := NewSummaryHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/summaries?start=2026-03-01&end=2026-03-05", nil)
	w := httptest.NewRecorder()

	h.ListSummaries(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var result summaryListResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Summaries) != 2 {
		t.Fatalf("summaries length = %d, want 2", len(result.Summaries))
	}
	if result.Summaries[0].SummaryDate != "2026-03-01" {
		t.Errorf("summary_date = %q, want %q", result.Summaries[0].SummaryDate, "2026-03-01")
	}
	if result.Summaries[0].SleepScore == nil || *result.Summaries[0].SleepScore != 82 {
		t.Errorf("sleep_score = %v, want 82", result.Summaries[0].SleepScore)
	}
	if result.Summaries[0].Weight != nil {
		t.Errorf("weight = %v, want nil", result.Summaries[0].Weight)
	}
}

func TestSummaryHandler_ListSummaries_DefaultsToLast30Days(t *testing.T) {
	var gotStart, gotEnd time.Time
	reader := &mockSummaryReader{
		listByDateRangeFn: func(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error) {
			gotStart, gotEnd = start, end
			return nil, nil
		},
	}
	h := NewSummaryHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/summaries", nil)
	w := httptest.NewRecorder()

	h.ListSummaries(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := gotEnd.Sub(gotStart); got != 29*24*time.Hour {
		t.Errorf("期間 = %v, want %v", got, 29*24*time.Hour)
	}
	if gotEnd.Hour() != 0 || gotEnd.Minute() != 0 {
		t.Errorf("終了日が日付境界に切り詰められていない: %v", gotEnd)
	}
	if gotEnd.After(time.Now().UTC()) {
		t.Errorf("終了日が未来になっている: %v", gotEnd)
	}
}

func TestSummaryHandler_ListSummaries_EmptyResult(t *testing.T) {
	reader := &mockSummaryReader{
		listByDateRangeFn: func(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error) {
			return []*model.DailySummary{}, nil
		},
	}
	h := NewSummaryHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/summaries", nil)
	w := httptest.NewRecorder()

	h.ListSummaries(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	// 空の結果はnullではなく空配列として返ること
	var result map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(result["summaries"]) != "[]" {
		t.Errorf("summaries = %s, want []", result["summaries"])
	}
}

func TestSummaryHandler_ListSummaries_InvalidDates(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "開始日の形式不正", query: "start=03-01-2026"},
		{name: "終了日の形式不正", query: "end=2026/03/05"},
		{name: "開始日が日付でない", query: "start=yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSummaryHandler(&mockSummaryReader{})

			req := httptest.NewRequest(http.MethodGet, "/api/summaries?"+tt.query, nil)
			w := httptest.NewRecorder()

			h.ListSummaries(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			result := parseAPIErrorResponse(t, w)
			if result["code"] != model.ErrCodeInvalidDateRange {
				t.Errorf("code = %q, want %q", result["code"], model.ErrCodeInvalidDateRange)
			}
		})
	}
}

func TestSummaryHandler_ListSummaries_StartAfterEnd(t *testing.T) {
	h := NewSummaryHandler(&mockSummaryReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/summaries?start=2026-03-10&end=2026-03-01", nil)
	w := httptest.NewRecorder()

	h.ListSummaries(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeInvalidDateRange {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeInvalidDateRange)
	}
}

func TestSummaryHandler_ListSummaries_RangeTooWide(t *testing.T) {
	h := NewSummaryHandler(&mockSummaryReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/summaries?start=2020-01-01&end=2026-01-01", nil)
	w := httptest.NewRecorder()

	h.ListSummaries(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSummaryHandler_ListSummaries_RepositoryError(t *testing.T) {
	reader := &mockSummaryReader{
		listByDateRangeFn: func(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewSummaryHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/summaries", nil)
	w := httptest.NewRecorder()

	h.ListSummaries(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", result["code"], "INTERNAL_ERROR")
	}
}

// --- GET /api/summaries/:date テスト ---

func TestSummaryHandler_GetSummary_Found(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	reader := &mockSummaryReader{
		findByDateFn: func(ctx context.Context, got time.Time) (*model.DailySummary, error) {
			if !got.Equal(date) {
				t.Errorf("date = %v, want %v", got, date)
			}
			return sampleSummary(date), nil
		},
	}
	h := NewSummaryHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/summaries/2026-03-10", nil)
	req = withChiURLParam(req, "date", "2026-03-10")
	w := httptest.NewRecorder()

	h.GetSummary(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["summary_date"] != "2026-03-10" {
		t.Errorf("summary_date = %v, want %q", result["summary_date"], "2026-03-10")
	}
	if result["steps"] != float64(9800) {
		t.Errorf("steps = %v, want 9800", result["steps"])
	}

	// 欠測列は省略ではなく明示的なnullとして返ること
	weight, ok := result["weight"]
	if !ok {
		t.Error("weight列がレスポンスに含まれていない")
	}
	if weight != nil {
		t.Errorf("weight = %v, want null", weight)
	}
}

func TestSummaryHandler_GetSummary_NotFound(t *testing.T) {
	reader := &mockSummaryReader{
		findByDateFn: func(ctx context.Context, date time.Time) (*model.DailySummary, error) {
			return nil, nil
		},
	}
	h := NewSummaryHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/summaries/2026-03-10", nil)
	req = withChiURLParam(req, "date", "2026-03-10")
	w := httptest.NewRecorder()

	h.GetSummary(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != "SUMMARY_NOT_FOUND" {
		t.Errorf("code = %q, want %q", result["code"], "SUMMARY_NOT_FOUND")
	}
}

func TestSummaryHandler_GetSummary_InvalidDate(t *testing.T) {
	h := NewSummaryHandler(&mockSummaryReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/summaries/not-a-date", nil)
	req = withChiURLParam(req, "date", "not-a-date")
	w := httptest.NewRecorder()

	h.GetSummary(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeInvalidDateRange {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeInvalidDateRange)
	}
}

// --- ルーティングテスト ---

func TestSetupSummaryRoutes_RoutesRequests(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	reader := &mockSummaryReader{
		findByDateFn: func(ctx context.Context, got time.Time) (*model.DailySummary, error) {
			return sampleSummary(got), nil
		},
		listByDateRangeFn: func(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error) {
			return []*model.DailySummary{sampleSummary(date)}, nil
		},
	}
	router := SetupSummaryRoutes(reader)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "期間照会", path: "/api/summaries", wantStatus: http.StatusOK},
		{name: "単日照会", path: "/api/summaries/2026-03-10", wantStatus: http.StatusOK},
		{name: "日付形式不正", path: "/api/summaries/10-03-2026", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}
