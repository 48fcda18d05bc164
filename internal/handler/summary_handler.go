package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/vitalsync/internal/middleware"
	"github.com/hitoshi/vitalsync/internal/model"
)

// summaryDateLayout はサマリーAPIの日付指定フォーマット。
const summaryDateLayout = "2006-01-02"

// defaultSummaryRangeDays は期間未指定時の取得日数。
const defaultSummaryRangeDays = 30

// maxSummaryRangeDays は1回のリクエストで取得できる期間の上限日数。
const maxSummaryRangeDays = 366

// SummaryReaderInterface は日次サマリーの取得インターフェース。
// repository.DailySummaryRepositoryのうちハンドラーが必要とする
// 読み取り操作のみを最小限のインターフェースとして定義する。
type SummaryReaderInterface interface {
	// FindByDate は指定日のサマリーを取得する。見つからない場合はnilを返す。
	FindByDate(ctx context.Context, date time.Time) (*model.DailySummary, error)
	// ListByDateRange は [start, end] のサマリーを日付昇順で返す。
	ListByDateRange(ctx context.Context, start, end time.Time) ([]*model.DailySummary, error)
}

// SummaryHandler は日次サマリー照会のHTTPハンドラー。
type SummaryHandler struct {
	summaries SummaryReaderInterface
}

// NewSummaryHandler はSummaryHandlerを生成する。
func NewSummaryHandler(summaries SummaryReaderInterface) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// summaryResponse は日次サマリーのAPIレスポンス。
// 計測のないメトリクス列はnullとして返す。
type summaryResponse struct {
	SummaryDate          string    `json:"summary_date"`
	SleepScore           *int      `json:"sleep_score"`
	SleepDurationSeconds *int      `json:"sleep_duration_seconds"`
	Steps                *int      `json:"steps"`
	ActivityCalories     *float64  `json:"activity_calories"`
	Weight               *float64  `json:"weight"`
	BodyFat              *float64  `json:"body_fat"`
	RestingHeartRate     *int      `json:"resting_heart_rate"`
	HeartRateVariability *float64  `json:"heart_rate_variability"`
	StressLevel          *string   `json:"stress_level"`
	ResilienceLevel      *string   `json:"resilience_level"`
	Calories             *float64  `json:"calories"`
	Protein              *float64  `json:"protein"`
	Carbohydrates        *float64  `json:"carbohydrates"`
	Fat                  *float64  `json:"fat"`
	Fiber                *float64  `json:"fiber"`
	Sugar                *float64  `json:"sugar"`
	Sodium               *float64  `json:"sodium"`
	ExerciseMinutes      *float64  `json:"exercise_minutes"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// summaryListResponse は日次サマリー一覧のレスポンス。
type summaryListResponse struct {
	Summaries []summaryResponse `json:"summaries"`
}

// ListSummaries は期間指定で日次サマリーを取得する。
// 期間未指定の場合は当日までの直近30日分を返す。
// GET /api/summaries?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *SummaryHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if s := r.URL.Query().Get("end"); s != "" {
		parsed, err := time.Parse(summaryDateLayout, s)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidDateRangeError("終了日はYYYY-MM-DD形式で指定してください"))
			return
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -(defaultSummaryRangeDays - 1))
	if s := r.URL.Query().Get("start"); s != "" {
		parsed, err := time.Parse(summaryDateLayout, s)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidDateRangeError("開始日はYYYY-MM-DD形式で指定してください"))
			return
		}
		start = parsed
	}

	if start.After(end) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidDateRangeError("開始日が終了日より後です"))
		return
	}
	if end.Sub(start) > maxSummaryRangeDays*24*time.Hour {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidDateRangeError("期間は366日以内で指定してください"))
		return
	}

	summaries, err := h.summaries.ListByDateRange(r.Context(), start, end)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := summaryListResponse{Summaries: make([]summaryResponse, 0, len(summaries))}
	for _, s := range summaries {
		resp.Summaries = append(resp.Summaries, toSummaryResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetSummary は指定日の日次サマリーを取得する。
// GET /api/summaries/:date
func (h *SummaryHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(summaryDateLayout, chi.URLParam(r, "date"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidDateRangeError("日付はYYYY-MM-DD形式で指定してください"))
		return
	}

	summary, err := h.summaries.FindByDate(r.Context(), date)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if summary == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "SUMMARY_NOT_FOUND",
			Message:  "指定された日付の日次サマリーが見つかりません。",
			Category: "sync",
			Action:   "同期が完了しているか、日付が正しいかを確認してください。",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSummaryResponse(summary))
}

// SetupSummaryRoutes は日次サマリー照会のルーティングを設定したchi.Routerを返す。
func SetupSummaryRoutes(summaries SummaryReaderInterface) http.Handler {
	r := chi.NewRouter()
	h := NewSummaryHandler(summaries)

	r.Route("/api/summaries", func(r chi.Router) {
		r.Get("/", h.ListSummaries)
		r.Get("/{date}", h.GetSummary)
	})

	return r
}

// toSummaryResponse はmodel.DailySummaryからAPIレスポンスに変換する。
func toSummaryResponse(s *model.DailySummary) summaryResponse {
	return summaryResponse{
		SummaryDate:          s.SummaryDate.Format(summaryDateLayout),
		SleepScore:           s.SleepScore,
		SleepDurationSeconds: s.SleepDurationSeconds,
		Steps:                s.Steps,
		ActivityCalories:     s.ActivityCalories,
		Weight:               s.Weight,
		BodyFat:              s.BodyFat,
		RestingHeartRate:     s.RestingHeartRate,
		HeartRateVariability: s.HeartRateVariability,
		StressLevel:          s.StressLevel,
		ResilienceLevel:      s.ResilienceLevel,
		Calories:             s.Calories,
		Protein:              s.Protein,
		Carbohydrates:        s.Carbohydrates,
		Fat:                  s.Fat,
		Fiber:                s.Fiber,
		Sugar:                s.Sugar,
		Sodium:               s.Sodium,
		ExerciseMinutes:      s.ExerciseMinutes,
		UpdatedAt:            s.UpdatedAt,
	}
}
