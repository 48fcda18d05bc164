// Package oura はウェアラブルデバイスOura RingのREST APIクライアントを提供する。
// パーソナルアクセストークンによるBearer認証で日次サマリー各種を取得する。
package oura

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	dailySleepPath      = "/v2/usercollection/daily_sleep"
	dailyActivityPath   = "/v2/usercollection/daily_activity"
	dailyStressPath     = "/v2/usercollection/daily_stress"
	dailyResiliencePath = "/v2/usercollection/daily_resilience"

	dateLayout = "2006-01-02"
	userAgent  = "VitalSync/1.0 Health Data Sync"
)

// Client はOura APIのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string
	accessToken string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, accessToken string) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

// DailySleep は日次睡眠サマリーの1件。
// 計測できなかった項目はnilになる。
type DailySleep struct {
	ID                   string   `json:"id"`
	Day                  string   `json:"day"`
	Score                *int     `json:"score"`
	TotalSleepDuration   *int     `json:"total_sleep_duration"` // 秒
	RestingHeartRate     *float64 `json:"resting_heart_rate"`
	HeartRateVariability *float64 `json:"heart_rate_variability"`
}

// DailyActivity は日次活動サマリーの1件。
type DailyActivity struct {
	ID             string   `json:"id"`
	Day            string   `json:"day"`
	Score          *int     `json:"score"`
	Steps          *int     `json:"steps"`
	ActiveCalories *float64 `json:"active_calories"`
}

// DailyStress は日次ストレスサマリーの1件。
// DaySummaryは restored / normal / stressful のいずれか。
type DailyStress struct {
	ID         string  `json:"id"`
	Day        string  `json:"day"`
	StressHigh *int    `json:"stress_high"`
	DaySummary *string `json:"day_summary"`
}

// DailyResilience は日次レジリエンスサマリーの1件。
// Levelは limited / adequate / solid / strong / exceptional のいずれか。
type DailyResilience struct {
	ID    string  `json:"id"`
	Day   string  `json:"day"`
	Level *string `json:"level"`
}

// GetDailySleep は指定期間の日次睡眠サマリーを取得する。期間は両端の日を含む。
func (c *Client) GetDailySleep(ctx context.Context, start, end time.Time) ([]DailySleep, error) {
	raw, err := c.getCollection(ctx, dailySleepPath, start, end)
	if err != nil {
		return nil, err
	}

	out := make([]DailySleep, 0, len(raw))
	for _, item := range raw {
		var ds DailySleep
		if err := json.Unmarshal(item, &ds); err != nil {
			c.logger.Warn("日次睡眠サマリーのパースに失敗したため読み飛ばします",
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, ds)
	}
	return out, nil
}

// GetDailyActivity は指定期間の日次活動サマリーを取得する。期間は両端の日を含む。
func (c *Client) GetDailyActivity(ctx context.Context, start, end time.Time) ([]DailyActivity, error) {
	raw, err := c.getCollection(ctx, dailyActivityPath, start, end)
	if err != nil {
		return nil, err
	}

	out := make([]DailyActivity, 0, len(raw))
	for _, item := range raw {
		var da DailyActivity
		if err := json.Unmarshal(item, &da); err != nil {
			c.logger.Warn("日次活動サマリーのパースに失敗したため読み飛ばします",
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, da)
	}
	return out, nil
}

// GetDailyStress は指定期間の日次ストレスサマリーを取得する。期間は両端の日を含む。
func (c *Client) GetDailyStress(ctx context.Context, start, end time.Time) ([]DailyStress, error) {
	raw, err := c.getCollection(ctx, dailyStressPath, start, end)
	if err != nil {
		return nil, err
	}

	out := make([]DailyStress, 0, len(raw))
	for _, item := range raw {
		var ds DailyStress
		if err := json.Unmarshal(item, &ds); err != nil {
			c.logger.Warn("日次ストレスサマリーのパースに失敗したため読み飛ばします",
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, ds)
	}
	return out, nil
}

// GetDailyResilience は指定期間の日次レジリエンスサマリーを取得する。期間は両端の日を含む。
func (c *Client) GetDailyResilience(ctx context.Context, start, end time.Time) ([]DailyResilience, error) {
	raw, err := c.getCollection(ctx, dailyResiliencePath, start, end)
	if err != nil {
		return nil, err
	}

	out := make([]DailyResilience, 0, len(raw))
	for _, item := range raw {
		var dr DailyResilience
		if err := json.Unmarshal(item, &dr); err != nil {
			c.logger.Warn("日次レジリエンスサマリーのパースに失敗したため読み飛ばします",
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, dr)
	}
	return out, nil
}

// collectionEnvelope は一覧レスポンスの共通形式。
type collectionEnvelope struct {
	Data      []json.RawMessage `json:"data"`
	NextToken *string           `json:"next_token"`
}

// getCollection は一覧エンドポイントをnext_tokenでページングしながら全件取得する。
func (c *Client) getCollection(ctx context.Context, path string, start, end time.Time) ([]json.RawMessage, error) {
	var items []json.RawMessage
	nextToken := ""

	for {
		reqURL, err := url.Parse(c.baseURL + path)
		if err != nil {
			return nil, fmt.Errorf("APIのURL構築に失敗しました: %w", err)
		}
		q := reqURL.Query()
		q.Set("start_date", start.Format(dateLayout))
		q.Set("end_date", end.Format(dateLayout))
		if nextToken != "" {
			q.Set("next_token", nextToken)
		}
		reqURL.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("Oura APIの呼び出しに失敗しました: %w", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", readErr)
		}

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("Oura APIの認証に失敗しました (ステータス %d)", resp.StatusCode)
		default:
			return nil, fmt.Errorf("Oura APIがステータス %d を返しました", resp.StatusCode)
		}

		var envelope collectionEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}

		items = append(items, envelope.Data...)

		if envelope.NextToken == nil || *envelope.NextToken == "" {
			return items, nil
		}
		nextToken = *envelope.NextToken
	}
}
