// Package picooc はスマート体組成計PicoocのベンダーAPIクライアントを提供する。
// MD5署名付きのフォームログインと計測値一覧のページング取得を行う。
package picooc

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	loginPath         = "/v1/api/account/login"
	bodyIndexListPath = "/v1/api/bodyIndex/bodyIndexList"

	// appVersion はAPIが要求するアプリケーションのバージョン表記。
	appVersion = "i4.1.11.0"
	// loginMethod はログインAPIのメソッド識別子。
	loginMethod = "user_login_new"
	// listMethod は計測値一覧APIのメソッド識別子。
	listMethod = "bodyIndexList"
	// pageSize は1回のページング取得あたりの最大件数。
	pageSize = "1000"
)

// ErrNotLoggedIn はログイン前に計測値取得を呼び出した場合のエラー。
var ErrNotLoggedIn = errors.New("ログインしていません")

// Client はPicooc APIのクライアント。
// ログイン後にユーザーID・ロールIDを保持するステートフルなクライアントで、
// 同期実行ごとに新しいインスタンスを生成する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string

	deviceID string
	userID   string
	roleID   string
}

// NewClient はClientの新しいインスタンスを生成する。
// デバイスIDはインスタンスごとに生成したUUIDを使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		deviceID:   strings.ToUpper(uuid.NewString()),
	}
}

// signedValues はAPI共通のフォームパラメータを構築する。
// signはデバイスID・タイムスタンプ・メソッド名・アプリバージョンを
// 多段のMD5でつないだ署名で、サーバー側が同じ手順で検証する。
func (c *Client) signedValues(method string) url.Values {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sign := upperMD5(c.deviceID + upperMD5(timestamp+upperMD5(method)+upperMD5(appVersion)))

	return url.Values{
		"appver":     {appVersion},
		"timestamp":  {timestamp},
		"lang":       {"en"},
		"method":     {method},
		"timezone":   {""},
		"sign":       {sign},
		"push_token": {"android::" + c.deviceID},
		"device_id":  {c.deviceID},
	}
}

// upperMD5 は文字列のMD5ハッシュを大文字16進数で返す。
func upperMD5(s string) string {
	return fmt.Sprintf("%X", md5.Sum([]byte(s)))
}

// loginRequest はログインAPIのreqDataフィールドに入るJSON。
// フォームパラメータと同じ値をJSONにも重複して載せる仕様になっている。
type loginRequest struct {
	AppVer    string           `json:"appver"`
	Timestamp string           `json:"timestamp"`
	Lang      string           `json:"lang"`
	Method    string           `json:"method"`
	Timezone  string           `json:"timezone"`
	Sign      string           `json:"sign"`
	PushToken string           `json:"push_token"`
	DeviceID  string           `json:"device_id"`
	Req       loginCredentials `json:"req"`
}

type loginCredentials struct {
	AppChannel  string `json:"app_channel"`
	AppVersion  string `json:"app_version"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Phone       string `json:"phone"`
	PhoneSystem string `json:"phone_system"`
	PhoneType   string `json:"phone_type"`
}

// loginResponse はログインAPIのレスポンス。codeが0以外は失敗。
type loginResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Resp struct {
		UserID string `json:"user_id"`
		RoleID string `json:"role_id"`
	} `json:"resp"`
}

// Login はメールアドレスとパスワードで認証し、ユーザーIDとロールIDを保持する。
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := c.signedValues(loginMethod)

	reqData := loginRequest{
		AppVer:    form.Get("appver"),
		Timestamp: form.Get("timestamp"),
		Lang:      form.Get("lang"),
		Method:    form.Get("method"),
		Timezone:  form.Get("timezone"),
		Sign:      form.Get("sign"),
		PushToken: form.Get("push_token"),
		DeviceID:  form.Get("device_id"),
	}
	reqData.Req.AppVersion = form.Get("appver")
	reqData.Req.Email = username
	reqData.Req.Password = password

	data, err := json.Marshal(reqData)
	if err != nil {
		return fmt.Errorf("ログインリクエストの構築に失敗しました: %w", err)
	}
	form.Set("reqData", string(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("ログインリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ログインリクエストの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ログインAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ログインレスポンスの読み取りに失敗しました: %w", err)
	}

	var loginResp loginResponse
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return fmt.Errorf("ログインレスポンスのパースに失敗しました: %w", err)
	}

	if loginResp.Code != 0 {
		return fmt.Errorf("ログインが拒否されました: %s", loginResp.Msg)
	}
	if loginResp.Resp.UserID == "" {
		return fmt.Errorf("ログインレスポンスにユーザーIDが含まれていません")
	}

	c.userID = loginResp.Resp.UserID
	c.roleID = loginResp.Resp.RoleID
	c.logger.Info("Picoocにログインしました")
	return nil
}

// BodyRecord は体組成計の1回の計測値。
type BodyRecord struct {
	MeasuredAt      time.Time
	Weight          float64
	BMI             float64
	BodyFat         float64
	BodyWater       float64
	BoneMass        float64
	SkeletalMuscle  float64
	VisceralFat     int
	BasalMetabolism int
}

// bodyIndexResponse は計測値一覧APIのレスポンス。
// continueがtrueの間、lastTimeをカーソルとして次ページを取得する。
type bodyIndexResponse struct {
	Resp struct {
		Records []struct {
			BodyTime        int64   `json:"bodyTime"`
			Weight          float64 `json:"weight"`
			BMI             float64 `json:"bmi"`
			BodyFat         float64 `json:"body_fat"`
			WaterRace       float64 `json:"water_race"`
			BoneMass        float64 `json:"bone_mass"`
			SkeletalMuscle  float64 `json:"skeletal_muscle"`
			VisceralFat     int     `json:"visceral_fat_level"`
			BasalMetabolism int     `json:"basic_metabolism"`
			IsDel           int     `json:"is_del"`
			AbnormalFlag    int     `json:"abnormal_flag"`
		} `json:"records"`
		LastTime int64 `json:"lastTime"`
		Continue bool  `json:"continue"`
	} `json:"resp"`
}

// BodyIndexList はsince以降の計測値を全ページ取得する。
// 削除済み・異常フラグ付きの計測値は除外する。事前にLoginの呼び出しが必要。
func (c *Client) BodyIndexList(ctx context.Context, since time.Time) ([]BodyRecord, error) {
	if c.userID == "" {
		return nil, ErrNotLoggedIn
	}

	params := c.signedValues(listMethod)
	params.Set("pageSize", pageSize)
	params.Set("time", params.Get("timestamp"))
	params.Set("userId", c.userID)
	params.Set("roleId", c.roleID)

	var records []BodyRecord
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+bodyIndexListPath+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("計測値一覧リクエストの作成に失敗しました: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("計測値一覧の取得に失敗しました: %w", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("計測値一覧の読み取りに失敗しました: %w", readErr)
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("計測値一覧APIがステータス %d を返しました", resp.StatusCode)
		}

		var page bodyIndexResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("計測値一覧のパースに失敗しました: %w", err)
		}

		for _, rec := range page.Resp.Records {
			if rec.IsDel != 0 || rec.AbnormalFlag != 0 {
				continue
			}

			measuredAt := time.Unix(rec.BodyTime, 0).UTC()
			if measuredAt.Before(since) {
				continue
			}

			records = append(records, BodyRecord{
				MeasuredAt:      measuredAt,
				Weight:          rec.Weight,
				BMI:             rec.BMI,
				BodyFat:         rec.BodyFat,
				BodyWater:       rec.WaterRace,
				BoneMass:        rec.BoneMass,
				SkeletalMuscle:  rec.SkeletalMuscle,
				VisceralFat:     rec.VisceralFat,
				BasalMetabolism: rec.BasalMetabolism,
			})
		}

		if !page.Resp.Continue {
			break
		}
		params.Set("time", strconv.FormatInt(page.Resp.LastTime, 10))
	}

	return records, nil
}
