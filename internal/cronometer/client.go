// Package cronometer は栄養管理サービスCronometerのスクレイピングクライアントを提供する。
// 公開APIを持たないサービスに対し、CSRF付きフォームログイン、セッションnonceの保持、
// GWT形式のRPC呼び出し、CSVエクスポートの取得を行う。
package cronometer

import (
	"bytes"
	"context"
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

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	loginPagePath = "/login"
	loginPostPath = "/login"
	rpcPath       = "/cronometer/app"
	exportPath    = "/export"

	// csrfInputName はログインページの隠しフィールド名。
	csrfInputName = "anticsrf"
	// sessionNonceCookie はログイン成功時に発行されるセッションnonceのクッキー名。
	sessionNonceCookie = "sesnonce"

	// gwtContentType はRPCエンドポイントが要求するContent-Type。
	gwtContentType = "text/x-gwt-rpc; charset=utf-8"

	userAgent = "VitalSync/1.0 Health Data Sync"

	// tokenScope はエクスポート用認可トークンのスコープ。
	tokenScope = "EXPORT"
	// tokenTTLSeconds はエクスポート用認可トークンの有効期間（秒）。
	tokenTTLSeconds = 3600
)

// セッションの状態遷移が守られていない場合に返すエラー。
var (
	ErrCsrfTokenNotFound    = errors.New("ログインページからCSRFトークンを検出できませんでした")
	ErrCsrfTokenMissing     = errors.New("CSRFトークンが未取得です")
	ErrNotAuthenticated     = errors.New("ログインしていません")
	ErrAlreadyAuthenticated = errors.New("既にログイン済みのセッションです")
	ErrTokenNotIssued       = errors.New("エクスポート用トークンが未発行です")
)

// ExportKind はCSVエクスポートのデータ種別。
type ExportKind string

const (
	// ExportDailySummary は日次栄養サマリー。
	ExportDailySummary ExportKind = "dailySummary"
	// ExportServings は食事記録。
	ExportServings ExportKind = "servings"
	// ExportExercises は運動記録。
	ExportExercises ExportKind = "exercises"
	// ExportBiometrics は生体記録。
	ExportBiometrics ExportKind = "biometrics"
	// ExportNotes はメモ。
	ExportNotes ExportKind = "notes"
)

// AllExportKinds は1回の同期で取得するエクスポート種別の一覧。
var AllExportKinds = []ExportKind{
	ExportDailySummary,
	ExportServings,
	ExportExercises,
	ExportBiometrics,
	ExportNotes,
}

// session は1ログインセッションの状態値。
// nonce・ユーザーID・認可トークンをフィールドに散らさず1つの値として保持し、
// ログアウト時にまとめて破棄する。
type session struct {
	nonce  string
	userID int
	token  string
}

// Client はCronometerのスクレイピングクライアント。
//
// ステートフルかつシングルセッションであり、1つのインスタンスを
// 複数のログインセッションで同時に使うことはできない。
// 同期実行ごとに新しいインスタンスを生成すること。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	limiter    *rate.Limiter

	csrfToken string
	sess      *session
}

// NewClient はClientの新しいインスタンスを生成する。
// exportIntervalはエクスポート呼び出し間の最小間隔で、
// スクレイピング先への連続アクセスを抑えるために使う。0以下で制限なし。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, exportInterval time.Duration) *Client {
	limit := rate.Inf
	if exportInterval > 0 {
		limit = rate.Every(exportInterval)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// ObtainAntiForgeryToken はログインページを取得し、隠しフィールドから
// CSRFトークンを取り出して保持する。トークンが見つからない場合は
// ページ構成の変更かサービス側の障害として認証エラーを返す。
func (c *Client) ObtainAntiForgeryToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+loginPagePath, nil)
	if err != nil {
		return "", fmt.Errorf("ログインページリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ログインページの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ログインページがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ログインページの読み取りに失敗しました: %w", err)
	}

	token := extractHiddenInput(body, csrfInputName)
	if token == "" {
		return "", ErrCsrfTokenNotFound
	}

	c.csrfToken = token
	return token, nil
}

// loginResponse はログインAPIのJSONレスポンス。
// successフラグとredirect先のどちらかが入っていれば受理と判定する。
type loginResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect"`
	Error    string `json:"error"`
}

// Login は認証情報とCSRFトークンをフォームデータとして送信し、
// 発行されたセッションnonceをクッキーから読み取って保持する。
// 事前にObtainAntiForgeryTokenの呼び出しが必要。
// ログイン済みのインスタンスでの再ログインは拒否する。
func (c *Client) Login(ctx context.Context, username, password string) error {
	if c.sess != nil {
		return ErrAlreadyAuthenticated
	}
	if c.csrfToken == "" {
		return ErrCsrfTokenMissing
	}

	form := url.Values{
		"username":    {username},
		"password":    {password},
		csrfInputName: {c.csrfToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPostPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("ログインリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ログインリクエストの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ログインレスポンスの読み取りに失敗しました: %w", err)
	}

	var loginResp loginResponse
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return fmt.Errorf("ログインレスポンスのパースに失敗しました: %w", err)
	}

	if !loginResp.Success && loginResp.Redirect == "" {
		if loginResp.Error != "" {
			return fmt.Errorf("ログインが拒否されました: %s", loginResp.Error)
		}
		return fmt.Errorf("ログインが拒否されました (ステータス %d)", resp.StatusCode)
	}

	var nonce string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionNonceCookie && cookie.Value != "" {
			nonce = cookie.Value
			break
		}
	}
	if nonce == "" {
		return fmt.Errorf("セッションnonceのクッキー %s が見つかりません", sessionNonceCookie)
	}

	c.sess = &session{nonce: nonce}
	c.logger.Info("Cronometerにログインしました")
	return nil
}

// Authenticate はRPCエンドポイントにauthenticate呼び出しを送り、
// レスポンスからユーザーIDを取り出して保持する。
// レスポンスがパターンに一致しない場合はリモート契約の破損として失敗する。
func (c *Client) Authenticate(ctx context.Context) (int, error) {
	if c.sess == nil {
		return 0, ErrNotAuthenticated
	}

	payload, err := c.doRPC(ctx, c.newRPCRequest(methodAuthenticate))
	if err != nil {
		return 0, fmt.Errorf("認証RPCに失敗しました: %w", err)
	}

	userID, err := parseUserID(payload)
	if err != nil {
		return 0, err
	}

	c.sess.userID = userID
	return userID, nil
}

// GenerateAuthorizationToken はセッションnonce・ユーザーID・スコープ・有効期間を
// 引数としてRPC呼び出しを行い、エクスポートを認可するトークンを発行する。
// 事前にAuthenticateの呼び出しが必要。
func (c *Client) GenerateAuthorizationToken(ctx context.Context) (string, error) {
	if c.sess == nil {
		return "", ErrNotAuthenticated
	}
	if c.sess.userID == 0 {
		return "", fmt.Errorf("ユーザーIDが未取得です。先にAuthenticateを呼び出してください")
	}

	payload, err := c.doRPC(ctx, c.newRPCRequest(methodGenerateToken,
		c.sess.nonce,
		strconv.Itoa(c.sess.userID),
		strconv.Itoa(tokenTTLSeconds),
		tokenScope,
	))
	if err != nil {
		return "", fmt.Errorf("認可トークンの発行RPCに失敗しました: %w", err)
	}

	token, err := parseQuotedToken(payload)
	if err != nil {
		return "", err
	}

	c.sess.token = token
	return token, nil
}

// Export は指定種別のCSVエクスポートを取得する。
// 日付範囲は両端を含む日単位で指定する。
// 事前にGenerateAuthorizationTokenの呼び出しが必要。
func (c *Client) Export(ctx context.Context, kind ExportKind, start, end time.Time) (string, error) {
	if c.sess == nil {
		return "", ErrNotAuthenticated
	}
	if c.sess.token == "" {
		return "", ErrTokenNotIssued
	}

	// スクレイピング先への連続アクセスを抑えるため、呼び出し間隔を制限する
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("エクスポートの待機が中断されました: %w", err)
	}

	exportURL, err := url.Parse(c.baseURL + exportPath)
	if err != nil {
		return "", fmt.Errorf("エクスポートURLの構築に失敗しました: %w", err)
	}
	q := exportURL.Query()
	q.Set("nonce", c.sess.token)
	q.Set("generate", string(kind))
	q.Set("start", start.Format(dateLayout))
	q.Set("end", end.Format(dateLayout))
	exportURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("エクスポートリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("エクスポート %s の取得に失敗しました: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("エクスポート %s がステータス %d を返しました", kind, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("エクスポート %s の読み取りに失敗しました: %w", kind, err)
	}

	return string(body), nil
}

// Logout はセッションnonceをサーバー側で無効化し、ローカルのセッション状態を破棄する。
// サーバーへの通知が失敗してもローカル状態は必ずクリアする。
// 未ログインの場合は何もしない。
func (c *Client) Logout(ctx context.Context) error {
	if c.sess == nil {
		return nil
	}

	// サーバー応答に関わらずローカルセッションを破棄する
	defer func() {
		c.sess = nil
		c.csrfToken = ""
	}()

	if _, err := c.doRPC(ctx, c.newRPCRequest(methodLogout, c.sess.nonce)); err != nil {
		c.logger.Warn("ログアウトのRPC呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ログアウトに失敗しました: %w", err)
	}

	c.logger.Info("Cronometerからログアウトしました")
	return nil
}

// newRPCRequest はこのクライアントの接続先に対するRPCリクエストを組み立てる。
func (c *Client) newRPCRequest(method string, args ...string) string {
	return rpcRequest{
		ModuleBase:  c.baseURL + "/cronometer/",
		Permutation: rpcPermutation,
		Service:     rpcServiceName,
		Method:      method,
		Args:        args,
	}.Encode()
}

// doRPC はRPCエンドポイントにリクエストを送信し、成功ペイロードを返す。
// セッションnonceはクッキーとして送る。
func (c *Client) doRPC(ctx context.Context, payload string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rpcPath, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("RPCリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", gwtContentType)
	req.Header.Set("User-Agent", userAgent)
	if c.sess != nil {
		req.AddCookie(&http.Cookie{Name: sessionNonceCookie, Value: c.sess.nonce})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("RPCリクエストの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("RPCエンドポイントがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("RPCレスポンスの読み取りに失敗しました: %w", err)
	}

	return parseRPCResponse(string(body))
}

// extractHiddenInput はHTMLからname属性が一致する隠しinput要素のvalue属性を取り出す。
// 見つからない場合は空文字列を返す。
func extractHiddenInput(htmlBody []byte, name string) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			if string(tn) != "input" || !hasAttr {
				continue
			}

			var inputType, inputName, inputValue string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "type":
					inputType = strings.ToLower(string(val))
				case "name":
					inputName = string(val)
				case "value":
					inputValue = string(val)
				}
				if !more {
					break
				}
			}

			if inputType == "hidden" && inputName == name && inputValue != "" {
				return inputValue
			}
		}
	}
}
