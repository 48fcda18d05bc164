// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateMeasurement は計測値の一意制約違反を表す。
// 同一の (metric_type_id, source_id, measured_at) が既に存在する場合に
// リポジトリが返し、呼び出し側は正常な重複として扱う。
var ErrDuplicateMeasurement = errors.New("計測値が既に登録されています")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: config, auth, sync, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSourceNotFound    = "SOURCE_NOT_FOUND"
	ErrCodeInvalidDateRange  = "INVALID_DATE_RANGE"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeSyncFailed        = "SYNC_FAILED"
	ErrCodeSyncInProgress    = "SYNC_IN_PROGRESS"
	ErrCodeMissingCredential = "MISSING_CREDENTIAL"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewSourceNotFoundError は未登録ソース指定エラーを生成する。
func NewSourceNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %s", name),
		Category: "sync",
		Action:   "ソース名には cronometer、oura、picooc のいずれかを指定してください。",
	}
}

// NewInvalidDateRangeError は無効な日付範囲エラーを生成する。
func NewInvalidDateRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDateRange,
		Message:  fmt.Sprintf("無効な日付範囲です: %s", reason),
		Category: "validation",
		Action:   "start と end をYYYY-MM-DD形式で、start <= end となるように指定してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を設定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "ソースのベースURLには公開されているサービスのURLを設定してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewSyncFailedError は同期失敗エラーを生成する。
func NewSyncFailedError(source, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  fmt.Sprintf("ソース %s の同期に失敗しました: %s", source, reason),
		Category: "sync",
		Action:   "認証情報とソース側サービスの状態を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewSyncInProgressError は同期の多重起動エラーを生成する。
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "別の同期処理が実行中です。",
		Category: "sync",
		Action:   "実行中の同期が完了してから再度お試しください。",
	}
}

// NewMissingCredentialError は認証情報未設定エラーを生成する。
func NewMissingCredentialError(source string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  fmt.Sprintf("ソース %s の認証情報が設定されていません。", source),
		Category: "config",
		Action:   "該当ソースの認証情報を環境変数で設定してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログにのみ記録し、レスポンスには一般的なメッセージだけを載せる。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
