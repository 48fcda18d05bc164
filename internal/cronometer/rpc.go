package cronometer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GWT形式RPCのワイヤフォーマット定数。
// permutationはリモートサービスのビルドごとに変わるヘッダ識別子で、
// サービスが再デプロイされるとこの値ごと更新が必要になる。
const (
	rpcVersion     = "7"
	rpcFlags       = "0"
	rpcPermutation = "58B01C4AD24E98AB3C51A32E9F0D9A2C"
	rpcServiceName = "com.cronometer.shared.rpc.CronometerService"

	methodAuthenticate  = "authenticate"
	methodGenerateToken = "generateAuthorizationToken"
	methodLogout        = "logout"
)

// RPCレスポンスの先頭マーカー。
const (
	rpcSuccessPrefix = "//OK"
	rpcFaultPrefix   = "//EX"
)

// rpcRequest はRPCエンドポイントへの1回の呼び出しを表す。
// エンコード結果はパイプ区切りの文字列テーブル形式で、先頭から
// バージョン・フラグ・テーブル長・文字列テーブル・参照インデックスの順に並ぶ。
// リモートサービスはこの形式をバイト単位で検証するため、区切りや順序を変えてはならない。
type rpcRequest struct {
	ModuleBase  string
	Permutation string
	Service     string
	Method      string
	Args        []string
}

// Encode はリクエストをワイヤフォーマットの文字列へ変換する。
func (r rpcRequest) Encode() string {
	table := make([]string, 0, 4+len(r.Args))
	table = append(table, r.ModuleBase, r.Permutation, r.Service, r.Method)
	table = append(table, r.Args...)

	fields := make([]string, 0, 3+len(table)+5+len(r.Args))
	fields = append(fields, rpcVersion, rpcFlags, strconv.Itoa(len(table)))
	fields = append(fields, table...)

	// 参照部: モジュールベース・permutation・サービス名・メソッド名は
	// テーブル先頭4要素への1始まりの固定参照。続いて引数の個数と各引数への参照。
	fields = append(fields, "1", "2", "3", "4", strconv.Itoa(len(r.Args)))
	for i := range r.Args {
		fields = append(fields, strconv.Itoa(5+i))
	}

	return strings.Join(fields, "|") + "|"
}

// parseRPCResponse はRPCレスポンスの先頭マーカーを判定し、成功ペイロードを返す。
// //EX で始まる場合はサーバー側の障害で、含まれるメッセージをエラーとして返す。
// どちらのマーカーでもない場合はリモート契約の破損として扱う。
func parseRPCResponse(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(trimmed, rpcSuccessPrefix):
		return strings.TrimPrefix(trimmed, rpcSuccessPrefix), nil
	case strings.HasPrefix(trimmed, rpcFaultPrefix):
		return "", fmt.Errorf("RPC呼び出しがサーバー側で失敗しました: %s", faultMessage(trimmed))
	default:
		return "", fmt.Errorf("RPCレスポンスの形式が想定と異なります: %s", truncateForLog(trimmed))
	}
}

// quotedStringPattern はペイロード中の最初の引用符付き文字列にマッチする。
var quotedStringPattern = regexp.MustCompile(`"([^"]+)"`)

// faultMessage は //EX ペイロードからサーバーのエラーメッセージを取り出す。
// 障害ペイロードの文字列テーブルは例外クラス名・メッセージの順に並ぶため、
// 最後の引用符付き文字列をメッセージとして扱う。
// 引用符付き文字列が見つからない場合はペイロード全体を返す。
func faultMessage(body string) string {
	payload := strings.TrimPrefix(body, rpcFaultPrefix)
	if ms := quotedStringPattern.FindAllStringSubmatch(payload, -1); len(ms) > 0 {
		return ms[len(ms)-1][1]
	}
	return truncateForLog(payload)
}

// userIDPattern は認証レスポンスのペイロード先頭の数値にマッチする。
var userIDPattern = regexp.MustCompile(`^\[(-?\d+)`)

// parseUserID は認証レスポンスのペイロードからユーザーIDを取り出す。
// パターンに一致しない場合はリモート契約の破損として扱う。
// 負のIDはセッション未認証を意味する。
func parseUserID(payload string) (int, error) {
	m := userIDPattern.FindStringSubmatch(strings.TrimSpace(payload))
	if m == nil {
		return 0, fmt.Errorf("認証レスポンスからユーザーIDを抽出できませんでした: %s", truncateForLog(payload))
	}

	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("ユーザーIDの数値変換に失敗しました: %w", err)
	}
	if id < 0 {
		return 0, fmt.Errorf("セッションが認証されていません (ユーザーID %d)", id)
	}

	return id, nil
}

// parseQuotedToken はトークン発行レスポンスから引用符付きトークン文字列を取り出す。
func parseQuotedToken(payload string) (string, error) {
	m := quotedStringPattern.FindStringSubmatch(payload)
	if m == nil {
		return "", fmt.Errorf("レスポンスから認可トークンを抽出できませんでした: %s", truncateForLog(payload))
	}
	return m[1], nil
}

// maxLogPayload はエラーメッセージに含めるペイロードの最大長。
const maxLogPayload = 200

// truncateForLog はエラーメッセージ向けにペイロードを短縮する。
func truncateForLog(s string) string {
	if len(s) <= maxLogPayload {
		return s
	}
	return s[:maxLogPayload] + "..."
}
