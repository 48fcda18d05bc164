// Package security は同期パイプラインのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// 各ソースのベースURLは運用者が環境変数で自由に設定できるため、
// 信頼できない入力として扱い、起動時の静的検証と取得時のダイヤル検証の
// 両方を通す。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストが自動的にブロックされる。
	// DNS再バインディング攻撃への対策も有効化される。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はURLの安全性を事前に検証する。
	// スキーム、ホスト、IPアドレスの検証を行い、
	// 危険なURLの場合はエラーを返す。
	ValidateURL(rawURL string) error
}

// allowedSchemes は外部ソースへの接続で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// deniedPrefixes はValidateURLが拒否するアドレス帯。
// プライベート帯 (RFC 1918)、ループバック、リンクローカル
// （クラウドメタデータIP 169.254.169.254 を含む）、カレントネットワーク、
// およびIPv6の対応する帯域をまとめる。
var deniedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// 各ソースクライアント（Cronometer / Oura / Picooc）はこのクライアント経由で
// 外部サービスへアクセスする。safeurlはnet.DialerのControlフックで
// DNS解決後のIPアドレスを検証するため、ValidateURLの静的検証を通過した
// ホスト名がプライベートIPに解決されるDNS再バインディング攻撃も防止される。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateURL はベースURL設定の静的な事前検証を行う。
// DNS解決を伴わないため、ホスト名の解決先はNewSafeClientが生成する
// クライアントのダイヤル時検証が最終防壁となる。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", parsed.Scheme, allowedSchemes)
	}

	// FQDN表記の末尾ドットはブロックリスト照合前に落とす
	host := strings.TrimSuffix(parsed.Hostname(), ".")
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isDeniedAddr(addr) {
			return fmt.Errorf("address not allowed: %s", addr)
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("host not allowed: %s", host)
	}

	return nil
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isDeniedAddr はIPアドレスが拒否対象の帯域に含まれるかを検証する。
// IPv4射影IPv6アドレス (::ffff:a.b.c.d) はIPv4として照合する。
func isDeniedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range deniedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
