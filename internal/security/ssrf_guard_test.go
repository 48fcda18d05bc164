package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestSSRFGuard_ImplementsInterface はssrfGuardがSSRFGuardServiceを実装していることをテストする。
func TestSSRFGuard_ImplementsInterface(t *testing.T) {
	var guard SSRFGuardService = NewSSRFGuard()
	if guard == nil {
		t.Fatal("NewSSRFGuard() returned nil")
	}
}

// TestValidateURL はベースURL設定の静的検証を網羅的にテストする。
// 許可される側は各ソースのデフォルトベースURLと同形のURLを使う。
func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		rawURL  string
		wantErr bool
	}{
		// 公開ホストへのHTTPSは許可
		{"Cronometer本番URL", "https://cronometer.com", false},
		{"OuraのスリープAPI", "https://api.ouraring.com/v2/usercollection/daily_sleep", false},
		{"Picoocの体組成API", "https://api2.picooc-int.com/v1/api/bodyIndex/bodyIndexList", false},
		{"公開IPへのHTTP", "http://93.184.216.34/export", false},

		// プライベートIP (RFC 1918)
		{"10系の先頭", "http://10.0.0.1/export", true},
		{"10系の末尾", "http://10.255.255.255/export", true},
		{"172.16系の先頭", "http://172.16.0.1/export", true},
		{"172.16系の末尾", "http://172.31.255.255/export", true},
		{"192.168系", "http://192.168.1.100/export", true},

		// ループバック
		{"IPv4ループバック", "http://127.0.0.1/export", true},
		{"127/8の別アドレス", "http://127.0.0.2/export", true},
		{"IPv6ループバック", "http://[::1]/export", true},
		{"localhost", "http://localhost/export", true},
		{"大文字のlocalhost", "http://LOCALHOST/export", true},
		{"末尾ドット付きlocalhost", "http://localhost./export", true},

		// リンクローカルとクラウドメタデータ
		{"リンクローカル", "http://169.254.0.1/export", true},
		{"AWSメタデータIP", "http://169.254.169.254/latest/meta-data/", true},
		{"GCPメタデータパス", "http://169.254.169.254/computeMetadata/v1/", true},

		// その他の拒否帯域
		{"ゼロアドレス", "http://0.0.0.0/export", true},
		{"IPv6ユニークローカル", "http://[fd00::1]/export", true},
		{"IPv6リンクローカル", "http://[fe80::1]/export", true},
		{"IPv4射影IPv6のループバック", "http://[::ffff:127.0.0.1]/export", true},
		{"IPv4射影IPv6のプライベートIP", "http://[::ffff:192.168.0.1]/export", true},

		// 不正なURLとスキーム
		{"空文字", "", true},
		{"スキームなし", "not-a-url", true},
		{"ftpスキーム", "ftp://example.com/export", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"gopherスキーム", "gopher://example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.rawURL)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateURL(%q) = nil, want error", tt.rawURL)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateURL(%q) = %v, want nil", tt.rawURL, err)
			}
		})
	}
}

// TestNewSafeClient_AppliesTimeout は指定したタイムアウトがクライアントに反映されることをテストする。
func TestNewSafeClient_AppliesTimeout(t *testing.T) {
	guard := NewSSRFGuard()

	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout, 5*1024*1024)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}
}

// TestNewSafeClient_UsesCustomTransport はダイヤル時検証のための
// カスタムTransportが設定されていることをテストする。
func TestNewSafeClient_UsesCustomTransport(t *testing.T) {
	guard := NewSSRFGuard()

	client := guard.NewSafeClient(5*time.Second, 5*1024*1024)
	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// TestNewSafeClient_BlocksLoopbackDial はDNS再バインディングの最終防壁である
// ダイヤル時検証がループバックへの接続を拒否することをテストする。
// httptestサーバーは127.0.0.1で待ち受けるため、リクエストは失敗するべき。
func TestNewSafeClient_BlocksLoopbackDial(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	guard := NewSSRFGuard()
	client := guard.NewSafeClient(5*time.Second, 5*1024*1024)

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}
