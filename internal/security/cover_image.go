package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/librarian/internal/model"
)

// CoverImageVerifier は外部オブジェクトストレージ上の表紙画像URLを検証する。
// 画像のバイナリは扱わず、URL参照だけを受け取る。
type CoverImageVerifier interface {
	// Verify はURLを検証し、問題があればValidationErrorを返す。
	Verify(ctx context.Context, rawURL string) error
}

// allowedSchemes は表紙画像URLで許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は表紙画像URLとして受け付けないネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（メタデータIPを含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// coverImageVerifier はCoverImageVerifierの実装。
// remoteが有効な場合はsafeurlのクライアントでHEADリクエストを送り、
// 画像として取得できることまで確認する。
type coverImageVerifier struct {
	remote bool
	client *http.Client
}

// NewCoverImageVerifier はCoverImageVerifierを生成する。
// remoteがfalseの場合はネットワークアクセスを伴わない静的検証のみ行う。
func NewCoverImageVerifier(remote bool, timeout time.Duration) *coverImageVerifier {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &coverImageVerifier{
		remote: remote,
		client: safeurl.Client(config).Client,
	}
}

// Verify は静的検証を行い、有効であれば到達性と Content-Type も確認する。
func (v *coverImageVerifier) Verify(ctx context.Context, rawURL string) error {
	if err := ValidateURL(rawURL); err != nil {
		return model.NewInvalidCoverImageError(err.Error())
	}
	if !v.remote {
		return nil
	}
	if err := v.headImage(ctx, rawURL); err != nil {
		return model.NewInvalidCoverImageError(err.Error())
	}
	return nil
}

// headImage はHEADリクエストで2xxかつ image/* が返ることを確認する。
func (v *coverImageVerifier) headImage(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("not an image: %q", contentType)
	}
	return nil
}

// ValidateURL はURLの安全性をDNS解決なしで静的に検証する。
// DNS再バインディングはremote検証時のsafeurlクライアント側で防止される。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
