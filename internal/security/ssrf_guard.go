package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は上流APIへの接続先を制限する。
// ベースURLは起動時に静的検証し、実際の接続はsafeurlのDialerで解決後IPを検証する。
type SSRFGuardService interface {
	NewSafeClient(timeout time.Duration) *http.Client
	ValidateURL(rawURL string) error
}

var (
	upstreamSchemes = []string{"http", "https"}
	upstreamPorts   = []int{80, 443}
)

// privatePrefixes はループバック・プライベート・リンクローカル（メタデータIP含む）の範囲。
var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

var errEmptyUpstreamURL = errors.New("upstream url is empty")

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceを返す。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はリダイレクト先を含め、解決後のIPがプライベート範囲なら接続を拒否するクライアントを返す。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(upstreamSchemes...).
		SetAllowedPorts(upstreamPorts...).
		Build()
	return safeurl.Client(cfg).Client
}

func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errEmptyUpstreamURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse upstream url: %w", err)
	}
	if !slices.Contains(upstreamSchemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("upstream scheme %q is not http(s)", u.Scheme)
	}

	host := u.Hostname()
	switch {
	case host == "":
		return fmt.Errorf("upstream url %q has no host", rawURL)
	case strings.EqualFold(host, "localhost"):
		return fmt.Errorf("upstream host %q is local", host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		// ホスト名は接続時にsafeurlが検証する
		return nil
	}
	if isPrivateAddr(addr) {
		return fmt.Errorf("upstream address %s is in a private range", addr)
	}
	return nil
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return slices.ContainsFunc(privatePrefixes, func(p netip.Prefix) bool {
		return p.Contains(addr)
	})
}

var _ SSRFGuardService = (*ssrfGuard)(nil)
