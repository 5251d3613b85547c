package auth

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	userInfoMaxBytes = 1 << 20
)

// GoogleOAuthConfig はGoogleプロバイダーの設定。エンドポイントURLは空ならGoogle本番を使う。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// GoogleOAuthProvider は認可コード + PKCE(S256) でGoogleアカウントを検証する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := oauth2.Endpoint{
		AuthURL:   cmp.Or(config.AuthURL, defaultGoogleAuthURL),
		TokenURL:  cmp.Or(config.TokenURL, defaultGoogleTokenURL),
		AuthStyle: oauth2.AuthStyleInParams,
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: cmp.Or(config.UserInfoURL, defaultGoogleUserInfoURL),
		httpClient:  client,
	}
}

func (p *GoogleOAuthProvider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Exchange はverifier付きでトークンを取得し、userinfoエンドポイントの内容を返す。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*OAuthUserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("google token exchange: %w", err)
	}

	info, err := p.userInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}

	return &OAuthUserInfo{
		SubjectID: info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		Provider:  "google",
	}, nil
}

func (p *GoogleOAuthProvider) userInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, userInfoMaxBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &info, nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
