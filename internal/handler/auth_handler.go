package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/catfacts/internal/auth"
	"github.com/hitoshi/catfacts/internal/metrics"
	"github.com/hitoshi/catfacts/internal/middleware"
	"github.com/hitoshi/catfacts/internal/model"
)

const (
	// oauthPendingCookie はコールバックまでstateとPKCE verifierを保持するCookie。
	oauthPendingCookie = "oauth_pending"
	oauthPendingMaxAge = 600
	oauthPendingPath   = "/auth/google"

	loginErrorParam = "login_error"
)

// 認証イベントのメトリクスラベル。
const (
	eventRegister       = "register"
	eventLogin          = "login"
	eventFederatedLogin = "federated_login"
	eventLogout         = "logout"
)

// CredentialAuthenticator はメールアドレスとパスワードによる登録・認証のインターフェース。
type CredentialAuthenticator interface {
	Register(ctx context.Context, username, email, secret string) (*model.User, error)
	Login(ctx context.Context, email, secret string) (*model.User, error)
}

// SessionService はセッションの発行・解決・破棄のインターフェース。
type SessionService interface {
	Establish(ctx context.Context, user *model.User) (*model.Session, error)
	Resolve(ctx context.Context, token string) (*model.User, error)
	Revoke(ctx context.Context, token string) error
}

// FederatedLoginService はフェデレーテッドログイン試行を生成・復元するインターフェース。
type FederatedLoginService interface {
	NewLogin() *auth.FederatedLogin
	Resume(pending auth.PendingFederatedLogin) *auth.FederatedLogin
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	credentials CredentialAuthenticator
	sessions    SessionService
	federated   FederatedLoginService
	metrics     metrics.MetricsCollector
	config      AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// federatedがnilの場合、Googleログインは無効となる。
func NewAuthHandler(
	credentials CredentialAuthenticator,
	sessions SessionService,
	federated FederatedLoginService,
	collector metrics.MetricsCollector,
	config AuthHandlerConfig,
) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		credentials: credentials,
		sessions:    sessions,
		federated:   federated,
		metrics:     collector,
		config:      config,
	}
}

// FederatedEnabled はGoogleログインが有効かどうかを返す。
func (h *AuthHandler) FederatedEnabled() bool {
	return h.federated != nil
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Federated bool   `json:"federated"`
}

type loginResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Federated: user.HasFederatedID(),
	}
}

// Register はローカルユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.credentials.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.metrics.RecordAuthEvent(eventRegister, metrics.OutcomeFailure)
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordAuthEvent(eventRegister, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login はメールアドレスとパスワードで認証し、セッションを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.credentials.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordAuthEvent(eventLogin, metrics.OutcomeFailure)
		handleServiceError(w, err)
		return
	}

	session, err := h.sessions.Establish(r.Context(), user)
	if err != nil {
		h.metrics.RecordAuthEvent(eventLogin, metrics.OutcomeFailure)
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordAuthEvent(eventLogin, metrics.OutcomeSuccess)
	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		User:      toUserResponse(user),
		Token:     session.ID,
		ExpiresAt: session.ExpiresAt,
	})
}

// GoogleLogin はGoogleログインを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.federated == nil {
		http.NotFound(w, r)
		return
	}

	start, err := h.federated.NewLogin().Begin()
	if err != nil {
		h.metrics.RecordAuthEvent(eventFederatedLogin, metrics.OutcomeFailure)
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.pendingCookie(encodePending(start.Pending), oauthPendingMaxAge))
	http.Redirect(w, r, start.RedirectURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はIdPからのコールバックを処理する。
// 成功時はセッションCookieを設定してBaseURLへ、失敗時はlogin_error付きのBaseURLへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.federated == nil {
		http.NotFound(w, r)
		return
	}

	var pending auth.PendingFederatedLogin
	if cookie, err := r.Cookie(oauthPendingCookie); err == nil {
		pending = decodePending(cookie.Value)
	}
	// 試行情報は1回限り
	http.SetCookie(w, h.pendingCookie("", -1))

	query := r.URL.Query()
	user, err := h.federated.Resume(pending).Complete(r.Context(), auth.CallbackParams{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	})
	if err != nil {
		h.metrics.RecordAuthEvent(eventFederatedLogin, metrics.OutcomeFailure)
		h.redirectWithLoginError(w, r, err)
		return
	}

	session, err := h.sessions.Establish(r.Context(), user)
	if err != nil {
		slog.Error("failed to establish session after federated login", slog.String("error", err.Error()))
		h.metrics.RecordAuthEvent(eventFederatedLogin, metrics.OutcomeFailure)
		h.redirectWithLoginError(w, r, model.NewFederationFailedError())
		return
	}

	h.metrics.RecordAuthEvent(eventFederatedLogin, metrics.OutcomeSuccess)
	h.setSessionCookie(w, session.ID)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionTokenFromRequest(r); token != "" {
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			// 破棄に失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.metrics.RecordAuthEvent(eventLogout, metrics.OutcomeSuccess)
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.sessions.Resolve(r.Context(), middleware.SessionTokenFromRequest(r))
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
	}
	if err != nil || user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// pendingCookie はIdPからのトップレベル遷移でも送信されるようSameSite=Laxで発行する。
func (h *AuthHandler) pendingCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthPendingCookie,
		Value:    value,
		Path:     oauthPendingPath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) redirectWithLoginError(w http.ResponseWriter, r *http.Request, err error) {
	code := model.ErrCodeFederationFailed
	if apiErr, ok := err.(*model.APIError); ok {
		code = apiErr.Code
	}

	target := h.config.BaseURL
	if u, parseErr := url.Parse(h.config.BaseURL); parseErr == nil {
		q := u.Query()
		q.Set(loginErrorParam, code)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// encodePending はstateとverifierをCookie値にまとめる。
// stateはhex、verifierはbase64urlのため"."を区切りに使える。
func encodePending(p auth.PendingFederatedLogin) string {
	return p.State + "." + p.Verifier
}

func decodePending(value string) auth.PendingFederatedLogin {
	state, verifier, ok := strings.Cut(value, ".")
	if !ok {
		return auth.PendingFederatedLogin{}
	}
	return auth.PendingFederatedLogin{State: state, Verifier: verifier}
}
