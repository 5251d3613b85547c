package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/catfacts/internal/model"
)

// ダブルサブミット用のCookieはJavaScriptから読めるようHttpOnlyにしない。
const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"

	csrfTokenBytes   = 32
	csrfCookieMaxAge = 24 * 60 * 60
)

var csrfTokenContextKey = contextKey("csrf_token")

// CSRFConfig はCSRFトークンCookieの属性。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewCSRFMiddleware はダブルサブミット方式でCSRFを検証する。
// 読み取り系メソッドではトークンCookieを配るだけで、検証はセッションCookie付きの更新系リクエストに限る。
// Bearerのみのリクエストは素通しする。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, issueCSRFCookie(w, r, config))
				return
			}

			if reason := csrfFailure(r); reason != "" {
				slog.Warn("csrf check rejected request",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// csrfFailure は拒否理由を返す。検証不要または一致した場合は空文字。
func csrfFailure(r *http.Request) string {
	if session, err := r.Cookie(SessionCookieName); err != nil || session.Value == "" {
		return ""
	}
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "cookie token absent"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "header token absent"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return "cookie and header differ"
	}
	return ""
}

// NewCSRFTokenHandler は GET /api/csrf-token を処理する。
// 手元のCookie、同じリクエストで配ったトークン、新規発行の順にトークンを決める。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := currentCSRFToken(r)
		if token == "" {
			var err error
			if token, err = newCSRFToken(); err != nil {
				slog.Error("csrf token generation failed", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			http.SetCookie(w, csrfCookie(token, config))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Token string `json:"token"`
		}{token})
	})
}

func currentCSRFToken(r *http.Request) string {
	if c, err := r.Cookie(csrfCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	issued, _ := r.Context().Value(csrfTokenContextKey).(string)
	return issued
}

// issueCSRFCookie はトークンCookieを持たないクライアントに配り、値をコンテキストにも載せる。
func issueCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) *http.Request {
	if _, err := r.Cookie(csrfCookieName); err == nil {
		return r
	}
	token, err := newCSRFToken()
	if err != nil {
		slog.Error("csrf token generation failed", slog.String("error", err.Error()))
		return r
	}
	http.SetCookie(w, csrfCookie(token, config))
	return r.WithContext(context.WithValue(r.Context(), csrfTokenContextKey, token))
}

func csrfCookie(token string, config CSRFConfig) *http.Cookie {
	return &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func newCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
