package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/catfacts/internal/metrics"
	"github.com/hitoshi/catfacts/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	TrustProxyHeaders bool
	Logger            *slog.Logger

	// 監視
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	HealthCheckers map[string]HealthChecker

	// 認証
	Credentials CredentialAuthenticator
	Sessions    SessionService
	Federated   FederatedLoginService // nilの場合Googleログインのルートを登録しない
	AuthConfig  AuthHandlerConfig

	// ファクト
	Facts FactService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP（TRUST_PROXY_HEADERS時） → Logging → Recovery → SecurityHeaders → CORS → Metrics → CSRF
//
// /auth/register と /auth/login にはクライアントIP単位のレート制限、
// /api/* にはSession → ユーザー単位のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.Credentials, deps.Sessions, deps.Federated, deps.Metrics, deps.AuthConfig)
	factHandler := NewFactHandler(deps.Facts)

	// --- 認証不要のルート ---

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthCheckers))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		if authHandler.FederatedEnabled() {
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
		}
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/facts", func(r chi.Router) {
			r.Get("/", factHandler.FetchMany)
			r.Get("/one", factHandler.FetchOne)
		})

		r.Route("/api/mocks", func(r chi.Router) {
			r.Post("/", factHandler.CreateMock)
			r.Put("/{id}", factHandler.UpdateMock)
			r.Delete("/{id}", factHandler.DeleteMock)
		})
	})

	return r
}
