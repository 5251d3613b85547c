package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hitoshi/catfacts/internal/auth"
	"github.com/hitoshi/catfacts/internal/config"
	"github.com/hitoshi/catfacts/internal/database"
	"github.com/hitoshi/catfacts/internal/fact"
	"github.com/hitoshi/catfacts/internal/handler"
	"github.com/hitoshi/catfacts/internal/logger"
	"github.com/hitoshi/catfacts/internal/metrics"
	"github.com/hitoshi/catfacts/internal/middleware"
	"github.com/hitoshi/catfacts/internal/security"
	"github.com/hitoshi/catfacts/internal/upstream"
	"github.com/hitoshi/catfacts/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Init はwへのJSONロガーを既定にしてから設定を読み込む。
// 設定エラーもJSONログで出せるよう、ロガーはConfigを待たずにLOG_LEVELから作る。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Run はos.Args[1:]のサブコマンドを実行する。SIGINT/SIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	// healthcheckは設定検証なしで動かす
	if cmd == CommandHealthcheck {
		return runHealthcheck(cmp.Or(os.Getenv("SERVER_PORT"), "8080"))
	}

	cfg, err := Init(w)
	if err != nil {
		return err
	}

	slog.Info("catfacts starting",
		slog.String("command", string(cmd)),
		slog.String("base_url", cfg.BaseURL),
		slog.String("user_store", cfg.StorageDriver),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はctxが終わるまでAPIを提供し、その後30秒以内に処理中のリクエストを閉じる。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	routerHandler, closeRouter, err := buildRouter(cfg, store, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer closeRouter()

	// メモリセッションは別プロセスのworkerから削除できないため、サーバー内でクリーンアップする
	if cfg.SessionStore == config.DriverMemory {
		job := cleanup.NewCleanupJob(store.sessions, slog.Default(), nil)
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	// 上流APIの待ち時間ぶん書き込みタイムアウトを延ばす
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.ServerPort),
		Handler:           routerHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15*time.Second + cfg.UpstreamTimeout,
		IdleTimeout:       time.Minute,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("listening",
			slog.String("addr", srv.Addr),
			slog.Bool("federated_login", cfg.FederatedEnabled()),
		)
		listenErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// buildRouter は設定とストレージから全サービスを組み立て、HTTPハンドラーを返す。
// 戻り値の関数はレートリミッターのバックグラウンド処理を停止する。
func buildRouter(cfg *config.Config, store *storage, reg prometheus.Registerer, gatherer prometheus.Gatherer) (http.Handler, func(), error) {
	collector := metrics.NewCollector(reg)

	// 1. 認証サービス
	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	authenticator := auth.NewAuthenticator(store.users, hasher)
	sessions := auth.NewSessionManager(store.sessions, store.users, cfg.SessionTTL())

	// 2. 上流クライアントとファクトプロキシ
	httpClient, err := newUpstreamHTTPClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	client := upstream.NewClient(httpClient, slog.Default(), upstream.Config{
		FactURL:      cfg.FactAPIURL,
		MockURL:      cfg.MockAPIURL,
		Timeout:      cfg.UpstreamTimeout,
		MaxBodyBytes: cfg.UpstreamMaxSize,
	})
	proxy := fact.NewProxy(sessions, client, security.NewTextSanitizer(), collector, cfg.MaxFetchCount)

	// 3. ミドルウェア（req/min → req/sec に変換）
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:  rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst: cfg.RateLimitGeneral,
		AuthRate:     rate.Limit(float64(cfg.RateLimitAuth) / 60.0),
		AuthBurst:    cfg.RateLimitAuth,
	})

	deps := &handler.RouterDeps{
		SessionResolver:   sessions,
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(gatherer),
		HealthCheckers: store.checkers,

		Credentials: authenticator,
		Sessions:    sessions,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Facts: proxy,
	}

	// 未設定の場合はnilインターフェースのままにしてGoogleログインのルートを登録しない
	if cfg.FederatedEnabled() {
		provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   &http.Client{Timeout: cfg.UpstreamTimeout},
		})
		deps.Federated = auth.NewFederatedBroker(provider, store.users)
	}

	return handler.NewRouter(deps), limiter.Stop, nil
}

// newUpstreamHTTPClient は上流呼び出し用のHTTPクライアントを生成する。
// UPSTREAM_SSRF_GUARDが有効な場合は、ベースURLを検証したうえで接続先を検査するクライアントを使う。
func newUpstreamHTTPClient(cfg *config.Config) (*http.Client, error) {
	if !cfg.UpstreamSSRFGuard {
		return &http.Client{}, nil
	}

	guard := security.NewSSRFGuard()
	for _, raw := range []string{cfg.FactAPIURL, cfg.MockAPIURL} {
		if err := guard.ValidateURL(raw); err != nil {
			return nil, fmt.Errorf("upstream url rejected: %s: %w", raw, err)
		}
	}
	return guard.NewSafeClient(cfg.UpstreamTimeout), nil
}

// runWorker はPostgreSQLのセッションを定期的に掃除する。他のストアでは何もしない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.SessionStore != config.DriverPostgres {
		slog.Info("worker has nothing to clean up for this session store",
			slog.String("session_store", cfg.SessionStore),
		)
		return nil
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	job := cleanup.NewCleanupJob(store.sessions, slog.Default(), metrics.NewCollector(prometheus.DefaultRegisterer))

	slog.Info("session cleanup worker running", slog.Duration("interval", cfg.SessionCleanupInterval))
	job.Start(ctx, cfg.SessionCleanupInterval)
	slog.Info("session cleanup worker stopped")
	return nil
}

// runMigrate は "migrate" で未適用分を適用し、"migrate down [N]" で直近N件（省略時は全件）を戻す。
func runMigrate(cfg *config.Config, args []string) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	if len(args) > 0 && args[0] == "down" {
		steps := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid rollback steps: %q", args[1])
			}
			steps = n
		}
		slog.Info("rolling back database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
			slog.Int("steps", steps),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		slog.Info("rollback done")
		return nil
	}

	slog.Info("applying migrations", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// runHealthcheck はシェルのないdistrolessイメージでHEALTHCHECKに使う。
func runHealthcheck(port string) error {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort("localhost", port) + "/health")
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
