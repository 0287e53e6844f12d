package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/usermigrator/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	AdminToken       string
	LoginRateLimiter *middleware.RateLimiter

	HealthChecker    HealthChecker
	MigrationService MigrationServiceInterface
	Importer         BulkImporter

	// MetricsHandler がnilの場合は/metricsを公開しない。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → AdminAuth(/api/*) → RateLimit(ログインのみ、レルムとユーザー名単位)
//
// /health と /metrics は管理トークンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	migrationHandler := NewMigrationHandler(deps.MigrationService, deps.Importer, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 管理トークンが必要なルート ---
	r.Route("/api/realms/{realm}/migrations", func(r chi.Router) {
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminToken, deps.Logger))

		login := http.Handler(http.HandlerFunc(migrationHandler.Login))
		if deps.LoginRateLimiter != nil {
			login = deps.LoginRateLimiter.Middleware(loginRateLimitKey)(login)
		}
		r.Method(http.MethodPost, "/login", login)

		r.Post("/users/{username}", migrationHandler.MigrateUser)
		r.Post("/import", migrationHandler.Import)
	})

	return r
}
