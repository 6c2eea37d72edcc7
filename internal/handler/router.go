package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chirpbot/chirpboard/internal/auth"
	"github.com/chirpbot/chirpboard/internal/botapi"
	"github.com/chirpbot/chirpboard/internal/cache"
	"github.com/chirpbot/chirpboard/internal/metrics"
	"github.com/chirpbot/chirpboard/internal/middleware"
	"github.com/chirpbot/chirpboard/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Validator         *session.Validator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService   *auth.Service
	SessionMaxAge int // セッションCookieの有効期間（秒）

	// 上流
	Guilds   GuildFetcher
	Bot      *botapi.Client
	Presence *cache.Presence
	Health   *cache.Upstream[*botapi.HealthResult]

	// 観測
	Collector metrics.MetricsCollector
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → [Session → RateLimit]
//
// OAuthフロー（/auth/login等）と/healthはセッション検証の外に配置する。
// /auth/meはセッション検証のみ（トークンリフレッシュなし）で通過する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Collector))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionMaxAge)
	dashboardHandler := NewDashboardHandler(deps.Guilds, deps.Presence)
	insightsHandler := NewInsightsHandler(deps.Guilds, deps.Bot)
	infractionHandler := NewInfractionHandler(deps.Guilds, deps.Bot)
	statusHandler := NewStatusHandler(deps.Health, deps.Collector)

	// --- 認証不要のルート ---

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)

		// セッション検証のみ（アクセストークン不要）
		r.With(middleware.NewSessionMiddleware(deps.Validator, deps.AuthService, deps.SessionMaxAge, false)).
			Get("/me", authHandler.Me)
	})

	r.Get("/health", statusHandler.Health)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session（検証+リフレッシュ） → RateLimit
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Validator, deps.AuthService, deps.SessionMaxAge, true))
		r.Use(deps.RateLimiter.Middleware())

		r.Route("/api/dashboard", func(r chi.Router) {
			r.Get("/guilds", dashboardHandler.Guilds)
			r.Get("/guild", dashboardHandler.Guild)
		})

		r.Route("/api/guilds/{id}/insights", func(r chi.Router) {
			r.Get("/", insightsHandler.Insights)
			r.Post("/", insightsHandler.UpdateConfig)
		})

		r.Get("/api/me/infractions", infractionHandler.MyInfractions)
		r.Patch("/api/infractions/{id}", infractionHandler.EditInfraction)
	})

	return r
}
