package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipstream/account-service/internal/auth"
	"github.com/clipstream/account-service/internal/repository"
	"github.com/clipstream/account-service/internal/service"
	"github.com/clipstream/account-service/pkg/health"
	"github.com/clipstream/account-service/pkg/middleware"
)

// RouterConfig bundles the dependencies needed to build the HTTP router.
type RouterConfig struct {
	Service       *service.AccountService
	Repo          repository.UserRepository
	Tokens        *auth.TokenManager
	Health        *health.Handler
	Logger        *slog.Logger
	CORS          CORSConfig
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// NewRouter creates a chi router with all account service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("account"))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(cfg.Service, cfg.AccessExpiry, cfg.RefreshExpiry, cfg.Logger)
	requireAuth := RequireAuth(cfg.Tokens, cfg.Repo)

	// Public auth endpoints. Registration takes multipart/form-data for the
	// image uploads, so it stays outside the JSON content-type gate.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Post("/login", authHandler.Login)
		})

		// Refresh may carry the token as a cookie with no body at all, so it
		// is not behind the JSON content-type gate.
		r.Post("/refresh", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/logout", authHandler.Logout)
		})
	})

	// Authenticated user endpoints.
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/me", authHandler.Me)
	})

	return r
}
