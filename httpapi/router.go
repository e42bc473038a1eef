package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Config controls the HTTP surface.
type Config struct {
	// TrustProxy honours the first X-Forwarded-For hop as the client IP.
	TrustProxy bool
	RateLimit  middleware.IPRateLimiterConfig
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
}

// DefaultConfig returns the settings used by the server binary.
func DefaultConfig() Config {
	return Config{
		RateLimit:    middleware.DefaultIPRateLimiterConfig(),
		MaxBodyBytes: 64 << 10,
	}
}

// API binds HTTP handlers to an engine.
type API struct {
	engine  *authgate.Engine
	logger  logrus.FieldLogger
	cfg     Config
	limiter *middleware.IPRateLimiter
}

func New(engine *authgate.Engine, logger logrus.FieldLogger, cfg Config) *API {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &API{
		engine:  engine,
		logger:  logger,
		cfg:     cfg,
		limiter: middleware.NewIPRateLimiter(cfg.RateLimit),
	}
}

// Limiter returns the per-IP limiter so callers can sweep idle buckets.
func (a *API) Limiter() *middleware.IPRateLimiter {
	return a.limiter
}

// Router builds the route tree.
//
// Middleware order:
//
//	RequestID → ClientIP → AccessLog → IPRateLimiter (POST routes only)
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientIP(a.cfg.TrustProxy))
	r.Use(middleware.AccessLog(a.logger))

	r.Get("/healthz", a.healthz)
	if a.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware)

		r.Route("/captcha", func(r chi.Router) {
			r.Post("/generate", a.generateCaptcha)
			r.Post("/refresh", a.refreshCaptcha)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.register)
			r.Post("/login", a.login)
			r.Post("/forgot-password", a.forgotPassword)
			r.Post("/reset-password/validate", a.validateResetToken)
			r.Post("/reset-password", a.resetPassword)
			r.Post("/verify-email", a.verifyEmail)
			r.Post("/resend-verification", a.resendVerification)
		})
	})

	r.With(middleware.RequireSession(a.engine)).Get("/auth/me", a.me)

	return r
}
