package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/health"
	pkgmiddleware "github.com/Yoseph-M/Soultalk-sub000/pkg/middleware"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/config"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/session"
)

const serviceName = "sessiond"

// NewRouter creates a chi router with global middleware, health endpoints,
// the session API and the authenticated backend proxy. ctx bounds the
// background work of the login rate limiter.
func NewRouter(
	ctx context.Context,
	cfg *config.Config,
	manager *session.Manager,
	apiProxy http.Handler,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack (applied in order).
	r.Use(pkgmiddleware.CORS(pkgmiddleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		ExposedHeaders:   []string{pkgmiddleware.CorrelationHeader},
		AllowCredentials: true,
	}))
	r.Use(pkgmiddleware.Recovery(logger))
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(pkgmiddleware.RequestLogging(logger))
	r.Use(pkgmiddleware.PrometheusMetrics(serviceName))
	r.Use(pkgmiddleware.Tracing(serviceName, "/health/", "/metrics", "/debug/pprof/"))
	r.Use(pkgmiddleware.RequestLogger(logger, currentUserID(manager)))

	// Health check endpoints.
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())

	// Metrics endpoint with IP allowlist protection.
	r.With(pkgmiddleware.IPAllowlist(cfg.MetricsAllowedCIDRs, logger)).
		Handle("/metrics", promhttp.Handler())

	if cfg.PprofEnabled {
		pkgmiddleware.RegisterPprof(r, cfg.MetricsAllowedCIDRs, logger)
	}

	sessionHandler := NewSessionHandler(manager, logger)

	r.Route("/session", func(r chi.Router) {
		r.Use(pkgmiddleware.NoStore)

		r.Get("/", sessionHandler.Status)
		r.With(pkgmiddleware.RateLimit(ctx, cfg.LoginRateLimitRPS, cfg.LoginRateLimitBurst, logger)).
			Post("/login", sessionHandler.Login)
		r.Post("/signup", sessionHandler.Signup)
		r.Post("/logout", sessionHandler.Logout)
		r.Post("/refresh", sessionHandler.Refresh)
		r.With(
			pkgmiddleware.RequireSession(currentPrincipal(manager)),
			pkgmiddleware.RequireRole(roleNames()...),
		).Patch("/user", sessionHandler.UpdateUser)
	})

	// Backend API, called with the session's credentials.
	r.Handle("/api/*", apiProxy)

	return r
}

func currentPrincipal(manager *session.Manager) pkgmiddleware.PrincipalResolver {
	return func(context.Context) (pkgmiddleware.Principal, bool) {
		u := manager.CurrentUser()
		if u == nil {
			return pkgmiddleware.Principal{}, false
		}
		return pkgmiddleware.Principal{UserID: u.ID, Role: string(u.Role)}, true
	}
}

// roleNames lists the roles allowed to edit their cached profile. A session
// whose role this build does not know is refused.
func roleNames() []string {
	roles := domain.ValidRoles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func currentUserID(manager *session.Manager) pkgmiddleware.UserResolver {
	return func(context.Context) string {
		if u := manager.CurrentUser(); u != nil {
			return u.ID
		}
		return ""
	}
}
