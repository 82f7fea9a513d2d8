package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/abuse/engine"
	abuseMW "vigil/internal/abuse/middleware"
	"vigil/internal/abuse/models"
	"vigil/internal/platform/health"
	platformMW "vigil/internal/platform/middleware"
	"vigil/pkg/platform/requesttime"
)

// Engine is the consumer-side view of the abuse engine.
type Engine interface {
	CheckRateLimit(ctx context.Context, identifier string, action models.Action) (*models.Decision, error)
	CheckLogin(ctx context.Context, username, origin string) (*models.Decision, error)
	ReportLoginFailure(ctx context.Context, username, origin string) error
	ReportLoginSuccess(ctx context.Context, username, origin string) error
	ReportEvent(ctx context.Context, event *models.SecurityEvent)
	IsBlocked(ctx context.Context, identifier string) (*models.BlockRecord, error)
	Block(ctx context.Context, identifier string, duration time.Duration) (*models.BlockRecord, error)
	Unblock(ctx context.Context, identifier string) error
	GetStats(ctx context.Context, identifier string, action models.Action) (*engine.Stats, error)
}

// NewRouter wires all public endpoints with middleware. The check
// endpoints sit behind the engine's own rate-limit middleware keyed by
// caller IP under the api_request policy.
func NewRouter(h *Handler, healthHandler *health.Handler, logger *slog.Logger, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(platformMW.Recovery(logger))
	r.Use(platformMW.RequestID)
	r.Use(platformMW.ClientIP)
	r.Use(requesttime.Middleware)
	r.Use(platformMW.Logger(logger))
	r.Use(platformMW.Timeout(requestTimeout))
	r.Use(platformMW.ContentTypeJSON)

	guard := abuseMW.New(h.engine, logger)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(guard.RateLimit(models.ActionAPIRequest))

			r.Post("/ratelimit/check", h.handleCheck)
			r.Post("/login/check", h.handleLoginCheck)
			r.Post("/login/failure", h.handleLoginFailure)
			r.Post("/login/success", h.handleLoginSuccess)
			r.Post("/events", h.handleEvent)
		})

		// Admin surface, deliberately outside the self-applied limiter.
		r.Get("/blocks/{identifier}", h.handleGetBlock)
		r.Post("/blocks/{identifier}", h.handleBlock)
		r.Delete("/blocks/{identifier}", h.handleUnblock)
		r.Get("/stats/{identifier}", h.handleStats)
		r.Get("/policy", h.handlePolicy)
	})

	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
