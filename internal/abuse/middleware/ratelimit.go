// Package middleware exposes the abuse engine as net/http middleware so
// host applications can guard endpoints without touching the engine API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"vigil/internal/abuse/models"
	platformMW "vigil/internal/platform/middleware"
	"vigil/internal/transport/httputil"
)

// Limiter is the slice of the engine the middleware needs.
type Limiter interface {
	CheckRateLimit(ctx context.Context, identifier string, action models.Action) (*models.Decision, error)
}

type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
}

func New(limiter Limiter, logger *slog.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		logger:  logger,
	}
}

// RateLimit gates requests by client IP under the given action's policy.
// Storage errors follow the action's fail mode inside the engine; an
// error surfacing here means fail-closed, answered with 503.
func (m *Middleware) RateLimit(action models.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := platformMW.GetClientIP(ctx)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := m.limiter.CheckRateLimit(ctx, ip, action)
			if err != nil {
				m.logger.Error("rate limit check failed", "error", err, "action", action)
				httputil.WriteError(w, err)
				return
			}

			addRateLimitHeaders(w, decision)

			if !decision.Allowed {
				writeDenied(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// addRateLimitHeaders adds X-RateLimit-* headers to the response.
func addRateLimitHeaders(w http.ResponseWriter, d *models.Decision) {
	if d == nil || d.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Until != nil {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Until.Unix(), 10))
	}
}

type deniedResponse struct {
	Error      string     `json:"error"`
	Message    string     `json:"message"`
	RetryAfter int        `json:"retry_after"`
	Until      *time.Time `json:"until,omitempty"`
}

func writeDenied(w http.ResponseWriter, d *models.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &deniedResponse{
		Error:      string(d.Reason),
		Message:    deniedMessage(d.Reason),
		RetryAfter: d.RetryAfter,
		Until:      d.Until,
	})
}

func deniedMessage(reason models.DenyReason) string {
	switch reason {
	case models.DenyReasonPenalized:
		return "Repeated violations have placed a temporary penalty on this client."
	case models.DenyReasonBlocked, models.DenyReasonOriginBlocked, models.DenyReasonAccountLocked:
		return "This client is blocked. Contact support if you believe this is an error."
	default:
		return "Too many requests. Please try again later."
	}
}
