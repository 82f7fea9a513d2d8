// Package window implements the sliding-window counter, the first gate
// every security-sensitive operation passes through.
//
// A check prunes the key's attempt log to the trailing window, denies
// without mutating the log when the count has reached the limit, and
// otherwise appends "now" and persists with TTL equal to the window.
// Time always comes from the request clock; client timestamps are never
// consulted.
package window

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"vigil/internal/abuse/config"
	"vigil/internal/abuse/metrics"
	"vigil/internal/abuse/models"
	"vigil/internal/abuse/store/attempt"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// EventSink receives the security events this service emits on denials.
type EventSink interface {
	Observe(ctx context.Context, event *models.SecurityEvent)
}

// Service enforces per-(identifier, action) sliding-window limits.
// Safe for concurrent use; per-key serialization lives in the store.
type Service struct {
	attempts attempt.Store
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sink     EventSink
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEventSink sets the sink receiving rate_limit_exceeded events.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// New creates the counter service. The config must already be validated.
func New(attempts attempt.Store, cfg *config.Config, opts ...Option) (*Service, error) {
	if attempts == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attempt store is required")
	}
	if cfg == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "config is required")
	}
	svc := &Service{attempts: attempts, cfg: cfg}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check applies the configured limit for the action.
func (s *Service) Check(ctx context.Context, identifier string, action models.Action) (*models.WindowResult, error) {
	limit := s.cfg.GetLimit(action)
	return s.CheckLimit(ctx, identifier, action, limit.Requests, limit.Window)
}

// CheckLimit applies an explicit limit and window, overriding the table.
// A non-positive window is a configuration error, not an "always deny";
// limit zero denies every check including the first probe.
func (s *Service) CheckLimit(ctx context.Context, identifier string, action models.Action, limit int, window time.Duration) (*models.WindowResult, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	if window <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidConfig, "window must be positive")
	}
	if limit < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidConfig, "limit cannot be negative")
	}

	key := models.NewAttemptKey(identifier, action).String()
	result, err := s.attempts.Take(ctx, key, limit, window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "sliding window check failed")
	}

	if result.Allowed {
		s.metrics.RecordCheck(string(action), "allowed")
		return result, nil
	}

	s.metrics.RecordCheck(string(action), "denied")
	s.metrics.RecordViolation(string(action))
	if s.logger != nil {
		s.logger.InfoContext(ctx, "rate_limit_exceeded",
			"identifier", identifier,
			"action", action,
			"limit", limit,
			"window_seconds", int(window.Seconds()),
			"retry_after", result.RetryAfter,
			"event", "rate_limit_exceeded",
			"log_type", "audit",
		)
	}
	s.emitDenied(ctx, identifier, action, limit, window)

	return result, nil
}

// Count exposes the current in-window attempt count for introspection.
func (s *Service) Count(ctx context.Context, identifier string, action models.Action) (int, error) {
	limit := s.cfg.GetLimit(action)
	key := models.NewAttemptKey(identifier, action).String()
	return s.attempts.Count(ctx, key, limit.Window)
}

// Reset drops the attempt log for a key. Administrative use.
func (s *Service) Reset(ctx context.Context, identifier string, action models.Action) error {
	key := models.NewAttemptKey(identifier, action).String()
	return s.attempts.Reset(ctx, key)
}

func (s *Service) emitDenied(ctx context.Context, identifier string, action models.Action, limit int, window time.Duration) {
	if s.sink == nil {
		return
	}
	event, err := models.NewSecurityEvent(models.EventRateLimitExceeded, identifier, models.SeverityWarning, requesttime.Now(ctx))
	if err != nil {
		return
	}
	event.Details = map[string]string{
		"action":         string(action),
		"limit":          strconv.Itoa(limit),
		"window_seconds": strconv.Itoa(int(window.Seconds())),
	}
	s.sink.Observe(ctx, event)
}
