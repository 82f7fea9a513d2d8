// Package penalty implements progressive penalty escalation. Violations
// accumulate in a rolling 24h tally; each one maps to an escalating
// lockout duration that gates all checks for the key until it expires.
package penalty

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"vigil/internal/abuse/config"
	"vigil/internal/abuse/metrics"
	"vigil/internal/abuse/models"
	"vigil/internal/abuse/store/penalty"
	"vigil/internal/alert"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// EventSink receives the warning events emitted when a penalty lands.
type EventSink interface {
	Observe(ctx context.Context, event *models.SecurityEvent)
}

// Service escalates penalties per (identifier, action) key.
type Service struct {
	store      penalty.Store
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sink       EventSink
	dispatcher alert.Dispatcher
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

// WithEventSink sets the sink receiving penalty_applied events.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithAlertDispatcher sets the operator alert channel.
func WithAlertDispatcher(d alert.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// New creates the escalator. The config must already be validated, in
// particular the escalation sequence is non-empty and non-decreasing.
func New(store penalty.Store, cfg *config.Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "penalty store is required")
	}
	if cfg == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "config is required")
	}
	svc := &Service{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RecordViolation bumps the rolling violation tally and applies the
// escalated penalty. Returns the penalty duration that was applied.
func (s *Service) RecordViolation(ctx context.Context, identifier string, action models.Action) (time.Duration, error) {
	now := requesttime.Now(ctx)

	violationsKey := models.NewViolationsKey(identifier, action).String()
	count, err := s.store.BumpViolations(ctx, violationsKey, s.cfg.ViolationWindow)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "violation tally update failed")
	}

	duration := s.cfg.PenaltyDuration(count)
	p := &models.Penalty{ViolationCount: count, Until: now.Add(duration)}

	penaltyKey := models.NewPenaltyKey(identifier, action).String()
	if err := s.store.SetPenalty(ctx, penaltyKey, p, duration); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "penalty write failed")
	}

	s.metrics.RecordPenalty()
	if s.logger != nil {
		s.logger.WarnContext(ctx, "penalty_applied",
			"identifier", identifier,
			"action", action,
			"violation_count", count,
			"penalty_seconds", int(duration.Seconds()),
			"penalty_until", p.Until,
			"event", "penalty_applied",
			"log_type", "audit",
		)
	}
	s.emitApplied(ctx, identifier, action, count, duration, now)
	s.raiseAlert(ctx, identifier, action, count, duration, now)

	return duration, nil
}

// IsPenalized returns the active penalty for the key, or nil. Penalties
// are judged against the request clock, not the store's TTL, so a stale
// record past its Until never denies.
func (s *Service) IsPenalized(ctx context.Context, identifier string, action models.Action) (*models.Penalty, error) {
	key := models.NewPenaltyKey(identifier, action).String()
	p, err := s.store.GetPenalty(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "penalty read failed")
	}
	if !p.Active(requesttime.Now(ctx)) {
		return nil, nil
	}
	return p, nil
}

// Clear removes the active penalty for a key. Administrative use only;
// the violation tally still expires by TTL, never by decrement.
func (s *Service) Clear(ctx context.Context, identifier string, action models.Action) error {
	key := models.NewPenaltyKey(identifier, action).String()
	return s.store.ClearPenalty(ctx, key)
}

func (s *Service) emitApplied(ctx context.Context, identifier string, action models.Action, count int, duration time.Duration, now time.Time) {
	if s.sink == nil {
		return
	}
	event, err := models.NewSecurityEvent(models.EventPenaltyApplied, identifier, models.SeverityWarning, now)
	if err != nil {
		return
	}
	event.Details = map[string]string{
		"action":          string(action),
		"violation_count": strconv.Itoa(count),
		"penalty_seconds": strconv.Itoa(int(duration.Seconds())),
	}
	s.sink.Observe(ctx, event)
}

func (s *Service) raiseAlert(ctx context.Context, identifier string, action models.Action, count int, duration time.Duration, now time.Time) {
	if s.dispatcher == nil {
		return
	}
	a := alert.New("penalty_applied", models.SeverityWarning, identifier, now, map[string]string{
		"action":          string(action),
		"violation_count": strconv.Itoa(count),
		"penalty_seconds": strconv.Itoa(int(duration.Seconds())),
	})
	s.metrics.RecordAlert(string(a.Severity))
	if err := s.dispatcher.Dispatch(ctx, a); err != nil {
		s.metrics.RecordAlertFailure()
		if s.logger != nil {
			s.logger.WarnContext(ctx, "alert delivery failed", "alert_type", a.Type, "error", err)
		}
	}
}
