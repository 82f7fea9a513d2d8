// Package engine is the facade over the abuse-mitigation gates. A check
// walks the deny states strongest-first: hard block, then active
// penalty, then the sliding window. The first gate that denies wins and
// the rest are not consulted.
package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vigil/internal/abuse/blocklist"
	"vigil/internal/abuse/bruteforce"
	"vigil/internal/abuse/config"
	"vigil/internal/abuse/metrics"
	"vigil/internal/abuse/models"
	"vigil/internal/abuse/pattern"
	"vigil/internal/abuse/penalty"
	"vigil/internal/abuse/window"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// Stats is a point-in-time view of an identity's standing for one action.
type Stats struct {
	Identifier   string              `json:"identifier"`
	Action       models.Action       `json:"action"`
	AttemptCount int                 `json:"attempt_count"`
	Limit        int                 `json:"limit"`
	Penalty      *models.Penalty     `json:"penalty,omitempty"`
	Block        *models.BlockRecord `json:"block,omitempty"`
}

// Engine coordinates the window counter, penalty escalator, brute-force
// guard, blocklist and pattern detector behind one API.
type Engine struct {
	windows  *window.Service
	penalty  *penalty.Service
	guard    *bruteforce.Service
	blocks   *blocklist.Service
	detector *pattern.Detector
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New wires the facade. All collaborators are required except the
// detector, which may be nil when pattern analysis is disabled.
func New(windows *window.Service, penaltySvc *penalty.Service, guard *bruteforce.Service, blocks *blocklist.Service, detector *pattern.Detector, cfg *config.Config, opts ...Option) (*Engine, error) {
	if windows == nil || penaltySvc == nil || guard == nil || blocks == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "window, penalty, bruteforce and blocklist services are required")
	}
	if cfg == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "config is required")
	}
	e := &Engine{
		windows:  windows,
		penalty:  penaltySvc,
		guard:    guard,
		blocks:   blocks,
		detector: detector,
		cfg:      cfg,
		tracer:   otel.Tracer("vigil/abuse"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CheckRateLimit gates one operation for an identity. Denials are
// decisions, not errors; the only errors surfaced are invalid input and,
// under the fail-closed policy, storage unavailability.
func (e *Engine) CheckRateLimit(ctx context.Context, identifier string, action models.Action) (*models.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CheckRateLimit",
		trace.WithAttributes(attribute.String("abuse.action", string(action))))
	defer span.End()
	start := time.Now()
	defer func() { e.metrics.ObserveCheckDuration(time.Since(start).Seconds()) }()

	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	now := requesttime.Now(ctx)

	rec, err := e.blocks.Get(ctx, identifier)
	if err != nil {
		return e.resolveStorageFailure(ctx, identifier, action, err)
	}
	if rec != nil {
		span.SetAttributes(attribute.String("abuse.outcome", "blocked"))
		d := models.Deny(models.DenyReasonBlocked, rec.BlockedUntil, now)
		d.BlockCause = rec.Reason
		return d, nil
	}

	p, err := e.penalty.IsPenalized(ctx, identifier, action)
	if err != nil {
		return e.resolveStorageFailure(ctx, identifier, action, err)
	}
	if p != nil {
		span.SetAttributes(attribute.String("abuse.outcome", "penalized"))
		return models.Deny(models.DenyReasonPenalized, p.Until, now), nil
	}

	result, err := e.windows.Check(ctx, identifier, action)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidConfig) {
			return nil, err
		}
		return e.resolveStorageFailure(ctx, identifier, action, err)
	}
	if result.Allowed {
		span.SetAttributes(attribute.String("abuse.outcome", "allowed"))
		d := models.Allow()
		d.Limit = result.Limit
		d.Remaining = result.Remaining
		return d, nil
	}

	// The window denial is itself a violation: the penalty applied here
	// extends the lockout beyond the window's natural horizon.
	span.SetAttributes(attribute.String("abuse.outcome", "rate_limited"))
	duration, err := e.penalty.RecordViolation(ctx, identifier, action)
	if err != nil {
		// The deny stands even if the escalator could not persist.
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "violation escalation failed", "identifier", identifier, "action", action, "error", err)
		}
		d := models.Deny(models.DenyReasonRateLimited, result.ResetAt, now)
		d.Limit = result.Limit
		return d, nil
	}
	d := models.Deny(models.DenyReasonRateLimited, now.Add(duration), now)
	d.Limit = result.Limit
	return d, nil
}

// CheckLogin gates an authentication attempt before credentials are
// verified. Login actions run fail-closed: a storage error surfaces as
// an error rather than silently allowing the attempt.
func (e *Engine) CheckLogin(ctx context.Context, username, origin string) (*models.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CheckLogin")
	defer span.End()

	d, err := e.guard.CheckLogin(ctx, username, origin)
	if err != nil {
		return e.resolveStorageFailure(ctx, origin, models.ActionLoginAttempt, err)
	}
	if !d.Allowed {
		span.SetAttributes(attribute.String("abuse.outcome", string(d.Reason)))
	}
	return d, nil
}

// ReportLoginFailure feeds one failed login into the brute-force guard.
func (e *Engine) ReportLoginFailure(ctx context.Context, username, origin string) error {
	ctx, span := e.tracer.Start(ctx, "engine.ReportLoginFailure")
	defer span.End()
	return e.guard.OnLoginFailure(ctx, username, origin)
}

// ReportLoginSuccess clears the account's failure window after a
// successful authentication.
func (e *Engine) ReportLoginSuccess(ctx context.Context, username, origin string) error {
	return e.guard.OnLoginSuccess(ctx, username, origin)
}

// ReportEvent feeds an out-of-band security event to the pattern
// detector, e.g. operation_failed facts from other subsystems.
func (e *Engine) ReportEvent(ctx context.Context, event *models.SecurityEvent) {
	if e.detector == nil || event == nil {
		return
	}
	e.detector.Observe(ctx, event)
}

// IsBlocked returns the active block for an identity, or nil.
func (e *Engine) IsBlocked(ctx context.Context, identifier string) (*models.BlockRecord, error) {
	return e.blocks.Get(ctx, identifier)
}

// Block places a manual hard block on an identity. Administrative use.
func (e *Engine) Block(ctx context.Context, identifier string, duration time.Duration) (*models.BlockRecord, error) {
	return e.blocks.Block(ctx, identifier, models.BlockReasonManual, duration)
}

// Unblock lifts a block ahead of its TTL. Administrative use.
func (e *Engine) Unblock(ctx context.Context, identifier string) error {
	return e.blocks.Unblock(ctx, identifier)
}

// GetStats reports an identity's current standing for one action.
func (e *Engine) GetStats(ctx context.Context, identifier string, action models.Action) (*Stats, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	count, err := e.windows.Count(ctx, identifier, action)
	if err != nil {
		return nil, err
	}
	p, err := e.penalty.IsPenalized(ctx, identifier, action)
	if err != nil {
		return nil, err
	}
	rec, err := e.blocks.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Identifier:   identifier,
		Action:       action,
		AttemptCount: count,
		Limit:        e.cfg.GetLimit(action).Requests,
		Penalty:      p,
		Block:        rec,
	}, nil
}

// Policy exposes the live configuration for the policy endpoint.
func (e *Engine) Policy() *config.Config {
	return e.cfg
}

// resolveStorageFailure applies the per-action failure policy when a
// gate cannot answer. Fail-open allows and logs; fail-closed propagates
// the storage error so the caller denies.
func (e *Engine) resolveStorageFailure(ctx context.Context, identifier string, action models.Action, err error) (*models.Decision, error) {
	if !dErrors.HasCode(err, dErrors.CodeStorageUnavailable) {
		return nil, err
	}
	if e.cfg.GetFailMode(action) == config.FailOpen {
		e.metrics.RecordStorageFailure("fail_open")
		if e.logger != nil {
			e.logger.WarnContext(ctx, "storage unavailable, failing open",
				"identifier", identifier,
				"action", action,
				"error", err,
			)
		}
		return models.Allow(), nil
	}
	e.metrics.RecordStorageFailure("fail_closed")
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "storage unavailable, failing closed",
			"identifier", identifier,
			"action", action,
			"error", err,
		)
	}
	return nil, err
}
