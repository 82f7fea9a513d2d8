// Package bruteforce wires login-failure events into the sliding window
// and penalty escalator for two parallel identities: the client's network
// origin and the targeted account. Each side has independent thresholds,
// and violations harden into block records rather than mere penalties.
package bruteforce

import (
	"context"
	"log/slog"

	"vigil/internal/abuse/blocklist"
	"vigil/internal/abuse/config"
	"vigil/internal/abuse/models"
	"vigil/internal/abuse/penalty"
	"vigil/internal/abuse/window"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// AccountResolver maps usernames to account ids. It belongs to the
// authentication subsystem; the guard only needs existence and identity.
type AccountResolver interface {
	ResolveUsername(ctx context.Context, username string) (accountID string, ok bool, err error)
}

// EventSink receives login_failed events for pattern analysis.
type EventSink interface {
	Observe(ctx context.Context, event *models.SecurityEvent)
}

// Service is the brute-force guard.
type Service struct {
	windows  *window.Service
	penalty  *penalty.Service
	blocks   *blocklist.Service
	resolver AccountResolver
	cfg      *config.Config
	logger   *slog.Logger
	sink     EventSink
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithEventSink sets the sink receiving login_failed events.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// New creates the guard.
func New(windows *window.Service, penaltySvc *penalty.Service, blocks *blocklist.Service, resolver AccountResolver, cfg *config.Config, opts ...Option) (*Service, error) {
	if windows == nil || penaltySvc == nil || blocks == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "window, penalty and blocklist services are required")
	}
	if resolver == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "account resolver is required")
	}
	if cfg == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "config is required")
	}
	svc := &Service{
		windows:  windows,
		penalty:  penaltySvc,
		blocks:   blocks,
		resolver: resolver,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// OnLoginFailure records a failed login against both identities.
//
// The origin-keyed counters are always consumed, even for usernames that
// do not exist, so enumeration probes cost the attacker the same volume
// signal. Account-keyed state is only touched when the username resolves.
func (s *Service) OnLoginFailure(ctx context.Context, username, origin string) error {
	if origin == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "origin is required")
	}

	s.emitFailure(ctx, origin, username)

	bf := s.cfg.BruteForce
	originResult, err := s.windows.CheckLimit(ctx, origin, models.ActionLoginAttempt, bf.OriginLimit.Requests, bf.OriginLimit.Window)
	if err != nil {
		return err
	}
	if !originResult.Allowed {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "login_guard_triggered",
				"identity", "origin",
				"origin", origin,
				"event", "login_guard_triggered",
				"log_type", "audit",
			)
		}
		if _, err := s.penalty.RecordViolation(ctx, origin, models.ActionLoginAttempt); err != nil {
			return err
		}
		if _, err := s.blocks.Block(ctx, origin, models.BlockReasonExcessiveFailedLogins, bf.OriginBlockDuration); err != nil {
			return err
		}
	}

	accountID, ok, err := s.resolver.ResolveUsername(ctx, username)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve username")
	}
	if !ok {
		// No account to key against; the origin side already paid.
		return nil
	}

	s.emitFailure(ctx, accountID, username)

	accountResult, err := s.windows.CheckLimit(ctx, accountID, models.ActionLoginFailure, bf.AccountLimit.Requests, bf.AccountLimit.Window)
	if err != nil {
		return err
	}
	if !accountResult.Allowed {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "login_guard_triggered",
				"identity", "account",
				"account_id", accountID,
				"event", "login_guard_triggered",
				"log_type", "audit",
			)
		}
		if _, err := s.penalty.RecordViolation(ctx, accountID, models.ActionLoginFailure); err != nil {
			return err
		}
		if _, err := s.blocks.Block(ctx, accountID, models.BlockReasonRepeatedFailures, bf.AccountBlockDuration); err != nil {
			return err
		}
	}

	return nil
}

// OnLoginSuccess clears the account-keyed failure window after a
// successful authentication. Blocks and penalties stay until their TTLs
// lapse; success does not shortcut an active lockout.
func (s *Service) OnLoginSuccess(ctx context.Context, username, origin string) error {
	accountID, ok, err := s.resolver.ResolveUsername(ctx, username)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve username")
	}
	if !ok {
		return nil
	}
	return s.windows.Reset(ctx, accountID, models.ActionLoginFailure)
}

// CheckLogin gates an authentication attempt before any credentials are
// verified. Blocks win over penalties, origin state over account state,
// and the reason surfaced distinguishes the two so the caller can render
// the right message.
func (s *Service) CheckLogin(ctx context.Context, username, origin string) (*models.Decision, error) {
	if origin == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "origin is required")
	}
	now := requesttime.Now(ctx)

	if rec, err := s.blocks.Get(ctx, origin); err != nil {
		return nil, err
	} else if rec != nil {
		d := models.Deny(models.DenyReasonOriginBlocked, rec.BlockedUntil, now)
		d.BlockCause = rec.Reason
		return d, nil
	}

	accountID, ok, err := s.resolver.ResolveUsername(ctx, username)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve username")
	}
	if ok {
		if rec, err := s.blocks.Get(ctx, accountID); err != nil {
			return nil, err
		} else if rec != nil {
			d := models.Deny(models.DenyReasonAccountLocked, rec.BlockedUntil, now)
			d.BlockCause = rec.Reason
			return d, nil
		}
	}

	if p, err := s.penalty.IsPenalized(ctx, origin, models.ActionLoginAttempt); err != nil {
		return nil, err
	} else if p != nil {
		return models.Deny(models.DenyReasonPenalized, p.Until, now), nil
	}
	if ok {
		if p, err := s.penalty.IsPenalized(ctx, accountID, models.ActionLoginFailure); err != nil {
			return nil, err
		} else if p != nil {
			return models.Deny(models.DenyReasonPenalized, p.Until, now), nil
		}
	}

	return models.Allow(), nil
}

func (s *Service) emitFailure(ctx context.Context, subject, username string) {
	if s.sink == nil {
		return
	}
	event, err := models.NewSecurityEvent(models.EventLoginFailed, subject, models.SeverityWarning, requesttime.Now(ctx))
	if err != nil {
		return
	}
	event.Details = map[string]string{"username": username}
	s.sink.Observe(ctx, event)
}
