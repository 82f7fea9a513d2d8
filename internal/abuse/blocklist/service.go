// Package blocklist manages hard block records. A non-expired block is
// the strongest deny state in the engine: it overrides rate-limit and
// penalty outcomes for the identity until its TTL lapses.
package blocklist

import (
	"context"
	"log/slog"
	"time"

	"vigil/internal/abuse/metrics"
	"vigil/internal/abuse/models"
	"vigil/internal/abuse/store/block"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// Service wraps the block store with clock-aware reads and audit logging.
type Service struct {
	store   block.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
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

// New creates the blocklist service.
func New(store block.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "block store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Block creates a block record for an identity. The record expires by
// storage TTL alone; the engine never sweeps blocks.
func (s *Service) Block(ctx context.Context, identifier string, reason models.BlockReason, duration time.Duration) (*models.BlockRecord, error) {
	now := requesttime.Now(ctx)
	rec, err := models.NewBlockRecord(identifier, reason, now, duration)
	if err != nil {
		return nil, err
	}
	key := models.NewBlockKey(identifier).String()
	if err := s.store.Put(ctx, key, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "block write failed")
	}

	s.metrics.RecordBlock(string(reason))
	if s.logger != nil {
		s.logger.WarnContext(ctx, "identity_blocked",
			"identifier", identifier,
			"reason", reason,
			"blocked_until", rec.BlockedUntil,
			"event", "identity_blocked",
			"log_type", "audit",
		)
	}
	return rec, nil
}

// Get returns the active block for an identity, or nil. Activeness is
// judged against the request clock so an expired record left behind by a
// lazy TTL never denies.
func (s *Service) Get(ctx context.Context, identifier string) (*models.BlockRecord, error) {
	key := models.NewBlockKey(identifier).String()
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "block read failed")
	}
	if !rec.Active(requesttime.Now(ctx)) {
		return nil, nil
	}
	return rec, nil
}

// Unblock removes a block ahead of its TTL. Administrative override.
func (s *Service) Unblock(ctx context.Context, identifier string) error {
	key := models.NewBlockKey(identifier).String()
	if err := s.store.Delete(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "block delete failed")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "identity_unblocked",
			"identifier", identifier,
			"event", "identity_unblocked",
			"log_type", "audit",
		)
	}
	return nil
}
