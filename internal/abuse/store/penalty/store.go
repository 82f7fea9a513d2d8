// Package penalty stores violation tallies and active penalty records.
// The tally is a rolling count: its TTL starts at the first violation and
// is never extended, so the count resets only when the window lapses.
package penalty

import (
	"context"
	"time"

	"vigil/internal/abuse/models"
)

// Store manages violation counts and penalty records per (identifier,
// action) key pair. Violation and penalty keys are distinct; callers build
// them via models.NewViolationsKey and models.NewPenaltyKey.
type Store interface {
	// BumpViolations increments the violation tally and returns the new
	// count. The window TTL is applied on the first increment only.
	BumpViolations(ctx context.Context, key string, window time.Duration) (int, error)

	// SetPenalty records an active penalty with TTL equal to its duration.
	SetPenalty(ctx context.Context, key string, p *models.Penalty, ttl time.Duration) error

	// GetPenalty returns the stored penalty or nil when absent. Callers
	// decide activeness by comparing Until against their clock.
	GetPenalty(ctx context.Context, key string) (*models.Penalty, error)

	// ClearPenalty drops any penalty record for the key.
	ClearPenalty(ctx context.Context, key string) error
}
