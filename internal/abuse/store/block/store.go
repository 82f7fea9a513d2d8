// Package block stores hard block records keyed by identity (network
// origin or account id). Blocks expire purely by TTL; nothing in the
// engine ever deletes them except the administrative override.
package block

import (
	"context"

	"vigil/internal/abuse/models"
)

// Store manages block records. Put derives the TTL from the record's
// BlockedUntil; Get returns nil for absent records and callers judge
// activeness against their own clock.
type Store interface {
	Put(ctx context.Context, key string, rec *models.BlockRecord) error
	Get(ctx context.Context, key string) (*models.BlockRecord, error)

	// Delete removes a block before its TTL. Administrative override only.
	Delete(ctx context.Context, key string) error
}
