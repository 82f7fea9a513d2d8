// Package attempt stores the per-key attempt logs behind the sliding
// window counter. A log is an ordered set of attempt timestamps; entries
// older than the window are expired on every access and the whole log
// carries a TTL equal to the window as a liveness backstop.
package attempt

import (
	"context"
	"time"

	"vigil/internal/abuse/models"
)

// Store manages sliding-window attempt logs keyed by (identifier, action).
//
// Take must be atomic per key: two concurrent calls for the same key must
// never both observe count < limit when only one slot remains. The memory
// implementation serializes per key; the redis implementation runs the
// whole prune-count-append as a Lua script.
type Store interface {
	// Take prunes expired attempts, then either appends "now" and allows,
	// or denies without mutating the log so retries cannot grow it.
	Take(ctx context.Context, key string, limit int, window time.Duration) (*models.WindowResult, error)

	// Count returns the number of attempts currently inside the window.
	Count(ctx context.Context, key string, window time.Duration) (int, error)

	// Reset drops the attempt log for a key.
	Reset(ctx context.Context, key string) error
}
