// Package dedupe provides the three-phase idempotency guard for inbound
// messages: a short processing lock taken before pipeline execution, a
// long-lived processed marker written on success, and an explicit unmark on
// failure so a legitimate retry is not permanently blocked.
//
// Any backend offering an atomic set-if-absent-with-expiry primitive can
// implement Guard; only that primitive is depended on.
package dedupe

import (
	"context"
	"time"
)

// Default TTLs. The lock only needs to cover concurrent duplicate deliveries
// during pipeline execution; the processed window suppresses replays.
const (
	DefaultLockTTL      = 30 * time.Second
	DefaultProcessedTTL = 24 * time.Hour
)

// Guard defines the deduplication contract keyed by inbound-message identity.
// A key moves lock -> processed only along the success path; every failure
// during pipeline execution must call UnmarkProcessing.
type Guard interface {
	// IsDuplicate reports whether the key is currently locked (processing)
	// or already marked processed.
	IsDuplicate(ctx context.Context, key string) (bool, error)

	// MarkProcessing atomically takes the short processing lock. Returns
	// false without error when the key is already present, meaning a
	// concurrent or earlier delivery holds it.
	MarkProcessing(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// MarkProcessed replaces the lock with the long-lived processed marker.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error

	// UnmarkProcessing releases the processing lock. It must not remove a
	// processed marker.
	UnmarkProcessing(ctx context.Context, key string) error
}
