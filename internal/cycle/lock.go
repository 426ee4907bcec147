package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/google/uuid"
)

const lockDoc = "cycle/lock"

// ErrLockHeld means another process owns an unexpired cycle lock. The caller
// must exit without side effects.
var ErrLockHeld = errors.New("cycle lock held")

// lockRecord is the timestamped lock document.
type lockRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Lock is the single cross-process exclusion guarding the run budget against
// overlapping scheduled runs. A stale lock (past its TTL) is taken over; the
// TTL must comfortably exceed the longest plausible cycle.
type Lock struct {
	store ports.DocumentStore
	ttl   time.Duration
	owner string
}

// NewLock creates a lock handle with a fresh process-unique owner id.
func NewLock(store ports.DocumentStore, ttl time.Duration) *Lock {
	return &Lock{store: store, ttl: ttl, owner: uuid.New().String()}
}

// Acquire takes the lock or returns ErrLockHeld when another owner holds an
// unexpired one.
func (l *Lock) Acquire(ctx context.Context, now time.Time) error {
	var cur lockRecord
	err := l.store.Load(ctx, lockDoc, &cur)
	switch {
	case errors.Is(err, ports.ErrNotFound):
	case err != nil:
		return fmt.Errorf("cycle.Acquire: %w", err)
	case cur.Owner != l.owner && now.Before(cur.ExpiresAt):
		return fmt.Errorf("%w: owner %s until %s", ErrLockHeld, cur.Owner, cur.ExpiresAt.Format(time.RFC3339))
	default:
		if cur.Owner != l.owner {
			slog.Warn("cycle: taking over expired lock",
				"previous_owner", cur.Owner, "expired_at", cur.ExpiresAt)
		}
	}

	rec := lockRecord{Owner: l.owner, AcquiredAt: now, ExpiresAt: now.Add(l.ttl)}
	if err := l.store.Save(ctx, lockDoc, rec); err != nil {
		return fmt.Errorf("cycle.Acquire: %w", err)
	}
	return nil
}

// Release removes the lock if this handle still owns it. A lock taken over
// after expiry is left for its new owner.
func (l *Lock) Release(ctx context.Context) error {
	var cur lockRecord
	err := l.store.Load(ctx, lockDoc, &cur)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("cycle.Release: %w", err)
	case cur.Owner != l.owner:
		return nil
	}
	if err := l.store.Delete(ctx, lockDoc); err != nil {
		return fmt.Errorf("cycle.Release: %w", err)
	}
	return nil
}
