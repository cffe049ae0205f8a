// Package coordination provides the refresh locks that keep snapshot
// rebuilds single-flight, in one process or across a cluster.
package coordination

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// LockInfo describes the current holder of a view's refresh lock.
type LockInfo struct {
	ViewName   string    `json:"viewName"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// HeldFor returns how long the lock has been held as of now.
func (i *LockInfo) HeldFor(now time.Time) time.Duration {
	return now.Sub(i.AcquiredAt)
}

// RefreshLock serializes snapshot refreshes per view. TryAcquire never
// blocks; a false ok means another holder is active. The token returned
// on acquisition must be presented on release so a crashed holder's
// expired lock cannot be released by its ghost.
type RefreshLock interface {
	TryAcquire(ctx context.Context, view string) (token string, ok bool, err error)
	Release(ctx context.Context, view, token string) error
	ForceRelease(ctx context.Context, view string) error
	Info(ctx context.Context, view string) (*LockInfo, error)
}

// newToken mints a holder token. ULIDs sort by acquisition time, which
// makes lock audit logs readable.
func newToken() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
