package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
)

// MemoryLock is the in-process refresh lock: a map of holders behind one
// mutex. Suited to single-instance deploys and tests; multi-instance
// deploys use StoreLock instead.
type MemoryLock struct {
	mu      sync.Mutex
	ttl     time.Duration
	holders map[string]*LockInfo
}

var _ RefreshLock = (*MemoryLock)(nil)

// NewMemoryLock creates an in-process lock whose holders expire after
// ttl, bounding the damage of a holder that never releases.
func NewMemoryLock(ttl time.Duration) *MemoryLock {
	return &MemoryLock{
		ttl:     ttl,
		holders: make(map[string]*LockInfo),
	}
}

// TryAcquire attempts to take the view's lock without blocking.
func (l *MemoryLock) TryAcquire(_ context.Context, view string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if holder, exists := l.holders[view]; exists && now.Before(holder.ExpiresAt) {
		return "", false, nil
	}

	info := &LockInfo{
		ViewName:   view,
		Token:      newToken(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}
	l.holders[view] = info
	return info.Token, true, nil
}

// Release frees the lock if the caller still holds it.
func (l *MemoryLock) Release(_ context.Context, view, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	holder, exists := l.holders[view]
	if !exists || holder.Token != token {
		return hierarchy.ErrLockNotHeld
	}
	delete(l.holders, view)
	return nil
}

// ForceRelease frees the lock regardless of holder. Operator escape
// hatch for leaked locks.
func (l *MemoryLock) ForceRelease(_ context.Context, view string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, view)
	return nil
}

// Info returns the current holder, or nil when the lock is free.
func (l *MemoryLock) Info(_ context.Context, view string) (*LockInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	holder, exists := l.holders[view]
	if !exists || !time.Now().UTC().Before(holder.ExpiresAt) {
		return nil, nil
	}
	copied := *holder
	return &copied, nil
}
