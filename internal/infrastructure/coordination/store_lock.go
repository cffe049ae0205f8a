package coordination

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
)

// StoreLock is the cluster-wide refresh lock, backed by one row per view
// in the refresh_locks table. Acquisition is a single conditional UPDATE
// that claims a free or expired row, so exactly one instance wins.
type StoreLock struct {
	db  *database.DB
	ttl time.Duration
}

var _ RefreshLock = (*StoreLock)(nil)

// NewStoreLock creates a store-backed lock with the given TTL.
func NewStoreLock(db *database.DB, ttl time.Duration) *StoreLock {
	return &StoreLock{db: db, ttl: ttl}
}

// TryAcquire claims the view's lock row if it is free or its previous
// holder's TTL has lapsed.
func (l *StoreLock) TryAcquire(ctx context.Context, view string) (string, bool, error) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO refresh_locks (view_name) VALUES (?) ON CONFLICT(view_name) DO NOTHING`, view)
	if err != nil {
		return "", false, fmt.Errorf("%w: seeding lock row: %v", hierarchy.ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	token := newToken()
	result, err := l.db.ExecContext(ctx,
		`UPDATE refresh_locks
		 SET holder_token = ?, acquired_at = ?, expires_at = ?
		 WHERE view_name = ? AND (holder_token = '' OR expires_at <= ?)`,
		token, now, now.Add(l.ttl), view, now)
	if err != nil {
		return "", false, fmt.Errorf("%w: acquiring lock: %v", hierarchy.ErrStoreUnavailable, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("%w: acquiring lock: %v", hierarchy.ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the row only when the caller's token still owns it; a
// holder whose TTL lapsed and was re-claimed gets ErrLockNotHeld.
func (l *StoreLock) Release(ctx context.Context, view, token string) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE refresh_locks
		 SET holder_token = '', acquired_at = NULL, expires_at = NULL
		 WHERE view_name = ? AND holder_token = ?`,
		view, token)
	if err != nil {
		return fmt.Errorf("%w: releasing lock: %v", hierarchy.ErrStoreUnavailable, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: releasing lock: %v", hierarchy.ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return hierarchy.ErrLockNotHeld
	}
	return nil
}

// ForceRelease frees the row regardless of holder.
func (l *StoreLock) ForceRelease(ctx context.Context, view string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE refresh_locks
		 SET holder_token = '', acquired_at = NULL, expires_at = NULL
		 WHERE view_name = ?`, view)
	if err != nil {
		return fmt.Errorf("%w: force releasing lock: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return nil
}

// Info returns the active holder, or nil when the lock is free or its
// holder has expired.
func (l *StoreLock) Info(ctx context.Context, view string) (*LockInfo, error) {
	var token string
	var acquiredAt, expiresAt sql.NullTime
	err := l.db.QueryRowContext(ctx,
		`SELECT holder_token, acquired_at, expires_at FROM refresh_locks WHERE view_name = ?`,
		view).Scan(&token, &acquiredAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading lock: %v", hierarchy.ErrStoreUnavailable, err)
	}

	if token == "" || !expiresAt.Valid || !time.Now().UTC().Before(expiresAt.Time) {
		return nil, nil
	}
	return &LockInfo{
		ViewName:   view,
		Token:      token,
		AcquiredAt: acquiredAt.Time.UTC(),
		ExpiresAt:  expiresAt.Time.UTC(),
	}, nil
}
