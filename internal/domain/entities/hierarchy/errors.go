package hierarchy

import "errors"

// Sentinel errors surfaced across the resolve and refresh paths.
var (
	// ErrInvalidPath reports a malformed path. Never retried.
	ErrInvalidPath = errors.New("invalid hierarchy path")

	// ErrDepthExceeded reports a maxDepth above the configured ceiling.
	ErrDepthExceeded = errors.New("max depth exceeds configured ceiling")

	// ErrSnapshotNotAvailable means the named snapshot has never been
	// refreshed; callers fall back to direct computation.
	ErrSnapshotNotAvailable = errors.New("snapshot not available")

	// ErrStoreUnavailable reports that the backing store could not be
	// reached. The resolver surfaces this rather than serving data it
	// cannot vouch for.
	ErrStoreUnavailable = errors.New("hierarchy store unavailable")

	// ErrLockNotHeld reports a release of a lock the caller does not hold.
	ErrLockNotHeld = errors.New("refresh lock not held")

	// ErrUnknownView reports an unregistered snapshot view name.
	ErrUnknownView = errors.New("unknown snapshot view")
)
