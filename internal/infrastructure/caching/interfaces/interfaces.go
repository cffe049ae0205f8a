// Package interfaces defines the cache tier contracts for hierarchy
// resolution results.
package interfaces

import (
	"context"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
)

// CachedResolution is the envelope stored in both tiers. StoredAt lets
// the tiers report entry age; the resolution itself carries SnapshotAt.
type CachedResolution struct {
	Resolution hierarchy.Resolution `json:"resolution"`
	StoredAt   time.Time            `json:"storedAt"`
}

// LocalCache is the in-process bounded LRU tier. Implementations must
// be safe for concurrent use and O(1) per operation.
type LocalCache interface {
	Get(key string) (CachedResolution, bool)
	Set(key string, value CachedResolution)
	Delete(key string)
	DeletePrefix(prefix string) int
	Purge()
	Len() int
}

// DistributedCache is the shared tier reachable by every resolver
// instance. Calls carry contexts because the provider is an I/O
// boundary with bounded timeouts.
type DistributedCache interface {
	Get(ctx context.Context, key string) (CachedResolution, bool, error)
	Set(ctx context.Context, key string, value CachedResolution, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, prefix string) (int, error)
	Close() error
}

// CacheStats reports per-tier counters for health reporting.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}
