// Package services provides application-level services that orchestrate
// hierarchy resolution, snapshot refresh scheduling, and cache
// invalidation between the infrastructure layers.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/manager"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/metrics"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
	"github.com/AtRiskMedia/treeline-go/pkg/config"
)

// HierarchyResolver answers hierarchy queries through the tier cascade:
// local cache, shared cache, snapshot store, and as a last resort the
// direct computation over raw entity rows.
type HierarchyResolver struct {
	cache   *manager.Manager
	store   *persistence.Store
	logger  *logging.ChanneledLogger
	metrics *metrics.Registry

	// group collapses concurrent misses for the same key into one
	// store query.
	group singleflight.Group

	maxDepthCeiling int
}

// NewHierarchyResolver creates the resolver service.
func NewHierarchyResolver(cache *manager.Manager, store *persistence.Store, logger *logging.ChanneledLogger, m *metrics.Registry) *HierarchyResolver {
	return &HierarchyResolver{
		cache:           cache,
		store:           store,
		logger:          logger,
		metrics:         m,
		maxDepthCeiling: config.MaxDepthCeiling,
	}
}

type storeResult struct {
	resolution hierarchy.Resolution
	fallback   bool
}

// Resolve validates the query, then serves it from the shallowest tier
// that can answer. Fallback results bypass the caches entirely, so a
// degraded store never poisons them.
func (r *HierarchyResolver) Resolve(ctx context.Context, rawPath string, kind hierarchy.QueryKind, maxDepth int) (hierarchy.Resolution, hierarchy.ServedFrom, error) {
	start := time.Now()

	p, err := hierarchy.ParsePath(rawPath)
	if err != nil {
		return hierarchy.Resolution{}, "", err
	}
	if !kind.IsValid() {
		return hierarchy.Resolution{}, "", fmt.Errorf("%w: unknown query kind %q", hierarchy.ErrInvalidPath, kind)
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	if maxDepth > r.maxDepthCeiling {
		return hierarchy.Resolution{}, "", fmt.Errorf("%w: %d > %d", hierarchy.ErrDepthExceeded, maxDepth, r.maxDepthCeiling)
	}

	key := keys.ForQuery(p, kind, maxDepth)

	cachedValue, tier, err := r.cache.Lookup(ctx, key)
	if err != nil {
		r.logger.Resolver().Warn("Cache lookup failed, falling through to store",
			"key", key, "error", err.Error())
	}
	if tier != "" {
		served := hierarchy.ServedFrom(tier)
		r.record(served, start)
		return cachedValue.Resolution, served, nil
	}

	value, err, _ := r.group.Do(key, func() (any, error) {
		return r.queryStore(ctx, p, kind, maxDepth, key)
	})
	if err != nil {
		return hierarchy.Resolution{}, "", err
	}

	result := value.(storeResult)
	served := hierarchy.ServedL3
	if result.fallback {
		served = hierarchy.ServedL3Fallback
	}
	r.record(served, start)
	return result.resolution, served, nil
}

func (r *HierarchyResolver) queryStore(ctx context.Context, p hierarchy.Path, kind hierarchy.QueryKind, maxDepth int, key string) (storeResult, error) {
	resolution, err := r.store.QuerySnapshot(ctx, p, kind, maxDepth)
	if errors.Is(err, hierarchy.ErrSnapshotNotAvailable) {
		r.logger.Resolver().Info("Snapshot unavailable, computing directly",
			"path", p.String(), "kind", string(kind))

		direct, directErr := r.store.QueryDirect(ctx, p, kind, maxDepth)
		if directErr != nil {
			return storeResult{}, directErr
		}
		// Not cached: the result has no snapshot lineage, and the next
		// refresh would have no way to invalidate it precisely.
		return storeResult{resolution: direct, fallback: true}, nil
	}
	if err != nil {
		return storeResult{}, err
	}

	if storeErr := r.cache.Store(ctx, key, interfaces.CachedResolution{
		Resolution: resolution,
		StoredAt:   time.Now().UTC(),
	}); storeErr != nil {
		// Serving the answer matters more than caching it.
		r.logger.Resolver().Warn("Failed to cache resolution", "key", key, "error", storeErr.Error())
	}

	return storeResult{resolution: resolution, fallback: false}, nil
}

func (r *HierarchyResolver) record(served hierarchy.ServedFrom, start time.Time) {
	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.Resolve(string(served), duration.Seconds())
	}
	r.logger.Resolver().Debug("Resolved hierarchy query",
		"servedFrom", string(served), "duration", duration)
}
