package services

import (
	"context"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/manager"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
)

// InvalidationCoordinator drops cached resolutions after a snapshot
// refresh lands. Invalidation is deliberately coarse: any consumed batch
// clears the whole query keyspace. Cached entries encode maxDepth and
// kind, so computing the precise set of affected keys would cost more
// than recomputing the entries on the next miss.
type InvalidationCoordinator struct {
	cache  *manager.Manager
	logger *logging.ChanneledLogger
}

// NewInvalidationCoordinator creates the coordinator.
func NewInvalidationCoordinator(cache *manager.Manager, logger *logging.ChanneledLogger) *InvalidationCoordinator {
	return &InvalidationCoordinator{cache: cache, logger: logger}
}

// InvalidateForBatch clears the query cache for a set of consumed
// changelog entries and returns the number of removed cache entries.
func (c *InvalidationCoordinator) InvalidateForBatch(ctx context.Context, entries []hierarchy.ChangeLogEntry) int {
	if len(entries) == 0 {
		return 0
	}

	distinct := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		distinct[e.EntityPath] = struct{}{}
	}

	removed, err := c.cache.InvalidatePrefix(ctx, keys.QueryPrefix)
	if err != nil {
		c.logger.Cache().Error("Cache invalidation incomplete",
			"entries", len(entries), "removed", removed, "error", err.Error())
		return removed
	}

	c.logger.Cache().Info("Invalidated query cache for consumed batch",
		"entries", len(entries), "distinctPaths", len(distinct), "removed", removed)
	return removed
}
