// Package manager provides the tiered read-through/write-through cache
// in front of the hierarchy store.
package manager

import (
	"context"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/metrics"
)

// Tier labels used in logs and metrics.
const (
	TierL1 = "L1"
	TierL2 = "L2"
)

// Manager coordinates the local and distributed tiers. Reads walk
// L1 then L2, backfilling L1 on an L2 hit; writes go through L2 first
// so every L1 entry is retrievable from L2 the moment it lands.
type Manager struct {
	local   *stores.LocalStore
	remote  interfaces.DistributedCache
	l2TTL   time.Duration
	logger  *logging.ChanneledLogger
	metrics *metrics.Registry
}

// NewManager wires the two tiers with their observability collaborators.
func NewManager(local *stores.LocalStore, remote interfaces.DistributedCache, l2TTL time.Duration, logger *logging.ChanneledLogger, m *metrics.Registry) *Manager {
	if logger != nil {
		logger.Cache().Info("Initializing tiered cache manager", "l2TTL", l2TTL)
	}
	return &Manager{
		local:   local,
		remote:  remote,
		l2TTL:   l2TTL,
		logger:  logger,
		metrics: m,
	}
}

// Lookup checks L1 then L2. The returned tier is TierL1 or TierL2 on a
// hit and empty on a miss. L2 errors are returned so the caller can
// distinguish "miss" from "tier unreachable".
func (m *Manager) Lookup(ctx context.Context, key string) (interfaces.CachedResolution, string, error) {
	start := time.Now()

	if value, ok := m.local.Get(key); ok {
		m.observe(TierL1, key, true, start)
		return value, TierL1, nil
	}
	m.observe(TierL1, key, false, start)

	value, ok, err := m.remote.Get(ctx, key)
	if err != nil {
		return interfaces.CachedResolution{}, "", err
	}
	if !ok {
		m.observe(TierL2, key, false, start)
		return interfaces.CachedResolution{}, "", nil
	}
	m.observe(TierL2, key, true, start)

	// Backfill the faster tier.
	m.local.Set(key, value)
	return value, TierL2, nil
}

// Store writes through both tiers, L2 first. An L2 failure aborts the
// write so the tiers never diverge with L1 ahead of L2.
func (m *Manager) Store(ctx context.Context, key string, value interfaces.CachedResolution) error {
	if err := m.remote.Set(ctx, key, value, m.l2TTL); err != nil {
		return err
	}
	m.local.Set(key, value)
	if m.metrics != nil {
		m.metrics.CacheSize(TierL1, m.local.Len())
	}
	return nil
}

// InvalidatePrefix removes every key under prefix from both tiers and
// returns the combined count.
func (m *Manager) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	removed := m.local.DeletePrefix(prefix)

	remoteRemoved, err := m.remote.DeletePattern(ctx, prefix)
	if err != nil {
		return removed, err
	}
	removed += remoteRemoved

	if m.logger != nil {
		m.logger.Cache().Debug("Invalidated cache prefix", "prefix", prefix, "removed", removed)
	}
	return removed, nil
}

// InvalidateAll clears the local tier and the shared query keyspace.
func (m *Manager) InvalidateAll(ctx context.Context, queryPrefix string) error {
	m.local.Purge()
	_, err := m.remote.DeletePattern(ctx, queryPrefix)
	return err
}

// LocalStats reports the tier-1 counters for health output.
func (m *Manager) LocalStats() interfaces.CacheStats {
	return m.local.Stats()
}

func (m *Manager) observe(tier, key string, hit bool, start time.Time) {
	if m.metrics != nil {
		if hit {
			m.metrics.CacheHit(tier)
		} else {
			m.metrics.CacheMiss(tier)
		}
	}
	if m.logger != nil {
		m.logger.LogCacheOperation("lookup", key, tier, hit, time.Since(start))
	}
}
