package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
)

func TestResolver_RejectsInvalidQueries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.resolver.Resolve(ctx, "root..bad", hierarchy.QueryAncestors, 0)
	assert.ErrorIs(t, err, hierarchy.ErrInvalidPath)

	_, _, err = f.resolver.Resolve(ctx, "", hierarchy.QueryAncestors, 0)
	assert.ErrorIs(t, err, hierarchy.ErrInvalidPath)

	_, _, err = f.resolver.Resolve(ctx, "root.a", hierarchy.QueryKind("bogus"), 0)
	assert.ErrorIs(t, err, hierarchy.ErrInvalidPath)

	_, _, err = f.resolver.Resolve(ctx, "root.a", hierarchy.QueryAncestors, 33)
	assert.ErrorIs(t, err, hierarchy.ErrDepthExceeded)
}

// A miss is answered by the store and the answer then serves from L1;
// after the local tier empties (a restart), the shared tier answers and
// backfills it.
func TestResolver_TierCascade(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.na", "root.na.us")
	f.refreshAll(t)

	res, served, err := f.resolver.Resolve(ctx, "root.na.us", hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL3, served)
	require.Len(t, res.Ancestors, 2)
	assert.Equal(t, "root", res.Ancestors[0].Path)

	_, served, err = f.resolver.Resolve(ctx, "root.na.us", hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL1, served)

	// Simulate a process restart: only the local tier is lost.
	f.local.Purge()

	_, served, err = f.resolver.Resolve(ctx, "root.na.us", hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL2, served)

	_, served, err = f.resolver.Resolve(ctx, "root.na.us", hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL1, served)
}

// Identical queries with different maxDepth are distinct cache entries.
func TestResolver_MaxDepthPartOfIdentity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a", "root.a.b", "root.a.b.c")
	f.refreshAll(t)

	full, served, err := f.resolver.Resolve(ctx, "root.a.b.c", hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL3, served)
	assert.Len(t, full.Ancestors, 3)

	// The bounded variant must not hit the unbounded entry.
	bounded, served, err := f.resolver.Resolve(ctx, "root.a.b.c", hierarchy.QueryAncestors, 1)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL3, served)
	assert.Len(t, bounded.Ancestors, 1)
}

// Before the first refresh the resolver falls back to direct
// computation, and fallback results are never cached.
func TestResolver_FallbackNeverCached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a", "root.a.x")

	for i := 0; i < 3; i++ {
		res, served, err := f.resolver.Resolve(ctx, "root.a.x", hierarchy.QueryAncestors, 0)
		require.NoError(t, err)
		assert.Equal(t, hierarchy.ServedL3Fallback, served, "attempt %d", i)
		assert.Len(t, res.Ancestors, 2)
		assert.True(t, res.SnapshotAt.IsZero())
	}
	assert.Zero(t, f.local.Len(), "fallback results must not enter the cache")
}

// Between refreshes the caches serve the admitted stale snapshot; the
// next refresh plus invalidation makes the new data visible.
func TestResolver_StaleUntilRefreshThenInvalidated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a")
	f.refreshAll(t)

	res, served, err := f.resolver.Resolve(ctx, "root", hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL3, served)
	assert.Len(t, res.Descendants, 1)

	f.mutate(t, "id-root.b", "root.b", hierarchy.ChangeInsert)

	// Still the cached pre-mutation answer.
	res, served, err = f.resolver.Resolve(ctx, "root", hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL1, served)
	assert.Len(t, res.Descendants, 1)

	f.refreshAll(t)

	res, served, err = f.resolver.Resolve(ctx, "root", hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL3, served, "refresh must invalidate the cached entry")
	assert.Len(t, res.Descendants, 2)
}

func TestResolver_DescendantCounts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a", "root.a.x", "root.b")
	f.refreshAll(t)

	res, served, err := f.resolver.Resolve(ctx, "root", hierarchy.QueryDescendantCounts, 1)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ServedL3, served)
	assert.Equal(t, map[string]int{"root": 3, "root.a": 1, "root.b": 0}, res.Counts)
}
