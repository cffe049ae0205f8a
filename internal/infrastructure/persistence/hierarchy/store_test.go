package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
)

func testLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		JSONFormat:      true,
		DefaultLevel:    slog.LevelError,
	})
	require.NoError(t, err)
	return logger
}

// testDB opens a per-test in-memory database shared across pool
// connections.
func testDB(t *testing.T) *database.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewConnection("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, EnsureSchema(context.Background(), db))
	return db
}

func testStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()
	db := testDB(t)
	return NewStore(db, testLogger(t)), db
}

func seedEntities(t *testing.T, store *Store, paths ...string) {
	t.Helper()
	ctx := context.Background()
	for _, path := range paths {
		p, err := hierarchy.ParsePath(path)
		require.NoError(t, err)
		entity := hierarchy.Entity{ID: "id-" + path, Path: path, Depth: p.Depth()}
		require.NoError(t, store.ApplyMutation(ctx, hierarchy.ChangeInsert, entity))
	}
}

func mustPath(t *testing.T, raw string) hierarchy.Path {
	t.Helper()
	p, err := hierarchy.ParsePath(raw)
	require.NoError(t, err)
	return p
}

func TestStore_SnapshotNotAvailableBeforeFirstRefresh(t *testing.T) {
	store, _ := testStore(t)
	seedEntities(t, store, "root", "root.a")

	_, err := store.QuerySnapshot(context.Background(), mustPath(t, "root.a"), hierarchy.QueryAncestors, 0)
	assert.ErrorIs(t, err, hierarchy.ErrSnapshotNotAvailable)
}

func TestStore_ClosureQueries(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedEntities(t, store,
		"root",
		"root.na",
		"root.na.us",
		"root.na.us.ca",
		"root.na.ca",
		"root.eu",
	)

	strategy, _, err := store.RefreshSnapshot(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StrategyConcurrent, strategy)

	// Ancestors come back shallowest first.
	got, err := store.QuerySnapshot(ctx, mustPath(t, "root.na.us.ca"), hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	require.Len(t, got.Ancestors, 3)
	assert.Equal(t, "root", got.Ancestors[0].Path)
	assert.Equal(t, "root.na", got.Ancestors[1].Path)
	assert.Equal(t, "root.na.us", got.Ancestors[2].Path)
	assert.False(t, got.SnapshotAt.IsZero())

	// maxDepth bounds how far up the walk goes.
	got, err = store.QuerySnapshot(ctx, mustPath(t, "root.na.us.ca"), hierarchy.QueryAncestors, 1)
	require.NoError(t, err)
	require.Len(t, got.Ancestors, 1)
	assert.Equal(t, "root.na.us", got.Ancestors[0].Path)

	// Descendants of an interior node, bounded and unbounded.
	got, err = store.QuerySnapshot(ctx, mustPath(t, "root.na"), hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Len(t, got.Descendants, 3)

	got, err = store.QuerySnapshot(ctx, mustPath(t, "root.na"), hierarchy.QueryDescendants, 1)
	require.NoError(t, err)
	require.Len(t, got.Descendants, 2)
	for _, d := range got.Descendants {
		assert.Equal(t, 3, d.Depth)
	}
}

func TestStore_DescendantCounts(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedEntities(t, store, "root", "root.a", "root.a.x", "root.a.y", "root.b")

	_, _, err := store.RefreshSnapshot(ctx, hierarchy.ViewDescendantCounts, false)
	require.NoError(t, err)

	got, err := store.QuerySnapshot(ctx, mustPath(t, "root"), hierarchy.QueryDescendantCounts, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"root":   4,
		"root.a": 2,
		"root.b": 0,
	}, got.Counts)
}

func TestStore_DirectMatchesSnapshot(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedEntities(t, store, "root", "root.a", "root.a.x", "root.b")

	_, _, err := store.RefreshSnapshot(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)

	for _, kind := range []hierarchy.QueryKind{hierarchy.QueryAncestors, hierarchy.QueryDescendants} {
		snap, err := store.QuerySnapshot(ctx, mustPath(t, "root.a.x"), kind, 0)
		require.NoError(t, err)
		direct, err := store.QueryDirect(ctx, mustPath(t, "root.a.x"), kind, 0)
		require.NoError(t, err)

		assert.Equal(t, snap.Ancestors, direct.Ancestors, "kind %s", kind)
		assert.Equal(t, snap.Descendants, direct.Descendants, "kind %s", kind)
		assert.True(t, direct.SnapshotAt.IsZero(), "direct results carry no snapshot time")
	}
}

// A mutation applied after a refresh is visible to the direct path but
// not to the snapshot path until the next refresh.
func TestStore_SnapshotIsStaleUntilRefreshed(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedEntities(t, store, "root", "root.a")

	_, _, err := store.RefreshSnapshot(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)

	seedEntities(t, store, "root.a.new")

	snap, err := store.QuerySnapshot(ctx, mustPath(t, "root"), hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Len(t, snap.Descendants, 1)

	direct, err := store.QueryDirect(ctx, mustPath(t, "root"), hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Len(t, direct.Descendants, 2)

	_, _, err = store.RefreshSnapshot(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)

	snap, err = store.QuerySnapshot(ctx, mustPath(t, "root"), hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Len(t, snap.Descendants, 2)
}

func TestStore_BlockingFallbackProducesSameSnapshot(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedEntities(t, store, "root", "root.a", "root.a.x")

	strategy, _, err := store.RefreshSnapshot(ctx, hierarchy.ViewClosure, false)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StrategyBlocking, strategy)

	got, err := store.QuerySnapshot(ctx, mustPath(t, "root.a.x"), hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	assert.Len(t, got.Ancestors, 2)

	// Swapping strategy on the next refresh keeps the view queryable.
	strategy, _, err = store.RefreshSnapshot(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StrategyConcurrent, strategy)

	got, err = store.QuerySnapshot(ctx, mustPath(t, "root.a.x"), hierarchy.QueryAncestors, 0)
	require.NoError(t, err)
	assert.Len(t, got.Ancestors, 2)
}

func TestStore_ApplyMutationUpdateAndDelete(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	seedEntities(t, store, "root", "root.a")

	moved := hierarchy.Entity{ID: "id-root.a", Path: "root.b", Depth: 2}
	require.NoError(t, store.ApplyMutation(ctx, hierarchy.ChangeUpdate, moved))

	direct, err := store.QueryDirect(ctx, mustPath(t, "root"), hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	require.Len(t, direct.Descendants, 1)
	assert.Equal(t, "root.b", direct.Descendants[0].Path)

	require.NoError(t, store.ApplyMutation(ctx, hierarchy.ChangeDelete, moved))
	direct, err = store.QueryDirect(ctx, mustPath(t, "root"), hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	assert.Empty(t, direct.Descendants)
}

func TestStore_UnknownView(t *testing.T) {
	store, _ := testStore(t)

	_, _, err := store.RefreshSnapshot(context.Background(), "nope", true)
	assert.ErrorIs(t, err, hierarchy.ErrUnknownView)

	_, err = store.SnapshotAt(context.Background(), "nope")
	assert.ErrorIs(t, err, hierarchy.ErrUnknownView)
}
