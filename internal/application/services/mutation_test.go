package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
)

func TestMutationService_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.mutations.OnEntityMutated(ctx, Mutation{
		EntityID: "e1", Path: "root..bad", ChangeType: hierarchy.ChangeInsert,
	})
	assert.ErrorIs(t, err, hierarchy.ErrInvalidPath)

	_, err = f.mutations.OnEntityMutated(ctx, Mutation{
		EntityID: "", Path: "root.a", ChangeType: hierarchy.ChangeInsert,
	})
	assert.Error(t, err)

	_, err = f.mutations.OnEntityMutated(ctx, Mutation{
		EntityID: "e1", Path: "root.a", ChangeType: hierarchy.ChangeType("bogus"),
	})
	assert.Error(t, err)

	// Nothing invalid may reach the changelog.
	pending, err := f.changeLog.CountPending(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestMutationService_RecordsEntityAndChangelog(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	batchID, err := f.mutations.OnEntityMutated(ctx, Mutation{
		EntityID: "e1", Path: "root.a", ChangeType: hierarchy.ChangeInsert,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)

	entries, err := f.changeLog.EntriesSince(ctx, hierarchy.ViewClosure, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].EntityID)
	assert.Equal(t, "root.a", entries[0].EntityPath)
	assert.Equal(t, batchID, entries[0].BatchID)

	// Depth is derived from the path, not trusted from the caller.
	direct, err := f.store.QueryDirect(ctx, mustParse(t, "root"), hierarchy.QueryDescendants, 0)
	require.NoError(t, err)
	require.Len(t, direct.Descendants, 1)
	assert.Equal(t, 2, direct.Descendants[0].Depth)
}

func TestMutationService_CallerSuppliedBatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	batchID := NewBatchID()
	for _, path := range []string{"root.a", "root.b"} {
		got, err := f.mutations.OnEntityMutated(ctx, Mutation{
			EntityID: "id-" + path, Path: path, ChangeType: hierarchy.ChangeInsert, BatchID: batchID,
		})
		require.NoError(t, err)
		assert.Equal(t, batchID, got)
	}

	entries, err := f.changeLog.EntriesSince(ctx, hierarchy.ViewClosure, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, batchID, e.BatchID)
	}
}

func TestMutationService_AbortBatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	keepID, err := f.mutations.OnEntityMutated(ctx, Mutation{
		EntityID: "e1", Path: "root.keep", ChangeType: hierarchy.ChangeInsert,
	})
	require.NoError(t, err)

	abortID := NewBatchID()
	_, err = f.mutations.OnEntityMutated(ctx, Mutation{
		EntityID: "e2", Path: "root.drop", ChangeType: hierarchy.ChangeInsert, BatchID: abortID,
	})
	require.NoError(t, err)

	require.NoError(t, f.mutations.AbortBatch(ctx, abortID))
	assert.Error(t, f.mutations.AbortBatch(ctx, ""))

	entries, err := f.changeLog.EntriesSince(ctx, hierarchy.ViewClosure, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keepID, entries[0].BatchID)
}

func mustParse(t *testing.T, raw string) hierarchy.Path {
	t.Helper()
	p, err := hierarchy.ParsePath(raw)
	require.NoError(t, err)
	return p
}
