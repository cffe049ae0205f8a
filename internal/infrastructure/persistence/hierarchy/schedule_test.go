package hierarchy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
)

func TestScheduleStore_EnsureAndRoundTrip(t *testing.T) {
	db := testDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	rec, err := store.Ensure(ctx, hierarchy.ViewClosure, 100, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.ViewClosure, rec.ViewName)
	assert.Equal(t, 100, rec.ChangeCountThreshold)
	assert.Equal(t, 5*time.Minute, rec.TimeThreshold)
	assert.True(t, rec.AutoRefreshEnabled)
	assert.True(t, rec.LastRefreshAt.IsZero())

	rec.LastRefreshAt = time.Now().UTC().Truncate(time.Second)
	rec.LastRefreshDuration = 740 * time.Millisecond
	rec.LastSuccess = true
	rec.RefreshCount = 7
	rec.ConsecutiveFailures = 0
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.Equal(t, rec.LastRefreshAt, got.LastRefreshAt)
	assert.Equal(t, rec.LastRefreshDuration, got.LastRefreshDuration)
	assert.True(t, got.LastSuccess)
	assert.Equal(t, int64(7), got.RefreshCount)

	// Ensure on an existing view does not reset its record.
	again, err := store.Ensure(ctx, hierarchy.ViewClosure, 999, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), again.RefreshCount)
	assert.Equal(t, 100, again.ChangeCountThreshold)
}

func TestScheduleStore_List(t *testing.T) {
	db := testDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	for _, view := range RegisteredViews() {
		_, err := store.Ensure(ctx, view, 100, 5*time.Minute)
		require.NoError(t, err)
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, len(RegisteredViews()))
	assert.Equal(t, hierarchy.ViewClosure, records[0].ViewName)
	assert.Equal(t, hierarchy.ViewDescendantCounts, records[1].ViewName)
}

func TestScheduleStore_SetAutoRefresh(t *testing.T) {
	db := testDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	_, err := store.Ensure(ctx, hierarchy.ViewClosure, 100, 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.SetAutoRefresh(ctx, hierarchy.ViewClosure, false))
	rec, err := store.Get(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.False(t, rec.AutoRefreshEnabled)

	assert.ErrorIs(t, store.SetAutoRefresh(ctx, "nope", true), hierarchy.ErrUnknownView)
}

func TestScheduleStore_GetUnknownView(t *testing.T) {
	db := testDB(t)
	store := NewScheduleStore(db)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, hierarchy.ErrUnknownView)
}
