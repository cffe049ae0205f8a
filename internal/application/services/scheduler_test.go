package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
)

// setThresholds rewrites a view's trigger thresholds for the test.
func setThresholds(t *testing.T, f *fixture, view string, changes int, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	rec, err := f.schedules.Get(ctx, view)
	require.NoError(t, err)
	rec.ChangeCountThreshold = changes
	rec.TimeThreshold = age
	require.NoError(t, f.schedules.Save(ctx, rec))
}

func TestScheduler_FirstEvaluationAlwaysRefreshes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a")

	outcome, err := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, false)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusRefreshed, outcome.Status)
	assert.Equal(t, hierarchy.StrategyConcurrent, outcome.Strategy)
	assert.Equal(t, 2, outcome.RecentChanges)

	rec, err := f.schedules.Get(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.True(t, rec.LastSuccess)
	assert.Equal(t, int64(1), rec.RefreshCount)
	assert.False(t, rec.LastRefreshAt.IsZero())
}

func TestScheduler_VolumeTrigger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root")
	f.refreshAll(t)
	setThresholds(t, f, hierarchy.ViewClosure, 3, time.Hour)

	f.seed(t, "root.a", "root.b")
	outcome, err := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, false)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusSkippedInsufficientChanges, outcome.Status)
	assert.Equal(t, 2, outcome.RecentChanges)
	assert.Equal(t, hierarchy.StrategyNone, outcome.Strategy)

	f.seed(t, "root.c")
	outcome, err = f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, false)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusRefreshed, outcome.Status)
	assert.Equal(t, 3, outcome.RecentChanges)
}

func TestScheduler_TimeTrigger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root")
	f.refreshAll(t)
	setThresholds(t, f, hierarchy.ViewClosure, 1000, 10*time.Millisecond)

	// One pending change, far below the volume threshold.
	f.seed(t, "root.a")
	time.Sleep(20 * time.Millisecond)

	outcome, err := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, false)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusRefreshed, outcome.Status,
		"an aged snapshot with pending changes must refresh on time alone")
}

func TestScheduler_NoChangesNoRefresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root")
	f.refreshAll(t)
	setThresholds(t, f, hierarchy.ViewClosure, 1, time.Nanosecond)

	// Snapshot is stale by time, but nothing changed underneath it.
	outcome, err := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, false)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusSkippedInsufficientChanges, outcome.Status)
	assert.Zero(t, outcome.RecentChanges)
}

func TestScheduler_AutoRefreshDisabled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a")
	require.NoError(t, f.schedules.SetAutoRefresh(ctx, hierarchy.ViewClosure, false))

	outcome, err := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, false)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped())

	// Force overrides the switch.
	outcome, err = f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusRefreshed, outcome.Status)
}

func TestScheduler_LockContention(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a")

	token, ok, err := f.lock.TryAcquire(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	require.True(t, ok)

	outcome, err := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusSkippedAlreadyInProgress, outcome.Status)

	// The foreign holder keeps its lock; nothing was stolen or released.
	info, err := f.lock.Info(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, token, info.Token)

	require.NoError(t, f.lock.Release(ctx, hierarchy.ViewClosure, token))

	outcome, err = f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)
	assert.Equal(t, hierarchy.StatusRefreshed, outcome.Status)
}

func TestScheduler_LockReleasedAfterSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root")
	f.refreshAll(t)

	info, err := f.lock.Info(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.Nil(t, info, "lock must be free after a successful refresh")
}

// A failing refresh records the failure, keeps the pending entries for
// the next attempt, and still releases the lock.
func TestScheduler_FailureKeepsBatchAndReleasesLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a")

	// Sabotage the shadow table so the rebuild fails.
	_, err := f.db.ExecContext(ctx, `DROP TABLE snap_closure_shadow`)
	require.NoError(t, err)

	outcome, evalErr := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, true)
	require.Error(t, evalErr)
	assert.Equal(t, hierarchy.StatusFailed, outcome.Status)

	rec, err := f.schedules.Get(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.False(t, rec.LastSuccess)
	assert.Equal(t, int64(1), rec.FailureCount)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.NotEmpty(t, rec.LastFailureReason)

	pending, err := f.changeLog.CountPending(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.Equal(t, 2, pending, "failed refresh must not consume the batch")

	info, err := f.lock.Info(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	assert.Nil(t, info, "lock must be released on the failure path")
}

func TestScheduler_RepeatedFailuresRaiseAlert(t *testing.T) {
	alerter := &fakeAlerter{}
	f := newFixture(t, alerter)
	ctx := context.Background()

	f.seed(t, "root")

	rec, err := f.schedules.Get(ctx, hierarchy.ViewClosure)
	require.NoError(t, err)
	rec.ConsecutiveFailures = 4
	require.NoError(t, f.schedules.Save(ctx, rec))

	_, err = f.db.ExecContext(ctx, `DROP TABLE snap_closure_shadow`)
	require.NoError(t, err)

	_, evalErr := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, true)
	require.Error(t, evalErr)

	assert.Equal(t, []string{hierarchy.ViewClosure}, alerter.refreshFailures)
}

// Entries are pruned only after every view has consumed them, and a
// refresh consumes only the entries that existed when it started.
func TestScheduler_ChangelogConsumption(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed(t, "root", "root.a")

	outcome, err := f.scheduler.Evaluate(ctx, hierarchy.ViewClosure, true)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusRefreshed, outcome.Status)

	// The counts view has not consumed yet, so the entries survive.
	maxID, err := f.changeLog.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), maxID)

	outcome, err = f.scheduler.Evaluate(ctx, hierarchy.ViewDescendantCounts, true)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusRefreshed, outcome.Status)

	maxID, err = f.changeLog.MaxID(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxID, "entries consumed by every view must be pruned")

	for _, view := range persistence.RegisteredViews() {
		pending, err := f.changeLog.CountPending(ctx, view)
		require.NoError(t, err)
		assert.Zero(t, pending, "view %s", view)
	}
}

func TestScheduler_UnknownView(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.scheduler.Evaluate(context.Background(), "nope", true)
	assert.ErrorIs(t, err, hierarchy.ErrUnknownView)
}
