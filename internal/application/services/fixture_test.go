package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/manager"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/coordination"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/email"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
)

// fixture assembles the full subsystem against an in-memory database
// and an in-memory shared cache.
type fixture struct {
	db        *database.DB
	local     *stores.LocalStore
	cache     *manager.Manager
	store     *persistence.Store
	changeLog *persistence.ChangeLog
	schedules *persistence.ScheduleStore
	lock      *coordination.MemoryLock
	resolver  *HierarchyResolver
	scheduler *RefreshScheduler
	mutations *MutationService
}

type fakeAlerter struct {
	refreshFailures []string
	lockLeaks       []string
}

func (a *fakeAlerter) SendRefreshFailureAlert(view, _ string, _ int) error {
	a.refreshFailures = append(a.refreshFailures, view)
	return nil
}

func (a *fakeAlerter) SendLockLeakAlert(view string, _ time.Duration) error {
	a.lockLeaks = append(a.lockLeaks, view)
	return nil
}

func testLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		JSONFormat:   true,
		DefaultLevel: slog.LevelError + 4,
	})
	require.NoError(t, err)
	return logger
}

func newFixture(t *testing.T, alerter *fakeAlerter) *fixture {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewConnection("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, persistence.EnsureSchema(ctx, db))

	logger := testLogger(t)

	remote, err := stores.NewBadgerStore(stores.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	f := &fixture{db: db}
	f.local = stores.NewLocalStore(128, nil)
	f.cache = manager.NewManager(f.local, remote, time.Hour, logger, nil)
	f.store = persistence.NewStore(db, logger)
	f.changeLog, err = persistence.NewChangeLog(ctx, db, logger, nil)
	require.NoError(t, err)
	f.schedules = persistence.NewScheduleStore(db)
	f.lock = coordination.NewMemoryLock(time.Minute)

	invalidation := NewInvalidationCoordinator(f.cache, logger)
	f.scheduler = NewRefreshScheduler(f.store, f.changeLog, f.schedules, f.lock,
		invalidation, alerterOrNil(alerter), logger, nil)
	f.resolver = NewHierarchyResolver(f.cache, f.store, logger, nil)
	f.mutations = NewMutationService(f.store, f.changeLog, f.scheduler, logger)

	for _, view := range persistence.RegisteredViews() {
		_, err := f.schedules.Ensure(ctx, view, 100, time.Hour)
		require.NoError(t, err)
	}

	return f
}

// alerterOrNil keeps a typed-nil fake from masquerading as a non-nil
// email.Service inside the scheduler.
func alerterOrNil(a *fakeAlerter) email.Service {
	if a == nil {
		return nil
	}
	return a
}

func (f *fixture) mutate(t *testing.T, entityID, path string, change hierarchy.ChangeType) {
	t.Helper()
	_, err := f.mutations.OnEntityMutated(context.Background(), Mutation{
		EntityID:   entityID,
		Path:       path,
		ChangeType: change,
	})
	require.NoError(t, err)
}

func (f *fixture) seed(t *testing.T, paths ...string) {
	t.Helper()
	for _, path := range paths {
		f.mutate(t, "id-"+path, path, hierarchy.ChangeInsert)
	}
}

func (f *fixture) refreshAll(t *testing.T) {
	t.Helper()
	for _, view := range persistence.RegisteredViews() {
		outcome, err := f.scheduler.Evaluate(context.Background(), view, true)
		require.NoError(t, err)
		require.Equal(t, hierarchy.StatusRefreshed, outcome.Status)
	}
}
