package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/coordination"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/email"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/metrics"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
	"github.com/AtRiskMedia/treeline-go/pkg/config"
)

// consumeBatchLimit bounds how many changelog entries one finalize pass
// loads for invalidation bookkeeping.
const consumeBatchLimit = 10000

// RefreshScheduler decides when each snapshot view is recomputed. Views
// are evaluated on a fixed tick and immediately after mutations; a
// refresh runs when enough changes are pending or the snapshot has aged
// past its time threshold, and only one holder per view may refresh at a
// time.
type RefreshScheduler struct {
	store        *persistence.Store
	changeLog    *persistence.ChangeLog
	schedules    *persistence.ScheduleStore
	lock         coordination.RefreshLock
	invalidation *InvalidationCoordinator
	alerter      email.Service
	logger       *logging.ChanneledLogger
	metrics      *metrics.Registry

	views  []string
	nudges map[string]chan struct{}

	tickInterval     time.Duration
	refreshBudget    time.Duration
	failureThreshold int

	wg sync.WaitGroup
}

// NewRefreshScheduler wires the scheduler. alerter may be nil.
func NewRefreshScheduler(
	store *persistence.Store,
	changeLog *persistence.ChangeLog,
	schedules *persistence.ScheduleStore,
	lock coordination.RefreshLock,
	invalidation *InvalidationCoordinator,
	alerter email.Service,
	logger *logging.ChanneledLogger,
	m *metrics.Registry,
) *RefreshScheduler {
	views := persistence.RegisteredViews()
	nudges := make(map[string]chan struct{}, len(views))
	for _, view := range views {
		nudges[view] = make(chan struct{}, 1)
	}

	return &RefreshScheduler{
		store:            store,
		changeLog:        changeLog,
		schedules:        schedules,
		lock:             lock,
		invalidation:     invalidation,
		alerter:          alerter,
		logger:           logger,
		metrics:          m,
		views:            views,
		nudges:           nudges,
		tickInterval:     config.TickInterval,
		refreshBudget:    config.RefreshTimeout,
		failureThreshold: config.AlertFailureThreshold,
	}
}

// Start seeds the schedule records and launches one evaluation loop per
// view. It returns once the loops are running; Wait blocks on shutdown.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	for _, view := range s.views {
		if _, err := s.schedules.Ensure(ctx, view, config.ChangeCountThreshold, config.TimeThreshold); err != nil {
			return fmt.Errorf("seeding schedule for %s: %w", view, err)
		}
	}

	for _, view := range s.views {
		s.wg.Add(1)
		go s.run(ctx, view)
	}

	s.logger.Refresh().Info("Refresh scheduler started",
		"views", len(s.views), "tickInterval", s.tickInterval)
	return nil
}

// Wait blocks until every view loop has exited.
func (s *RefreshScheduler) Wait() {
	s.wg.Wait()
}

// Nudge requests an immediate evaluation of the view serving the given
// query kinds. It never blocks; a pending nudge absorbs new ones.
func (s *RefreshScheduler) Nudge(view string) {
	ch, ok := s.nudges[view]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// NudgeAll requests an immediate evaluation of every view.
func (s *RefreshScheduler) NudgeAll() {
	for _, view := range s.views {
		s.Nudge(view)
	}
}

func (s *RefreshScheduler) run(ctx context.Context, view string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	log := s.logger.WithView(logging.ChannelRefresh, view)
	log.Info("View evaluation loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info("View evaluation loop stopping")
			return
		case <-ticker.C:
		case <-s.nudges[view]:
		}

		if _, err := s.Evaluate(ctx, view, false); err != nil {
			log.Error("Evaluation failed", "error", err.Error())
		}
	}
}

// Evaluate runs one pass of the scheduling state machine for a view.
// With force it skips the trigger checks but still competes for the
// lock. The view's lock, once acquired, is released on every exit path.
func (s *RefreshScheduler) Evaluate(ctx context.Context, view string, force bool) (hierarchy.RefreshOutcome, error) {
	rec, err := s.schedules.Get(ctx, view)
	if err != nil {
		return hierarchy.RefreshOutcome{}, err
	}

	pending, err := s.changeLog.CountPending(ctx, view)
	if err != nil {
		return hierarchy.RefreshOutcome{}, err
	}

	outcome := hierarchy.RefreshOutcome{
		ViewName:      view,
		Strategy:      hierarchy.StrategyNone,
		RecentChanges: pending,
	}

	if !force && !s.shouldRefresh(rec, pending) {
		outcome.Status = hierarchy.StatusSkippedInsufficientChanges
		s.report(outcome)
		return outcome, nil
	}

	token, acquired, err := s.lock.TryAcquire(ctx, view)
	if err != nil {
		return hierarchy.RefreshOutcome{}, err
	}
	if !acquired {
		if s.metrics != nil {
			s.metrics.LockContention(view)
		}
		outcome.Status = hierarchy.StatusSkippedAlreadyInProgress
		s.report(outcome)
		return outcome, nil
	}
	defer s.release(view, token)

	// Snapshot the changelog head before rebuilding; entries appended
	// during the rebuild stay pending for the next cycle.
	headID, err := s.changeLog.MaxID(ctx)
	if err != nil {
		return s.finalizeFailure(ctx, rec, outcome, err)
	}

	strategy, duration, err := s.store.RefreshSnapshot(ctx, view, true)
	outcome.Strategy = strategy
	outcome.Duration = duration
	if err != nil {
		return s.finalizeFailure(ctx, rec, outcome, err)
	}

	if duration > s.refreshBudget {
		s.logger.Alert().Warn("Snapshot refresh exceeded its duration budget",
			"view", view, "duration", duration, "budget", s.refreshBudget)
	}

	return s.finalizeSuccess(ctx, rec, outcome, headID)
}

// shouldRefresh applies the volume-OR-time trigger. A view that has
// never been refreshed always triggers.
func (s *RefreshScheduler) shouldRefresh(rec *hierarchy.ScheduleRecord, pending int) bool {
	if !rec.AutoRefreshEnabled {
		return false
	}
	if rec.LastRefreshAt.IsZero() {
		return true
	}
	if pending >= rec.ChangeCountThreshold {
		return true
	}
	return pending > 0 && time.Since(rec.LastRefreshAt) >= rec.TimeThreshold
}

func (s *RefreshScheduler) finalizeSuccess(ctx context.Context, rec *hierarchy.ScheduleRecord, outcome hierarchy.RefreshOutcome, headID int64) (hierarchy.RefreshOutcome, error) {
	consumed, err := s.changeLog.EntriesSince(ctx, rec.ViewName, consumeBatchLimit)
	if err != nil {
		return s.finalizeFailure(ctx, rec, outcome, err)
	}
	inRefresh := consumed[:0:0]
	for _, e := range consumed {
		if e.ID <= headID {
			inRefresh = append(inRefresh, e)
		}
	}

	if err := s.changeLog.MarkConsumed(ctx, rec.ViewName, headID); err != nil {
		return s.finalizeFailure(ctx, rec, outcome, err)
	}
	s.invalidation.InvalidateForBatch(ctx, inRefresh)

	rec.LastRefreshAt = time.Now().UTC()
	rec.LastRefreshDuration = outcome.Duration
	rec.LastSuccess = true
	rec.RefreshCount++
	rec.ConsecutiveFailures = 0
	rec.LastFailureReason = ""
	if err := s.schedules.Save(ctx, rec); err != nil {
		return hierarchy.RefreshOutcome{}, err
	}

	outcome.Status = hierarchy.StatusRefreshed
	s.report(outcome)
	return outcome, nil
}

// finalizeFailure records the failure and leaves the pending changelog
// entries untouched so the next evaluation retries them.
func (s *RefreshScheduler) finalizeFailure(ctx context.Context, rec *hierarchy.ScheduleRecord, outcome hierarchy.RefreshOutcome, cause error) (hierarchy.RefreshOutcome, error) {
	rec.LastSuccess = false
	rec.FailureCount++
	rec.ConsecutiveFailures++
	rec.LastFailureReason = cause.Error()
	if saveErr := s.schedules.Save(ctx, rec); saveErr != nil {
		s.logger.Refresh().Error("Failed to persist failure state",
			"view", rec.ViewName, "error", saveErr.Error())
	}

	if rec.ConsecutiveFailures >= s.failureThreshold {
		s.logger.Alert().Error("Snapshot refresh failing repeatedly",
			"view", rec.ViewName, "consecutiveFailures", rec.ConsecutiveFailures, "error", cause.Error())
		if s.alerter != nil {
			if alertErr := s.alerter.SendRefreshFailureAlert(rec.ViewName, cause.Error(), rec.ConsecutiveFailures); alertErr != nil {
				s.logger.Alert().Error("Failed to send refresh failure alert",
					"view", rec.ViewName, "error", alertErr.Error())
			}
		}
	}

	outcome.Status = hierarchy.StatusFailed
	outcome.Err = cause
	s.report(outcome)
	return outcome, cause
}

// release frees the view's lock on its own context so a cancelled
// evaluation cannot leak it.
func (s *RefreshScheduler) release(view, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lock.Release(ctx, view, token); err != nil {
		s.logger.Lock().Error("Failed to release refresh lock",
			"view", view, "error", err.Error())
	}
}

func (s *RefreshScheduler) report(outcome hierarchy.RefreshOutcome) {
	if s.metrics != nil {
		s.metrics.RefreshOutcome(outcome.ViewName, string(outcome.Status))
		if outcome.Strategy != hierarchy.StrategyNone {
			s.metrics.RefreshDuration(outcome.ViewName, string(outcome.Strategy), outcome.Duration.Seconds())
		}
	}
	s.logger.LogRefreshOutcome(outcome.ViewName, string(outcome.Status), string(outcome.Strategy),
		outcome.RecentChanges, outcome.Duration, outcome.Err)
}
