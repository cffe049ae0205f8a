package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
)

// ScheduleStore persists the per-view refresh bookkeeping. Records are
// only written while the view's refresh lock is held, so plain reads and
// writes are enough here.
type ScheduleStore struct {
	db *database.DB
}

// NewScheduleStore wires the schedule repository.
func NewScheduleStore(db *database.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Ensure inserts a default record for the view if none exists and
// returns the current record.
func (s *ScheduleStore) Ensure(ctx context.Context, view string, changeCountThreshold int, timeThreshold time.Duration) (*hierarchy.ScheduleRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot_schedule (view_name, change_count_threshold, time_threshold_ms)
		 VALUES (?, ?, ?)
		 ON CONFLICT(view_name) DO NOTHING`,
		view, changeCountThreshold, timeThreshold.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("%w: seeding schedule for %s: %v", hierarchy.ErrStoreUnavailable, view, err)
	}
	return s.Get(ctx, view)
}

// Get returns the record for one view.
func (s *ScheduleStore) Get(ctx context.Context, view string) (*hierarchy.ScheduleRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT view_name, last_refresh_at, last_refresh_duration_ms, last_success,
		        refresh_count, failure_count, consecutive_failures, last_failure_reason,
		        auto_refresh_enabled, change_count_threshold, time_threshold_ms
		 FROM snapshot_schedule WHERE view_name = ?`, view)

	rec, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", hierarchy.ErrUnknownView, view)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading schedule: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// List returns every schedule record, for the status endpoint.
func (s *ScheduleStore) List(ctx context.Context) ([]*hierarchy.ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT view_name, last_refresh_at, last_refresh_duration_ms, last_success,
		        refresh_count, failure_count, consecutive_failures, last_failure_reason,
		        auto_refresh_enabled, change_count_threshold, time_threshold_ms
		 FROM snapshot_schedule ORDER BY view_name`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing schedules: %v", hierarchy.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*hierarchy.ScheduleRecord
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning schedule: %v", hierarchy.ErrStoreUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return out, nil
}

// Save writes the full record back.
func (s *ScheduleStore) Save(ctx context.Context, rec *hierarchy.ScheduleRecord) error {
	var lastRefreshAt any
	if !rec.LastRefreshAt.IsZero() {
		lastRefreshAt = rec.LastRefreshAt.UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE snapshot_schedule SET
			last_refresh_at = ?, last_refresh_duration_ms = ?, last_success = ?,
			refresh_count = ?, failure_count = ?, consecutive_failures = ?,
			last_failure_reason = ?, auto_refresh_enabled = ?,
			change_count_threshold = ?, time_threshold_ms = ?
		 WHERE view_name = ?`,
		lastRefreshAt, rec.LastRefreshDuration.Milliseconds(), rec.LastSuccess,
		rec.RefreshCount, rec.FailureCount, rec.ConsecutiveFailures,
		rec.LastFailureReason, rec.AutoRefreshEnabled,
		rec.ChangeCountThreshold, rec.TimeThreshold.Milliseconds(),
		rec.ViewName)
	if err != nil {
		return fmt.Errorf("%w: saving schedule for %s: %v", hierarchy.ErrStoreUnavailable, rec.ViewName, err)
	}
	return nil
}

// SetAutoRefresh flips the per-view automatic refresh switch.
func (s *ScheduleStore) SetAutoRefresh(ctx context.Context, view string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE snapshot_schedule SET auto_refresh_enabled = ? WHERE view_name = ?`, enabled, view)
	if err != nil {
		return fmt.Errorf("%w: toggling auto refresh: %v", hierarchy.ErrStoreUnavailable, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", hierarchy.ErrUnknownView, view)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*hierarchy.ScheduleRecord, error) {
	var rec hierarchy.ScheduleRecord
	var lastRefreshAt sql.NullTime
	var durationMS, thresholdMS int64

	err := row.Scan(&rec.ViewName, &lastRefreshAt, &durationMS, &rec.LastSuccess,
		&rec.RefreshCount, &rec.FailureCount, &rec.ConsecutiveFailures, &rec.LastFailureReason,
		&rec.AutoRefreshEnabled, &rec.ChangeCountThreshold, &thresholdMS)
	if err != nil {
		return nil, err
	}

	if lastRefreshAt.Valid {
		rec.LastRefreshAt = lastRefreshAt.Time.UTC()
	}
	rec.LastRefreshDuration = time.Duration(durationMS) * time.Millisecond
	rec.TimeThreshold = time.Duration(thresholdMS) * time.Millisecond
	return &rec, nil
}
