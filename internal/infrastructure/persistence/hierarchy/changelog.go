package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/treeline-go/pkg/config"
)

// ChangeLog is the append-only record of entity mutations. Each snapshot
// view consumes it through its own cursor; a row is pruned only once
// every registered view's cursor has passed it.
type ChangeLog struct {
	db      *database.DB
	logger  *logging.ChanneledLogger
	metrics *metrics.Registry
	views   []string
}

// NewChangeLog wires the changelog and seeds a cursor row for every
// registered view so pruning can take the minimum across all of them.
func NewChangeLog(ctx context.Context, db *database.DB, logger *logging.ChanneledLogger, m *metrics.Registry) (*ChangeLog, error) {
	cl := &ChangeLog{db: db, logger: logger, metrics: m, views: RegisteredViews()}
	for _, view := range cl.views {
		_, err := db.ExecContext(ctx,
			`INSERT INTO snapshot_cursors (view_name, consumed_through) VALUES (?, 0)
			 ON CONFLICT(view_name) DO NOTHING`, view)
		if err != nil {
			return nil, fmt.Errorf("seeding changelog cursor for %s: %w", view, err)
		}
	}
	return cl, nil
}

// Append records one mutation. Failures are retried a bounded number of
// times; if the store stays unreachable the entry is dropped and counted,
// keeping the mutation path available at the cost of a late refresh.
func (cl *ChangeLog) Append(ctx context.Context, entry hierarchy.ChangeLogEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < config.AppendRetryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(config.AppendRetryBackoff << attempt):
			}
			if ctx.Err() != nil {
				break
			}
		}

		_, err := cl.db.ExecContext(ctx,
			`INSERT INTO change_log (change_type, entity_id, entity_path, batch_id, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			string(entry.ChangeType), entry.EntityID, entry.EntityPath, entry.BatchID, createdAt)
		if err == nil {
			return nil
		}
		lastErr = err
		cl.logger.Changelog().Warn("Changelog append failed, retrying",
			"attempt", attempt+1, "entityId", entry.EntityID, "error", err.Error())
	}

	if cl.metrics != nil {
		cl.metrics.ChangelogDrop()
	}
	cl.logger.Changelog().Error("Changelog entry dropped after retries",
		"entityId", entry.EntityID, "batchId", entry.BatchID, "error", lastErr.Error())
	return nil
}

// CountPending returns how many entries the view has not yet consumed.
func (cl *ChangeLog) CountPending(ctx context.Context, view string) (int, error) {
	var count int
	err := cl.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_log
		 WHERE id > (SELECT consumed_through FROM snapshot_cursors WHERE view_name = ?)`,
		view).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting pending changes: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return count, nil
}

// CountSince returns how many unconsumed entries arrived at or after the
// given time.
func (cl *ChangeLog) CountSince(ctx context.Context, view string, since time.Time) (int, error) {
	var count int
	err := cl.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_log
		 WHERE id > (SELECT consumed_through FROM snapshot_cursors WHERE view_name = ?)
		   AND created_at >= ?`,
		view, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting recent changes: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return count, nil
}

// MaxID returns the highest changelog id, or zero when the log is empty.
// The scheduler snapshots it before a refresh so entries appended during
// the rebuild stay pending.
func (cl *ChangeLog) MaxID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := cl.db.QueryRowContext(ctx, `SELECT MAX(id) FROM change_log`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: reading changelog head: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return id.Int64, nil
}

// EntriesSince returns up to limit unconsumed entries for the view, in
// append order.
func (cl *ChangeLog) EntriesSince(ctx context.Context, view string, limit int) ([]hierarchy.ChangeLogEntry, error) {
	rows, err := cl.db.QueryContext(ctx,
		`SELECT id, change_type, entity_id, entity_path, batch_id, created_at FROM change_log
		 WHERE id > (SELECT consumed_through FROM snapshot_cursors WHERE view_name = ?)
		 ORDER BY id ASC LIMIT ?`,
		view, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: reading changelog: %v", hierarchy.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []hierarchy.ChangeLogEntry
	for rows.Next() {
		var e hierarchy.ChangeLogEntry
		var changeType string
		if err := rows.Scan(&e.ID, &changeType, &e.EntityID, &e.EntityPath, &e.BatchID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning changelog entry: %v", hierarchy.ErrStoreUnavailable, err)
		}
		e.ChangeType = hierarchy.ChangeType(changeType)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return out, nil
}

// MarkConsumed advances the view's cursor to upToID and prunes every
// entry already consumed by all registered views.
func (cl *ChangeLog) MarkConsumed(ctx context.Context, view string, upToID int64) error {
	tx, err := cl.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin mark consumed: %v", hierarchy.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE snapshot_cursors SET consumed_through = MAX(consumed_through, ?) WHERE view_name = ?`,
		upToID, view)
	if err != nil {
		return fmt.Errorf("%w: advancing cursor: %v", hierarchy.ErrStoreUnavailable, err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM change_log WHERE id <= (SELECT MIN(consumed_through) FROM snapshot_cursors)`)
	if err != nil {
		return fmt.Errorf("%w: pruning changelog: %v", hierarchy.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit mark consumed: %v", hierarchy.ErrStoreUnavailable, err)
	}

	if pruned, err := result.RowsAffected(); err == nil && pruned > 0 {
		cl.logger.Changelog().Debug("Pruned fully consumed changelog entries",
			"view", view, "upToId", upToID, "pruned", pruned)
	}
	return nil
}

// ClearBatch removes every entry belonging to an aborted mutation batch.
func (cl *ChangeLog) ClearBatch(ctx context.Context, batchID string) error {
	_, err := cl.db.ExecContext(ctx, `DELETE FROM change_log WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("%w: clearing batch %s: %v", hierarchy.ErrStoreUnavailable, batchID, err)
	}
	return nil
}
