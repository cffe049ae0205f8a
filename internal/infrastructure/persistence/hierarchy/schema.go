// Package hierarchy provides the SQL-backed tier of the resolver: the
// raw entity table, the materialized snapshot tables the hot path reads,
// and the changelog and scheduling bookkeeping around them.
package hierarchy

import (
	"context"
	"fmt"

	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
)

// Snapshot views maintained by this store. The closure view answers both
// ancestor and descendant queries from one pair table.
const (
	tableClosure          = "snap_closure"
	tableDescendantCounts = "snap_descendant_counts"
	shadowSuffix          = "_shadow"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		depth INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_depth ON entities(depth)`,

	`CREATE TABLE IF NOT EXISTS change_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		change_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_path TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_change_log_batch ON change_log(batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_change_log_created ON change_log(created_at)`,

	`CREATE TABLE IF NOT EXISTS snapshot_schedule (
		view_name TEXT PRIMARY KEY,
		last_refresh_at TIMESTAMP,
		last_refresh_duration_ms INTEGER NOT NULL DEFAULT 0,
		last_success INTEGER NOT NULL DEFAULT 0,
		refresh_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_failure_reason TEXT NOT NULL DEFAULT '',
		auto_refresh_enabled INTEGER NOT NULL DEFAULT 1,
		change_count_threshold INTEGER NOT NULL,
		time_threshold_ms INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS refresh_locks (
		view_name TEXT PRIMARY KEY,
		holder_token TEXT NOT NULL DEFAULT '',
		acquired_at TIMESTAMP,
		expires_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS snapshot_cursors (
		view_name TEXT PRIMARY KEY,
		consumed_through INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS snapshot_meta (
		view_name TEXT PRIMARY KEY,
		refreshed_at TIMESTAMP NOT NULL
	)`,
}

// closureColumns is shared by the live and shadow closure tables.
const closureColumns = `(
	ancestor_id TEXT NOT NULL,
	ancestor_path TEXT NOT NULL,
	ancestor_depth INTEGER NOT NULL,
	descendant_id TEXT NOT NULL,
	descendant_path TEXT NOT NULL,
	descendant_depth INTEGER NOT NULL
)`

const countsColumns = `(
	path TEXT PRIMARY KEY,
	depth INTEGER NOT NULL,
	descendant_count INTEGER NOT NULL
)`

// EnsureSchema creates every table the store depends on. It is safe to
// call on every startup.
func EnsureSchema(ctx context.Context, db *database.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	for _, table := range []string{tableClosure, tableClosure + shadowSuffix} {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", table, closureColumns)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", table, err)
		}
	}
	for _, table := range []string{tableDescendantCounts, tableDescendantCounts + shadowSuffix} {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", table, countsColumns)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", table, err)
		}
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_closure_descendant ON %s(descendant_path)", tableClosure),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_closure_ancestor ON %s(ancestor_path)", tableClosure),
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating snapshot index: %w", err)
		}
	}

	return nil
}
