package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/treeline-go/pkg/config"
)

// Store answers hierarchy queries from the materialized snapshot tables
// and, when a snapshot is missing, from the raw entity rows directly.
type Store struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewStore wires the SQL tier.
func NewStore(db *database.DB, logger *logging.ChanneledLogger) *Store {
	return &Store{db: db, logger: logger}
}

// RegisteredViews lists the snapshot views this store maintains.
func RegisteredViews() []string {
	return []string{hierarchy.ViewClosure, hierarchy.ViewDescendantCounts}
}

func knownView(view string) bool {
	for _, v := range RegisteredViews() {
		if v == view {
			return true
		}
	}
	return false
}

func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, config.StoreQueryTimeout)
}

// SnapshotAt returns the completion time of the view's last refresh, or
// ErrSnapshotNotAvailable when the view has never been built.
func (s *Store) SnapshotAt(ctx context.Context, view string) (time.Time, error) {
	if !knownView(view) {
		return time.Time{}, fmt.Errorf("%w: %s", hierarchy.ErrUnknownView, view)
	}

	var refreshedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT refreshed_at FROM snapshot_meta WHERE view_name = ?`, view).Scan(&refreshedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("%w: %s", hierarchy.ErrSnapshotNotAvailable, view)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: snapshot meta: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return refreshedAt.UTC(), nil
}

// QuerySnapshot resolves a query against the materialized tables. The
// serving view is derived from the query kind.
func (s *Store) QuerySnapshot(ctx context.Context, p hierarchy.Path, kind hierarchy.QueryKind, maxDepth int) (hierarchy.Resolution, error) {
	view := kind.ViewName()
	refreshedAt, err := s.SnapshotAt(ctx, view)
	if err != nil {
		return hierarchy.Resolution{}, err
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	start := time.Now()

	result := hierarchy.Resolution{Kind: kind, Path: p.String(), SnapshotAt: refreshedAt}

	switch kind {
	case hierarchy.QueryAncestors:
		query := `SELECT ancestor_id, ancestor_path, ancestor_depth FROM ` + tableClosure +
			` WHERE descendant_path = ?`
		args := []any{p.String()}
		if maxDepth > 0 {
			query += ` AND ancestor_depth >= ?`
			args = append(args, p.Depth()-maxDepth)
		}
		query += ` ORDER BY ancestor_depth ASC`
		result.Ancestors, err = s.scanEntities(ctx, query, args...)

	case hierarchy.QueryDescendants:
		query := `SELECT descendant_id, descendant_path, descendant_depth FROM ` + tableClosure +
			` WHERE ancestor_path = ?`
		args := []any{p.String()}
		if maxDepth > 0 {
			query += ` AND descendant_depth <= ?`
			args = append(args, p.Depth()+maxDepth)
		}
		query += ` ORDER BY descendant_path ASC`
		result.Descendants, err = s.scanEntities(ctx, query, args...)

	case hierarchy.QueryDescendantCounts:
		result.Counts, err = s.scanCounts(ctx,
			`SELECT path, descendant_count FROM `+tableDescendantCounts+
				` WHERE (path = ? OR path LIKE ? || '.%') AND depth <= ?`,
			p.String(), p.String(), p.Depth()+max(maxDepth, 0))

	default:
		return hierarchy.Resolution{}, fmt.Errorf("unsupported query kind: %s", kind)
	}
	if err != nil {
		return hierarchy.Resolution{}, err
	}

	database.CheckAndLogSlowQuery(s.logger, "SNAPSHOT_QUERY_"+string(kind), time.Since(start))
	return result, nil
}

// QueryDirect resolves a query from the raw entity rows, bypassing the
// snapshot tables. It is always correct and always slower; results carry
// a zero SnapshotAt so callers know not to cache them.
func (s *Store) QueryDirect(ctx context.Context, p hierarchy.Path, kind hierarchy.QueryKind, maxDepth int) (hierarchy.Resolution, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	start := time.Now()

	result := hierarchy.Resolution{Kind: kind, Path: p.String()}
	var err error

	switch kind {
	case hierarchy.QueryAncestors:
		ancestors := p.Ancestors()
		if maxDepth > 0 && len(ancestors) > maxDepth {
			ancestors = ancestors[len(ancestors)-maxDepth:]
		}
		if len(ancestors) == 0 {
			break
		}
		query := `SELECT id, path, depth FROM entities WHERE path IN (?` +
			repeatPlaceholder(len(ancestors)-1) + `) ORDER BY depth ASC`
		args := make([]any, len(ancestors))
		for i, a := range ancestors {
			args[i] = a.String()
		}
		result.Ancestors, err = s.scanEntities(ctx, query, args...)

	case hierarchy.QueryDescendants:
		query := `SELECT id, path, depth FROM entities WHERE path LIKE ? || '.%'`
		args := []any{p.String()}
		if maxDepth > 0 {
			query += ` AND depth <= ?`
			args = append(args, p.Depth()+maxDepth)
		}
		query += ` ORDER BY path ASC`
		result.Descendants, err = s.scanEntities(ctx, query, args...)

	case hierarchy.QueryDescendantCounts:
		result.Counts, err = s.scanCounts(ctx,
			`SELECT a.path, COUNT(d.id) FROM entities a
			 LEFT JOIN entities d ON d.path LIKE a.path || '.%'
			 WHERE (a.path = ? OR a.path LIKE ? || '.%') AND a.depth <= ?
			 GROUP BY a.path`,
			p.String(), p.String(), p.Depth()+max(maxDepth, 0))

	default:
		return hierarchy.Resolution{}, fmt.Errorf("unsupported query kind: %s", kind)
	}
	if err != nil {
		return hierarchy.Resolution{}, err
	}

	database.CheckAndLogSlowQuery(s.logger, "DIRECT_QUERY_"+string(kind), time.Since(start))
	return result, nil
}

// RefreshSnapshot recomputes the named view. With preferNonBlocking (and
// the swap allowed by config) it rebuilds into the shadow table and swaps
// it in inside one transaction, so readers stay on the previous snapshot
// until the swap commits. Otherwise it falls back to rewriting the live
// table inside a single transaction.
func (s *Store) RefreshSnapshot(ctx context.Context, view string, preferNonBlocking bool) (hierarchy.RefreshStrategy, time.Duration, error) {
	if !knownView(view) {
		return hierarchy.StrategyNone, 0, fmt.Errorf("%w: %s", hierarchy.ErrUnknownView, view)
	}

	strategy := hierarchy.StrategyBlocking
	if preferNonBlocking && config.AllowConcurrentSwap {
		strategy = hierarchy.StrategyConcurrent
	}

	start := time.Now()
	var err error
	if strategy == hierarchy.StrategyConcurrent {
		err = s.refreshViaSwap(ctx, view)
	} else {
		err = s.refreshInPlace(ctx, view)
	}
	duration := time.Since(start)

	if err != nil {
		return strategy, duration, err
	}

	database.CheckAndLogSlowQuery(s.logger, "SNAPSHOT_REFRESH_"+view, duration)
	return strategy, duration, nil
}

// ApplyMutation upserts or deletes the entity row for an observed change.
func (s *Store) ApplyMutation(ctx context.Context, change hierarchy.ChangeType, entity hierarchy.Entity) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var err error
	switch change {
	case hierarchy.ChangeInsert, hierarchy.ChangeUpdate:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO entities (id, path, depth) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET path = excluded.path, depth = excluded.depth`,
			entity.ID, entity.Path, entity.Depth)
	case hierarchy.ChangeDelete:
		_, err = s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, entity.ID)
	default:
		return fmt.Errorf("unknown change type: %s", change)
	}
	if err != nil {
		return fmt.Errorf("%w: apply mutation: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) refreshViaSwap(ctx context.Context, view string) error {
	live, shadow := viewTables(view)

	// Rebuild the shadow outside any transaction; readers are untouched.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+shadow); err != nil {
		return fmt.Errorf("%w: clearing shadow: %v", hierarchy.ErrStoreUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, rebuildSQL(view, shadow)); err != nil {
		return fmt.Errorf("%w: rebuilding shadow: %v", hierarchy.ErrStoreUnavailable, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin swap: %v", hierarchy.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	steps := []string{
		`DROP TABLE ` + live,
		`ALTER TABLE ` + shadow + ` RENAME TO ` + live,
	}
	steps = append(steps, recreateSQL(view, shadow)...)
	steps = append(steps, liveIndexSQL(view)...)
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: snapshot swap: %v", hierarchy.ErrStoreUnavailable, err)
		}
	}
	if err := touchMeta(ctx, tx, view); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit swap: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) refreshInPlace(ctx context.Context, view string) error {
	live, _ := viewTables(view)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin refresh: %v", hierarchy.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+live); err != nil {
		return fmt.Errorf("%w: clearing snapshot: %v", hierarchy.ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, rebuildSQL(view, live)); err != nil {
		return fmt.Errorf("%w: rebuilding snapshot: %v", hierarchy.ErrStoreUnavailable, err)
	}
	if err := touchMeta(ctx, tx, view); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit refresh: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return nil
}

func viewTables(view string) (live, shadow string) {
	if view == hierarchy.ViewDescendantCounts {
		return tableDescendantCounts, tableDescendantCounts + shadowSuffix
	}
	return tableClosure, tableClosure + shadowSuffix
}

// rebuildSQL computes a view's full contents from the entity rows. The
// closure pairs every entity with each of its proper ancestors via a
// prefix join.
func rebuildSQL(view, target string) string {
	if view == hierarchy.ViewDescendantCounts {
		return `INSERT INTO ` + target + ` (path, depth, descendant_count)
			SELECT a.path, a.depth, COUNT(d.id)
			FROM entities a
			LEFT JOIN entities d ON d.path LIKE a.path || '.%'
			GROUP BY a.path, a.depth`
	}
	return `INSERT INTO ` + target + ` (ancestor_id, ancestor_path, ancestor_depth, descendant_id, descendant_path, descendant_depth)
		SELECT a.id, a.path, a.depth, d.id, d.path, d.depth
		FROM entities a
		JOIN entities d ON d.path LIKE a.path || '.%'`
}

func recreateSQL(view, shadow string) []string {
	if view == hierarchy.ViewDescendantCounts {
		return []string{`CREATE TABLE ` + shadow + ` ` + countsColumns}
	}
	return []string{`CREATE TABLE ` + shadow + ` ` + closureColumns}
}

// liveIndexSQL recreates the read-path indexes after a table rename; the
// rename carries over shadow-table state, which has none.
func liveIndexSQL(view string) []string {
	if view == hierarchy.ViewDescendantCounts {
		return nil
	}
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_closure_descendant ON ` + tableClosure + `(descendant_path)`,
		`CREATE INDEX IF NOT EXISTS idx_closure_ancestor ON ` + tableClosure + `(ancestor_path)`,
	}
}

func touchMeta(ctx context.Context, tx *sql.Tx, view string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (view_name, refreshed_at) VALUES (?, ?)
		 ON CONFLICT(view_name) DO UPDATE SET refreshed_at = excluded.refreshed_at`,
		view, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: snapshot meta: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) scanEntities(ctx context.Context, query string, args ...any) ([]hierarchy.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hierarchy.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []hierarchy.Entity
	for rows.Next() {
		var e hierarchy.Entity
		if err := rows.Scan(&e.ID, &e.Path, &e.Depth); err != nil {
			return nil, fmt.Errorf("%w: scanning entity: %v", hierarchy.ErrStoreUnavailable, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Store) scanCounts(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hierarchy.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var path string
		var count int
		if err := rows.Scan(&path, &count); err != nil {
			return nil, fmt.Errorf("%w: scanning count: %v", hierarchy.ErrStoreUnavailable, err)
		}
		counts[path] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return counts, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
