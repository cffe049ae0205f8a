// Package keys derives deterministic cache keys for hierarchy queries.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
)

// QueryPrefix is the keyspace shared by every hierarchy query key.
// Invalidation issues prefix deletes against it.
const QueryPrefix = "hq:"

// ForQuery returns the cache key for one (path, kind, maxDepth) query.
// The kind stays readable in the key; the variable part is hashed so
// keys have a fixed length regardless of path depth.
func ForQuery(path hierarchy.Path, kind hierarchy.QueryKind, maxDepth int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", path.String(), kind, maxDepth)))
	// 64 bits of the digest is plenty of collision resistance for a
	// bounded cache keyspace.
	return QueryPrefix + string(kind) + ":" + hex.EncodeToString(sum[:])[:16]
}

// KindPrefix returns the keyspace for every query of one kind.
func KindPrefix(kind hierarchy.QueryKind) string {
	return QueryPrefix + string(kind) + ":"
}
