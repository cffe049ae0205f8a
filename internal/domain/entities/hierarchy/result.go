package hierarchy

import "time"

// QueryKind selects the closure computed by a resolve call.
type QueryKind string

const (
	QueryAncestors        QueryKind = "ancestors"
	QueryDescendants      QueryKind = "descendants"
	QueryDescendantCounts QueryKind = "descendant-counts"
)

// IsValid reports whether the query kind is one of the known values.
func (k QueryKind) IsValid() bool {
	switch k {
	case QueryAncestors, QueryDescendants, QueryDescendantCounts:
		return true
	}
	return false
}

// ViewName maps a query kind to the named snapshot that serves it.
// Ancestors and descendants are both answered by the closure view.
func (k QueryKind) ViewName() string {
	if k == QueryDescendantCounts {
		return ViewDescendantCounts
	}
	return ViewClosure
}

// Named snapshots maintained by the refresh scheduler.
const (
	ViewClosure          = "ancestors"
	ViewDescendantCounts = "descendant-counts"
)

// ServedFrom tags which tier produced a resolution.
type ServedFrom string

const (
	ServedL1         ServedFrom = "L1"
	ServedL2         ServedFrom = "L2"
	ServedL3         ServedFrom = "L3"
	ServedL3Fallback ServedFrom = "L3-fallback"
)

// Resolution is the tagged result of a hierarchy query. Exactly one of
// Ancestors, Descendants, or Counts is populated, selected by Kind.
type Resolution struct {
	Kind        QueryKind      `json:"kind"`
	Path        string         `json:"path"`
	Ancestors   []Entity       `json:"ancestors,omitempty"`
	Descendants []Entity       `json:"descendants,omitempty"`
	Counts      map[string]int `json:"counts,omitempty"`

	// SnapshotAt is the completion time of the snapshot refresh that
	// produced this result; zero for direct fallback computations.
	SnapshotAt time.Time `json:"snapshotAt,omitempty"`
}
