package hierarchy

import "time"

// Entity is a node in the hierarchy as observed from the owning domain.
// Depth always equals the number of labels in Path.
type Entity struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Depth int    `json:"depth"`
}

// ChangeType identifies the kind of mutation recorded in the changelog.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// IsValid reports whether the change type is one of the known values.
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// ChangeLogEntry is one observed entity mutation. Entries are grouped
// into batches by the caller and retained until every registered
// snapshot view has incorporated them.
type ChangeLogEntry struct {
	ID         int64      `json:"id"`
	ChangeType ChangeType `json:"changeType"`
	EntityID   string     `json:"entityId"`
	EntityPath string     `json:"entityPath"`
	BatchID    string     `json:"batchId"`
	CreatedAt  time.Time  `json:"createdAt"`
}
