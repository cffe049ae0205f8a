// Package hierarchy defines the core domain types for hierarchical
// entity resolution: paths, entities, change tracking, query results,
// and snapshot scheduling state.
package hierarchy

import (
	"fmt"
	"strings"
)

// Separator joins path labels for display and storage.
const Separator = "."

// Path is an ordered sequence of ancestry labels, root first.
type Path []string

// isValidLabel reports whether a single label matches the identifier
// pattern [a-zA-Z0-9_-]+.
func isValidLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ParsePath parses and validates a dot-joined path string.
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	labels := strings.Split(raw, Separator)
	for _, label := range labels {
		if !isValidLabel(label) {
			return nil, fmt.Errorf("%w: bad label %q in %q", ErrInvalidPath, label, raw)
		}
	}

	return Path(labels), nil
}

// String returns the dot-joined display form.
func (p Path) String() string {
	return strings.Join(p, Separator)
}

// Depth returns the number of labels in the path.
func (p Path) Depth() int {
	return len(p)
}

// IsRoot reports whether the path has no ancestors.
func (p Path) IsRoot() bool {
	return len(p) <= 1
}

// Parent returns the immediate ancestor path, or nil for a root.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return nil
	}
	return p[:len(p)-1]
}

// Ancestors returns every proper prefix of the path, shallowest first.
func (p Path) Ancestors() []Path {
	if p.IsRoot() {
		return nil
	}
	out := make([]Path, 0, len(p)-1)
	for i := 1; i < len(p); i++ {
		out = append(out, p[:i])
	}
	return out
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, label := range prefix {
		if p[i] != label {
			return false
		}
	}
	return true
}
