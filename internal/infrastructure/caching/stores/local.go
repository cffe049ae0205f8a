// Package stores provides the concrete cache tier implementations.
package stores

import (
	"container/list"
	"strings"
	"sync"

	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/interfaces"
)

// localEntry is the list payload; the element itself carries recency.
type localEntry struct {
	key   string
	value interfaces.CachedResolution
}

// LocalStore is the tier-1 bounded LRU. A map indexes list elements so
// lookup, promotion, and eviction are all O(1); a single mutex guards
// the whole structure.
type LocalStore struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	hits      int64
	misses    int64
	evictions int64

	onEvict func()
}

// NewLocalStore creates a tier-1 cache bounded to capacity entries.
// Capacity must be positive; onEvict may be nil.
func NewLocalStore(capacity int, onEvict func()) *LocalStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &LocalStore{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

// Get returns the cached value and promotes the entry to MRU.
func (s *LocalStore) Get(key string) (interfaces.CachedResolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		s.misses++
		return interfaces.CachedResolution{}, false
	}

	s.order.MoveToFront(elem)
	s.hits++
	return elem.Value.(*localEntry).value, true
}

// Set inserts or replaces an entry at MRU position, evicting exactly
// the least-recently-used entry when the cache is full.
func (s *LocalStore) Set(key string, value interfaces.CachedResolution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		elem.Value.(*localEntry).value = value
		s.order.MoveToFront(elem)
		return
	}

	if s.order.Len() >= s.capacity {
		s.evictOldest()
	}

	s.entries[key] = s.order.PushFront(&localEntry{key: key, value: value})
}

// evictOldest removes the LRU entry. Caller holds the mutex.
func (s *LocalStore) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*localEntry)
	s.order.Remove(back)
	delete(s.entries, entry.key)
	s.evictions++
	if s.onEvict != nil {
		s.onEvict()
	}
}

// Delete removes a single entry if present.
func (s *LocalStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.order.Remove(elem)
		delete(s.entries, key)
	}
}

// DeletePrefix removes every entry whose key starts with prefix and
// returns the count. This walks the map; invalidation is off the hot
// path so the linear scan is acceptable where Get/Set are not.
func (s *LocalStore) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, elem := range s.entries {
		if strings.HasPrefix(key, prefix) {
			s.order.Remove(elem)
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Purge removes every entry.
func (s *LocalStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element, s.capacity)
	s.order.Init()
}

// Len returns the resident entry count.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Stats returns a snapshot of the tier counters.
func (s *LocalStore) Stats() interfaces.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return interfaces.CacheStats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Entries:   s.order.Len(),
	}
}
