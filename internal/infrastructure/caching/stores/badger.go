package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/interfaces"
)

// BadgerConfig holds configuration for the tier-2 cache provider.
type BadgerConfig struct {
	// Path is the directory for the badger files; ignored when InMemory.
	Path string
	// InMemory disables disk persistence; used in tests.
	InMemory bool
	// SyncWrites trades write latency for durability. A cache tier can
	// afford to lose entries, so the default is false.
	SyncWrites bool
}

// BadgerStore implements the shared tier-2 cache on badger. Entries are
// JSON envelopes with badger-native TTL; pattern deletes iterate a key
// prefix inside a write batch.
type BadgerStore struct {
	db *badger.DB
}

// Interface assertion: BadgerStore is a DistributedCache provider.
var _ interfaces.DistributedCache = (*BadgerStore)(nil)

// NewBadgerStore opens the tier-2 cache at the configured location.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening tier-2 cache: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Get fetches a cached resolution. A missing or expired key is a miss,
// not an error.
func (s *BadgerStore) Get(ctx context.Context, key string) (interfaces.CachedResolution, bool, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.CachedResolution{}, false, err
	}

	var value interfaces.CachedResolution
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return json.Unmarshal(raw, &value)
		})
	})
	if err == badger.ErrKeyNotFound {
		return interfaces.CachedResolution{}, false, nil
	}
	if err != nil {
		return interfaces.CachedResolution{}, false, fmt.Errorf("%w: tier-2 get: %v", hierarchy.ErrStoreUnavailable, err)
	}

	return value, true, nil
}

// Set stores a cached resolution with the given TTL. A zero TTL means
// the entry never expires.
func (s *BadgerStore) Set(ctx context.Context, key string, value interfaces.CachedResolution, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding tier-2 entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), raw)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("%w: tier-2 set: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes a single key; deleting a missing key is a no-op.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: tier-2 delete: %v", hierarchy.ErrStoreUnavailable, err)
	}
	return nil
}

// DeletePattern removes every key under the given prefix and returns
// the count removed.
func (s *BadgerStore) DeletePattern(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Collect under a read transaction, delete in a write batch; the
	// batch keeps large invalidations from exceeding txn size limits.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: tier-2 scan: %v", hierarchy.ErrStoreUnavailable, err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("%w: tier-2 pattern delete: %v", hierarchy.ErrStoreUnavailable, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("%w: tier-2 pattern delete: %v", hierarchy.ErrStoreUnavailable, err)
	}

	return len(keys), nil
}

// Close releases the badger handle.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
