package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the latest snapshot in process memory. It is safe
// for concurrent use and is the default backend for single-instance
// deployments. Multi-instance setups sharing an operator surface should
// use RedisStore instead.
type MemoryStore struct {
	mu       sync.RWMutex
	snapshot Snapshot
	hasValue bool
	ttl      time.Duration
}

// NewMemoryStore creates a store with no expiry: the latest snapshot is
// served until replaced, however old it gets.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWithTTL creates a store whose snapshot stops being
// served once older than ttl. Expiry is checked on read; there is no
// background cleanup to manage.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	return &MemoryStore{ttl: ttl}
}

// Put replaces the stored snapshot.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snapshot
	s.hasValue = true
	return nil
}

// GetLatest returns the stored snapshot. found is false before the
// first Put and after the snapshot passes its TTL.
func (s *MemoryStore) GetLatest(ctx context.Context) (Snapshot, bool, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasValue {
		return Snapshot{}, false, nil
	}
	if s.ttl > 0 && time.Since(s.snapshot.TickedAt) > s.ttl {
		return Snapshot{}, false, nil
	}
	return s.snapshot, true, nil
}
