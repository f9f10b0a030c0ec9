package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
)

var (
	// ErrNotFound is returned when no snapshot is available for a dataset.
	ErrNotFound = errors.New("no regional snapshot for dataset")
)

// history is the snapshot list of one dataset, ordered by ComputedAt.
type history []climate.Snapshot

// insert adds s after every snapshot computed at or before it.
func (h history) insert(s climate.Snapshot) history {
	i := sort.Search(len(h), func(i int) bool { return h[i].ComputedAt.After(s.ComputedAt) })
	h = append(h, climate.Snapshot{})
	copy(h[i+1:], h[i:])
	h[i] = s
	return h
}

// between returns the snapshots computed in [from, to].
func (h history) between(from, to time.Time) history {
	lo := sort.Search(len(h), func(i int) bool { return !h[i].ComputedAt.Before(from) })
	hi := sort.Search(len(h), func(i int) bool { return h[i].ComputedAt.After(to) })
	if lo >= hi {
		return nil
	}
	return append(history(nil), h[lo:hi]...)
}

// MemoryStore is a concurrency-safe in-memory snapshot store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: dataset name
	data map[string]history

	// retention configuration
	maxHistory int           // max number of snapshots per dataset
	maxAge     time.Duration // optional max age for snapshots

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory or maxAge is <= 0, that limit is not applied.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]history),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveSnapshot records a snapshot under its dataset and enforces retention.
func (s *MemoryStore) SaveSnapshot(snapshot climate.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.data[snapshot.Dataset].insert(snapshot)
	s.data[snapshot.Dataset] = s.retain(h)
}

// retain drops snapshots beyond maxHistory and older than maxAge. The newest
// snapshot always survives.
func (s *MemoryStore) retain(h history) history {
	drop := 0
	if s.maxHistory > 0 && len(h) > s.maxHistory {
		drop = len(h) - s.maxHistory
	}
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		expired := sort.Search(len(h), func(i int) bool { return !h[i].ComputedAt.Before(cutoff) })
		if expired > drop {
			drop = expired
		}
	}
	if drop >= len(h) {
		drop = len(h) - 1
	}
	if drop <= 0 {
		return h
	}
	return append(history(nil), h[drop:]...)
}

// GetLatest returns the most recent snapshot for a dataset.
func (s *MemoryStore) GetLatest(dataset string) (climate.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.data[dataset]
	if len(h) == 0 {
		return climate.Snapshot{}, ErrNotFound
	}
	return h[len(h)-1], nil
}

// GetRange returns all snapshots for a dataset computed between from and to (inclusive).
func (s *MemoryStore) GetRange(dataset string, from, to time.Time) ([]climate.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.data[dataset].between(from, to)
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Datasets returns the names of datasets holding at least one snapshot.
func (s *MemoryStore) Datasets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data))
	for name, h := range s.data {
		if len(h) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
