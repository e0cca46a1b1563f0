package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
)

// MemoryStore implements Store in process memory. Results are stored
// encoded so callers never share mutable state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[NormalizedKey]memoryEntry
	maxEntries int
	seq        int64
}

type memoryEntry struct {
	payload   []byte
	createdAt time.Time
	seq       int64
}

// NewMemoryStore creates an in-memory store holding at most maxEntries
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		data:       make(map[NormalizedKey]memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get retrieves a result by key
func (s *MemoryStore) Get(_ context.Context, key NormalizedKey) (*bundler.Result, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeResult(e.payload)
}

// Set upserts a result and evicts the oldest entries beyond the cap
func (s *MemoryStore) Set(_ context.Context, key NormalizedKey, result *bundler.Result, at time.Time) (int64, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("failed to encode result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.data[key] = memoryEntry{payload: payload, createdAt: at, seq: s.seq}

	excess := len(s.data) - s.maxEntries
	if excess <= 0 {
		return 0, nil
	}
	for _, k := range s.keysOldestFirst()[:excess] {
		delete(s.data, k)
	}
	return int64(excess), nil
}

// keysOldestFirst must be called with the lock held
func (s *MemoryStore) keysOldestFirst() []NormalizedKey {
	keys := make([]NormalizedKey, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.data[keys[i]], s.data[keys[j]]
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.seq < b.seq
	})
	return keys
}

// Clear removes all entries
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[NormalizedKey]memoryEntry)
	return nil
}

// Count returns the number of entries
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

// Entries lists entries newest first
func (s *MemoryStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.keysOldestFirst()
	entries := make([]Entry, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		e := s.data[keys[i]]
		result, err := decodeResult(e.payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: keys[i], Result: result, CreatedAt: e.createdAt})
	}
	return entries, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func decodeResult(payload []byte) (*bundler.Result, error) {
	var result bundler.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}
