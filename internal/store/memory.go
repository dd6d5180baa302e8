package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// MemoryStore is an in-process Store. It holds a snapshot loaded for offline
// replay and stands in for PostgreSQL in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	events     []model.Event
	keys       map[string]struct{}
	watermarks map[model.EventType]model.Watermark
	now        func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:       make(map[string]struct{}),
		watermarks: make(map[model.EventType]model.Watermark),
		now:        time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetWatermark(_ context.Context, eventType model.EventType) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.watermarks[eventType]
	return wm.BlockNumber, ok, nil
}

// AdvanceWatermark stores block only when it is above the current value.
func (s *MemoryStore) AdvanceWatermark(_ context.Context, eventType model.EventType, block uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wm, ok := s.watermarks[eventType]; ok && wm.BlockNumber >= block {
		return false, nil
	}
	s.watermarks[eventType] = model.Watermark{EventType: eventType, BlockNumber: block, UpdatedAt: s.now().UTC()}
	return true, nil
}

func (s *MemoryStore) ListWatermarks(context.Context) ([]model.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Watermark, 0, len(s.watermarks))
	for _, wm := range s.watermarks {
		out = append(out, wm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out, nil
}

// QueryEvents returns matching events ordered by block, then log index, then
// insertion order.
func (s *MemoryStore) QueryEvents(_ context.Context, filter model.EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Event
	for i := range s.events {
		if filter.Matches(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		if out[i].LogIndex == nil || out[j].LogIndex == nil {
			return out[i].LogIndex != nil && out[j].LogIndex == nil
		}
		return *out[i].LogIndex < *out[j].LogIndex
	})
	return out, nil
}

// InsertEvents ignores events whose dedup key is already stored.
func (s *MemoryStore) InsertEvents(_ context.Context, events []model.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, e := range events {
		key := e.DedupKey()
		if _, ok := s.keys[key]; ok {
			continue
		}
		s.keys[key] = struct{}{}
		s.events = append(s.events, e)
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// RunInTransaction runs fn against the store itself. Writes are not rolled back.
func (s *MemoryStore) RunInTransaction(_ context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *MemoryStore) Close() error { return nil }
