package report

import (
	"container/list"
	"sync"
)

// LRUStore is an in-memory LRU cache that delegates to a backing Store on miss.
type LRUStore struct {
	mu    sync.Mutex
	cap   int
	back  Store
	order *list.List // of *Record, most recent at front
	items map[string]*list.Element
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity must be >= 1.
func NewLRUStore(cap int, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		back:  back,
		order: list.New(),
		items: make(map[string]*list.Element, cap),
	}
}

// Save caches the record and writes it to the backing store.
func (s *LRUStore) Save(rec *Record) error {
	s.put(rec)
	return s.back.Save(rec)
}

// Load checks the cache first. On miss, loads from the backing store
// and promotes the record into the cache.
func (s *LRUStore) Load(runID string) (*Record, error) {
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		s.order.MoveToFront(e)
		rec := e.Value.(*Record)
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	rec, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}
	s.put(rec)
	return rec, nil
}

// Recent returns up to n cached records, most recently used first.
func (s *LRUStore) Recent(n int) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, min(n, s.order.Len()))
	for e := s.order.Front(); e != nil && len(out) < n; e = e.Next() {
		out = append(out, e.Value.(*Record))
	}
	return out
}

func (s *LRUStore) put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[rec.ID]; ok {
		e.Value = rec
		s.order.MoveToFront(e)
		return
	}
	s.items[rec.ID] = s.order.PushFront(rec)
	if s.order.Len() > s.cap {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*Record).ID)
	}
}
