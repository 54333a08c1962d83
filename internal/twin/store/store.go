// Package store provides the generic, thread-safe, in-memory collections
// backing the twins: records keyed by sequential integer ids, as booking
// ids and issue numbers are.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Store holds records of type T in insertion order.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[int]T
	order []int
	next  int
}

// New creates an empty Store whose first id is 1.
func New[T any]() *Store[T] {
	return &Store[T]{items: make(map[int]T)}
}

// Create assigns the next id, stores build(id) under it, and returns both.
func (s *Store[T]) Create(build func(id int) T) (int, T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	item := build(id)
	s.items[id] = item
	s.order = append(s.order, id)
	return id, item
}

// Set stores item under id, keeping an existing id's position.
func (s *Store[T]) Set(id int, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = item
	if id > s.next {
		s.next = id
	}
}

// Get returns the record with id.
func (s *Store[T]) Get(id int) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Update applies fn to the record with id under the write lock and stores
// the result. It reports whether the record existed.
func (s *Store[T]) Update(id int, fn func(T) T) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	item = fn(item)
	s.items[id] = item
	return item, true
}

// Delete removes the record with id and reports whether it existed. Ids
// are never reused.
func (s *Store[T]) Delete(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		return false
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns every record in insertion order.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// IDs returns every id in insertion order.
func (s *Store[T]) IDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}

// Filter returns the ids and records matching keep, in insertion order.
func (s *Store[T]) Filter(keep func(id int, item T) bool) ([]int, []T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int
	var items []T
	for _, id := range s.order {
		if keep(id, s.items[id]) {
			ids = append(ids, id)
			items = append(items, s.items[id])
		}
	}
	return ids, items
}

// Count returns the number of records.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Reset clears every record and restarts ids at 1.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int]T)
	s.order = nil
	s.next = 0
}

// Snapshot returns a copy of every record keyed by id.
func (s *Store[T]) Snapshot() map[int]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]T, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// LoadSnapshot replaces every record. Order follows ascending id and the
// next id continues after the highest loaded one.
func (s *Store[T]) LoadSnapshot(snapshot map[int]T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int]T, len(snapshot))
	s.order = make([]int, 0, len(snapshot))
	s.next = 0
	for id, item := range snapshot {
		s.items[id] = item
		s.order = append(s.order, id)
		if id > s.next {
			s.next = id
		}
	}
	sort.Ints(s.order)
}

// MarshalJSON encodes the store as an object keyed by decimal id.
func (s *Store[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON replaces the store's contents from an object keyed by decimal id.
func (s *Store[T]) UnmarshalJSON(data []byte) error {
	var raw map[string]T
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	snapshot := make(map[int]T, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil || id <= 0 {
			return fmt.Errorf("store: invalid id %q", k)
		}
		snapshot[id] = v
	}
	s.LoadSnapshot(snapshot)
	return nil
}

// Clock is a simulated clock that can be advanced for time-dependent behavior.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
	now    func() time.Time
}

// NewClock creates a clock with no offset.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the simulated time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Reset clears the offset.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}

// Offset returns the current offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
