package providers

import "sync"

// Key addresses one value in a Scratch. Provider is the owning provider's
// registry name, so two providers never overwrite each other by accident.
type Key struct {
	Provider string
	Name     string
}

func (k Key) String() string {
	return k.Provider + "/" + k.Name
}

// Scratch is the per-query side channel threaded into every provider call
// for the lifetime of one query. A provider can record state while serving
// page N (a resolved redirect, a continuation token) and read it back on
// page N+1. Any provider may read keys owned by another.
//
// Providers of one fan-out run concurrently, so all methods are safe for
// concurrent use.
type Scratch struct {
	mu     sync.RWMutex
	values map[Key]any
}

// NewScratch returns an empty Scratch.
func NewScratch() *Scratch {
	return &Scratch{values: make(map[Key]any)}
}

// Get returns the value stored under key.
func (s *Scratch) Get(key Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *Scratch) Set(key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Update replaces the value under key with fn(old, present) atomically, so
// concurrent read-modify-write sequences on one key do not lose updates.
// fn must not call back into s.
func (s *Scratch) Update(key Key, fn func(old any, ok bool) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.values[key]
	s.values[key] = fn(old, ok)
}

// Delete removes key.
func (s *Scratch) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Len returns the number of stored keys.
func (s *Scratch) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Lookup returns the value under key if it is present and has type T.
func Lookup[T any](s *Scratch, key Key) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
