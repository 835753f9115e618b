// Package memory provides an in-memory Store for single-process deployments
// and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/parishbot/parishbot/internal/store"
)

// Store is an in-memory implementation of store.Store. Entries expire
// lazily on access; a janitor goroutine reaps the rest.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

type entry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source. Used in tests to drive window
// rollover without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an in-memory store and starts its janitor.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.janitor()

	return s
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Store) reap() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// live returns the entry for key if it exists and has not expired.
// Expired entries are removed. Caller must hold the lock.
func (s *Store) live(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// Get returns the value for key, or store.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key with the given TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{
		value:     value,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// GetDelete atomically returns the value for key and removes it.
func (s *Store) GetDelete(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.entries, key)
	return e.value, nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// IncrWindow atomically increments the fixed-window counter for key.
func (s *Store) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.live(key)
	if !ok {
		// First request of a fresh window
		e = &entry{expiresAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.expiresAt.Sub(now), nil
}

// Close stops the janitor.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}
