package expiring

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMemoryMaxEntries = 100_000
	defaultMemoryMaxTTL     = time.Hour
)

// MemoryConfig tunes a [MemoryStore].
type MemoryConfig struct {
	// MaxEntries bounds the number of live entries; the least recently
	// written entry is evicted first. Defaults to 100000.
	MaxEntries int
	// MaxTTL is the wall-clock backstop after which the cache reclaims an
	// entry even if nobody reads it. It must be >= every ttl passed to Put.
	// Defaults to one hour.
	MaxTTL time.Duration
	// Now is the clock used for deadlines. Defaults to time.Now.
	Now func() time.Time
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStore is an in-process [Store]. Put, TakeIfValid and Remove share one
// mutex so take-and-remove is a single critical section.
type MemoryStore[T any] struct {
	mu    sync.Mutex
	cache *lru.LRU[string, memoryEntry[T]]
	now   func() time.Time
}

// NewMemoryStore returns an empty store configured by cfg.
func NewMemoryStore[T any](cfg MemoryConfig) *MemoryStore[T] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMemoryMaxEntries
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = defaultMemoryMaxTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &MemoryStore[T]{
		cache: lru.NewLRU[string, memoryEntry[T]](cfg.MaxEntries, nil, cfg.MaxTTL),
		now:   cfg.Now,
	}
}

// Put implements [Store]. A non-positive ttl removes the entry.
func (s *MemoryStore[T]) Put(_ context.Context, id string, value T, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		s.cache.Remove(id)
		return nil
	}
	s.cache.Add(id, memoryEntry[T]{
		value:     value,
		expiresAt: s.now().Add(ttl),
	})
	return nil
}

// TakeIfValid implements [Store].
func (s *MemoryStore[T]) TakeIfValid(_ context.Context, id string) (T, bool, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Peek(id)
	if !ok {
		return zero, false, nil
	}
	s.cache.Remove(id)

	if !Valid(s.now(), entry.expiresAt) {
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Remove implements [Store].
func (s *MemoryStore[T]) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	s.cache.Remove(id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones that
// have not been read or swept yet.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Sweep drops every entry whose deadline has passed and returns how many
// were dropped.
func (s *MemoryStore[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, id := range s.cache.Keys() {
		entry, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		if !Valid(now, entry.expiresAt) {
			s.cache.Remove(id)
			removed++
		}
	}
	return removed
}
