// Package cache provides the credential cache shared by the SDK components.
//
// Every component takes a Store explicitly; a process-wide default instance is
// created lazily on first use and can be swapped out for testing.
package cache

import (
	"sync"
	"time"
)

// Store is the credential cache interface.
type Store interface {
	// Get returns the cached value for key, or nil if absent or expired.
	Get(key string) interface{}

	// Set stores value under key with the given TTL.
	Set(key string, value interface{}, ttl time.Duration)

	// Delete removes key from the cache.
	Delete(key string)

	// Clear removes all entries.
	Clear()
}

// Config configures MemoryStore behavior.
type Config struct {
	// MaxEntries limits cache size (0 = unlimited).
	MaxEntries int

	// CleanupInterval is how often to purge expired entries (0 = no background cleanup).
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      1000,
		CleanupInterval: time.Minute,
	}
}

type entry struct {
	value     interface{}
	storedAt  time.Time
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-memory TTL cache.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  *Config
}

// NewMemoryStore creates a new in-memory cache.
func NewMemoryStore(config *Config) *MemoryStore {
	if config == nil {
		config = DefaultConfig()
	}

	s := &MemoryStore{
		entries: make(map[string]*entry),
		config:  config,
	}

	if config.CleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// Get retrieves a cached value if still valid.
func (s *MemoryStore) Get(key string) interface{} {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		s.Delete(key)
		return nil
	}
	return e.value
}

// Set stores a value with the given TTL.
func (s *MemoryStore) Set(key string, value interface{}, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Enforce max entries (simple eviction: remove oldest).
	if s.config.MaxEntries > 0 && len(s.entries) >= s.config.MaxEntries {
		if _, exists := s.entries[key]; !exists {
			var oldestKey string
			var oldestTime time.Time
			for k, e := range s.entries {
				if oldestKey == "" || e.storedAt.Before(oldestTime) {
					oldestKey = k
					oldestTime = e.storedAt
				}
			}
			if oldestKey != "" {
				delete(s.entries, oldestKey)
			}
		}
	}

	now := time.Now()
	s.entries[key] = &entry{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// Delete removes a cached value.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Clear removes all entries.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}

// Size returns the number of cached entries, including not-yet-purged
// expired ones.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.cleanup()
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

var (
	defaultStore   Store
	defaultStoreMu sync.Mutex
)

// Default returns the process-wide cache, creating it on first use.
func Default() Store {
	defaultStoreMu.Lock()
	defer defaultStoreMu.Unlock()
	if defaultStore == nil {
		defaultStore = NewMemoryStore(nil)
	}
	return defaultStore
}

// SetDefault replaces the process-wide cache. Intended for tests and for
// embedding applications that bring their own store.
func SetDefault(s Store) {
	defaultStoreMu.Lock()
	defaultStore = s
	defaultStoreMu.Unlock()
}
