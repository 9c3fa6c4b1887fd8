package cache

import (
	"sync"
	"time"
)

// memEntry wraps a value with expiration metadata.
type memEntry struct {
	value     string
	expiresAt time.Time
}

func (e memEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// memStore is a small in-process TTL store. It backs volatile per-call
// keys (IVR turn counters) while the primary cache backend is down, so
// the engine keeps counting turns instead of replaying menus forever.
type memStore struct {
	mu     sync.RWMutex
	items  map[string]memEntry
	stopCh chan struct{}
}

// newMemStore creates a memStore and starts its cleanup loop.
func newMemStore(cleanupInterval time.Duration) *memStore {
	s := &memStore{
		items:  make(map[string]memEntry),
		stopCh: make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s
}

// Get returns the value for key and whether it is present and live.
func (s *memStore) Get(key string) (string, bool) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || e.expired() {
		return "", false
	}
	return e.value, true
}

// Set stores a value with the given TTL.
func (s *memStore) Set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	s.items[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Delete removes a key.
func (s *memStore) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Close stops the cleanup loop.
func (s *memStore) Close() {
	close(s.stopCh)
}

func (s *memStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.items {
				if now.After(e.expiresAt) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}
