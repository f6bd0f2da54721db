// Package cache implements the two bounded LRU caches used by the route
// resolver: Session Usage and Session->Project (spec.md §4.10).
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Usage is the last-observed upstream usage counters for a session.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// SessionUsageCache is a mutex-protected LRU of session_id -> last-observed
// usage counters (capacity 100), used solely by the long-context rule.
type SessionUsageCache struct {
	mu sync.Mutex
	c  *lru.Cache
}

// NewSessionUsageCache returns a SessionUsageCache with capacity 100.
func NewSessionUsageCache() *SessionUsageCache {
	c, err := lru.New(100)
	if err != nil {
		panic(err) // only fails for non-positive size
	}
	return &SessionUsageCache{c: c}
}

// Get returns the last-observed usage for sessionID, if any.
func (s *SessionUsageCache) Get(sessionID string) (Usage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.c.Get(sessionID)
	if !ok {
		return Usage{}, false
	}
	return v.(Usage), true
}

// Put records usage for sessionID, evicting the least-recently-used entry
// if the cache is at capacity.
func (s *SessionUsageCache) Put(sessionID string, u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Add(sessionID, u)
}

const projectCacheTTL = 10 * time.Minute

type projectEntry struct {
	dir       string // empty means "none": a cached negative result
	found     bool
	expiresAt time.Time
}

// SessionProjectCache is a mutex-protected LRU of session_id -> project
// directory (capacity 1000, 10-minute TTL). A "not found" probe result is
// cached too (negative caching), to avoid re-scanning the filesystem.
type SessionProjectCache struct {
	mu sync.Mutex
	c  *lru.Cache
}

// NewSessionProjectCache returns a SessionProjectCache with capacity 1000.
func NewSessionProjectCache() *SessionProjectCache {
	c, err := lru.New(1000)
	if err != nil {
		panic(err)
	}
	return &SessionProjectCache{c: c}
}

// Get returns the cached project directory for sessionID. ok is false both
// when there is no entry and when the entry has expired; found
// distinguishes a cached "none" from a cached directory.
func (s *SessionProjectCache) Get(sessionID string) (dir string, found bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, cached := s.c.Get(sessionID)
	if !cached {
		return "", false, false
	}
	e := v.(projectEntry)
	if time.Now().After(e.expiresAt) {
		s.c.Remove(sessionID)
		return "", false, false
	}
	return e.dir, e.found, true
}

// Put caches dir (possibly "", found=false for a negative result) for
// sessionID with a fresh TTL.
func (s *SessionProjectCache) Put(sessionID, dir string, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Add(sessionID, projectEntry{
		dir:       dir,
		found:     found,
		expiresAt: time.Now().Add(projectCacheTTL),
	})
}
