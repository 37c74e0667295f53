package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemorySessionStore keeps sessions in process. It backs `serve --memory`
// and tests.
type MemorySessionStore struct {
	mu        sync.Mutex
	pre       map[string]memEntry
	results   map[string]memEntry
	now       func() time.Time
	lastSweep time.Time
}

// sweepEvery bounds how often a write scans for expired entries.
const sweepEvery = time.Minute

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		pre:     make(map[string]memEntry),
		results: make(map[string]memEntry),
		now:     time.Now,
	}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (s *MemorySessionStore) entry(value []byte, ttl time.Duration) memEntry {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

func (s *MemorySessionStore) live(m map[string]memEntry, id string) (memEntry, bool) {
	e, ok := m[id]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(m, id)
		return memEntry{}, false
	}
	return e, true
}

// sweep drops expired entries that were never read back. Callers hold mu.
func (s *MemorySessionStore) sweep() {
	now := s.now()
	if now.Sub(s.lastSweep) < sweepEvery {
		return
	}
	s.lastSweep = now
	for _, m := range []map[string]memEntry{s.pre, s.results} {
		for id, e := range m {
			if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
				delete(m, id)
			}
		}
	}
}

func (s *MemorySessionStore) PutPreconnect(_ context.Context, id, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.pre[id] = s.entry([]byte(token), ttl)
	return nil
}

func (s *MemorySessionStore) GetPreconnect(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(s.pre, id)
	return string(e.value), ok, nil
}

func (s *MemorySessionStore) PutResult(_ context.Context, id string, data json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	if _, ok := s.live(s.results, id); ok {
		return ErrResultExists
	}
	s.results[id] = s.entry(data, ttl)
	return nil
}

func (s *MemorySessionStore) GetResult(_ context.Context, id string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(s.results, id)
	if !ok {
		return nil, false, nil
	}
	return json.RawMessage(append([]byte(nil), e.value...)), true, nil
}
