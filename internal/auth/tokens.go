package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TokenStore maps opaque random tokens to values for a fixed TTL. It lives in
// process memory only; a restart invalidates every token.
type TokenStore[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenStore creates an empty store whose tokens expire after ttl.
func NewTokenStore[V any](ttl time.Duration) *TokenStore[V] {
	return &TokenStore[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *TokenStore[V]) WithClock(now func() time.Time) *TokenStore[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Issue stores value under a fresh token.
func (s *TokenStore[V]) Issue(value V) string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = entry[V]{value: value, expiresAt: s.now().Add(s.ttl)}
	return token
}

// Lookup returns the value for an unexpired token. Expired tokens are
// deleted on the way out.
func (s *TokenStore[V]) Lookup(token string) (V, bool) {
	var zero V
	if token == "" {
		return zero, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return zero, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, token)
		return zero, false
	}
	return e.value, true
}

// Take is Lookup followed by Revoke, atomically.
func (s *TokenStore[V]) Take(token string) (V, bool) {
	var zero V
	if token == "" {
		return zero, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return zero, false
	}
	delete(s.entries, token)
	if !s.now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Revoke forgets token. Unknown tokens are ignored.
func (s *TokenStore[V]) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep drops every expired token and returns how many were removed.
func (s *TokenStore[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Len is the number of tokens held, expired or not.
func (s *TokenStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps every interval until ctx is done. onSweep, if set, receives the
// number of tokens removed and the number left.
func (s *TokenStore[V]) Run(ctx context.Context, interval time.Duration, onSweep func(removed, remaining int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep()
			if onSweep != nil {
				onSweep(removed, s.Len())
			}
		}
	}
}
