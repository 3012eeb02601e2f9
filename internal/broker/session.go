package broker

import (
	"context"
	"sync"

	"tradegate/internal/models"
)

// SessionStore caches the last auth token obtained per account for one
// broker. It is a pure cache: expiry is evaluated by callers against the
// token's own fields, and tokens are immutable values replaced wholesale on
// renewal.
type SessionStore struct {
	mu     sync.RWMutex
	tokens map[string]models.AuthToken
	locks  sync.Map // accountID -> *sync.Mutex
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{tokens: make(map[string]models.AuthToken)}
}

// Get returns the cached token for an account, expired or not.
func (s *SessionStore) Get(accountID string) (models.AuthToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[accountID]
	return tok, ok
}

// Put replaces the stored token for an account.
func (s *SessionStore) Put(accountID string, token models.AuthToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountID] = token
}

// Evict removes the stored token for an account.
func (s *SessionStore) Evict(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, accountID)
}

// Len returns the number of cached tokens.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// accountLock returns the per-account mutex, creating it on first use.
// Per-key locking keeps unrelated accounts from serializing on one lock.
func (s *SessionStore) accountLock(accountID string) *sync.Mutex {
	if mu, ok := s.locks.Load(accountID); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := s.locks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Ensure returns a cached, non-expired token or performs login to obtain a
// fresh one. Concurrent callers for the same account with an expired token
// trigger exactly one upstream login: the first caller logs in while the
// rest wait and then observe the fresh token. On login failure the error is
// propagated and any previous (expired) entry is left in place for
// diagnostics.
func (s *SessionStore) Ensure(ctx context.Context, accountID string, login func(context.Context) (models.AuthToken, error)) (models.AuthToken, error) {
	if tok, ok := s.Get(accountID); ok && !tok.IsExpired() {
		return tok, nil
	}

	mu := s.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check after acquiring the lock: another caller may have just
	// renewed.
	if tok, ok := s.Get(accountID); ok && !tok.IsExpired() {
		return tok, nil
	}

	tok, err := login(ctx)
	if err != nil {
		return models.AuthToken{}, err
	}
	s.Put(accountID, tok)
	return tok, nil
}
