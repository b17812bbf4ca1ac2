package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationStore tracks revoked tokens (by JTI) and per-account cutoffs
// that invalidate every token issued before them.
type RevocationStore interface {
	Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// RevokeAllForUser invalidates all tokens for userID issued at or before
	// cutoff. The cutoff is remembered for ttl, the longest token lifetime.
	RevokeAllForUser(ctx context.Context, userID string, cutoff time.Time, ttl time.Duration) error
	IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

type revocationEntry struct {
	ExpiresAt time.Time
	UserID    string
}

type userCutoff struct {
	Cutoff    time.Time
	ExpiresAt time.Time
}

// MemoryRevocationStore keeps revocations in process memory, with periodic
// cleanup of entries whose tokens have expired anyway. Suitable for a single
// instance; use RedisRevocationStore when running several.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry // JTI -> entry
	users   map[string]userCutoff      // userID -> cutoff
	now     func() time.Time
	done    chan struct{}
}

// NewMemoryRevocationStore creates a store and starts its cleanup loop.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	s := &MemoryRevocationStore{
		entries: make(map[string]revocationEntry),
		users:   make(map[string]userCutoff),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, jti, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = revocationEntry{ExpiresAt: expiresAt, UserID: userID}
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[jti]
	return ok, nil
}

func (s *MemoryRevocationStore) RevokeAllForUser(_ context.Context, userID string, cutoff time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = userCutoff{Cutoff: cutoff, ExpiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryRevocationStore) IsUserRevoked(_ context.Context, userID string, issuedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uc, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	return !issuedAt.After(uc.Cutoff), nil
}

// Count returns the number of revoked JTIs currently tracked.
func (s *MemoryRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *MemoryRevocationStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *MemoryRevocationStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops entries for tokens that are past their natural expiry.
func (s *MemoryRevocationStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
		}
	}
	for uid, uc := range s.users {
		if now.After(uc.ExpiresAt) {
			delete(s.users, uid)
		}
	}
}
