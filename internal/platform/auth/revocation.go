package auth

import (
	"sort"
	"sync"
	"time"
)

type revocationEntry struct {
	ExpiresAt time.Time
	UserID    string
}

// RevocationStore tracks revoked token ids and blocked users in memory.
// A blocked user has every token rejected regardless of its id, which is how
// an account deactivation signs the user out everywhere. Revoked ids are
// dropped once the token would have expired anyway.
type RevocationStore struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry // jti -> entry
	blocked map[string]time.Time       // uid -> blocked at
	done    chan struct{}
	once    sync.Once
}

// NewRevocationStore creates a store and starts a goroutine that purges
// expired token entries every interval. Close stops it.
func NewRevocationStore(interval time.Duration) *RevocationStore {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s := &RevocationStore{
		entries: make(map[string]revocationEntry),
		blocked: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	go s.cleanupLoop(interval)
	return s
}

// Revoke adds a token id to the revocation list until expiresAt.
func (s *RevocationStore) Revoke(jti, userID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = revocationEntry{ExpiresAt: expiresAt, UserID: userID}
}

// IsRevoked checks if a token id has been revoked.
func (s *RevocationStore) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[jti]
	return ok
}

// Block rejects every token for uid. Returns false if uid was already blocked.
func (s *RevocationStore) Block(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocked[uid]; ok {
		return false
	}
	s.blocked[uid] = time.Now().UTC()
	return true
}

// Unblock lifts a block. Returns false if uid was not blocked.
func (s *RevocationStore) Unblock(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocked[uid]; !ok {
		return false
	}
	delete(s.blocked, uid)
	return true
}

// IsBlocked reports whether uid is blocked.
func (s *RevocationStore) IsBlocked(uid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocked[uid]
	return ok
}

// Count returns the number of revoked tokens.
func (s *RevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RevocationInfo is a public representation of a revocation entry.
type RevocationInfo struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BlockInfo describes a blocked user.
type BlockInfo struct {
	UserID    string    `json:"user_id"`
	BlockedAt time.Time `json:"blocked_at"`
}

// Entries returns a snapshot of revoked tokens ordered by expiry.
func (s *RevocationStore) Entries() []RevocationInfo {
	s.mu.RLock()
	result := make([]RevocationInfo, 0, len(s.entries))
	for jti, entry := range s.entries {
		result = append(result, RevocationInfo{JTI: jti, UserID: entry.UserID, ExpiresAt: entry.ExpiresAt})
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result
}

// Blocked returns a snapshot of blocked users ordered by uid.
func (s *RevocationStore) Blocked() []BlockInfo {
	s.mu.RLock()
	result := make([]BlockInfo, 0, len(s.blocked))
	for uid, at := range s.blocked {
		result = append(result, BlockInfo{UserID: uid, BlockedAt: at})
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *RevocationStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *RevocationStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

// cleanup removes token entries past their natural expiry. Blocks are only
// lifted by Unblock.
func (s *RevocationStore) cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
			removed++
		}
	}
	return removed
}
