package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veridoc/authgate/core"
)

// The memory stores mirror the conditional semantics of the Postgres
// stores under a mutex. They back the service tests and local runs
// without a database; production uses Postgres.

// MemoryChallengeStore is an in-memory ChallengeStore.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*core.Challenge
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]*core.Challenge)}
}

func (s *MemoryChallengeStore) Create(ctx context.Context, challenge *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range s.challenges {
		if existing.Address == challenge.Address && !existing.Used {
			usedAt := now
			existing.Used = true
			existing.UsedAt = &usedAt
		}
	}
	clone := *challenge
	s.challenges[challenge.ID] = &clone
	return nil
}

func (s *MemoryChallengeStore) ActiveForAddress(ctx context.Context, address string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*core.Challenge
	for _, c := range s.challenges {
		if c.Address == address && c.Active(now) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].IssuedAt.After(candidates[j].IssuedAt)
	})
	clone := *candidates[0]
	return &clone, nil
}

func (s *MemoryChallengeStore) ByID(ctx context.Context, id string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, nil
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryChallengeStore) ByNonce(ctx context.Context, nonce string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.challenges {
		if c.Nonce == nonce {
			clone := *c
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryChallengeStore) MarkUsed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok || c.Used {
		return false, nil
	}
	usedAt := time.Now().UTC()
	c.Used = true
	c.UsedAt = &usedAt
	return true, nil
}

func (s *MemoryChallengeStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, c := range s.challenges {
		if c.ExpiresAt.Before(cutoff) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed, nil
}

// UnusedCountForAddress is a test helper exposing the single-active
// invariant without reaching into the map.
func (s *MemoryChallengeStore) UnusedCountForAddress(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, c := range s.challenges {
		if c.Address == address && !c.Used {
			count++
		}
	}
	return count
}

// MemoryTokenStore is an in-memory TokenStore.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*core.RefreshToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*core.RefreshToken)}
}

func (s *MemoryTokenStore) Create(ctx context.Context, token *core.RefreshToken, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token.TokenHash = hashToken(value)
	clone := *token
	s.tokens[token.ID] = &clone
	return nil
}

func (s *MemoryTokenStore) ByValue(ctx context.Context, value string) (*core.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := hashToken(value)
	for _, t := range s.tokens {
		if t.TokenHash == digest {
			clone := *t
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryTokenStore) Rotate(ctx context.Context, oldID string, next *core.RefreshToken, nextValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[oldID]
	if !ok || !old.Live(time.Now()) {
		return core.ErrTokenReuse
	}
	usedAt := time.Now().UTC()
	old.Used = true
	old.UsedAt = &usedAt
	old.ReplacedBy = next.ID

	next.TokenHash = hashToken(nextValue)
	clone := *next
	s.tokens[next.ID] = &clone
	return nil
}

func (s *MemoryTokenStore) Revoke(ctx context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := hashToken(value)
	for _, t := range s.tokens {
		if t.TokenHash == digest && !t.Revoked {
			revokedAt := time.Now().UTC()
			t.Revoked = true
			t.RevokedAt = &revokedAt
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryTokenStore) RevokeAllForAddress(ctx context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	revokedAt := time.Now().UTC()
	for _, t := range s.tokens {
		if t.Address == address && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &revokedAt
			affected++
		}
	}
	return affected, nil
}

func (s *MemoryTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// MemoryRateLimitStore is an in-memory RateLimitStore.
type MemoryRateLimitStore struct {
	mu       sync.Mutex
	attempts []core.Attempt
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{}
}

func (s *MemoryRateLimitStore) Insert(ctx context.Context, attempt *core.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *MemoryRateLimitStore) CountSince(ctx context.Context, identifier string, typ core.LimitType, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.attempts {
		if a.Identifier == identifier && a.Type == typ && a.AttemptedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryRateLimitStore) LatestBlock(ctx context.Context, identifier string, typ core.LimitType, now time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *time.Time
	for _, a := range s.attempts {
		if a.Identifier != identifier || a.Type != typ || a.BlockedUntil == nil {
			continue
		}
		if a.BlockedUntil.After(now) && (latest == nil || a.BlockedUntil.After(*latest)) {
			until := *a.BlockedUntil
			latest = &until
		}
	}
	return latest, nil
}

func (s *MemoryRateLimitStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[:0]
	var removed int64
	for _, a := range s.attempts {
		stale := a.AttemptedAt.Before(cutoff) && (a.BlockedUntil == nil || a.BlockedUntil.Before(cutoff))
		if stale {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return removed, nil
}
