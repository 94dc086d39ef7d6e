package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nomadly/internal/cache"
)

// UserState is the conversational cursor for one user: the capture state they
// are in plus form data accumulated so far. Expired state is treated as
// absent, forcing a clean restart of the flow.
type UserState struct {
	Step      string            `json:"step"`
	OrderID   string            `json:"order_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// StateStore persists per-user conversational state with a TTL.
type StateStore interface {
	Get(ctx context.Context, userID int64) (*UserState, error)
	Set(ctx context.Context, userID int64, st UserState) error
	Delete(ctx context.Context, userID int64) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// RedisStateStore keeps user state in Redis, leaning on native key expiry.
type RedisStateStore struct {
	redis *cache.Redis
	ttl   time.Duration
}

// NewRedisStateStore creates a Redis-backed state store with the given TTL.
func NewRedisStateStore(redis *cache.Redis, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStateStore{redis: redis, ttl: ttl}
}

func stateKey(userID int64) string {
	return fmt.Sprintf("nomadly:state:%d", userID)
}

// Get returns the user's state, or nil when absent or expired.
func (s *RedisStateStore) Get(ctx context.Context, userID int64) (*UserState, error) {
	var st UserState
	ok, err := s.redis.GetJSON(ctx, stateKey(userID), &st)
	if err != nil || !ok {
		return nil, err
	}
	if time.Now().After(st.ExpiresAt) {
		_ = s.redis.Delete(ctx, stateKey(userID))
		return nil, nil
	}
	return &st, nil
}

// Set stores the user's state, stamping the expiry.
func (s *RedisStateStore) Set(ctx context.Context, userID int64, st UserState) error {
	st.ExpiresAt = time.Now().Add(s.ttl)
	return s.redis.SetJSON(ctx, stateKey(userID), st, s.ttl)
}

// Delete clears the user's state.
func (s *RedisStateStore) Delete(ctx context.Context, userID int64) error {
	return s.redis.Delete(ctx, stateKey(userID))
}

// Sweep is a no-op for Redis: key TTLs already remove expired entries.
func (s *RedisStateStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// MemoryStateStore is an in-process state store used in tests and when running
// without Redis. Expiry is enforced on read and by periodic sweeps.
type MemoryStateStore struct {
	ttl time.Duration

	mu     sync.Mutex
	states map[int64]UserState
}

// NewMemoryStateStore creates an in-memory state store with the given TTL.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStateStore{ttl: ttl, states: map[int64]UserState{}}
}

// Get returns the user's state, or nil when absent or expired.
func (s *MemoryStateStore) Get(_ context.Context, userID int64) (*UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	if time.Now().After(st.ExpiresAt) {
		delete(s.states, userID)
		return nil, nil
	}
	copied := st
	return &copied, nil
}

// Set stores the user's state, stamping the expiry.
func (s *MemoryStateStore) Set(_ context.Context, userID int64, st UserState) error {
	st.ExpiresAt = time.Now().Add(s.ttl)
	s.mu.Lock()
	s.states[userID] = st
	s.mu.Unlock()
	return nil
}

// Delete clears the user's state.
func (s *MemoryStateStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.states, userID)
	s.mu.Unlock()
	return nil
}

// Sweep removes every entry whose expiry has passed and returns the count.
func (s *MemoryStateStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, st := range s.states {
		if now.After(st.ExpiresAt) {
			delete(s.states, id)
			removed++
		}
	}
	return removed, nil
}
