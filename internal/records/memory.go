package records

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore keeps users in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int]User
}

// NewMemoryStore creates a store seeded with users
func NewMemoryStore(users ...User) *MemoryStore {
	s := &MemoryStore{users: make(map[int]User, len(users))}
	for _, u := range users {
		s.users[u.UID] = u.Normalize()
	}
	return s
}

// ListUsers returns a copy of all users ordered by uid
func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uids := slices.Sorted(maps.Keys(s.users))
	out := make([]User, 0, len(uids))
	for _, uid := range uids {
		out = append(out, s.users[uid])
	}
	return out, nil
}

// Put inserts or replaces a user
func (s *MemoryStore) Put(_ context.Context, u User) error {
	if u.UID <= 0 {
		return fmt.Errorf("uid must be positive, got %d", u.UID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UID] = u.Normalize()
	return nil
}

// Delete removes a user; missing users are ignored
func (s *MemoryStore) Delete(_ context.Context, uid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, uid)
	return nil
}
