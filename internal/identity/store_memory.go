package identity

import (
	"context"
	"sync"
	"time"

	"github.com/torarnehave1/openauth-template/pkg/domain"
	"github.com/torarnehave1/openauth-template/pkg/platform/sentinel"
)

// InMemoryUserStore keeps the development and test implementation lightweight.
// The mutex gives it the same atomic upsert semantics as the Postgres store.
type InMemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewInMemory creates an empty in-memory user store.
func NewInMemory() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]*User)}
}

// UpsertByEmail inserts or returns the existing user under one lock, matching
// the storage contract's exactly-once creation guarantee.
func (s *InMemoryUserStore) UpsertByEmail(_ context.Context, email string) (domain.UserID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[email]; ok {
		return user.ID, false, nil
	}
	user := &User{ID: domain.NewUserID(), Email: email, CreatedAt: time.Now()}
	s.users[email] = user
	return user.ID, true, nil
}

// FindByEmail returns the stored user for an email.
func (s *InMemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[email]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

// Count reports the number of stored users. Test helper.
func (s *InMemoryUserStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
