package store

import (
	"context"
	"sync"
	"time"

	"github.com/accountd/apiserver/types"
)

// MemoryUserRepository keeps users in process memory. It is meant for local
// development and tests; data is lost on restart.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]types.User)}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Email == email })
}

func (r *MemoryUserRepository) GetByVerificationSecret(ctx context.Context, code string, now time.Time) (types.User, error) {
	return r.find(func(u types.User) bool {
		return u.Verification != nil && u.Verification.Value == code && u.Verification.ValidAt(now)
	})
}

func (r *MemoryUserRepository) GetByResetSecret(ctx context.Context, token string, now time.Time) (types.User, error) {
	return r.find(func(u types.User) bool {
		return u.Reset != nil && u.Reset.Value == token && u.Reset.ValidAt(now)
	})
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return types.User{}, ErrDuplicate
	}
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, ErrDuplicate
		}
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return user, nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return types.User{}, ErrNotFound
	}
	for id, existing := range r.users {
		if id != user.ID && existing.Email == user.Email {
			return types.User{}, ErrDuplicate
		}
	}

	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = cloneUser(user)
	return user, nil
}

// Delete removes a user. No workflow deletes accounts; tests use it to
// simulate a record vanishing behind a live session.
func (r *MemoryUserRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// Len reports the number of stored users.
func (r *MemoryUserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *MemoryUserRepository) find(match func(types.User) bool) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if match(user) {
			return cloneUser(user), nil
		}
	}
	return types.User{}, ErrNotFound
}

// cloneUser copies pointer fields so callers cannot mutate stored state.
func cloneUser(user types.User) types.User {
	if user.Verification != nil {
		v := *user.Verification
		user.Verification = &v
	}
	if user.Reset != nil {
		v := *user.Reset
		user.Reset = &v
	}
	if user.LastLoginAt != nil {
		t := *user.LastLoginAt
		user.LastLoginAt = &t
	}
	return user
}
