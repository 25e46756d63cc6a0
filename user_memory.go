package storeguard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MemoryUserRepository is an in-process UserRepository for demos and tests. Emails are
// matched case-insensitively.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

func NewMemoryUserRepository(users ...User) *MemoryUserRepository {
	r := &MemoryUserRepository{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
	for _, u := range users {
		_ = r.Put(u)
	}
	return r
}

// Put inserts or replaces u.
func (r *MemoryUserRepository) Put(u User) error {
	if u.ID == "" || u.Email == "" {
		return errors.New("user id and email required")
	}
	email := strings.ToLower(strings.TrimSpace(u.Email))
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.byEmail[email]; ok && owner != u.ID {
		return errors.New("email already registered")
	}
	if prev, ok := r.byID[u.ID]; ok {
		delete(r.byEmail, prev.Email)
	}
	u.Email = email
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	return nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	r.byID[id] = u
	return nil
}

func (r *MemoryUserRepository) RecordLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLoginAt = at
	r.byID[id] = u
	return nil
}
