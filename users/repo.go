package users

import (
	"sync"

	"github.com/pkg/errors"
)

type Repo interface {
	Upsert(user *User) error
	GetByEmail(email string) (*User, error)
	GetByID(id string) (*User, error)
}

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is the user store backing the reference server.
type InMemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		byID:    make(map[string]*User),
		byEmail: make(map[string]*User),
	}
}

func (r *InMemoryRepo) Upsert(user *User) error {
	if user.ID == "" {
		return errors.New("user ID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u := *user
	r.byID[u.ID] = &u
	r.byEmail[u.Email] = &u
	return nil
}

func (r *InMemoryRepo) GetByEmail(email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byEmail[email]
	if !ok {
		return nil, errors.New("user not found")
	}
	u := *user
	return &u, nil
}

func (r *InMemoryRepo) GetByID(id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	u := *user
	return &u, nil
}
