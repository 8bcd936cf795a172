package refreshrepo

import (
	"sync"

	"github.com/pkg/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is an in-memory refresh token repository
type InMemoryRepo struct {
	mu       sync.RWMutex
	byToken  map[string]*StoredRefreshToken
	byUserID map[string]string // userID -> token
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		byToken:  make(map[string]*StoredRefreshToken),
		byUserID: make(map[string]string),
	}
}

func (r *InMemoryRepo) Upsert(token *StoredRefreshToken) error {
	if token.Token == "" {
		return errors.New("token is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Replace any token previously minted for this user
	if old, ok := r.byUserID[token.UserID]; ok {
		delete(r.byToken, old)
	}
	t := *token
	r.byToken[t.Token] = &t
	r.byUserID[t.UserID] = t.Token
	return nil
}

func (r *InMemoryRepo) Get(token string) (*StoredRefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.byToken[token]
	if !ok {
		return nil, errors.New("refresh token not found")
	}
	t := *stored
	return &t, nil
}

func (r *InMemoryRepo) GetByUserID(userID string) (*StoredRefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.byUserID[userID]
	if !ok {
		return nil, errors.New("refresh token not found")
	}
	t := *r.byToken[tok]
	return &t, nil
}

func (r *InMemoryRepo) Delete(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byToken[token]
	if !ok {
		return nil // Already doesn't exist, no error
	}
	delete(r.byToken, token)
	delete(r.byUserID, stored.UserID)
	return nil
}

func (r *InMemoryRepo) DeleteByUserID(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.byUserID[userID]
	if !ok {
		return nil
	}
	delete(r.byToken, tok)
	delete(r.byUserID, userID)
	return nil
}
