// Package refreshrepo stores the server side of refresh tokens: opaque
// random strings mapped to the user they were minted for. One live token
// per user; rotation replaces it.
package refreshrepo

import "time"

// StoredRefreshToken is one minted refresh token.
type StoredRefreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

type Repo interface {
	Upsert(token *StoredRefreshToken) error
	Get(token string) (*StoredRefreshToken, error)
	GetByUserID(userID string) (*StoredRefreshToken, error)
	Delete(token string) error
	DeleteByUserID(userID string) error
}
