// Package store persists the credential triple the session manager owns.
// A Repo is responsible for durable key-value storage of the access token,
// refresh token, and expiry so a session survives process restarts.
// Implementations may keep credentials in a file, a database, or memory.
package store

import "time"

// Credentials is the persisted session state. The three fields are always
// written and cleared together; readers never observe a partial record.
type Credentials struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Empty reports whether no credentials are held.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && c.ExpiresAt.IsZero()
}

type Repo interface {
	// Write stores the full credential record, replacing whatever was
	// there before.
	Write(creds Credentials) error

	// Read returns the last written record, or the zero Credentials if
	// nothing was written or Clear was called.
	Read() (Credentials, error)

	// Clear removes all credential fields. Clearing an empty store is
	// not an error.
	Clear() error
}
