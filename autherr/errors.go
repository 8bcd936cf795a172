// Package autherr defines the error taxonomy shared by the session
// manager, the API client, and the request transport. Callers match
// against the sentinels with errors.Is.
package autherr

import (
	"errors"
	"fmt"
)

var (
	// Login errors
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Session errors
	ErrUnauthenticated  = errors.New("no authenticated session")
	ErrRefreshRejected  = errors.New("refresh token rejected")
	ErrSessionDestroyed = errors.New("session destroyed")

	// Transport errors
	ErrNetwork = errors.New("network failure")
	ErrServer  = errors.New("server failure")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
