package config

import "time"

type AuthConfig interface {
	GetSafetyMargin() time.Duration
	GetRequestTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetCredentialFile() string
}

type Auth struct{}

var _ AuthConfig = Auth{}

// GetSafetyMargin is the buffer subtracted from token expiry so a request
// built just before the deadline is not rejected mid-flight.
func (Auth) GetSafetyMargin() time.Duration {
	return 60 * time.Second
}

func (Auth) GetRequestTimeout() time.Duration {
	return 10 * time.Second
}

func (Auth) GetRefreshTimeout() time.Duration {
	return 10 * time.Second
}

func (Auth) GetCredentialFile() string {
	return GetEnv("AUTHKIT_CREDENTIAL_FILE", "")
}
