// Package token holds the pure credential-validity logic: the expiry
// check used before every authenticated request, and a fallible parse of
// the expiry claim carried inside a JWT access token.
package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// DefaultSafetyMargin is the buffer subtracted from expiry to account for
// clock skew and in-flight request latency.
const DefaultSafetyMargin = 60 * time.Second

// IsValid reports whether accessToken can still be used at now. A token is
// valid iff it is non-empty, carries an expiry, and more than margin remains
// before that expiry. Missing or malformed inputs are invalid, never an error.
func IsValid(accessToken string, expiresAt time.Time, now time.Time, margin time.Duration) bool {
	if strings.TrimSpace(accessToken) == "" || expiresAt.IsZero() {
		return false
	}
	if margin < 0 {
		margin = 0
	}
	return expiresAt.Sub(now) > margin
}

// ParseExpiry extracts the exp claim from a JWT access token without
// verifying the signature. The client is not the token's audience verifier;
// it only needs the expiry to schedule refreshes when the server omits one.
func ParseExpiry(rawToken string) (time.Time, error) {
	if strings.TrimSpace(rawToken) == "" {
		return time.Time{}, errors.New("[ParseExpiry] empty token")
	}
	unverified, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[ParseExpiry] parse token")
	}
	claims, ok := unverified.Claims.(jwtlib.MapClaims)
	if !ok {
		return time.Time{}, errors.New("[ParseExpiry] error extracting claims")
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, errors.New("[ParseExpiry] token missing exp claim")
	}
	return time.Unix(int64(exp), 0), nil
}
