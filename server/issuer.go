package server

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"authkit/internal/config"
	"authkit/server/refreshrepo"
	"authkit/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Issuer mints access tokens (HS256 JWTs) and opaque refresh tokens, and
// verifies bearer tokens on protected routes. Refresh tokens rotate: each
// use replaces the user's stored token, so a reused token is rejected.
type Issuer struct {
	config      config.ServerConfig
	refreshRepo refreshrepo.Repo
}

func NewIssuer(cfg config.ServerConfig, repo refreshrepo.Repo) *Issuer {
	return &Issuer{
		config:      cfg,
		refreshRepo: repo,
	}
}

// IssueAccessToken creates a signed access token for the user and returns
// it with its lifetime in seconds.
func (i *Issuer) IssueAccessToken(user *users.User) (string, int, error) {
	expiry := i.config.GetAccessTokenExpiry()
	claims := jwtlib.MapClaims{
		"iss":   i.config.GetIssuer(),
		"sub":   user.ID,
		"email": user.Email,
		"name":  user.DisplayName,
		"iat":   int64(NowTimeFunc().Unix()),
		"exp":   int64(NowTimeFunc().Add(expiry).Unix()),
		"jti":   uuid.New().String(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(i.config.GetSigningSecret()))
	if err != nil {
		return "", 0, errors.Wrap(err, "[Issuer.IssueAccessToken] sign")
	}
	return signed, int(expiry / time.Second), nil
}

// IssueRefreshToken mints a new opaque refresh token for the user,
// replacing any previously issued one.
func (i *Issuer) IssueRefreshToken(userID string) (string, error) {
	tokenBytes := make([]byte, i.config.GetRefreshTokenLength())
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errors.Wrap(err, "[Issuer.IssueRefreshToken] rand.Read")
	}
	tokenStr := hex.EncodeToString(tokenBytes)
	if err := i.refreshRepo.Upsert(&refreshrepo.StoredRefreshToken{
		Token:  tokenStr,
		UserID: userID,
		Iat:    NowTimeFunc(),
	}); err != nil {
		return "", errors.Wrap(err, "[Issuer.IssueRefreshToken] store")
	}
	return tokenStr, nil
}

// RedeemRefreshToken validates a refresh token and consumes it, returning
// the user it belongs to. The caller mints the replacement pair.
func (i *Issuer) RedeemRefreshToken(refreshToken string) (string, error) {
	stored, err := i.refreshRepo.Get(refreshToken)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.RedeemRefreshToken]")
	}
	if err := i.refreshRepo.Delete(stored.Token); err != nil {
		return "", errors.Wrap(err, "[Issuer.RedeemRefreshToken] rotate")
	}
	return stored.UserID, nil
}

// InvalidateRefreshToken drops the user's live refresh token (logout).
func (i *Issuer) InvalidateRefreshToken(userID string) {
	_ = i.refreshRepo.DeleteByUserID(userID)
}

// VerifyAccessToken checks a bearer token's signature and expiry and
// returns the subject user ID.
func (i *Issuer) VerifyAccessToken(rawToken string) (string, error) {
	parsed, err := jwtlib.ParseWithClaims(rawToken, jwtlib.MapClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(i.config.GetSigningSecret()), nil
	}, jwtlib.WithTimeFunc(func() time.Time { return NowTimeFunc() }))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", errors.New("error extracting claims from token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token missing sub claim")
	}
	return sub, nil
}
