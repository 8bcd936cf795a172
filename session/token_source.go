package session

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the manager to the standard oauth2.TokenSource
// interface so it can feed oauth2-aware HTTP clients. Each Token call goes
// through GetValidAccessToken, so refreshes stay single-flight.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

var _ oauth2.TokenSource = (*managerTokenSource)(nil)

func (ts *managerTokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := ts.m.GetValidAccessToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	ts.m.lock.Lock()
	expiry := ts.m.readLocked().ExpiresAt
	ts.m.lock.Unlock()
	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}
