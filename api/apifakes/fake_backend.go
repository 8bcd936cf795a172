package apifakes

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"authkit/api"
	"authkit/internal/utils"
)

var _ api.AuthAPI = (*FakeBackend)(nil)

// FakeBackend is a scripted api.AuthAPI with per-endpoint call counters.
// Response fields are read under the same lock as the counters, so tests
// may reconfigure it between (not during) bursts of calls.
type FakeBackend struct {
	lock sync.Mutex

	LoginResponse   *api.TokenResponse
	LoginErr        error
	RefreshResponse *api.TokenResponse
	RefreshErr      error
	LogoutErr       error
	MeResponse      *api.UserProfile
	MeErr           error

	// RefreshDelay lets concurrency tests hold the refresh in flight.
	RefreshDelay func()

	LoginCalls   int
	RefreshCalls int
	LogoutCalls  int
	MeCalls      int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// ScriptTokens configures login and refresh to both return the given token
// set.
func (fb *FakeBackend) ScriptTokens(accessToken, refreshToken string, expiresInSeconds int) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	tr := &api.TokenResponse{
		AccessToken:      utils.Ptr(accessToken),
		RefreshToken:     utils.Ptr(refreshToken),
		ExpiresInSeconds: expiresInSeconds,
	}
	fb.LoginResponse = tr
	fb.RefreshResponse = tr
}

func (fb *FakeBackend) Login(ctx context.Context, identifier, secret string) (*api.TokenResponse, error) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	fb.LoginCalls++
	if fb.LoginErr != nil {
		return nil, fb.LoginErr
	}
	if fb.LoginResponse == nil {
		return nil, errors.New("no login response scripted")
	}
	return fb.LoginResponse, nil
}

func (fb *FakeBackend) Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error) {
	fb.lock.Lock()
	fb.RefreshCalls++
	delay := fb.RefreshDelay
	resp, err := fb.RefreshResponse, fb.RefreshErr
	fb.lock.Unlock()

	if delay != nil {
		delay()
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("no refresh response scripted")
	}
	return resp, nil
}

func (fb *FakeBackend) Logout(ctx context.Context, accessToken string) error {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	fb.LogoutCalls++
	return fb.LogoutErr
}

func (fb *FakeBackend) Me(ctx context.Context, accessToken string) (*api.UserProfile, error) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	fb.MeCalls++
	if fb.MeErr != nil {
		return nil, fb.MeErr
	}
	if fb.MeResponse == nil {
		return nil, errors.New("no profile scripted")
	}
	return fb.MeResponse, nil
}

func (fb *FakeBackend) Counts() (login, refresh, logout, me int) {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	return fb.LoginCalls, fb.RefreshCalls, fb.LogoutCalls, fb.MeCalls
}
