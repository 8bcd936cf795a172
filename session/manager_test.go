package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authkit/api"
	"authkit/api/apifakes"
	"authkit/autherr"
	"authkit/internal/utils"
	"authkit/session"
	"authkit/store"
	"authkit/store/storefakes"
)

const (
	testIdentifier   = "john.doe@example.com"
	testSecret       = "password123"
	testAccessToken  = "abc"
	testRefreshToken = "def"
	newAccessToken   = "xyz"
	newRefreshToken  = "uvw"
	expirySeconds    = 1800
)

// testFixture holds all session manager test dependencies
type testFixture struct {
	backend   *apifakes.FakeBackend
	credStore *storefakes.FakeStore
	manager   *session.Manager
	now       time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		backend:   apifakes.NewFakeBackend(),
		credStore: storefakes.NewFakeStore(),
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	manager, err := session.NewManager(f.backend, f.credStore,
		session.WithNowTime(func() time.Time { return f.now }),
		session.WithSafetyMargin(time.Minute),
		session.WithRefreshTimeout(time.Second),
	)
	require.NoError(t, err)

	f.manager = manager
	return f
}

// seedCredentials writes credentials directly into the store, as if a
// previous process had signed in.
func (f *testFixture) seedCredentials(t *testing.T, accessToken, refreshToken string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.credStore.Write(store.Credentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}))
}

func (f *testFixture) scriptProfile() {
	f.backend.MeResponse = &api.UserProfile{
		ID:          "user-1",
		DisplayName: "John Doe",
		Email:       testIdentifier,
	}
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := session.NewManager(nil, storefakes.NewFakeStore())
	require.Error(t, err)

	_, err = session.NewManager(apifakes.NewFakeBackend(), nil)
	require.Error(t, err)
}

func TestLoginStoresCredentialsAndReturnsProfile(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.ScriptTokens(testAccessToken, testRefreshToken, expirySeconds)
	f.scriptProfile()

	profile, err := f.manager.Login(context.Background(), testIdentifier, testSecret)
	require.NoError(t, err)
	require.Equal(t, testIdentifier, profile.Email)
	require.Equal(t, session.StateSignedIn, f.manager.State())

	creds, err := f.credStore.Read()
	require.NoError(t, err)
	require.Equal(t, testAccessToken, creds.AccessToken)
	require.Equal(t, testRefreshToken, creds.RefreshToken)
	require.True(t, creds.ExpiresAt.Equal(f.now.Add(expirySeconds*time.Second)))

	// A valid token is returned without touching the refresh endpoint.
	accessToken, err := f.manager.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, testAccessToken, accessToken)

	_, refreshCalls, _, _ := f.backend.Counts()
	require.Zero(t, refreshCalls)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.LoginErr = autherr.ErrInvalidCredentials

	_, err := f.manager.Login(context.Background(), testIdentifier, "wrong")
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	require.Equal(t, session.StateSignedOut, f.manager.State())

	creds, err := f.credStore.Read()
	require.NoError(t, err)
	require.True(t, creds.Empty())
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)
	f.backend.RefreshDelay = func() { time.Sleep(30 * time.Millisecond) }

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = f.manager.GetValidAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, newAccessToken, results[i])
	}
	_, refreshCalls, _, _ := f.backend.Counts()
	require.Equal(t, 1, refreshCalls)
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)

	accessToken, err := f.manager.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)

	creds, err := f.credStore.Read()
	require.NoError(t, err)
	require.Equal(t, newAccessToken, creds.AccessToken)
	require.Equal(t, newRefreshToken, creds.RefreshToken)
	require.True(t, creds.ExpiresAt.Equal(f.now.Add(expirySeconds*time.Second)))
}

func TestRefreshRejectedTearsDownSession(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.RefreshErr = autherr.ErrRefreshRejected

	var expiredCount atomic.Int32
	f.manager.OnSessionExpired(func() { expiredCount.Add(1) })

	_, err := f.manager.GetValidAccessToken(context.Background())
	require.ErrorIs(t, err, autherr.ErrUnauthenticated)
	require.ErrorIs(t, err, autherr.ErrRefreshRejected)

	// All three credential fields are gone, never a partial subset.
	creds, readErr := f.credStore.Read()
	require.NoError(t, readErr)
	require.Empty(t, creds.AccessToken)
	require.Empty(t, creds.RefreshToken)
	require.True(t, creds.ExpiresAt.IsZero())
	require.Equal(t, int32(1), expiredCount.Load())
	require.Equal(t, session.StateSignedOut, f.manager.State())

	// A subsequent call fails locally without another network attempt and
	// without re-firing the expiry notification.
	_, err = f.manager.GetValidAccessToken(context.Background())
	require.ErrorIs(t, err, autherr.ErrUnauthenticated)
	_, refreshCalls, _, _ := f.backend.Counts()
	require.Equal(t, 1, refreshCalls)
	require.Equal(t, int32(1), expiredCount.Load())
}

func TestRefreshNetworkErrorKeepsCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.RefreshErr = autherr.Wrapf(autherr.ErrNetwork, "connection refused")

	var expiredCount atomic.Int32
	f.manager.OnSessionExpired(func() { expiredCount.Add(1) })

	_, err := f.manager.GetValidAccessToken(context.Background())
	require.ErrorIs(t, err, autherr.ErrNetwork)
	require.Zero(t, expiredCount.Load())

	// Credentials survive a transient failure; the next caller retries
	// and succeeds.
	creds, readErr := f.credStore.Read()
	require.NoError(t, readErr)
	require.Equal(t, testRefreshToken, creds.RefreshToken)

	f.backend.RefreshErr = nil
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)
	accessToken, err := f.manager.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)
	_, refreshCalls, _, _ := f.backend.Counts()
	require.Equal(t, 2, refreshCalls)
}

func TestRefreshKeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.RefreshResponse = &api.TokenResponse{
		AccessToken:      utils.Ptr(newAccessToken),
		ExpiresInSeconds: expirySeconds,
	}

	_, err := f.manager.GetValidAccessToken(context.Background())
	require.NoError(t, err)

	creds, readErr := f.credStore.Read()
	require.NoError(t, readErr)
	require.Equal(t, testRefreshToken, creds.RefreshToken)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(time.Hour))

	f.manager.Logout(context.Background())
	require.Equal(t, session.StateSignedOut, f.manager.State())

	f.manager.Logout(context.Background())
	require.Equal(t, session.StateSignedOut, f.manager.State())

	_, _, logoutCalls, _ := f.backend.Counts()
	require.Equal(t, 1, logoutCalls)
}

func TestLogoutSucceedsLocallyWhenServerFails(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(time.Hour))
	f.backend.LogoutErr = autherr.Wrapf(autherr.ErrNetwork, "connection refused")

	f.manager.Logout(context.Background())

	require.Equal(t, session.StateSignedOut, f.manager.State())
	creds, err := f.credStore.Read()
	require.NoError(t, err)
	require.True(t, creds.Empty())
}

func TestLogoutDuringRefreshSignsOutImmediately(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)
	f.backend.RefreshDelay = func() { time.Sleep(100 * time.Millisecond) }

	done := make(chan struct{})
	go func() {
		_, _ = f.manager.GetValidAccessToken(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	f.manager.Logout(context.Background())

	// Signed out the moment Logout returns, not once the abandoned refresh
	// settles.
	require.Equal(t, session.StateSignedOut, f.manager.State())

	<-done
	require.Equal(t, session.StateSignedOut, f.manager.State())
	creds, err := f.credStore.Read()
	require.NoError(t, err)
	require.True(t, creds.Empty())

	// The refresh completed after logout, so the server rotated a credential
	// nobody holds. The manager revokes it: one logout call for the session,
	// one for the discarded token set.
	require.Eventually(t, func() bool {
		_, _, logoutCalls, _ := f.backend.Counts()
		return logoutCalls == 2
	}, time.Second, 10*time.Millisecond)
}

func TestProactiveRefreshFiresAndRearms(t *testing.T) {
	backend := apifakes.NewFakeBackend()
	credStore := storefakes.NewFakeStore()
	manager, err := session.NewManager(backend, credStore,
		session.WithSafetyMargin(50*time.Millisecond),
		session.WithRefreshTimeout(time.Second),
	)
	require.NoError(t, err)

	// Valid for 150ms past the margin, so the timer fires without any
	// caller asking for a token. The refreshed token is short-lived too, so
	// the re-armed timer fires a second time.
	require.NoError(t, credStore.Write(store.Credentials{
		AccessToken:  testAccessToken,
		RefreshToken: testRefreshToken,
		ExpiresAt:    time.Now().Add(200 * time.Millisecond),
	}))
	backend.ScriptTokens(newAccessToken, newRefreshToken, 1)

	require.NoError(t, manager.Resume(context.Background()))
	_, refreshCalls, _, _ := backend.Counts()
	require.Zero(t, refreshCalls)

	require.Eventually(t, func() bool {
		_, calls, _, _ := backend.Counts()
		return calls >= 1
	}, time.Second, 10*time.Millisecond)

	creds, err := credStore.Read()
	require.NoError(t, err)
	require.Equal(t, newAccessToken, creds.AccessToken)

	require.Eventually(t, func() bool {
		_, calls, _, _ := backend.Counts()
		return calls >= 2
	}, 3*time.Second, 20*time.Millisecond)

	manager.Logout(context.Background())
}

func TestLogoutCancelsProactiveRefresh(t *testing.T) {
	backend := apifakes.NewFakeBackend()
	credStore := storefakes.NewFakeStore()
	manager, err := session.NewManager(backend, credStore,
		session.WithSafetyMargin(20*time.Millisecond),
	)
	require.NoError(t, err)

	require.NoError(t, credStore.Write(store.Credentials{
		AccessToken:  testAccessToken,
		RefreshToken: testRefreshToken,
		ExpiresAt:    time.Now().Add(150 * time.Millisecond),
	}))
	backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)

	require.NoError(t, manager.Resume(context.Background()))
	manager.Logout(context.Background())

	time.Sleep(300 * time.Millisecond)
	_, refreshCalls, logoutCalls, _ := backend.Counts()
	require.Zero(t, refreshCalls)
	require.Equal(t, 1, logoutCalls)
}

func TestGetValidAccessTokenWhenSignedOut(t *testing.T) {
	f := setupTestFixture(t)

	var expiredCount atomic.Int32
	f.manager.OnSessionExpired(func() { expiredCount.Add(1) })

	_, err := f.manager.GetValidAccessToken(context.Background())
	require.ErrorIs(t, err, autherr.ErrUnauthenticated)

	// Nothing to tear down, so no expiry notification and no network.
	require.Zero(t, expiredCount.Load())
	loginCalls, refreshCalls, logoutCalls, meCalls := f.backend.Counts()
	require.Zero(t, loginCalls+refreshCalls+logoutCalls+meCalls)
}

func TestPersistenceFailureDoesNotBreakCallers(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)
	f.credStore.FailWrites = true

	accessToken, err := f.manager.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)
}

func TestForceRefreshJoinsInflightRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)
	f.backend.RefreshDelay = func() { time.Sleep(50 * time.Millisecond) }

	first := make(chan struct{})
	var firstToken string
	var firstErr error
	go func() {
		firstToken, firstErr = f.manager.GetValidAccessToken(context.Background())
		close(first)
	}()
	time.Sleep(10 * time.Millisecond)

	forcedToken, err := f.manager.ForceRefresh(context.Background())
	require.NoError(t, err)
	<-first
	require.NoError(t, firstErr)
	require.Equal(t, forcedToken, firstToken)

	_, refreshCalls, _, _ := f.backend.Counts()
	require.Equal(t, 1, refreshCalls)
}

func TestForceRefreshDespiteValidToken(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(time.Hour))
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)

	accessToken, err := f.manager.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, newAccessToken, accessToken)

	_, refreshCalls, _, _ := f.backend.Counts()
	require.Equal(t, 1, refreshCalls)
}

func TestAwaitingRefreshHonorsContext(t *testing.T) {
	f := setupTestFixture(t)
	f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
	f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)
	f.backend.RefreshDelay = func() { time.Sleep(200 * time.Millisecond) }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.manager.GetValidAccessToken(ctx)
	require.ErrorIs(t, err, autherr.ErrNetwork)
}

func TestResume(t *testing.T) {
	t.Run("empty store stays signed out", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.manager.Resume(context.Background()))
		require.Equal(t, session.StateSignedOut, f.manager.State())
	})

	t.Run("valid credentials stay signed in", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(time.Hour))
		require.NoError(t, f.manager.Resume(context.Background()))
		require.Equal(t, session.StateSignedIn, f.manager.State())
		_, refreshCalls, _, _ := f.backend.Counts()
		require.Zero(t, refreshCalls)
	})

	t.Run("stale token refreshes immediately", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seedCredentials(t, testAccessToken, testRefreshToken, f.now.Add(-time.Second))
		f.backend.ScriptTokens(newAccessToken, newRefreshToken, expirySeconds)
		require.NoError(t, f.manager.Resume(context.Background()))
		require.Equal(t, session.StateSignedIn, f.manager.State())
		_, refreshCalls, _, _ := f.backend.Counts()
		require.Equal(t, 1, refreshCalls)
	})

	t.Run("stale token without refresh token signs out", func(t *testing.T) {
		f := setupTestFixture(t)
		f.seedCredentials(t, testAccessToken, "", f.now.Add(-time.Second))
		var expiredCount atomic.Int32
		f.manager.OnSessionExpired(func() { expiredCount.Add(1) })

		err := f.manager.Resume(context.Background())
		require.ErrorIs(t, err, autherr.ErrUnauthenticated)
		require.Equal(t, session.StateSignedOut, f.manager.State())
		require.Equal(t, int32(1), expiredCount.Load())
	})
}

func TestProfileCachedPerLogin(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.ScriptTokens(testAccessToken, testRefreshToken, expirySeconds)
	f.scriptProfile()

	_, err := f.manager.Login(context.Background(), testIdentifier, testSecret)
	require.NoError(t, err)

	_, err = f.manager.Profile(context.Background())
	require.NoError(t, err)
	_, err = f.manager.Profile(context.Background())
	require.NoError(t, err)

	_, _, _, meCalls := f.backend.Counts()
	require.Equal(t, 1, meCalls)
}

func TestTokenSource(t *testing.T) {
	f := setupTestFixture(t)
	expiresAt := f.now.Add(time.Hour)
	f.seedCredentials(t, testAccessToken, testRefreshToken, expiresAt)

	ts := f.manager.TokenSource(context.Background())
	tok, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, testAccessToken, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.True(t, tok.Expiry.Equal(expiresAt))
}
