package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"authkit/api"
	"authkit/autherr"
	"authkit/internal/utils"
	"authkit/store"
	"authkit/token"
)

// refreshCall is the single in-flight refresh. Every caller that needs a
// refresh while one is running waits on done and observes the same outcome,
// so N concurrent callers produce exactly one network call.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Manager is the session state machine. It is the only writer of the
// credential store; request wrappers and callers above are read-only
// consumers of GetValidAccessToken.
type Manager struct {
	api            api.AuthAPI
	store          store.Repo
	nowTime        func() time.Time // nowTime function (injectable for testing)
	safetyMargin   time.Duration
	refreshTimeout time.Duration
	logger         zerolog.Logger

	lock      sync.Mutex
	inflight  *refreshCall
	timer     *time.Timer // proactive refresh; at most one outstanding
	gen       uint64      // bumped on login/logout so a stale refresh cannot resurrect credentials
	profile   *api.UserProfile
	onExpired func()
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithSafetyMargin overrides the buffer subtracted from token expiry when
// deciding whether the current access token is still usable.
func WithSafetyMargin(margin time.Duration) ManagerOption {
	return func(m *Manager) {
		m.safetyMargin = margin
	}
}

// WithRefreshTimeout bounds each refresh network call.
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTimeout = d
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager initializes the session manager with its backend client and
// credential store. Optional configuration via options (e.g. WithNowTime
// for testing).
func NewManager(backend api.AuthAPI, credStore store.Repo, options ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("[NewManager] backend API is required")
	}
	if credStore == nil {
		return nil, errors.New("[NewManager] credential store is required")
	}

	m := &Manager{
		api:            backend,
		store:          credStore,
		nowTime:        time.Now,
		safetyMargin:   token.DefaultSafetyMargin,
		refreshTimeout: 10 * time.Second,
		logger:         zerolog.Nop(),
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// OnSessionExpired registers the callback fired when the session is torn
// down without an explicit logout (refresh rejected, or no refresh token
// left). Fired at most once per teardown, outside the manager lock. The UI
// layer uses it to redirect to sign-in.
func (m *Manager) OnSessionExpired(fn func()) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.onExpired = fn
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.inflight != nil {
		return StateRefreshing
	}
	if m.readLocked().Empty() {
		return StateSignedOut
	}
	return StateSignedIn
}

// Login authenticates with the backend, persists the returned credentials,
// arms the proactive refresh timer, and fetches the user profile. A
// profile-fetch failure leaves the session signed in and is returned to the
// caller.
func (m *Manager) Login(ctx context.Context, identifier, secret string) (*api.UserProfile, error) {
	resp, err := m.api.Login(ctx, identifier, secret)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Login]")
	}
	creds := m.credentialsFromResponse(resp, "")
	if creds.AccessToken == "" {
		return nil, errors.New("[Manager.Login] backend returned no access token")
	}

	m.lock.Lock()
	m.gen++
	m.profile = nil
	m.writeLocked(creds)
	m.scheduleLocked(creds.ExpiresAt)
	m.lock.Unlock()

	profile, err := m.Profile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Login] profile fetch")
	}
	return profile, nil
}

// Logout ends the session. It never fails from the caller's perspective:
// the server notification is best effort, the local teardown is
// unconditional, and calling it while already signed out is a no-op.
func (m *Manager) Logout(ctx context.Context) {
	m.lock.Lock()
	creds := m.readLocked()
	if creds.Empty() && m.inflight == nil {
		m.lock.Unlock()
		return
	}
	m.gen++
	// Disown any refresh still in flight: its waiters settle normally, but
	// the session is signed out immediately, not "refreshing until the
	// abandoned call times out". The generation bump keeps its result out of
	// the store.
	m.inflight = nil
	m.clearLocked()
	m.lock.Unlock()

	if creds.AccessToken == "" {
		return
	}
	if err := m.api.Logout(ctx, creds.AccessToken); err != nil {
		m.logger.Warn().Err(err).Msg("server logout notification failed")
	}
}

// GetValidAccessToken is the single entry point other components call
// before issuing an authenticated request. It returns the current token if
// still valid, otherwise performs (or joins) a refresh. With no refresh
// token left it fails with ErrUnauthenticated and tears the session down.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	m.lock.Lock()
	creds := m.readLocked()
	if token.IsValid(creds.AccessToken, creds.ExpiresAt, m.nowTime(), m.safetyMargin) {
		m.lock.Unlock()
		return creds.AccessToken, nil
	}
	if m.inflight != nil {
		c := m.inflight
		m.lock.Unlock()
		return m.awaitRefresh(ctx, c)
	}
	if creds.RefreshToken == "" {
		fire := m.clearLocked()
		onExpired := m.onExpired
		m.lock.Unlock()
		if fire && onExpired != nil {
			onExpired()
		}
		return "", autherr.Wrapf(autherr.ErrUnauthenticated, "no refresh token")
	}
	c := m.beginRefreshLocked()
	m.lock.Unlock()
	return m.awaitRefresh(ctx, c)
}

// ForceRefresh discards the current access token and refreshes even if the
// validity check still passes. Used by the request wrapper when the server
// rejects a token the client believed valid (clock skew, early revocation).
// Joins any refresh already in flight.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	m.lock.Lock()
	if m.inflight != nil {
		c := m.inflight
		m.lock.Unlock()
		return m.awaitRefresh(ctx, c)
	}
	creds := m.readLocked()
	if creds.RefreshToken == "" {
		fire := m.clearLocked()
		onExpired := m.onExpired
		m.lock.Unlock()
		if fire && onExpired != nil {
			onExpired()
		}
		return "", autherr.Wrapf(autherr.ErrUnauthenticated, "no refresh token")
	}
	c := m.beginRefreshLocked()
	m.lock.Unlock()
	return m.awaitRefresh(ctx, c)
}

// Resume restores the session on process start: with valid stored
// credentials it arms the proactive timer, with a stale token and a refresh
// token it refreshes immediately, and with nothing usable it stays signed
// out.
func (m *Manager) Resume(ctx context.Context) error {
	m.lock.Lock()
	creds := m.readLocked()
	if creds.Empty() {
		m.lock.Unlock()
		return nil
	}
	if token.IsValid(creds.AccessToken, creds.ExpiresAt, m.nowTime(), m.safetyMargin) {
		m.scheduleLocked(creds.ExpiresAt)
		m.lock.Unlock()
		return nil
	}
	if creds.RefreshToken == "" {
		fire := m.clearLocked()
		onExpired := m.onExpired
		m.lock.Unlock()
		if fire && onExpired != nil {
			onExpired()
		}
		return autherr.Wrapf(autherr.ErrUnauthenticated, "stored credentials not refreshable")
	}
	c := m.beginRefreshLocked()
	m.lock.Unlock()
	_, err := m.awaitRefresh(ctx, c)
	return errors.Wrap(err, "[Manager.Resume]")
}

// Profile returns the authenticated user's identity, fetching it from the
// backend once per login and caching it.
func (m *Manager) Profile(ctx context.Context) (*api.UserProfile, error) {
	m.lock.Lock()
	if m.profile != nil {
		p := *m.profile
		m.lock.Unlock()
		return &p, nil
	}
	gen := m.gen
	m.lock.Unlock()

	accessToken, err := m.GetValidAccessToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Profile]")
	}
	profile, err := m.api.Me(ctx, accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Profile] me")
	}

	m.lock.Lock()
	if m.gen == gen {
		m.profile = profile
	}
	m.lock.Unlock()
	p := *profile
	return &p, nil
}

// beginRefreshLocked starts the single-flight refresh. Callers must hold
// the lock; the returned call settles exactly once.
func (m *Manager) beginRefreshLocked() *refreshCall {
	c := &refreshCall{done: make(chan struct{})}
	m.inflight = c
	go m.runRefresh(c, m.gen)
	return c
}

func (m *Manager) runRefresh(c *refreshCall, gen uint64) {
	m.lock.Lock()
	refreshToken := m.readLocked().RefreshToken
	m.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()
	resp, err := m.api.Refresh(ctx, refreshToken)

	m.lock.Lock()
	fire := false
	switch {
	case err == nil:
		creds := m.credentialsFromResponse(resp, refreshToken)
		if creds.AccessToken == "" {
			c.err = errors.New("[Manager] refresh returned no access token")
			break
		}
		if m.gen == gen {
			m.writeLocked(creds)
			m.scheduleLocked(creds.ExpiresAt)
		} else {
			// The session ended while this refresh was in flight. The
			// server rotated the refresh token for a session nobody holds
			// anymore, so revoke it rather than orphaning a live credential.
			go m.revokeDiscarded(creds.AccessToken)
		}
		c.token = creds.AccessToken
	case autherr.Is(err, autherr.ErrRefreshRejected):
		// Terminal: the whole session is torn down, never a partial
		// credential state.
		if m.gen == gen {
			m.gen++
			fire = m.clearLocked()
		}
		// Matches both ErrRefreshRejected and ErrUnauthenticated so
		// callers only need the coarse check.
		c.err = fmt.Errorf("[Manager] refresh rejected: %w: %w", autherr.ErrUnauthenticated, err)
	default:
		// Transient (network/server): keep credentials; the next
		// caller retries.
		m.logger.Warn().Err(err).Msg("token refresh failed, will retry on next demand")
		c.err = errors.Wrap(err, "[Manager] refresh")
	}
	if m.inflight == c {
		m.inflight = nil
	}
	onExpired := m.onExpired
	m.lock.Unlock()
	// Fire before waking waiters so the expiry notification is observable
	// by the time any joined caller sees the failure.
	if fire && onExpired != nil {
		onExpired()
	}
	close(c.done)
}

// revokeDiscarded notifies the server about a credential that was minted for
// a session that no longer exists. Best effort.
func (m *Manager) revokeDiscarded(accessToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()
	if err := m.api.Logout(ctx, accessToken); err != nil {
		m.logger.Warn().Err(err).Msg("failed to revoke discarded credentials")
	}
}

func (m *Manager) awaitRefresh(ctx context.Context, c *refreshCall) (string, error) {
	select {
	case <-c.done:
		return c.token, c.err
	case <-ctx.Done():
		return "", autherr.Wrapf(autherr.ErrNetwork, "awaiting refresh: %v", ctx.Err())
	}
}

// scheduleLocked arms the one-shot proactive refresh at expiry minus the
// safety margin. Any previous timer is always cancelled first, so at most
// one timer is outstanding across repeated logins and refreshes.
func (m *Manager) scheduleLocked(expiresAt time.Time) {
	m.stopTimerLocked()
	if expiresAt.IsZero() {
		return
	}
	delay := expiresAt.Sub(m.nowTime()) - m.safetyMargin
	if delay <= 0 {
		go m.proactiveRefresh()
		return
	}
	m.timer = time.AfterFunc(delay, m.proactiveRefresh)
}

func (m *Manager) proactiveRefresh() {
	m.lock.Lock()
	if m.inflight != nil {
		m.lock.Unlock()
		return
	}
	if m.readLocked().RefreshToken == "" {
		m.lock.Unlock()
		return
	}
	c := m.beginRefreshLocked()
	m.lock.Unlock()
	<-c.done
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// clearLocked tears down all session state: credentials, timer, cached
// profile. Reports whether there was anything to tear down, so the expiry
// callback fires exactly once per failure event.
func (m *Manager) clearLocked() bool {
	had := !m.readLocked().Empty() || m.profile != nil
	if err := m.store.Clear(); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear credential store")
	}
	m.stopTimerLocked()
	m.profile = nil
	return had
}

func (m *Manager) readLocked() store.Credentials {
	creds, err := m.store.Read()
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to read credential store")
		return store.Credentials{}
	}
	return creds
}

// writeLocked persists credentials. Persistence failures are logged and
// swallowed: the session keeps working for this process and the next
// demand-driven read re-checks the store.
func (m *Manager) writeLocked(creds store.Credentials) {
	if err := m.store.Write(creds); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist credentials")
	}
}

// credentialsFromResponse builds the stored record from a token response.
// The absolute expiry comes from expiresInSeconds against the injected
// clock, falling back to the token's own exp claim. A refresh response that
// omits the refresh token keeps the previous one (no rotation).
func (m *Manager) credentialsFromResponse(resp *api.TokenResponse, previousRefreshToken string) store.Credentials {
	accessToken := utils.Value(resp.AccessToken)
	refreshToken := utils.Value(resp.RefreshToken)
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}

	var expiresAt time.Time
	if resp.ExpiresInSeconds > 0 {
		expiresAt = m.nowTime().Add(time.Duration(resp.ExpiresInSeconds) * time.Second)
	} else if parsed, err := token.ParseExpiry(accessToken); err == nil {
		expiresAt = parsed
	}

	return store.Credentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
}
