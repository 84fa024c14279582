// token_manager.go
// ----------------
// The TokenManager owns the in-memory token pair and its lifecycle:
//
//	Unauthenticated -> Authenticated -> Refreshing -> {Authenticated | Unauthenticated}
//
// It is the single point of mutual exclusion in the client. At most one
// refresh is in flight at any time; the proactive ticker and any number of
// reactive callers attach to the same in-flight operation through a
// singleflight group and observe its one result. Reads during a refresh
// return the pre-refresh token; the swap on success is atomic under the lock.
//
// Logout is immediate and always wins: Clear bumps a session epoch, and a
// refresh that started under an older epoch discards its result instead of
// installing it. A pair obtained before logout can never resurrect the
// session.
//
// The credential store holds a durable mirror of the pair and is never the
// authority. The backend does not expose a token expiry, so validity is
// presence-based; JWT exp/iat claims are decoded without verification purely
// so logs and Token() carry the timestamps.
package ledgerbridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// AuthState is the externally observable lifecycle state.
type AuthState string

const (
	StateUnauthenticated AuthState = "unauthenticated"
	StateAuthenticated   AuthState = "authenticated"
	StateRefreshing      AuthState = "refreshing"
)

// Credential store keys for the durable token mirror.
const (
	credKeyAccessToken  = "access_token"
	credKeyRefreshToken = "refresh_token"
)

// refreshFunc performs the refresh network call. Wired by the client so the
// refresh itself runs through the ordinary executor (with its retry policy)
// without an import cycle.
type refreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// TokenManager owns the current token pair, the proactive refresh ticker and
// the auth-state stream.
type TokenManager struct {
	store    CredentialStore
	logger   Logger
	interval time.Duration

	refresh refreshFunc
	base    context.Context // client lifetime; bounds all periodic work

	group singleflight.Group

	mu          sync.Mutex
	token       *oauth2.Token
	state       AuthState
	epoch       int // bumped by clearLocked; stale refresh results are discarded
	timerCancel context.CancelFunc
	subs        map[int]chan AuthState
	nextSub     int
}

func newTokenManager(store CredentialStore, logger Logger, interval time.Duration) *TokenManager {
	return &TokenManager{
		store:    store,
		logger:   logger,
		interval: interval,
		state:    StateUnauthenticated,
		subs:     make(map[int]chan AuthState),
	}
}

// bind wires the refresh call and the lifetime context. Called once during
// client construction, before any request runs.
func (m *TokenManager) bind(base context.Context, refresh refreshFunc) {
	m.base = base
	m.refresh = refresh
}

// restore loads the durable token mirror into memory at startup. A present
// access token moves the manager to Authenticated and arms the proactive
// timer; validity is left to the backend to decide.
func (m *TokenManager) restore(ctx context.Context) error {
	access, ok, err := m.store.Get(ctx, credKeyAccessToken)
	if err != nil {
		return err
	}
	if !ok || access == "" {
		return nil
	}
	refreshTok, _, err := m.store.Get(ctx, credKeyRefreshToken)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.token = tokenWithClaimTimes(access, refreshTok)
	m.setStateLocked(StateAuthenticated)
	m.startTimerLocked()
	m.mu.Unlock()

	m.logger.Info(ctx, "restored session from credential store")
	return nil
}

// State returns the current lifecycle state.
func (m *TokenManager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AccessToken returns the current access token. During a refresh this is the
// pre-refresh token until the new pair is swapped in.
func (m *TokenManager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil || m.token.AccessToken == "" {
		return "", false
	}
	return m.token.AccessToken, true
}

// Token returns a copy of the current token pair, or nil when unauthenticated.
func (m *TokenManager) Token() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil
	}
	t := *m.token
	return &t
}

// TokenSource bridges the manager into the oauth2 ecosystem so callers can
// hand the session to any oauth2-aware library.
func (m *TokenManager) TokenSource() oauth2.TokenSource {
	return managerTokenSource{m: m}
}

type managerTokenSource struct{ m *TokenManager }

func (s managerTokenSource) Token() (*oauth2.Token, error) {
	if t := s.m.Token(); t != nil {
		return t, nil
	}
	return nil, unauthorizedFailure("not authenticated")
}

// SetTokens installs a new token pair (login, register), persists the mirror,
// arms the proactive timer and moves to Authenticated.
func (m *TokenManager) SetTokens(ctx context.Context, access, refreshTok string) error {
	if access == "" {
		return invalidRequestFailure("empty access token")
	}

	m.mu.Lock()
	m.token = tokenWithClaimTimes(access, refreshTok)
	m.setStateLocked(StateAuthenticated)
	m.startTimerLocked()
	m.mu.Unlock()

	return m.persist(ctx, access, refreshTok)
}

// Refresh performs (or attaches to) the single in-flight refresh and returns
// the resulting access token. Concurrent callers all observe the same result.
// A caller whose context ends stops waiting and gets the context error; the
// shared flight keeps running for the remaining callers.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	ch := m.group.DoChan("refresh", func() (any, error) {
		return m.doRefresh()
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// doRefresh runs exactly once per singleflight window. It deliberately uses
// the client lifetime context rather than any single caller's: the operation
// is shared, so one caller giving up must not fail the others.
func (m *TokenManager) doRefresh() (string, error) {
	m.mu.Lock()
	if m.token == nil || m.token.RefreshToken == "" {
		m.clearLocked()
		m.mu.Unlock()
		return "", unauthorizedFailure("no refresh token")
	}
	refreshTok := m.token.RefreshToken
	epoch := m.epoch
	m.setStateLocked(StateRefreshing)
	m.mu.Unlock()

	ctx := m.base
	if ctx == nil {
		ctx = context.Background()
	}
	newTok, err := m.refresh(ctx, refreshTok)
	if err != nil {
		return "", m.refreshFailed(ctx, epoch, err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		// Logout won the race while the exchange was in flight. The session
		// is over; the fresh pair must not resurrect it.
		m.mu.Unlock()
		m.logger.Debug(ctx, "discarding refresh result after logout")
		return "", unauthorizedFailure("session ended during refresh")
	}
	m.token = newTok
	m.setStateLocked(StateAuthenticated)
	m.startTimerLocked() // reschedule from now
	m.mu.Unlock()

	if perr := m.persist(ctx, newTok.AccessToken, newTok.RefreshToken); perr != nil {
		m.logger.Warn(ctx, "persisting refreshed tokens failed", "error", perr)
	}
	m.logger.Debug(ctx, "token refresh succeeded")
	return newTok.AccessToken, nil
}

// refreshFailed decides the terminal state of a failed refresh. A transient
// failure (network, 5xx — already retried by the executor) keeps the current
// pair: the access token may still be valid until the backend actually
// rejects it. Any other terminal failure means the refresh token is no longer
// usable, so the lifecycle ends in Unauthenticated. A stale epoch means a
// logout already resolved the lifecycle; the state is left alone.
func (m *TokenManager) refreshFailed(ctx context.Context, epoch int, err error) error {
	transient := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if f, ok := AsFailure(err); (ok && f.Retryable()) || transient {
		m.mu.Lock()
		if m.epoch == epoch && m.token != nil {
			m.setStateLocked(StateAuthenticated)
		}
		m.mu.Unlock()
		m.logger.Warn(ctx, "token refresh failed transiently", "error", err)
		return err
	}

	m.mu.Lock()
	stale := m.epoch != epoch
	m.mu.Unlock()
	if stale {
		return err
	}
	m.logger.Warn(ctx, "token refresh rejected, ending session", "error", err)
	m.Clear(ctx)
	return err
}

// Clear is the logout transition: immediate regardless of current state,
// cancels the proactive timer, wipes memory and the durable mirror, and
// notifies subscribers.
func (m *TokenManager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.clearLocked()
	m.mu.Unlock()

	if err := m.store.Delete(ctx, credKeyAccessToken); err != nil {
		m.logger.Warn(ctx, "deleting access token from store failed", "error", err)
	}
	if err := m.store.Delete(ctx, credKeyRefreshToken); err != nil {
		m.logger.Warn(ctx, "deleting refresh token from store failed", "error", err)
	}
}

func (m *TokenManager) clearLocked() {
	m.epoch++
	m.token = nil
	if m.timerCancel != nil {
		m.timerCancel()
		m.timerCancel = nil
	}
	m.setStateLocked(StateUnauthenticated)
}

// Subscribe returns a channel of auth-state transitions and an unsubscribe
// function. Slow consumers drop transitions rather than block the manager.
func (m *TokenManager) Subscribe() (<-chan AuthState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan AuthState, 8)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}

func (m *TokenManager) setStateLocked(s AuthState) {
	if m.state == s {
		return
	}
	m.state = s
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// startTimerLocked (re)arms the proactive refresh loop. The previous loop, if
// any, is cancelled first so exactly one ticker runs per manager.
func (m *TokenManager) startTimerLocked() {
	if m.timerCancel != nil {
		m.timerCancel()
		m.timerCancel = nil
	}
	if m.interval <= 0 || m.base == nil {
		return
	}
	ctx, cancel := context.WithCancel(m.base)
	m.timerCancel = cancel
	go m.proactiveLoop(ctx)
}

// proactiveLoop triggers a refresh every interval. Proactive failures are
// logged only; whether the session ends is decided inside doRefresh by the
// failure kind, exactly as for reactive refreshes.
func (m *TokenManager) proactiveLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil {
				m.logger.Warn(ctx, "proactive token refresh failed", "error", err)
			}
		}
	}
}

// Close stops the proactive timer. The client calls this from its single
// shutdown point.
func (m *TokenManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timerCancel != nil {
		m.timerCancel()
		m.timerCancel = nil
	}
}

func (m *TokenManager) persist(ctx context.Context, access, refreshTok string) error {
	if err := m.store.Set(ctx, credKeyAccessToken, access); err != nil {
		return err
	}
	if refreshTok == "" {
		return nil
	}
	return m.store.Set(ctx, credKeyRefreshToken, refreshTok)
}

// tokenWithClaimTimes builds the in-memory token pair, decoding iat/exp from
// the access token without verifying the signature. The timestamps are
// informational: no refresh decision reads them, since the backend's contract
// is presence-based validity.
func tokenWithClaimTimes(access, refreshTok string) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refreshTok,
		TokenType:    "Bearer",
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return tok
	}
	if claims.ExpiresAt != nil {
		tok.Expiry = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		tok = tok.WithExtra(map[string]any{"issued_at": claims.IssuedAt.Time})
	}
	return tok
}
