package ledgerbridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/ledger-bridge/mock"
)

const okBody = `{"success":true,"data":{}}`

func TestRetryableFailureUsesAllAttemptsWithIncreasingDelay(t *testing.T) {
	cfg := testConfig()
	cfg.BaseBackoff = 25 * time.Millisecond
	c, rt := newTestClient(t, cfg)
	rt.Stub(http.MethodGet, "/api/v1/ping", mock.Reply{Status: 500, Body: `{"message":"boom"}`})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/ping"})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindServerError, f.Kind)
	assert.Equal(t, 3, rt.Calls(http.MethodGet, "/api/v1/ping"))

	calls := rt.Recorded(http.MethodGet, "/api/v1/ping")
	require.Len(t, calls, 3)
	gap1 := calls[1].At.Sub(calls[0].At)
	gap2 := calls[2].At.Sub(calls[1].At)
	assert.GreaterOrEqual(t, gap1, 25*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 50*time.Millisecond)
}

func TestRetryableFailureRecoversMidSequence(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	rt.Stub(http.MethodGet, "/api/v1/ping",
		mock.Reply{Status: 503, Body: `{"message":"warming up"}`},
		mock.Reply{Status: 200, Body: okBody},
	)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/ping"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, rt.Calls(http.MethodGet, "/api/v1/ping"))
}

func TestTerminalFailuresUseSingleAttempt(t *testing.T) {
	tests := []struct {
		status int
		kind   FailureKind
	}{
		{400, KindBadRequest},
		{401, KindUnauthorized},
		{403, KindForbidden},
		{404, KindNotFound},
		{409, KindConflict},
		{422, KindValidation},
		{429, KindRateLimited},
		{418, KindUnknown},
	}
	for _, tc := range tests {
		c, rt := newTestClient(t, testConfig())
		rt.Stub(http.MethodGet, "/api/v1/ping", mock.Reply{Status: tc.status, Body: `{"message":"no"}`})

		_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/ping"})

		f, ok := AsFailure(err)
		require.True(t, ok, "status %d", tc.status)
		assert.Equal(t, tc.kind, f.Kind, "status %d", tc.status)
		assert.Equal(t, tc.status, f.StatusCode)
		assert.Equal(t, 1, rt.Calls(http.MethodGet, "/api/v1/ping"), "status %d", tc.status)
		_ = c.Close()
	}
}

func TestTransportErrorClassifiedAndRetried(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	rt.Stub(http.MethodGet, "/api/v1/ping", mock.Reply{Err: errors.New("connection refused")})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/ping"})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindNoConnection, f.Kind)
	assert.Equal(t, 3, rt.Calls(http.MethodGet, "/api/v1/ping"))
}

func TestMalformedBodyIsParseErrorWithoutRetry(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	rt.Stub(http.MethodGet, "/api/v1/ping", mock.Reply{Status: 200, Body: `<html>oops</html>`})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/ping"})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindParseError, f.Kind)
	assert.Equal(t, 1, rt.Calls(http.MethodGet, "/api/v1/ping"))
}

func TestUnsupportedMethodNeverHitsTransport(t *testing.T) {
	c, rt := newTestClient(t, testConfig())

	_, err := c.Do(context.Background(), &Request{Method: "TRACE", Path: "/ping"})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidRequest, f.Kind)
	assert.Equal(t, 0, rt.TotalCalls())
}

func TestUnauthorizedTriggersRefreshAndSingleRetry(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	authenticate(t, c, "old-access", "refresh-1")
	rt.Stub(http.MethodGet, "/api/v1/debts",
		mock.Reply{Status: 401, Body: `{"message":"token expired"}`},
		mock.Reply{Status: 200, Body: `{"success":true,"data":[]}`},
	)
	rt.Stub(http.MethodPost, "/api/v1/auth/refresh",
		mock.Reply{Status: 200, Body: `{"success":true,"data":{"access_token":"new-access","refresh_token":"refresh-2"}}`},
	)

	debts, err := c.Debts(context.Background(), "", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, debts)

	assert.Equal(t, 2, rt.Calls(http.MethodGet, "/api/v1/debts"))
	assert.Equal(t, 1, rt.Calls(http.MethodPost, "/api/v1/auth/refresh"))

	last := rt.LastCall(http.MethodGet, "/api/v1/debts")
	require.NotNil(t, last)
	assert.Equal(t, "Bearer new-access", last.Header.Get("Authorization"))

	tok, ok := c.Auth().AccessToken()
	require.True(t, ok)
	assert.Equal(t, "new-access", tok)
}

func TestSecondUnauthorizedIsSurfacedWithoutLooping(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	authenticate(t, c, "old-access", "refresh-1")
	rt.Stub(http.MethodGet, "/api/v1/debts", mock.Reply{Status: 401, Body: `{"message":"nope"}`})
	rt.Stub(http.MethodPost, "/api/v1/auth/refresh",
		mock.Reply{Status: 200, Body: `{"success":true,"data":{"access_token":"new-access"}}`},
	)

	_, err := c.Debts(context.Background(), "", ListOptions{})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindUnauthorized, f.Kind)
	assert.True(t, f.ForcesLogout())
	assert.Equal(t, 2, rt.Calls(http.MethodGet, "/api/v1/debts"))
	assert.Equal(t, 1, rt.Calls(http.MethodPost, "/api/v1/auth/refresh"))
}

func TestRejectedRefreshEndsSession(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	authenticate(t, c, "old-access", "refresh-1")
	states, unsubscribe := c.Auth().Subscribe()
	defer unsubscribe()

	rt.Stub(http.MethodGet, "/api/v1/debts", mock.Reply{Status: 401, Body: `{"message":"token expired"}`})
	rt.Stub(http.MethodPost, "/api/v1/auth/refresh",
		mock.Reply{Status: 401, Body: `{"message":"invalid refresh token","code":"invalid_refresh"}`},
	)

	_, err := c.Debts(context.Background(), "", ListOptions{})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindUnauthorized, f.Kind)
	assert.Equal(t, StateUnauthenticated, c.Auth().State())

	_, stored, serr := c.store.Get(context.Background(), credKeyAccessToken)
	require.NoError(t, serr)
	assert.False(t, stored)

	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-states:
				if s == StateUnauthenticated {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestAuthenticatedCallWithoutAnyTokenFailsFast(t *testing.T) {
	c, rt := newTestClient(t, testConfig())

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/debts", UseAuth: true})

	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindUnauthorized, f.Kind)
	assert.Equal(t, 0, rt.TotalCalls())
}

func TestOfflineShortCircuitsConcurrentCalls(t *testing.T) {
	flag := NewOnlineFlag(false)
	c, rt := newTestClient(t, testConfig(), WithConnectivity(flag))

	var wg sync.WaitGroup
	failures := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, failures[i] = c.Do(context.Background(), &Request{
				Method: http.MethodPost,
				Path:   "/debts",
				Body:   Payload{"amount": 10},
			})
		}(i)
	}
	wg.Wait()

	for _, err := range failures {
		f, ok := AsFailure(err)
		require.True(t, ok)
		assert.Equal(t, KindNoConnection, f.Kind)
	}
	assert.Equal(t, 0, rt.TotalCalls())
}

func TestCacheableGETIssuesOneTransportCall(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	authenticate(t, c, "access", "refresh")
	rt.Stub(http.MethodGet, "/api/v1/contacts",
		mock.Reply{Status: 200, Body: `{"success":true,"data":[{"id":"c1","name":"Asha","phone":"123"}]}`},
	)

	first, err := c.Contacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	second, err := c.Contacts(context.Background(), ListOptions{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, rt.Calls(http.MethodGet, "/api/v1/contacts"))
}

func TestForceRefreshBypassesCacheReadButWritesThrough(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	authenticate(t, c, "access", "refresh")
	rt.Stub(http.MethodGet, "/api/v1/contacts",
		mock.Reply{Status: 200, Body: `{"success":true,"data":[{"id":"c1","name":"Asha","phone":"123"}]}`},
		mock.Reply{Status: 200, Body: `{"success":true,"data":[{"id":"c1","name":"Asha renamed","phone":"123"}]}`},
	)

	_, err := c.Contacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	fresh, err := c.Contacts(context.Background(), ListOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, "Asha renamed", fresh[0].Name)
	assert.Equal(t, 2, rt.Calls(http.MethodGet, "/api/v1/contacts"))

	// The forced result was written through: the next plain read is a hit.
	cached, err := c.Contacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Asha renamed", cached[0].Name)
	assert.Equal(t, 2, rt.Calls(http.MethodGet, "/api/v1/contacts"))
}

func TestCacheExpiryCausesRefetch(t *testing.T) {
	cfg := testConfig()
	cfg.CacheTTL = 30 * time.Millisecond
	c, rt := newTestClient(t, cfg)
	authenticate(t, c, "access", "refresh")
	rt.Stub(http.MethodGet, "/api/v1/contacts",
		mock.Reply{Status: 200, Body: `{"success":true,"data":[]}`},
	)

	_, err := c.Contacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.Contacts(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rt.Calls(http.MethodGet, "/api/v1/contacts"))
}

func TestWritesInvalidateCachedReads(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	authenticate(t, c, "access", "refresh")
	rt.Stub(http.MethodGet, "/api/v1/debts", mock.Reply{Status: 200, Body: `{"success":true,"data":[]}`})
	rt.Stub(http.MethodPost, "/api/v1/debts",
		mock.Reply{Status: 201, Body: `{"success":true,"data":{"id":"d1","contact_id":"c1","amount":50,"currency":"USD"}}`},
	)

	_, err := c.Debts(context.Background(), "", ListOptions{})
	require.NoError(t, err)
	_, err = c.CreateDebt(context.Background(), CreateDebtInput{ContactID: "c1", Amount: 50, Currency: "USD"})
	require.NoError(t, err)
	_, err = c.Debts(context.Background(), "", ListOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, rt.Calls(http.MethodGet, "/api/v1/debts"))
}

func TestCancelDiscardsPendingCall(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	rt.Stub(http.MethodGet, "/api/v1/slow", mock.Reply{Status: 200, Body: okBody, Delay: 500 * time.Millisecond})

	req := &Request{Method: http.MethodGet, Path: "/slow"}
	req.id = "call-1"

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), req)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.Cancel("call-1") }, time.Second, 5*time.Millisecond)

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	_, isFailure := AsFailure(err)
	assert.False(t, isFailure)
}

func TestThrottleSpacesOutRequests(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSecond = 20
	cfg.ThrottleBurst = 1
	c, rt := newTestClient(t, cfg)
	rt.Stub(http.MethodGet, "/api/v1/ping", mock.Reply{Status: 200, Body: okBody})

	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/ping"})
		require.NoError(t, err)
	}

	calls := rt.Recorded(http.MethodGet, "/api/v1/ping")
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].At.Sub(calls[0].At), 40*time.Millisecond)
}

func TestStandardHeadersAreStamped(t *testing.T) {
	c, rt := newTestClient(t, testConfig())
	authenticate(t, c, "access", "refresh")
	rt.Stub(http.MethodGet, "/api/v1/debts", mock.Reply{Status: 200, Body: `{"success":true,"data":[]}`})

	_, err := c.Debts(context.Background(), "", ListOptions{})
	require.NoError(t, err)

	call := rt.LastCall(http.MethodGet, "/api/v1/debts")
	require.NotNil(t, call)
	assert.Equal(t, "application/json", call.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", call.Header.Get("Accept"))
	assert.Equal(t, "test", call.Header.Get(headerPlatform))
	assert.Equal(t, "0.0.1", call.Header.Get(headerAppVersion))
	assert.Equal(t, "Bearer access", call.Header.Get("Authorization"))
	assert.NotEmpty(t, call.Header.Get(headerRequestID))
}
