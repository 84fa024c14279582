package ledgerbridge

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsledger/ledger-bridge/mock"
)

func testConfig() Config {
	cfg := DefaultConfig("https://api.test")
	cfg.Platform = "test"
	cfg.AppVersion = "0.0.1"
	cfg.BaseBackoff = 5 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.RefreshInterval = time.Hour
	cfg.CacheSweepInterval = time.Hour
	return cfg
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *mock.Transport) {
	t.Helper()
	rt := mock.NewTransport()
	opts = append(opts, WithHTTPClient(&http.Client{Transport: rt}))
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, rt
}

func authenticate(t *testing.T, c *Client, access, refresh string) {
	t.Helper()
	require.NoError(t, c.auth.SetTokens(context.Background(), access, refresh))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestDoAfterCloseReturnsErrClosed(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	require.NoError(t, c.Close())

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/ping"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestCancelUnknownID(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	require.False(t, c.Cancel("nope"))
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
