// sdk.go
// ------
// The sdk.go file contains the core Client struct and its methods. This is the
// main entry point of the SDK for users.
//
// Key functionalities include:
// - Constructing a client with New(), injecting every collaborator explicitly
//   (credential store, logger, connectivity signal, HTTP transport)
// - Submitting calls via Do() and the typed operations in auth.go / ledger.go
// - Registering interceptors with RegisterInterceptor()
// - Cancelling a pending call by identifier with Cancel()
// - Observing the auth lifecycle through Auth()
//
// The Client owns a TokenManager, a response cache and a request executor.
// There is no package-level state: one Client is one fully independent
// instance, and Close() is the single point that stops all of its periodic
// work (proactive token refresh, cache sweep).
package ledgerbridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/opsledger/ledger-bridge/credstore"
)

// ErrClosed is returned for calls submitted after Close.
var ErrClosed = errors.New("ledgerbridge: client is closed")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger injects the structured event sink.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCredentialStore injects the durable token mirror. Defaults to an
// in-memory store, which means sessions do not survive a restart.
func WithCredentialStore(s CredentialStore) Option {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

// WithConnectivity injects the connectivity signal consulted before every
// transport attempt.
func WithConnectivity(conn Connectivity) Option {
	return func(c *Client) {
		if conn != nil {
			c.conn = conn
		}
	}
}

// Client is the resilient API client core.
type Client struct {
	cfg        Config
	logger     Logger
	store      CredentialStore
	conn       Connectivity
	httpClient *http.Client

	auth     *TokenManager
	cache    *responseCache
	pipeline *pipeline
	executor *requestExecutor

	lifetime context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	closed   bool
}

// New constructs a Client for the given configuration. The returned client is
// ready for concurrent use; call Close when done to stop its background work.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ledgerbridge: Config.BaseURL is required")
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:        cfg,
		logger:     NopLogger{},
		store:      credstore.NewMemory(),
		conn:       alwaysOnline{},
		httpClient: &http.Client{},
		inflight:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.lifetime, c.shutdown = context.WithCancel(context.Background())
	c.pipeline = newPipeline(c.logger)
	c.cache = newResponseCache()
	c.auth = newTokenManager(c.store, c.logger, cfg.RefreshInterval)
	c.executor = newRequestExecutor(cfg, c.httpClient, c.auth, c.pipeline, c.cache, c.conn, c.logger)
	c.auth.bind(c.lifetime, c.refreshCall)

	if err := c.auth.restore(c.lifetime); err != nil {
		c.logger.Warn(c.lifetime, "restoring tokens from credential store failed", "error", err)
	}

	go c.cache.sweep(c.lifetime, cfg.CacheSweepInterval)

	return c, nil
}

// Do executes a request descriptor. The descriptor is assigned a correlation
// identifier (readable via Request.ID) before the first attempt, usable with
// Cancel while the call is pending.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if req.id == "" {
		req.id = uuid.NewString()
	}
	callCtx, cancel := context.WithCancel(ctx)
	c.inflight[req.id] = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.inflight, req.id)
		c.mu.Unlock()
	}()

	return c.executor.execute(callCtx, req)
}

// Cancel stops waiting for the pending call with the given identifier. The
// cancelled caller receives context.Canceled; an eventual response from the
// transport is discarded. Returns false when no such call is pending.
func (c *Client) Cancel(id string) bool {
	c.mu.Lock()
	cancel, ok := c.inflight[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// RegisterInterceptor appends an observer to the pipeline. Observers run in
// registration order around every attempt.
func (c *Client) RegisterInterceptor(i Interceptor) {
	c.pipeline.register(i)
}

// Auth exposes the token lifecycle manager for state inspection, subscription
// and the oauth2.TokenSource bridge.
func (c *Client) Auth() *TokenManager {
	return c.auth
}

// InvalidateCache drops every cached read whose path starts with prefix.
func (c *Client) InvalidateCache(pathPrefix string) {
	c.cache.invalidatePrefix(pathPrefix)
}

// Close stops all periodic work (proactive refresh, cache sweep), cancels any
// pending calls and marks the client unusable. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := make([]context.CancelFunc, 0, len(c.inflight))
	for _, cancel := range c.inflight {
		pending = append(pending, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range pending {
		cancel()
	}
	c.auth.Close()
	c.shutdown()
	return nil
}
