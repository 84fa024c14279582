package ledgerbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Standard headers stamped on every attempt.
const (
	headerRequestID  = "X-Request-ID"
	headerPlatform   = "X-Platform"
	headerAppVersion = "X-App-Version"
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// requestExecutor owns the transport. It builds the HTTP request from a
// descriptor, applies the per-attempt timeout, classifies the outcome and
// retries per policy: linear backoff for retryable kinds, a single
// refresh-and-retry cycle for an Unauthorized on an authenticated call, and
// an immediate return for everything terminal.
type requestExecutor struct {
	cfg      Config
	http     *http.Client
	auth     *TokenManager
	pipeline *pipeline
	cache    *responseCache
	conn     Connectivity
	logger   Logger
	limiter  *rate.Limiter // nil when unthrottled
}

func newRequestExecutor(cfg Config, httpClient *http.Client, auth *TokenManager, pl *pipeline, cache *responseCache, conn Connectivity, logger Logger) *requestExecutor {
	e := &requestExecutor{
		cfg:      cfg,
		http:     httpClient,
		auth:     auth,
		pipeline: pl,
		cache:    cache,
		conn:     conn,
		logger:   logger,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.ThrottleBurst)
	}
	return e
}

func (e *requestExecutor) execute(ctx context.Context, req *Request) (*Response, error) {
	if !allowedMethods[req.Method] {
		return nil, e.terminal(ctx, req, time.Now(), invalidRequestFailure(fmt.Sprintf("unsupported method %q", req.Method)))
	}

	start := time.Now()

	cacheable := req.Cacheable && req.Method == http.MethodGet
	if cacheable && !req.ForceRefresh {
		if payload, ok := e.cache.get(req.fingerprint()); ok {
			e.logger.Debug(ctx, "cache hit", "method", req.Method, "path", req.Path)
			return &Response{
				StatusCode: http.StatusOK,
				Body:       payload,
				Request:    req,
				FromCache:  true,
			}, nil
		}
	}

	if !e.conn.Online() {
		return nil, e.terminal(ctx, req, start, noConnectionFailure())
	}

	fullURL, err := e.buildURL(req)
	if err != nil {
		return nil, e.terminal(ctx, req, start, invalidRequestFailure(err.Error()))
	}

	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, e.terminal(ctx, req, start, invalidRequestFailure(fmt.Sprintf("encoding body: %v", err)))
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.RequestTimeout
	}

	refreshed := false
	for attempt := 1; ; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		token := ""
		if req.UseAuth {
			tok, ok := e.auth.AccessToken()
			if !ok {
				// No token exists at all: fail fast without a round trip.
				return nil, e.terminal(ctx, req, start, unauthorizedFailure("no access token available"))
			}
			token = tok
		}

		envelope, failure, err := e.attempt(ctx, req, fullURL, bodyBytes, token, timeout)
		if err != nil {
			// Caller cancellation: discard silently, no classification, no retry.
			return nil, err
		}

		if failure == nil {
			if cacheable {
				ttl := req.CacheTTL
				if ttl <= 0 {
					ttl = e.cfg.CacheTTL
				}
				e.cache.put(req.fingerprint(), req.Path, envelope.Body, ttl)
			}
			if attempt > 1 || refreshed {
				e.logger.Debug(ctx, "request succeeded after recovery",
					"method", req.Method, "path", req.Path, "attempt", attempt)
			}
			return envelope, nil
		}

		if failure.Kind == KindUnauthorized && req.UseAuth && !refreshed {
			refreshed = true
			if _, rerr := e.auth.Refresh(ctx); rerr == nil {
				// Re-issue exactly once with the fresh token. This cycle does
				// not consume the backoff budget.
				attempt--
				continue
			}
			if ctx.Err() != nil {
				// The caller stopped waiting, not the refresh itself.
				return nil, ctx.Err()
			}
			// Refresh failed; the manager has already resolved the lifecycle
			// (logout on a rejected refresh token). Surface the Unauthorized.
			return nil, e.terminal(ctx, req, start, failure)
		}

		if failure.Retryable() && attempt < e.cfg.MaxAttempts {
			delay := e.cfg.BaseBackoff * time.Duration(attempt)
			e.logger.Debug(ctx, "retrying request",
				"method", req.Method, "path", req.Path,
				"kind", failure.Kind, "attempt", attempt, "delay", delay)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		return nil, e.terminal(ctx, req, start, failure)
	}
}

// attempt performs one HTTP exchange. It returns (envelope, nil, nil) on 2xx,
// (nil, failure, nil) on a classified failure, and (nil, nil, err) only when
// the caller's context ended — the one outcome that is not a Failure.
func (e *requestExecutor) attempt(ctx context.Context, req *Request, fullURL string, body []byte, token string, timeout time.Duration) (*Response, *Failure, error) {
	// The attempt window opens before the interceptors run, so a slow
	// observer consumes the attempt's own budget instead of extending it.
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := e.buildHeader(req, token)
	e.pipeline.beforeSend(attemptCtx, req.Method, fullURL, header, body)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, fullURL, reader)
	if err != nil {
		return nil, invalidRequestFailure(err.Error()), nil
	}
	httpReq.Header = header

	resp, err := e.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, classifyTransport(err), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, classifyTransport(err), nil
	}

	payload, perr := ParsePayload(raw)
	if perr != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			// A success status whose body is not a JSON object. Terminal.
			return nil, parseFailure(resp.StatusCode, perr), nil
		}
		// Error statuses classify by status even when the body is opaque
		// (HTML error pages from proxies, truncated bodies).
		payload = Payload{}
	}

	envelope := &Response{
		StatusCode: resp.StatusCode,
		Body:       payload,
		RawLength:  len(raw),
		Request:    req,
	}
	e.pipeline.afterReceive(ctx, envelope)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return envelope, nil, nil
	}
	return nil, classifyHTTP(resp.StatusCode, resp.Header, payload), nil
}

// terminal reports a failure that exhausted local recovery and returns it for
// the caller. Every terminal outcome is visible in the log with its kind,
// status and elapsed time.
func (e *requestExecutor) terminal(ctx context.Context, req *Request, start time.Time, f *Failure) error {
	e.logger.Warn(ctx, "request failed",
		"method", req.Method,
		"path", req.Path,
		"kind", f.Kind,
		"status", f.StatusCode,
		"elapsed", time.Since(start),
	)
	return f
}

func (e *requestExecutor) buildURL(req *Request) (string, error) {
	u, err := url.JoinPath(e.cfg.BaseURL, e.cfg.APIVersion, req.Path)
	if err != nil {
		return "", fmt.Errorf("building URL: %w", err)
	}
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u, nil
}

func (e *requestExecutor) buildHeader(req *Request, token string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if e.cfg.Platform != "" {
		h.Set(headerPlatform, e.cfg.Platform)
	}
	if e.cfg.AppVersion != "" {
		h.Set(headerAppVersion, e.cfg.AppVersion)
	}
	for k, vals := range req.Header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vals...)
	}
	if req.id != "" {
		h.Set(headerRequestID, req.id)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func (e *requestExecutor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
