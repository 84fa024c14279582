// interceptor.go
// --------------
// Interceptors observe every attempt the executor makes: once before the
// request goes on the wire and once for every completed HTTP exchange. They
// are side-effect-only — they cannot short-circuit a call, mutate the request,
// or see the classified Failure. Invocation is sequential in registration
// order so ordering-sensitive observers (timers) behave deterministically.
// A panicking interceptor is logged and skipped; the call proceeds.
package ledgerbridge

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Interceptor observes outbound requests and completed responses.
type Interceptor interface {
	BeforeSend(method, url string, header http.Header, body []byte)
	AfterReceive(resp *Response)
}

type pipeline struct {
	mu           sync.RWMutex
	interceptors []Interceptor
	logger       Logger
}

func newPipeline(logger Logger) *pipeline {
	return &pipeline{logger: logger}
}

func (p *pipeline) register(i Interceptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interceptors = append(p.interceptors, i)
}

func (p *pipeline) snapshot() []Interceptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Interceptor, len(p.interceptors))
	copy(out, p.interceptors)
	return out
}

func (p *pipeline) beforeSend(ctx context.Context, method, url string, header http.Header, body []byte) {
	for _, i := range p.snapshot() {
		p.invoke(ctx, func() { i.BeforeSend(method, url, header, body) })
	}
}

func (p *pipeline) afterReceive(ctx context.Context, resp *Response) {
	for _, i := range p.snapshot() {
		p.invoke(ctx, func() { i.AfterReceive(resp) })
	}
}

func (p *pipeline) invoke(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn(ctx, "interceptor panicked", "panic", r)
		}
	}()
	fn()
}

// TimingInterceptor records wall-clock latency per request, correlating the
// before/after halves through the X-Request-ID header the executor stamps on
// every attempt.
type TimingInterceptor struct {
	mu      sync.Mutex
	started map[string]time.Time
	logger  Logger
}

func NewTimingInterceptor(logger Logger) *TimingInterceptor {
	if logger == nil {
		logger = NopLogger{}
	}
	return &TimingInterceptor{
		started: make(map[string]time.Time),
		logger:  logger,
	}
}

func (t *TimingInterceptor) BeforeSend(method, url string, header http.Header, body []byte) {
	id := header.Get(headerRequestID)
	if id == "" {
		return
	}
	t.mu.Lock()
	t.started[id] = time.Now()
	t.mu.Unlock()
}

func (t *TimingInterceptor) AfterReceive(resp *Response) {
	if resp == nil || resp.Request == nil {
		return
	}
	id := resp.Request.id
	t.mu.Lock()
	start, ok := t.started[id]
	delete(t.started, id)
	t.mu.Unlock()
	if !ok {
		return
	}
	t.logger.Debug(context.Background(), "request timed",
		"method", resp.Request.Method,
		"path", resp.Request.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)
}
