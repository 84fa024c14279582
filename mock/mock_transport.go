// Package mock provides a scriptable http.RoundTripper for exercising the
// client without a live backend. Responses are scripted per METHOD+path;
// every exchange is recorded so tests can assert attempt counts and headers.
package mock

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Reply is one scripted response (or transport error).
type Reply struct {
	Status int
	Body   string
	Header http.Header
	Err    error // returned instead of a response when set
	Delay  time.Duration
}

// Call records one request the transport saw.
type Call struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	At     time.Time
}

// Transport is a scriptable RoundTripper. For each METHOD+path key the
// scripted replies are consumed in order; the last one repeats once the
// script is exhausted. Unscripted paths get 404.
type Transport struct {
	mu      sync.Mutex
	scripts map[string][]Reply
	served  map[string]int
	calls   []Call
}

func NewTransport() *Transport {
	return &Transport{
		scripts: make(map[string][]Reply),
		served:  make(map[string]int),
	}
}

// Stub scripts the replies for method and path (path as seen on the wire,
// including the API version segment, without query).
func (t *Transport) Stub(method, path string, replies ...Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[key(method, path)] = replies
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	t.mu.Lock()
	t.calls = append(t.calls, Call{
		Method: req.Method,
		Path:   req.URL.Path,
		Header: req.Header.Clone(),
		Body:   body,
		At:     time.Now(),
	})
	k := key(req.Method, req.URL.Path)
	replies := t.scripts[k]
	idx := t.served[k]
	t.served[k]++
	t.mu.Unlock()

	if len(replies) == 0 {
		return jsonResponse(req, 404, `{"success":false,"message":"not stubbed"}`, nil), nil
	}
	if idx >= len(replies) {
		idx = len(replies) - 1
	}
	reply := replies[idx]

	if reply.Delay > 0 {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(reply.Delay):
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return jsonResponse(req, reply.Status, reply.Body, reply.Header), nil
}

// Calls returns how many requests hit method+path.
func (t *Transport) Calls(method, path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// TotalCalls returns how many requests the transport saw in total.
func (t *Transport) TotalCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Recorded returns every request to method+path in arrival order.
func (t *Transport) Recorded(method, path string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// LastCall returns the most recent request to method+path, or nil.
func (t *Transport) LastCall(method, path string) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.calls) - 1; i >= 0; i-- {
		if t.calls[i].Method == method && t.calls[i].Path == path {
			c := t.calls[i]
			return &c
		}
	}
	return nil
}

func key(method, path string) string {
	return fmt.Sprintf("%s %s", strings.ToUpper(method), path)
}

func jsonResponse(req *http.Request, status int, body string, header http.Header) *http.Response {
	h := http.Header{}
	for k, vals := range header {
		h[k] = vals
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Request:    req,
	}
}
