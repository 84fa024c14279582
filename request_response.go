package ledgerbridge

import (
	"net/http"
	"net/url"
	"time"
)

// Request describes a single logical call against the backend. Treat it as
// immutable once passed to the client: the executor reads it across attempts
// and the cache fingerprints it.
type Request struct {
	// Method is one of GET, POST, PUT, PATCH, DELETE.
	Method string
	// Path is the resource path below the API version segment, e.g. "/debts".
	Path string
	// Query parameters, sorted into the cache fingerprint.
	Query url.Values
	// Body is the structured request payload, encoded as JSON when non-nil.
	Body Payload
	// Header carries per-call header overrides.
	Header http.Header

	// UseAuth attaches the current access token and arms the single
	// refresh-and-retry cycle on a 401.
	UseAuth bool

	// Timeout overrides the configured per-attempt timeout when > 0.
	Timeout time.Duration

	// Cacheable marks the call as an idempotent read served through the
	// response cache. Only honored for GET.
	Cacheable bool
	// ForceRefresh bypasses the cache read but still writes through on success.
	ForceRefresh bool
	// CacheTTL overrides the configured default expiry when > 0.
	CacheTTL time.Duration

	// id correlates attempts, interceptors and cancellation. Assigned by the
	// client when the request is submitted.
	id string
}

// ID returns the request's correlation identifier, usable with Client.Cancel.
// Empty until the request has been submitted.
func (r *Request) ID() string { return r.id }

func (r *Request) fingerprint() string {
	return fingerprint(r.Method, r.Path, r.Query)
}

// Response is the envelope for a completed 2xx exchange (or a cache hit).
// Created only by the executor.
type Response struct {
	StatusCode int
	// Body is the parsed structured payload.
	Body Payload
	// RawLength is the size of the response body in bytes; zero on cache hits.
	RawLength int
	// Request is the originating descriptor, for interceptor context.
	Request *Request
	// FromCache is true when the envelope was served without a transport call.
	FromCache bool
}
