// failure.go
// ----------
// Every unsuccessful call resolves to a Failure drawn from a closed set of
// kinds. Classification is a pure mapping from a transport outcome or HTTP
// status to a kind; retryability, user-actionability and forced-logout are
// properties of the kind, never of the call site. A Failure is immutable after
// construction — refinement happens by deriving, not mutating.
package ledgerbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/opsledger/ledger-bridge/internal"
)

// FailureKind is the closed taxonomy of request failures.
type FailureKind string

const (
	KindNoConnection       FailureKind = "no_connection"
	KindTimeout            FailureKind = "timeout"
	KindBadRequest         FailureKind = "bad_request"
	KindUnauthorized       FailureKind = "unauthorized"
	KindForbidden          FailureKind = "forbidden"
	KindNotFound           FailureKind = "not_found"
	KindConflict           FailureKind = "conflict"
	KindValidation         FailureKind = "validation"
	KindRateLimited        FailureKind = "rate_limited"
	KindServerError        FailureKind = "server_error"
	KindServiceUnavailable FailureKind = "service_unavailable"
	KindParseError         FailureKind = "parse_error"
	KindInvalidRequest     FailureKind = "invalid_request"
	KindUnknown            FailureKind = "unknown"
)

// AuthReason refines auth-flavored failures using the machine error code the
// backend puts in the response body.
type AuthReason string

const (
	AuthNone               AuthReason = ""
	AuthInvalidCredentials AuthReason = "invalid_credentials"
	AuthAccountLocked      AuthReason = "account_locked"
	AuthEmailUnverified    AuthReason = "email_not_verified"
	AuthWeakPassword       AuthReason = "weak_password"
	AuthEmailExists        AuthReason = "email_exists"
)

// Failure is the terminal outcome of an unsuccessful call.
type Failure struct {
	Kind       FailureKind
	Message    string
	StatusCode int           // 0 when there was no HTTP exchange
	ErrorCode  string        // machine code from the response body, if any
	Details    Payload       // structured details from the response body, if any
	RetryAfter time.Duration // server-suggested wait, only on rate limiting
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", f.Kind, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Retryable reports whether the executor may retry a call that failed this way.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case KindNoConnection, KindTimeout, KindServerError, KindServiceUnavailable:
		return true
	}
	return false
}

// RequiresUserAction reports whether recovering needs input from the user
// rather than a retry (fix the form, log in again, resolve the conflict).
func (f *Failure) RequiresUserAction() bool {
	switch f.Kind {
	case KindBadRequest, KindUnauthorized, KindForbidden, KindNotFound, KindConflict, KindValidation:
		return true
	}
	return false
}

// ForcesLogout reports whether the failure implies the session is no longer
// usable and the caller should be returned to an unauthenticated state.
func (f *Failure) ForcesLogout() bool {
	return f.Kind == KindUnauthorized
}

// AuthReason derives the authentication-specific refinement of this failure
// from its kind and machine error code. AuthNone when the failure is not an
// auth-flavored kind or carries no recognized code.
func (f *Failure) AuthReason() AuthReason {
	switch f.Kind {
	case KindUnauthorized, KindForbidden, KindConflict, KindValidation:
	default:
		return AuthNone
	}
	switch f.ErrorCode {
	case "invalid_credentials", "INVALID_CREDENTIALS":
		return AuthInvalidCredentials
	case "account_locked", "ACCOUNT_LOCKED":
		return AuthAccountLocked
	case "email_not_verified", "EMAIL_NOT_VERIFIED":
		return AuthEmailUnverified
	case "weak_password", "WEAK_PASSWORD":
		return AuthWeakPassword
	case "email_exists", "EMAIL_EXISTS":
		return AuthEmailExists
	}
	return AuthNone
}

// classifyTransport maps an error from the HTTP transport (no completed
// exchange) to a Failure. Context cancellation is not a Failure and must be
// handled by the caller before classification.
func classifyTransport(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, Message: "request timed out"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Kind: KindTimeout, Message: "request timed out"}
	}
	return &Failure{Kind: KindNoConnection, Message: err.Error()}
}

// classifyHTTP maps a completed non-2xx exchange to a Failure using the fixed
// status table. Pure function of its inputs.
func classifyHTTP(status int, header http.Header, body Payload) *Failure {
	f := &Failure{
		Kind:       kindForStatus(status),
		StatusCode: status,
		Message:    body.Message(),
		ErrorCode:  body.ErrorCode(),
	}
	if f.Message == "" {
		f.Message = http.StatusText(status)
	}
	if details, ok := body.Object("details"); ok {
		f.Details = details
	} else if details, ok := body.Object("errors"); ok {
		f.Details = details
	}
	if f.Kind == KindRateLimited {
		if d, ok := internal.RetryAfter(header.Get("Retry-After"), time.Now()); ok {
			f.RetryAfter = d
		}
	}
	return f
}

func kindForStatus(status int) FailureKind {
	switch status {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusInternalServerError:
		return KindServerError
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServiceUnavailable
	}
	return KindUnknown
}

// parseFailure wraps a body that completed over HTTP but could not be decoded.
func parseFailure(status int, err error) *Failure {
	return &Failure{
		Kind:       KindParseError,
		StatusCode: status,
		Message:    fmt.Sprintf("unparseable response body: %v", err),
	}
}

// invalidRequestFailure covers descriptors that cannot be turned into an HTTP
// request at all (bad method, unbuildable URL, unencodable body).
func invalidRequestFailure(msg string) *Failure {
	return &Failure{Kind: KindInvalidRequest, Message: msg}
}

// noConnectionFailure is the short-circuit result when connectivity is known
// to be down before any transport attempt.
func noConnectionFailure() *Failure {
	return &Failure{Kind: KindNoConnection, Message: "device is offline"}
}

// unauthorizedFailure is the fail-fast result for authenticated calls made
// while no token exists at all.
func unauthorizedFailure(msg string) *Failure {
	return &Failure{Kind: KindUnauthorized, Message: msg}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
