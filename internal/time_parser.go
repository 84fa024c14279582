// internal/time_parser.go
// ------------------------
// This internal package provides helper functions for parsing time values that
// arrive on the wire. The backend (and any proxy in front of it) reports
// throttling via the Retry-After header, which is either a delay in whole
// seconds or an HTTP-date; both forms are normalized into a time.Duration.
package internal

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryAfter converts a Retry-After header value into a duration relative to
// now. It accepts the delta-seconds form ("120") and the HTTP-date form
// ("Wed, 21 Oct 2015 07:28:00 GMT"). The second return value is false when the
// value is empty or unparseable, or when the parsed moment is in the past.
func RetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d <= 0 {
		return 0, false
	}
	return d, true
}
