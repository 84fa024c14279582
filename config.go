// config.go
// ----------
// This file defines the Config structure, which carries every tunable of the
// client: where the backend lives, how requests identify the app, how hard the
// executor retries, how often tokens are proactively refreshed, and how long
// cached reads live.
//
// A Config is built once by the embedding application and passed to New; the
// client never reads configuration from globals or the environment.
package ledgerbridge

import "time"

// Config carries client-wide settings. Zero fields are filled in from the
// defaults below when the client is constructed.
type Config struct {
	// BaseURL is the backend origin, e.g. "https://api.example.com". Required.
	BaseURL string
	// APIVersion is the fixed version segment appended to BaseURL, e.g. "api/v1".
	APIVersion string

	// Platform and AppVersion are sent on every request as X-Platform and
	// X-App-Version.
	Platform   string
	AppVersion string

	// RequestTimeout bounds each attempt unless the request overrides it.
	RequestTimeout time.Duration
	// MaxAttempts is the total number of attempts for retryable failures.
	MaxAttempts int
	// BaseBackoff is the linear backoff unit: attempt n waits n * BaseBackoff.
	BaseBackoff time.Duration

	// RefreshInterval is how often the token manager proactively refreshes.
	RefreshInterval time.Duration

	// CacheTTL is the default expiry for cacheable reads; CacheSweepInterval
	// is how often the background sweep reclaims expired entries.
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	// RequestsPerSecond enables a client-side outbound throttle when > 0.
	// ThrottleBurst defaults to MaxAttempts when zero.
	RequestsPerSecond float64
	ThrottleBurst     int
}

const (
	defaultAPIVersion      = "api/v1"
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultBaseBackoff     = time.Second
	defaultRefreshInterval = 45 * time.Minute
	defaultCacheTTL        = 5 * time.Minute
	defaultSweepInterval   = time.Minute
)

// DefaultConfig returns a Config for the given backend origin with all
// defaults applied.
func DefaultConfig(baseURL string) Config {
	cfg := Config{BaseURL: baseURL}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.CacheSweepInterval <= 0 {
		c.CacheSweepInterval = defaultSweepInterval
	}
	if c.ThrottleBurst <= 0 {
		c.ThrottleBurst = c.MaxAttempts
	}
}
