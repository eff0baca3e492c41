package broker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e-id/certilia-oauth/internal/util"
)

// Default lifetimes for the in-flight artifacts of an authorization flow.
const (
	DefaultSessionTTL = 10 * time.Minute
	DefaultPollingTTL = 10 * time.Minute
)

// Default per-IP rate limit applied to the public endpoints.
const (
	DefaultRateLimitPerSecond = 10
	DefaultRateLimitBurst     = 20
	DefaultRateLimitEntries   = 10000
)

// Config carries the broker-wide settings. Zero values are replaced with
// safe defaults by Validate.
type Config struct {
	// Issuer is the value placed in the iss claim of issued credentials.
	Issuer string

	// ServerURL is the public base URL of this broker, used for the
	// redirect URI and security headers.
	ServerURL string

	// SessionTTL bounds how long an authorization session may wait for
	// its code exchange.
	SessionTTL time.Duration

	// PollingTTL bounds how long a polling session stays queryable.
	PollingTTL time.Duration

	RateLimitPerSecond int
	RateLimitBurst     int
	RateLimitEntries   int

	// TrustProxy enables X-Forwarded-For parsing for client IPs.
	TrustProxy        bool
	TrustedProxyCount int

	// AuditLogging enables the structured security audit trail.
	AuditLogging bool

	// Development relaxes transport checks for local runs.
	Development bool

	Logger *slog.Logger
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	c.ServerURL = util.NormalizeURL(c.ServerURL)
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.PollingTTL == 0 {
		c.PollingTTL = DefaultPollingTTL
	}
	if c.PollingTTL < 0 {
		return fmt.Errorf("polling TTL must be positive")
	}
	if c.RateLimitPerSecond == 0 {
		c.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = DefaultRateLimitBurst
	}
	if c.RateLimitEntries == 0 {
		c.RateLimitEntries = DefaultRateLimitEntries
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// RedirectURI is the callback endpoint registered with the provider.
func (c *Config) RedirectURI() string {
	return c.ServerURL + "/auth/callback"
}
