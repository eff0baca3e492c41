// Package providers defines the interface for OIDC identity providers and
// the identity claim model the broker resolves from them. The broker ships
// with an adapter for the Certilia eID scheme and a mock for tests.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// AuthURLParams carries the per-session material baked into an
// authorization URL.
type AuthURLParams struct {
	// State is the CSRF correlation value round-tripped through the provider.
	State string

	// Nonce is embedded in the ID token to defend against replay.
	Nonce string

	// CodeChallenge is the S256 PKCE challenge derived from the session's
	// code verifier.
	CodeChallenge string

	// RedirectURI overrides the configured redirect URI when set.
	RedirectURI string
}

// ExchangeParams carries the inputs of an authorization code exchange.
type ExchangeParams struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// Provider is the capability surface the broker needs from an identity
// provider: building the authorization URL plus the four token-endpoint
// operations.
type Provider interface {
	// Name returns the provider name (e.g. "certilia").
	Name() string

	// AuthorizationURL builds the URL to redirect users to for
	// authentication. Deterministic; no I/O.
	AuthorizationURL(params AuthURLParams) string

	// ExchangeCode exchanges an authorization code for the provider's
	// token set using the PKCE verifier.
	ExchangeCode(ctx context.Context, params ExchangeParams) (*oauth2.Token, error)

	// FetchUserInfo resolves the authenticated identity from the userinfo
	// endpoint. Failures are classified: ErrInvalidAccessToken for a
	// rejected token, ErrTokenBinding when the endpoint refuses the token
	// presentation itself and the caller should fall back to ID token
	// claims.
	FetchUserInfo(ctx context.Context, accessToken string) (*Identity, error)

	// RefreshToken runs the refresh_token grant. A provider-side rejection
	// of the token is reported as ErrInvalidRefreshToken.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokeToken revokes a token at the provider. tokenTypeHint is
	// "access_token" or "refresh_token" per RFC 7009.
	RevokeToken(ctx context.Context, token, tokenTypeHint string) error

	// HealthCheck verifies the provider is reachable, for readiness probes
	// and startup validation.
	HealthCheck(ctx context.Context) error
}
