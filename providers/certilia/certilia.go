// Package certilia implements the providers.Provider interface for the
// Certilia identity provider, the OIDC front of the Croatian eID scheme.
//
// Certilia has two quirks the adapter absorbs: its discovery document
// lives under a non-standard path, and its userinfo endpoint sometimes
// refuses bearer-header presentation with a 400, in which case the token
// must be re-sent once as a POST form field.
package certilia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/e-id/certilia-oauth/internal/util"
	"github.com/e-id/certilia-oauth/providers"
)

// Defaults matching the Certilia test environment.
const (
	DefaultBaseURL = "https://idp.test.certilia.com"

	authPath      = "/oauth2/authorize"
	tokenPath     = "/oauth2/token"
	userInfoPath  = "/oauth2/userinfo"
	revokePath    = "/oauth2/revoke"
	discoveryPath = "/oauth2/oidcdiscovery/.well-known/openid-configuration"

	// DefaultTimeout bounds every provider call.
	DefaultTimeout = 30 * time.Second
)

// DefaultScopes requested when the config does not override them.
// offline_access makes Certilia return a refresh token.
var DefaultScopes = []string{"openid", "profile", "eid", "email", "offline_access"}

// Config holds Certilia client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// BaseURL is the Certilia IdP origin. Default: the test environment.
	BaseURL string

	// Scopes override DefaultScopes when non-empty.
	Scopes []string

	// Timeout bounds each provider call. Default: 30s.
	Timeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Provider implements providers.Provider for Certilia.
type Provider struct {
	config     *oauth2.Config
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	discovery  *discoveryClient
}

var _ providers.Provider = (*Provider)(nil)

// New creates a Certilia provider.
func New(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	baseURL := util.NormalizeURL(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + authPath,
				TokenURL: baseURL + tokenPath,
			},
		},
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
		discovery:  newDiscoveryClient(baseURL+discoveryPath, httpClient, 0, logger),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "certilia"
}

// AuthorizationURL builds the Certilia authorization URL. prompt=login
// forces re-authentication so a stale IdP browser session is never
// silently reused.
func (p *Provider) AuthorizationURL(params providers.AuthURLParams) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("prompt", "login"),
	}
	if params.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", params.Nonce))
	}
	if params.CodeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", params.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	cfg := p.config
	if params.RedirectURI != "" {
		tempConfig := *p.config
		tempConfig.RedirectURL = params.RedirectURI
		cfg = &tempConfig
	}

	return cfg.AuthCodeURL(params.State, opts...)
}

func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// ExchangeCode runs the authorization_code grant with the PKCE verifier.
// A 400 from the token endpoint surfaces Certilia's error_description.
func (p *Provider) ExchangeCode(ctx context.Context, params providers.ExchangeParams) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	var opts []oauth2.AuthCodeOption
	if params.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(params.CodeVerifier))
	}

	cfg := p.config
	if params.RedirectURI != "" {
		tempConfig := *p.config
		tempConfig.RedirectURL = params.RedirectURI
		cfg = &tempConfig
	}

	token, err := cfg.Exchange(ctx, params.Code, opts...)
	if err != nil {
		return nil, classifyTokenEndpointError("exchange", err, nil)
	}

	return token, nil
}

// RefreshToken runs the refresh_token grant. Certilia answers 400 for a
// rejected refresh token, reported as ErrInvalidRefreshToken.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	source := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classifyTokenEndpointError("refresh", err, providers.ErrInvalidRefreshToken)
	}

	return token, nil
}

// classifyTokenEndpointError turns an oauth2 failure into a classified
// *providers.Error. badRequestErr, when non-nil, is attached to 400
// answers so callers can match the rejection with errors.Is.
func classifyTokenEndpointError(op string, err error, badRequestErr error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		perr := &providers.Error{
			Op:          op,
			StatusCode:  retrieveErr.Response.StatusCode,
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Err:         err,
		}
		if retrieveErr.Response.StatusCode == http.StatusBadRequest && badRequestErr != nil {
			perr.Err = badRequestErr
		}
		return perr
	}
	return &providers.Error{Op: op, Err: err}
}

// FetchUserInfo resolves the identity from Certilia's userinfo endpoint.
//
// GET with bearer auth is tried first. On a 400 the access token is
// re-sent exactly once as a POST form field; a final 400 is classified as
// ErrTokenBinding so the caller can fall back to ID token claims. A 401
// means the token itself is no longer accepted.
func (p *Provider) FetchUserInfo(ctx context.Context, accessToken string) (*providers.Identity, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	endpoint := p.baseURL + userInfoPath

	status, body, err := p.userInfoGet(ctx, endpoint, accessToken)
	if err != nil {
		return nil, &providers.Error{Op: "userinfo", Err: err}
	}

	if status == http.StatusBadRequest {
		p.logger.Info("GET userinfo rejected, retrying as POST",
			"provider", p.Name())
		status, body, err = p.userInfoPost(ctx, endpoint, accessToken)
		if err != nil {
			return nil, &providers.Error{Op: "userinfo", Err: err}
		}
	}

	switch {
	case status == http.StatusOK:
		var claims map[string]any
		if err := json.Unmarshal(body, &claims); err != nil {
			return nil, &providers.Error{Op: "userinfo", StatusCode: status,
				Err: fmt.Errorf("decoding userinfo response: %w", err)}
		}
		return providers.IdentityFromClaims(claims), nil

	case status == http.StatusUnauthorized:
		perr := providerErrorFromBody("userinfo", status, body)
		perr.Err = providers.ErrInvalidAccessToken
		return nil, perr

	case status == http.StatusBadRequest:
		perr := providerErrorFromBody("userinfo", status, body)
		perr.Err = providers.ErrTokenBinding
		return nil, perr

	default:
		p.logger.Warn("unexpected userinfo response",
			"status", status,
			"body", util.SafeTruncate(string(body), 256))
		return nil, providerErrorFromBody("userinfo", status, body)
	}
}

func (p *Provider) userInfoGet(ctx context.Context, endpoint, accessToken string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	return p.doRead(req)
}

func (p *Provider) userInfoPost(ctx context.Context, endpoint, accessToken string) (int, []byte, error) {
	form := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return p.doRead(req)
}

func (p *Provider) doRead(req *http.Request) (int, []byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// providerErrorFromBody builds a *providers.Error carrying the OAuth2
// error fields from a provider response body, when it has any.
func providerErrorFromBody(op string, status int, body []byte) *providers.Error {
	perr := &providers.Error{Op: op, StatusCode: status}

	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil {
		perr.Code = oauthErr.Error
		perr.Description = oauthErr.ErrorDescription
	}
	return perr
}

// RevokeToken revokes a token at Certilia per RFC 7009. Callers treat
// failures as advisory; the broker logs and discards them.
func (p *Provider) RevokeToken(ctx context.Context, token, tokenTypeHint string) error {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	form := url.Values{
		"token":         {token},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
	}
	if tokenTypeHint != "" {
		form.Set("token_type_hint", tokenTypeHint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+revokePath, strings.NewReader(form.Encode()))
	if err != nil {
		return &providers.Error{Op: "revoke", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, body, err := p.doRead(req)
	if err != nil {
		return &providers.Error{Op: "revoke", Err: err}
	}

	// RFC 7009: 200 covers both revoked and already-invalid tokens
	if status != http.StatusOK {
		return providerErrorFromBody("revoke", status, body)
	}

	return nil
}

// Discover returns Certilia's OIDC discovery document, cached.
func (p *Provider) Discover(ctx context.Context) (*DiscoveryDocument, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()
	return p.discovery.Discover(ctx)
}

// HealthCheck verifies Certilia is reachable by fetching the discovery
// document. Do not expose the returned error text to untrusted clients.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := p.Discover(ctx); err != nil {
		return fmt.Errorf("certilia provider unreachable: %w", err)
	}
	return nil
}
