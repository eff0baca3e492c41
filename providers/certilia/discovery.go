package certilia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DiscoveryDocument is the OpenID Connect provider metadata published by
// Certilia. Served through the broker's discovery passthrough so clients
// never talk to the IdP origin directly.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	JWKSUri                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// discoveryClient fetches and caches the discovery document. Certilia
// publishes it under a non-standard path, so the URL is fixed at
// construction rather than derived from the issuer.
type discoveryClient struct {
	url        string
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	cached    *DiscoveryDocument
	fetchedAt time.Time
}

func newDiscoveryClient(url string, httpClient *http.Client, cacheTTL time.Duration, logger *slog.Logger) *discoveryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &discoveryClient{
		url:        url,
		httpClient: httpClient,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// Discover returns the discovery document, fetching it at most once per
// cache TTL.
func (c *discoveryClient) Discover(ctx context.Context) (*DiscoveryDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < c.cacheTTL {
		c.logger.Debug("OIDC discovery cache hit", "url", c.url)
		return c.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching OIDC discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery failed with status %d", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding discovery document: %w", err)
	}

	if doc.Issuer == "" || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing required endpoints")
	}

	c.cached = &doc
	c.fetchedAt = time.Now()

	c.logger.Debug("OIDC discovery successful",
		"issuer", doc.Issuer,
		"token_endpoint", doc.TokenEndpoint)

	return &doc, nil
}
