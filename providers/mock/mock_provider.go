// Package mock provides a mock implementation of the Provider interface
// for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/e-id/certilia-oauth/providers"
)

// MockProvider is a configurable Provider for tests. Override the *Func
// fields to shape behavior; CallCounts records invocations per method.
type MockProvider struct {
	NameFunc             func() string
	AuthorizationURLFunc func(params providers.AuthURLParams) string
	ExchangeCodeFunc     func(ctx context.Context, params providers.ExchangeParams) (*oauth2.Token, error)
	FetchUserInfoFunc    func(ctx context.Context, accessToken string) (*providers.Identity, error)
	RefreshTokenFunc     func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	RevokeTokenFunc      func(ctx context.Context, token, tokenTypeHint string) error
	HealthCheckFunc      func(ctx context.Context) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	mu sync.Mutex
}

var _ providers.Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider with working defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(params providers.AuthURLParams) string {
			return fmt.Sprintf("https://mock.example.com/authorize?state=%s&nonce=%s&code_challenge=%s",
				params.State, params.Nonce, params.CodeChallenge)
		},
		ExchangeCodeFunc: func(ctx context.Context, params providers.ExchangeParams) (*oauth2.Token, error) {
			token := &oauth2.Token{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
			}
			return token.WithExtra(map[string]any{"id_token": ""}), nil
		},
		FetchUserInfoFunc: func(ctx context.Context, accessToken string) (*providers.Identity, error) {
			return &providers.Identity{
				Subject:    "12345678901",
				GivenName:  "Mock",
				FamilyName: "User",
				FullName:   "Mock User",
				Email:      "mock@example.com",
				OIB:        "12345678901",
			}, nil
		},
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "new-mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "new-mock-refresh-token",
			}, nil
		},
		RevokeTokenFunc: func(ctx context.Context, token, tokenTypeHint string) error {
			return nil
		},
		HealthCheckFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// record bumps the call counter and returns without holding the lock so
// an override may call other mock methods without deadlocking.
func (m *MockProvider) record(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

// Calls returns how many times method was invoked.
func (m *MockProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

func (m *MockProvider) Name() string {
	m.record("Name")
	if m.NameFunc == nil {
		return "mock"
	}
	return m.NameFunc()
}

func (m *MockProvider) AuthorizationURL(params providers.AuthURLParams) string {
	m.record("AuthorizationURL")
	if m.AuthorizationURLFunc == nil {
		return ""
	}
	return m.AuthorizationURLFunc(params)
}

func (m *MockProvider) ExchangeCode(ctx context.Context, params providers.ExchangeParams) (*oauth2.Token, error) {
	m.record("ExchangeCode")
	if m.ExchangeCodeFunc == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not set")
	}
	return m.ExchangeCodeFunc(ctx, params)
}

func (m *MockProvider) FetchUserInfo(ctx context.Context, accessToken string) (*providers.Identity, error) {
	m.record("FetchUserInfo")
	if m.FetchUserInfoFunc == nil {
		return nil, fmt.Errorf("FetchUserInfoFunc not set")
	}
	return m.FetchUserInfoFunc(ctx, accessToken)
}

func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	m.record("RefreshToken")
	if m.RefreshTokenFunc == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not set")
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockProvider) RevokeToken(ctx context.Context, token, tokenTypeHint string) error {
	m.record("RevokeToken")
	if m.RevokeTokenFunc == nil {
		return nil
	}
	return m.RevokeTokenFunc(ctx, token, tokenTypeHint)
}

func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.record("HealthCheck")
	if m.HealthCheckFunc == nil {
		return nil
	}
	return m.HealthCheckFunc(ctx)
}
