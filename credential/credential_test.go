package credential

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{
		Secret: "test-secret-0123456789abcdef",
		Issuer: "certilia-oauth-test",
	})
	require.NoError(t, err)
	return svc
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	svc, err := New(Config{Secret: "s"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, svc.AccessTokenTTL())
	assert.Equal(t, 7*24*time.Hour, svc.RefreshTokenTTL())
}

func TestIssuePair(t *testing.T) {
	svc := newTestService(t)

	pair, err := svc.IssuePair("user-123", map[string]any{
		"first_name": "Ivana",
		"last_name":  "Horvat",
		"oib":        "12345678901",
	}, &ProviderTokens{
		AccessToken:  "provider-access",
		RefreshToken: "provider-refresh",
		IDToken:      "provider-id",
		ExpiresIn:    300,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(3600), pair.ExpiresIn)
	assert.Equal(t, int64(7*24*3600), pair.RefreshExpiresIn)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
}

func TestAccessTokenPayload(t *testing.T) {
	svc := newTestService(t)

	pair, err := svc.IssuePair("user-123", map[string]any{
		"first_name": "Ivana",
		"email":      "ivana@example.com",
	}, &ProviderTokens{AccessToken: "provider-access", ExpiresIn: 300})
	require.NoError(t, err)

	claims, err := svc.Verify(pair.AccessToken, TypeAccess)
	require.NoError(t, err)

	assert.Equal(t, "user-123", claims["sub"])
	assert.Equal(t, "access", claims["type"])
	assert.Equal(t, "certilia-oauth-test", claims["iss"])
	assert.Equal(t, "Ivana", claims["first_name"])
	assert.Equal(t, "ivana@example.com", claims["email"])
	assert.NotEmpty(t, claims["jti"])
	assert.NotNil(t, claims["iat"])
	assert.NotNil(t, claims["exp"])

	pt := ProviderTokensFromClaims(claims)
	require.NotNil(t, pt)
	assert.Equal(t, "provider-access", pt.AccessToken)
	assert.Equal(t, int64(300), pt.ExpiresIn)
}

func TestRefreshTokenPayloadIsMinimal(t *testing.T) {
	svc := newTestService(t)

	pair, err := svc.IssuePair("user-123", map[string]any{
		"first_name": "Ivana",
		"oib":        "12345678901",
	}, &ProviderTokens{AccessToken: "provider-access"})
	require.NoError(t, err)

	claims, err := svc.Verify(pair.RefreshToken, TypeRefresh)
	require.NoError(t, err)

	assert.Equal(t, "user-123", claims["sub"])
	assert.Equal(t, "refresh", claims["type"])
	assert.NotEmpty(t, claims["jti"])

	// No identity claims and no provider tokens replayed via refresh
	assert.NotContains(t, claims, "first_name")
	assert.NotContains(t, claims, "oib")
	assert.NotContains(t, claims, "provider_tokens")
}

func TestFreshTokenIDs(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.IssuePair("user-123", nil, nil)
	require.NoError(t, err)
	second, err := svc.IssuePair("user-123", nil, nil)
	require.NoError(t, err)

	firstClaims, err := svc.Verify(first.AccessToken, TypeAccess)
	require.NoError(t, err)
	secondClaims, err := svc.Verify(second.AccessToken, TypeAccess)
	require.NoError(t, err)
	refreshClaims, err := svc.Verify(first.RefreshToken, TypeRefresh)
	require.NoError(t, err)

	assert.NotEqual(t, firstClaims["jti"], secondClaims["jti"])
	assert.NotEqual(t, firstClaims["jti"], refreshClaims["jti"])
}

func TestVerifyWrongType(t *testing.T) {
	svc := newTestService(t)

	pair, err := svc.IssuePair("user-123", nil, nil)
	require.NoError(t, err)

	_, err = svc.Verify(pair.AccessToken, TypeRefresh)
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = svc.Verify(pair.RefreshToken, TypeAccess)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestVerifyExpired(t *testing.T) {
	svc, err := New(Config{
		Secret:         "test-secret",
		AccessTokenTTL: -time.Minute,
	})
	require.NoError(t, err)

	pair, err := svc.IssuePair("user-123", nil, nil)
	require.NoError(t, err)

	_, err = svc.Verify(pair.AccessToken, TypeAccess)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyMalformed(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"truncated", "eyJhbGciOiJIUzI1NiJ9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token, TypeAccess)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	svc := newTestService(t)
	other, err := New(Config{Secret: "a-different-secret"})
	require.NoError(t, err)

	pair, err := other.IssuePair("user-123", nil, nil)
	require.NoError(t, err)

	_, err = svc.Verify(pair.AccessToken, TypeAccess)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	svc := newTestService(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "user-123",
		"type": "access",
		"exp":  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(tokenString, TypeAccess)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnsafe(t *testing.T) {
	// An ID token signed by an unrelated key still decodes
	other, err := New(Config{Secret: "provider-side-secret"})
	require.NoError(t, err)

	pair, err := other.IssuePair("user-123", map[string]any{"nonce": "abc"}, nil)
	require.NoError(t, err)

	claims, err := DecodeUnsafe(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims["sub"])
	assert.Equal(t, "abc", claims["nonce"])

	_, err = DecodeUnsafe("garbage")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestProviderTokensFromClaimsAbsent(t *testing.T) {
	assert.Nil(t, ProviderTokensFromClaims(jwt.MapClaims{"sub": "user-123"}))
}
