// Package credential issues and verifies the broker's own signed token
// pair. After a successful provider exchange the broker does not hand the
// provider's tokens to the client directly; it wraps the resolved identity
// in its own HS256-signed access/refresh pair and embeds the provider
// tokens inside the access token payload for follow-up provider calls.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type distinguishes the two credentials of a pair. Every verification
// checks the type claim so the two are never interchangeable.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Verification errors. Callers match them with errors.Is and translate
// them at the service boundary.
var (
	// ErrExpired indicates the credential is past its expiry.
	ErrExpired = errors.New("credential expired")

	// ErrMalformed indicates the credential failed signature or structural
	// validation.
	ErrMalformed = errors.New("malformed credential")

	// ErrWrongType indicates a valid credential presented where the other
	// type was required.
	ErrWrongType = errors.New("wrong credential type")
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// ProviderTokens is the provider's own token set, embedded opaquely in the
// access token payload. The client never inspects it; the broker reads it
// back for refresh, logout and userinfo calls against the provider.
type ProviderTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// Pair is an issued access/refresh credential pair as returned to clients.
type Pair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	TokenType        string `json:"tokenType"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

// Config configures the codec.
type Config struct {
	// Secret is the symmetric signing secret. Required.
	Secret string

	// Issuer is the iss claim stamped on every issued credential.
	Issuer string

	// AccessTokenTTL is the access token lifetime. Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime. Default: 7 days.
	RefreshTokenTTL time.Duration
}

// Service signs and verifies credentials. Purely CPU-bound; no I/O.
type Service struct {
	secret          []byte
	issuer          string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// New creates a credential service from config, applying defaults for
// unset TTLs.
func New(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("credential: signing secret is required")
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}

	return &Service{
		secret:          []byte(cfg.Secret),
		issuer:          cfg.Issuer,
		accessTokenTTL:  cfg.AccessTokenTTL,
		refreshTokenTTL: cfg.RefreshTokenTTL,
	}, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (s *Service) AccessTokenTTL() time.Duration { return s.accessTokenTTL }

// RefreshTokenTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTokenTTL() time.Duration { return s.refreshTokenTTL }

// IssuePair issues a fresh access/refresh pair for subject.
//
// The access token carries the identity claims flattened at top level plus
// the provider token set under provider_tokens. The refresh token carries
// the subject only, so refreshed access tokens never replay stale claims.
// Each token gets its own jti.
func (s *Service) IssuePair(subject string, identityClaims map[string]any, providerTokens *ProviderTokens) (*Pair, error) {
	now := time.Now().UTC()

	accessClaims := jwt.MapClaims{}
	for k, v := range identityClaims {
		accessClaims[k] = v
	}
	accessClaims["sub"] = subject
	accessClaims["type"] = string(TypeAccess)
	accessClaims["jti"] = uuid.New().String()
	accessClaims["iat"] = jwt.NewNumericDate(now)
	accessClaims["exp"] = jwt.NewNumericDate(now.Add(s.accessTokenTTL))
	if s.issuer != "" {
		accessClaims["iss"] = s.issuer
	}
	if providerTokens != nil {
		accessClaims["provider_tokens"] = providerTokens
	}

	accessToken, err := s.sign(accessClaims)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refreshClaims := jwt.MapClaims{
		"sub":  subject,
		"type": string(TypeRefresh),
		"jti":  uuid.New().String(),
		"iat":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(now.Add(s.refreshTokenTTL)),
	}
	if s.issuer != "" {
		refreshClaims["iss"] = s.issuer
	}

	refreshToken, err := s.sign(refreshClaims)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessTokenTTL.Seconds()),
		RefreshExpiresIn: int64(s.refreshTokenTTL.Seconds()),
	}, nil
}

func (s *Service) sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates signature, expiry and the type claim, and returns the
// decoded payload. Expiry is reported as ErrExpired, any signature or
// structural problem as ErrMalformed, and a valid credential of the other
// type as ErrWrongType.
func (s *Service) Verify(tokenString string, expectedType Type) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	tokenType, _ := claims["type"].(string)
	if tokenType != string(expectedType) {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongType, tokenType, expectedType)
	}

	return claims, nil
}

// DecodeUnsafe decodes a token payload without verifying the signature.
//
// SECURITY: only for reading claims out of a just-received provider ID
// token whose trust comes from the TLS channel to the provider. Never use
// it to authorize the broker's own credentials.
func DecodeUnsafe(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// ProviderTokensFromClaims extracts the embedded provider token set from a
// verified access token payload. Returns nil if absent.
func ProviderTokensFromClaims(claims jwt.MapClaims) *ProviderTokens {
	raw, ok := claims["provider_tokens"].(map[string]any)
	if !ok {
		return nil
	}

	pt := &ProviderTokens{}
	if v, ok := raw["access_token"].(string); ok {
		pt.AccessToken = v
	}
	if v, ok := raw["refresh_token"].(string); ok {
		pt.RefreshToken = v
	}
	if v, ok := raw["id_token"].(string); ok {
		pt.IDToken = v
	}
	if v, ok := raw["expires_in"].(float64); ok {
		pt.ExpiresIn = int64(v)
	}
	return pt
}
