// Package testutil provides testing helpers shared by the broker's test
// suites.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// GenerateRandomString generates a random base64url string of the given
// byte length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("testutil: failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateTestToken creates a provider-side OAuth2 token for tests.
func GenerateTestToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  GenerateRandomString(32),
		TokenType:    "Bearer",
		RefreshToken: GenerateRandomString(32),
		Expiry:       time.Now().Add(1 * time.Hour),
	}
}

// SignIDToken builds a provider-style ID token signed with an arbitrary
// key. The broker only decodes provider ID tokens without verification, so
// the key never needs to match anything.
func SignIDToken(claims map[string]any) string {
	mapClaims := jwt.MapClaims{
		"iss": "https://idp.test.certilia.com",
		"aud": "test-client",
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	for k, v := range claims {
		mapClaims[k] = v
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString([]byte("provider-signing-key"))
	if err != nil {
		panic(fmt.Sprintf("testutil: failed to sign ID token: %v", err))
	}
	return token
}

// TokenWithIDToken attaches an ID token to a provider token the way the
// oauth2 package delivers it, as an extra field.
func TokenWithIDToken(token *oauth2.Token, idToken string) *oauth2.Token {
	return token.WithExtra(map[string]any{"id_token": idToken})
}
