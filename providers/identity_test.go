package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromClaims(t *testing.T) {
	id := IdentityFromClaims(map[string]any{
		"sub":         "12345678901",
		"given_name":  "Ivana",
		"family_name": "Horvat",
		"email":       "ivana@example.com",
		"oib":         "12345678901",
		"birthdate":   "1990-01-01",
		"acr":         "urn:certilia:loa:high",
	})

	assert.Equal(t, "12345678901", id.Subject)
	assert.Equal(t, "Ivana", id.GivenName)
	assert.Equal(t, "Horvat", id.FamilyName)
	assert.Equal(t, "Ivana Horvat", id.FullName)
	assert.Equal(t, "ivana@example.com", id.Email)
	assert.Equal(t, "12345678901", id.OIB)
	assert.Equal(t, "1990-01-01", id.BirthDate)
	assert.Equal(t, "urn:certilia:loa:high", id.Extra["acr"])
	assert.NotContains(t, id.Extra, "sub")
}

func TestIdentityFromClaimsOIBFallbacks(t *testing.T) {
	// pin claim fills OIB when no oib claim exists
	id := IdentityFromClaims(map[string]any{"sub": "abc-123", "pin": "98765432109"})
	assert.Equal(t, "98765432109", id.OIB)

	// sub is the last resort
	id = IdentityFromClaims(map[string]any{"sub": "12345678901"})
	assert.Equal(t, "12345678901", id.OIB)

	// an explicit oib claim wins over pin
	id = IdentityFromClaims(map[string]any{"oib": "11111111111", "pin": "22222222222"})
	assert.Equal(t, "11111111111", id.OIB)
}

func TestIdentityFromClaimsFullNameComposed(t *testing.T) {
	id := IdentityFromClaims(map[string]any{"given_name": "Ivana"})
	assert.Equal(t, "Ivana", id.FullName)

	id = IdentityFromClaims(map[string]any{"name": "Dr. Ivana Horvat", "given_name": "Ivana", "family_name": "Horvat"})
	assert.Equal(t, "Dr. Ivana Horvat", id.FullName)
}

func TestIdentityClaimsRoundTrip(t *testing.T) {
	id := &Identity{
		Subject:    "12345678901",
		GivenName:  "Ivana",
		FamilyName: "Horvat",
		FullName:   "Ivana Horvat",
		Email:      "ivana@example.com",
		OIB:        "12345678901",
		BirthDate:  "1990-01-01",
		Extra:      map[string]any{"acr": "high"},
	}

	claims := id.Claims()
	assert.Equal(t, "12345678901", claims["sub"])
	assert.Equal(t, "Ivana", claims["given_name"])
	assert.Equal(t, "Horvat", claims["family_name"])
	assert.Equal(t, "high", claims["acr"])

	back := IdentityFromClaims(claims)
	assert.Equal(t, id.Subject, back.Subject)
	assert.Equal(t, id.OIB, back.OIB)
	assert.Equal(t, id.Email, back.Email)
}

func TestMergeIdentitiesIDTokenWins(t *testing.T) {
	userinfo := &Identity{
		Subject:   "12345678901",
		GivenName: "Iva",
		Email:     "old@example.com",
		BirthDate: "1990-01-01",
		Extra:     map[string]any{"locale": "hr", "source": "userinfo"},
	}
	idToken := &Identity{
		Subject:   "12345678901",
		GivenName: "Ivana",
		Email:     "ivana@example.com",
		Extra:     map[string]any{"source": "id_token"},
	}

	merged := MergeIdentities(userinfo, idToken)
	assert.Equal(t, "Ivana", merged.GivenName, "ID token claim wins on conflict")
	assert.Equal(t, "ivana@example.com", merged.Email)
	assert.Equal(t, "1990-01-01", merged.BirthDate, "userinfo fills what the ID token lacks")
	assert.Equal(t, "id_token", merged.Extra["source"])
	assert.Equal(t, "hr", merged.Extra["locale"])
}

func TestMergeIdentitiesNil(t *testing.T) {
	id := &Identity{Subject: "12345678901"}
	assert.Equal(t, id, MergeIdentities(nil, id))
	assert.Equal(t, id, MergeIdentities(id, nil))
	assert.Nil(t, MergeIdentities(nil, nil))
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Op: "userinfo", StatusCode: 400, Code: "invalid_request", Description: "token not bound", Err: ErrTokenBinding}
	assert.Contains(t, err.Error(), "userinfo")
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "token not bound")
	assert.Equal(t, "token not bound", err.Message())
	assert.True(t, errors.Is(err, ErrTokenBinding))

	err = &Error{Op: "refresh", StatusCode: 400, Code: "invalid_grant", Err: ErrInvalidRefreshToken}
	assert.Equal(t, "invalid_grant", err.Message())

	err = &Error{Op: "exchange", Err: errors.New("dial tcp: timeout")}
	require.Contains(t, err.Error(), "dial tcp")
	assert.Equal(t, err.Error(), err.Message())
}
