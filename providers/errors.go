package providers

import (
	"errors"
	"fmt"
)

// Classification sentinels. Adapters wrap them into *Error so callers can
// branch with errors.Is while keeping the provider's own error text.
var (
	// ErrTokenBinding indicates the userinfo endpoint rejected the token
	// presentation with a 400-class answer even after the POST retry. Some
	// providers bind userinfo access tokens to a transport detail the
	// broker cannot reproduce; callers fall back to ID token claims.
	ErrTokenBinding = errors.New("userinfo rejected token presentation")

	// ErrInvalidAccessToken indicates the provider no longer accepts the
	// access token.
	ErrInvalidAccessToken = errors.New("invalid provider access token")

	// ErrInvalidRefreshToken indicates the provider rejected the refresh
	// token grant.
	ErrInvalidRefreshToken = errors.New("invalid provider refresh token")
)

// Error is a classified provider failure. StatusCode is the provider's
// HTTP status when one was received, 0 for transport failures.
type Error struct {
	// Op is the failing operation ("exchange", "userinfo", "refresh",
	// "revoke", "discovery").
	Op string

	// StatusCode is the provider's HTTP response status, if any.
	StatusCode int

	// Code and Description are the OAuth2 error fields from the provider's
	// response body, when present.
	Code        string
	Description string

	// Err is the classification sentinel or underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s failed", e.Op)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", msg, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the provider's own error text when available, falling
// back to the full error string. Used at the service boundary where the
// provider's description is the most useful thing to surface.
func (e *Error) Message() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Error()
}
