package broker

import (
	"time"

	"github.com/e-id/certilia-oauth/credential"
)

// InitializeResponse is returned by GET /auth/initialize.
type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	SessionID        string `json:"session_id"`
	State            string `json:"state"`
}

// ExchangeRequest is the body of POST /auth/exchange.
type ExchangeRequest struct {
	Code      string `json:"code"`
	State     string `json:"state"`
	SessionID string `json:"session_id"`
}

// UserPayload is the client-facing projection of a resolved identity.
type UserPayload struct {
	Subject     string `json:"sub"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	OIB         string `json:"oib,omitempty"`
	Email       string `json:"email,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// ExchangeResponse is the credential pair plus the user projection.
type ExchangeResponse struct {
	credential.Pair
	User UserPayload `json:"user"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// StartPollingRequest is the body of POST /auth/polling/start.
type StartPollingRequest struct {
	State     string `json:"state"`
	SessionID string `json:"session_id"`
}

// StartPollingResponse identifies the created polling session.
type StartPollingResponse struct {
	PollingID string    `json:"pollingId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PollingResultPayload is the delivered authorization code, exposed only
// once the session is completed.
type PollingResultPayload struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// PollingStatusResponse is returned by GET /auth/polling/{id}/status.
// Result is set when completed; Error/ErrorDescription when the provider
// reported a failure; a missing or expired session yields status
// "not_found" with an explanatory Error.
type PollingStatusResponse struct {
	Status           string                `json:"status"`
	CreatedAt        *time.Time            `json:"createdAt,omitempty"`
	ExpiresAt        *time.Time            `json:"expiresAt,omitempty"`
	Result           *PollingResultPayload `json:"result,omitempty"`
	Error            string                `json:"error,omitempty"`
	ErrorDescription string                `json:"errorDescription,omitempty"`
}

// UserResponse wraps the authenticated user's claims for GET /auth/user.
type UserResponse struct {
	User map[string]any `json:"user"`
}

// ExtendedUserResponse carries freshly resolved identity claims together
// with where they came from: the provider's userinfo endpoint, or the
// credential itself when the provider refused the stored token.
type ExtendedUserResponse struct {
	User   map[string]any `json:"user"`
	Source string         `json:"source"`
}

// MessageResponse is a plain acknowledgment payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the readiness payload of GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Provider string         `json:"provider"`
	Stats    map[string]any `json:"stats,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}
