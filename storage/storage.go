// Package storage defines interfaces for persisting authorization and
// polling sessions. It supports various backend implementations; the broker
// ships with an in-memory one suitable for single-instance deployments.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by stores. Callers are expected to match them
// with errors.Is and translate them at the service boundary.
var (
	// ErrSessionNotFound indicates the authorization session does not exist
	// or has already expired.
	ErrSessionNotFound = errors.New("authorization session not found")

	// ErrSessionClaimed indicates the authorization session is already being
	// exchanged by a concurrent request.
	ErrSessionClaimed = errors.New("authorization session already claimed")

	// ErrStateMismatch indicates the state presented at exchange does not
	// match the state bound to the session.
	ErrStateMismatch = errors.New("state parameter mismatch")

	// ErrDuplicateState indicates another live session already uses the same
	// state value. State must be unique among live sessions because the
	// provider callback correlates by state alone.
	ErrDuplicateState = errors.New("state already bound to a live session")

	// ErrPollingSessionNotFound indicates the polling session does not exist
	// or has already expired.
	ErrPollingSessionNotFound = errors.New("polling session not found")
)

// AuthorizationSession holds the PKCE/state/nonce material between the
// initialize and exchange steps of an authorization attempt.
//
// The session is write-once: it is created by initialize, claimed and
// deleted by exchange, and never mutated otherwise. CodeVerifier never
// leaves the server process.
type AuthorizationSession struct {
	ID           string
	State        string
	Nonce        string
	CodeVerifier string
	RedirectURI  string
	CreatedAt    time.Time
	ExpiresAt    time.Time

	// Claimed marks the session as consumed by an in-flight exchange.
	// Managed by the store, not by callers.
	Claimed bool
}

// PollingStatus is the lifecycle state of a polling session.
type PollingStatus string

const (
	PollingPending   PollingStatus = "pending"
	PollingCompleted PollingStatus = "completed"
	PollingError     PollingStatus = "error"
)

// PollingResult is the terminal outcome delivered by the provider callback:
// either an authorization code + state, or a provider error.
type PollingResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// PollingSession holds cross-origin delivery state between polling/start
// and polling/status. It is matched by State when the provider callback
// arrives, because the callback cannot know the polling ID.
type PollingSession struct {
	ID          string
	SessionID   string
	State       string
	Status      PollingStatus
	Result      *PollingResult
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt time.Time
}

// SessionStore manages authorization sessions.
// All methods accept context.Context for tracing and cancellation.
type SessionStore interface {
	// SaveSession stores a new authorization session. Fails with
	// ErrDuplicateState if another live session carries the same state.
	SaveSession(ctx context.Context, session *AuthorizationSession) error

	// GetSession retrieves a session by ID. Expired sessions are evicted
	// lazily and reported as ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*AuthorizationSession, error)

	// ClaimSession atomically validates the presented state against the
	// session and marks the session as claimed. Exactly one of two
	// concurrent exchange attempts can succeed; the loser observes
	// ErrSessionClaimed. A state mismatch leaves the session unclaimed so
	// the client can retry with the correct state.
	//
	// SECURITY: this is the synchronization point that guarantees
	// at-most-once use of an authorization code. It MUST run before any
	// network call to the provider.
	ClaimSession(ctx context.Context, sessionID, state string) (*AuthorizationSession, error)

	// ReleaseSession clears the claimed mark so a failed exchange can be
	// retried while the session lives. No-op if the session is gone.
	ReleaseSession(ctx context.Context, sessionID string) error

	// DeleteSession removes a session. Idempotent.
	DeleteSession(ctx context.Context, sessionID string) error
}

// PollingStore manages cross-origin polling sessions.
// All methods accept context.Context for tracing and cancellation.
type PollingStore interface {
	// SavePollingSession stores a new polling session.
	SavePollingSession(ctx context.Context, session *PollingSession) error

	// GetPollingSession retrieves a polling session by ID. Expired entries
	// are evicted lazily and reported as ErrPollingSessionNotFound.
	GetPollingSession(ctx context.Context, pollingID string) (*PollingSession, error)

	// UpdateByState finds the pending polling session bound to state and
	// transitions it to completed or error exactly once. Returns whether an
	// update occurred; no pending match (already resolved, expired, or
	// never created) is a silent no-op, not an error.
	UpdateByState(ctx context.Context, state string, result *PollingResult) (bool, error)
}

// Stats reports live entry counts for readiness payloads and debugging.
// Optional; implemented by stores that can enumerate their entries.
type Stats interface {
	SessionStats() SessionStats
	PollingStats() PollingStats
}

// SessionStats summarizes the authorization session store.
type SessionStats struct {
	Total   int `json:"total"`
	Claimed int `json:"claimed"`
}

// PollingStats summarizes the polling session store.
type PollingStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Error     int `json:"error"`
}
