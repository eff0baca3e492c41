package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Subject
// identifiers are hashed before they reach the log sink.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	SessionID string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"session_id", event.SessionID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogFlowInitialized logs the start of an authorization attempt
func (a *Auditor) LogFlowInitialized(sessionID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "authorization_flow_initialized",
		SessionID: sessionID,
		IPAddress: ipAddress,
	})
}

// LogCredentialIssued logs a successful credential pair issuance
func (a *Auditor) LogCredentialIssued(subject, sessionID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "credential_issued",
		Subject:   subject,
		SessionID: sessionID,
		IPAddress: ipAddress,
	})
}

// LogCredentialRefreshed logs a refresh-grant reissuance
func (a *Auditor) LogCredentialRefreshed(subject, ipAddress string) {
	a.LogEvent(Event{
		Type:      "credential_refreshed",
		Subject:   subject,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs a failed authentication or exchange attempt
func (a *Auditor) LogAuthFailure(sessionID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		SessionID: sessionID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRevocationFailure logs a best-effort provider revocation failure
func (a *Auditor) LogRevocationFailure(subject, tokenTypeHint string, err error) {
	a.LogEvent(Event{
		Type:    "provider_revocation_failed",
		Subject: subject,
		Details: map[string]any{
			"token_type_hint": tokenTypeHint,
			"error":           err.Error(),
		},
	})
}

// hashForLogging returns a truncated SHA-256 of a sensitive value so audit
// entries can be correlated without exposing the value itself.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
