// Package broker implements an authentication broker in front of the
// Certilia eID identity provider. It drives the authorization code flow
// with PKCE against the provider and issues its own signed credential
// pair to clients, so downstream services never handle provider tokens
// directly.
package broker

import (
	"fmt"
	"log/slog"

	"github.com/e-id/certilia-oauth/credential"
	"github.com/e-id/certilia-oauth/instrumentation"
	"github.com/e-id/certilia-oauth/providers"
	"github.com/e-id/certilia-oauth/security"
	"github.com/e-id/certilia-oauth/storage"
)

// Broker coordinates authorization sessions, the upstream provider and
// credential issuance.
type Broker struct {
	config      *Config
	provider    providers.Provider
	sessions    storage.SessionStore
	polling     storage.PollingStore
	credentials *credential.Service
	logger      *slog.Logger
	auditor     *security.Auditor
	inst        *instrumentation.Instrumentation
}

// New validates the configuration and wires the broker's collaborators.
func New(cfg *Config, provider providers.Provider, sessions storage.SessionStore, polling storage.PollingStore, credentials *credential.Service) (*Broker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if polling == nil {
		return nil, fmt.Errorf("polling store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential service is required")
	}

	return &Broker{
		config:      cfg,
		provider:    provider,
		sessions:    sessions,
		polling:     polling,
		credentials: credentials,
		logger:      cfg.Logger,
		auditor:     security.NewAuditor(cfg.Logger, cfg.AuditLogging),
	}, nil
}

// SetInstrumentation attaches metrics and tracing. Optional; the broker
// works without it.
func (b *Broker) SetInstrumentation(inst *instrumentation.Instrumentation) {
	b.inst = inst
}

// Provider exposes the configured upstream provider.
func (b *Broker) Provider() providers.Provider {
	return b.provider
}

func (b *Broker) metrics() *instrumentation.Metrics {
	if b.inst == nil {
		return nil
	}
	return b.inst.Metrics()
}
