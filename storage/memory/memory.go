// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for single-instance deployments and tests;
// a restart discards all pending flows, which only forces users to
// re-authenticate.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e-id/certilia-oauth/instrumentation"
	"github.com/e-id/certilia-oauth/security"
	"github.com/e-id/certilia-oauth/storage"
)

// Store is a thread-safe in-memory session store with background
// cleanup of expired entries.
type Store struct {
	mu sync.Mutex

	sessions     map[string]*storage.AuthorizationSession // keyed by session ID
	sessionState map[string]string                        // state -> session ID
	polling      map[string]*storage.PollingSession       // keyed by polling ID

	// Atomic counters for metrics (lock-free access during collection)
	sessionsCountAtomic atomic.Int64
	pollingCountAtomic  atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.SessionStore = (*Store)(nil)
	_ storage.PollingStore = (*Store)(nil)
	_ storage.Stats        = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute
// is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		sessions:        make(map[string]*storage.AuthorizationSession),
		sessionState:    make(map[string]string),
		polling:         make(map[string]*storage.PollingSession),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation registers the store size gauges. Callbacks read the
// atomic counters so metric collection never takes the store lock.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}

	s.mu.Lock()
	s.sessionsCountAtomic.Store(int64(len(s.sessions)))
	s.pollingCountAtomic.Store(int64(len(s.polling)))
	s.mu.Unlock()

	err := inst.RegisterStoreSizeCallbacks(
		func() int64 { return s.sessionsCountAtomic.Load() },
		func() int64 { return s.pollingCountAtomic.Load() },
	)
	if err != nil {
		s.logger.Warn("Failed to register store size callbacks", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// SessionStore
// ============================================================

// SaveSession stores an authorization session. The session state must be
// unique among live sessions; a duplicate is rejected with
// ErrDuplicateState.
func (s *Store) SaveSession(ctx context.Context, session *storage.AuthorizationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.sessionState[session.State]; ok {
		if existing, ok := s.sessions[existingID]; ok && !security.IsExpired(existing.ExpiresAt) {
			return storage.ErrDuplicateState
		}
		// The previous holder expired; evict it and reuse the state slot.
		s.deleteSessionLocked(existingID)
	}

	cp := *session
	s.sessions[session.ID] = &cp
	s.sessionState[session.State] = session.ID
	s.sessionsCountAtomic.Store(int64(len(s.sessions)))

	return nil
}

// GetSession retrieves a session by ID. Expired sessions are evicted and
// reported as not found.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*storage.AuthorizationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}

	if security.IsExpired(session.ExpiresAt) {
		s.deleteSessionLocked(sessionID)
		return nil, storage.ErrSessionNotFound
	}

	cp := *session
	return &cp, nil
}

// ClaimSession atomically validates the state and marks the session as
// claimed, guaranteeing at most one successful claim per session. A state
// mismatch leaves the session unclaimed so a client with the correct state
// can still proceed.
func (s *Store) ClaimSession(ctx context.Context, sessionID, state string) (*storage.AuthorizationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}

	if security.IsExpired(session.ExpiresAt) {
		s.deleteSessionLocked(sessionID)
		return nil, storage.ErrSessionNotFound
	}

	if session.State != state {
		return nil, storage.ErrStateMismatch
	}

	if session.Claimed {
		return nil, storage.ErrSessionClaimed
	}

	session.Claimed = true

	cp := *session
	return &cp, nil
}

// ReleaseSession clears the claimed flag so a failed exchange can be
// retried. Releasing a missing session is a no-op.
func (s *Store) ReleaseSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		session.Claimed = false
	}
	return nil
}

// DeleteSession removes a session. Deleting a missing session is a no-op.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteSessionLocked(sessionID)
	return nil
}

// deleteSessionLocked removes a session and its state index entry.
// Caller must hold s.mu.
func (s *Store) deleteSessionLocked(sessionID string) {
	if session, ok := s.sessions[sessionID]; ok {
		if s.sessionState[session.State] == sessionID {
			delete(s.sessionState, session.State)
		}
		delete(s.sessions, sessionID)
		s.sessionsCountAtomic.Store(int64(len(s.sessions)))
	}
}

// ============================================================
// PollingStore
// ============================================================

// SavePollingSession stores a cross-origin polling session.
func (s *Store) SavePollingSession(ctx context.Context, session *storage.PollingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.polling[session.ID] = &cp
	s.pollingCountAtomic.Store(int64(len(s.polling)))

	return nil
}

// GetPollingSession retrieves a polling session by ID. Expired sessions
// are evicted and reported as not found.
func (s *Store) GetPollingSession(ctx context.Context, pollingID string) (*storage.PollingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.polling[pollingID]
	if !ok {
		return nil, storage.ErrPollingSessionNotFound
	}

	if security.IsExpired(session.ExpiresAt) {
		delete(s.polling, pollingID)
		s.pollingCountAtomic.Store(int64(len(s.polling)))
		return nil, storage.ErrPollingSessionNotFound
	}

	cp := *session
	return &cp, nil
}

// UpdateByState transitions the pending polling session matching the
// given state to its terminal status. Only the first transition wins;
// repeated callbacks for the same state and callbacks with no pending
// match are silent no-ops.
func (s *Store) UpdateByState(ctx context.Context, state string, result *storage.PollingResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.polling {
		if session.State != state {
			continue
		}
		if security.IsExpired(session.ExpiresAt) {
			continue
		}
		if session.Status != storage.PollingPending {
			continue
		}

		if result != nil && result.Error != "" {
			session.Status = storage.PollingError
		} else {
			session.Status = storage.PollingCompleted
		}
		if result != nil {
			cp := *result
			session.Result = &cp
		}
		session.CompletedAt = time.Now()
		return true, nil
	}

	return false, nil
}

// ============================================================
// Stats
// ============================================================

// SessionStats returns counts of live and claimed authorization sessions.
func (s *Store) SessionStats() storage.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats storage.SessionStats
	for _, session := range s.sessions {
		if security.IsExpired(session.ExpiresAt) {
			continue
		}
		stats.Total++
		if session.Claimed {
			stats.Claimed++
		}
	}
	return stats
}

// PollingStats returns counts of live polling sessions by status.
func (s *Store) PollingStats() storage.PollingStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats storage.PollingStats
	for _, session := range s.polling {
		if security.IsExpired(session.ExpiresAt) {
			continue
		}
		stats.Total++
		switch session.Status {
		case storage.PollingPending:
			stats.Pending++
		case storage.PollingCompleted:
			stats.Completed++
		case storage.PollingError:
			stats.Error++
		}
	}
	return stats
}

// SessionCount returns the number of stored authorization sessions,
// including any not yet swept. Lock-free.
func (s *Store) SessionCount() int64 {
	return s.sessionsCountAtomic.Load()
}

// PollingCount returns the number of stored polling sessions, including
// any not yet swept. Lock-free.
func (s *Store) PollingCount() int64 {
	return s.pollingCountAtomic.Load()
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	// Expired authorization sessions (with clock skew grace period)
	for sessionID, session := range s.sessions {
		if security.IsExpired(session.ExpiresAt) {
			s.deleteSessionLocked(sessionID)
			cleaned++
		}
	}

	// Expired polling sessions, terminal or not
	for pollingID, session := range s.polling {
		if security.IsExpired(session.ExpiresAt) {
			delete(s.polling, pollingID)
			cleaned++
		}
	}
	s.pollingCountAtomic.Store(int64(len(s.polling)))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"count", cleaned,
			"sessions_remaining", len(s.sessions),
			"polling_remaining", len(s.polling))
	}
}
