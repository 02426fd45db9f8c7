// Package session holds the client's single source of truth for sync
// progress: session identity, transport status, phase, item counters, the
// failed-item list, and the latest user-visible message. The Store is pure
// state plus transition methods — no I/O happens here; the stream client
// and the CLI drive it.
package session

import (
	"log/slog"
	"sync"

	"github.com/mlahtinen/syncwatch/internal/job"
)

// ConnectionState is the transport-layer status, orthogonal to the job's
// phase: the pipe can be down while the job keeps running server-side.
type ConnectionState string

// Transport states.
const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	ConnError    ConnectionState = "error"
)

// Default messages set by transitions that carry none of their own.
const (
	startingMessage  = "Starting sync..."
	completeMessage  = "Sync complete"
	cancelledMessage = "Sync cancelled"
)

// State is one observable snapshot of the session. SessionID is "" when no
// session exists; Phase is "" until the server reports one.
type State struct {
	SessionID       string
	IsActive        bool
	ConnectionState ConnectionState
	Phase           job.Phase
	Stats           job.Stats
	Message         string
	Err             error
	FailedItems     []job.FailedItem
}

// Store owns the session state. There is one shared instance per running
// client, injected into the components that need it; every mutation goes
// through a named transition method, never direct field writes. All
// transitions are total: any call in any state produces a valid state.
type Store struct {
	mu     sync.RWMutex
	state  State
	logger *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		state:  initialState(),
		logger: logger,
	}
}

func initialState() State {
	return State{ConnectionState: Disconnected}
}

// Snapshot returns a copy of the current state. The FailedItems slice is
// copied so callers can hold snapshots across later mutations.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.state
	if len(s.state.FailedItems) > 0 {
		snap.FailedItems = make([]job.FailedItem, len(s.state.FailedItems))
		copy(snap.FailedItems, s.state.FailedItems)
	}

	return snap
}

// SessionID returns the current session id, "" when none.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.SessionID
}

// Active reports whether a session is live (started and not yet terminal).
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.IsActive
}

// StartSync begins tracking a new session. Counters, failed items, and the
// transport error are reset unconditionally — starting a new session
// discards the previous session's history.
func (s *Store) StartSync(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{
		SessionID:       sessionID,
		IsActive:        true,
		ConnectionState: Connecting,
		Phase:           job.PhaseValidating,
		Message:         startingMessage,
	}

	s.logger.Info("sync session started", slog.String("session_id", sessionID))
}

// UpdateConnectionState records transport status without touching phase or
// stats, keeping "is the pipe open" decoupled from "is the job moving".
func (s *Store) UpdateConnectionState(cs ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ConnectionState = cs
}

// UpdateProgress overwrites phase and stats with the server's snapshot.
// An empty message keeps the previous one, so events that omit it do not
// clobber the last meaningful status line.
func (s *Store) UpdateProgress(phase job.Phase, stats job.Stats, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Phase = phase
	s.state.Stats = stats

	if message != "" {
		s.state.Message = message
	}
}

// AddFailedItem appends to the failed-item list. Never deduplicates: if
// the server re-reports an item, it is recorded twice.
func (s *Store) AddFailedItem(itemID, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.FailedItems = append(s.state.FailedItems, job.FailedItem{
		ItemID: itemID,
		Error:  errMsg,
	})
}

// SetError records or clears (err == nil) the transport-level error,
// independent of job phase.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Err = err
}

// CompleteSync records the terminal phase and final counters, deactivates
// the session, and marks the transport disconnected. An empty message
// defaults to "Sync complete".
func (s *Store) CompleteSync(phase job.Phase, stats job.Stats, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message == "" {
		message = completeMessage
	}

	s.state.Phase = phase
	s.state.Stats = stats
	s.state.Message = message
	s.state.IsActive = false
	s.state.ConnectionState = Disconnected

	s.logger.Info("sync session finished",
		slog.String("session_id", s.state.SessionID),
		slog.String("phase", phase.String()),
		slog.Int("failed_items", len(s.state.FailedItems)),
	)
}

// CancelSync marks the session cancelled. SessionID and FailedItems are
// preserved so a "what happened" view stays available after cancellation.
func (s *Store) CancelSync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Phase = job.PhaseCancelled
	s.state.Message = cancelledMessage
	s.state.IsActive = false
	s.state.ConnectionState = Disconnected

	s.logger.Info("sync session cancelled", slog.String("session_id", s.state.SessionID))
}

// Reset returns the store to the initial empty state. Idempotent.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = initialState()
}
