// Package orphan detects jobs left running server-side that this client is
// not attached to — typically after a process restart mid-sync. Detection
// is advisory: it publishes a snapshot for the user to act on and never
// attaches automatically.
package orphan

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mlahtinen/syncwatch/internal/job"
	"github.com/mlahtinen/syncwatch/internal/session"
)

// Finder asks the server whether a job is running for this user. Returns
// nil with no error when there is none. api.Client.ActiveJob satisfies it.
type Finder interface {
	ActiveJob(ctx context.Context) (*job.OrphanedSession, error)
}

// CredentialChecker reports whether a credential is currently available.
// A closure over tokenfile.Holder satisfies it.
type CredentialChecker func() bool

// Detector runs the orphan probe at most once per login. The one-shot
// guard keeps repeated callers from re-querying; Rearm clears it on
// logout so the next login probes again.
type Detector struct {
	finder     Finder
	store      *session.Store
	credential CredentialChecker
	logger     *slog.Logger

	mu       sync.Mutex
	probed   bool
	snapshot *job.OrphanedSession
}

// New creates a Detector.
func New(finder Finder, store *session.Store, credential CredentialChecker, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		finder:     finder,
		store:      store,
		credential: credential,
		logger:     logger,
	}
}

// Detect probes the server for an orphaned job. Preconditions: a
// credential, no active local session, no session id, and not already
// probed. When any fails, the current snapshot (possibly nil) is returned
// unchanged. Probe failures are swallowed — detection is best-effort and
// must never block normal use.
func (d *Detector) Detect(ctx context.Context) *job.OrphanedSession {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.probed || !d.credential() || d.store.Active() || d.store.SessionID() != "" {
		return d.snapshot
	}

	d.probed = true

	found, err := d.finder.ActiveJob(ctx)
	if err != nil {
		d.logger.Debug("orphan probe failed", slog.String("error", err.Error()))

		return d.snapshot
	}

	if found == nil {
		// No job running: drop any stale snapshot.
		d.snapshot = nil

		return nil
	}

	d.logger.Info("found running sync job not attached to this client",
		slog.String("session_id", found.SessionID),
		slog.String("phase", found.Phase.String()),
	)

	d.snapshot = found

	return found
}

// Snapshot returns the published orphaned session, or nil.
func (d *Detector) Snapshot() *job.OrphanedSession {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.snapshot
}

// Dismiss drops the snapshot without touching the server. The one-shot
// guard stays set — dismissed means dismissed until the next login.
func (d *Detector) Dismiss() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snapshot = nil
}

// Rearm clears the one-shot guard and any snapshot. Called when the
// credential is removed so detection runs again on the next login.
func (d *Detector) Rearm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.probed = false
	d.snapshot = nil
}
