// Package watch is the supervisor that ties the pieces of a running
// client together: one session store, one stream client, one credential
// refresher, and one orphan detector, plus a filesystem watch on the
// credential file so a logout performed by another process re-arms orphan
// detection here.
package watch

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"

	"github.com/mlahtinen/syncwatch/internal/job"
	"github.com/mlahtinen/syncwatch/internal/orphan"
	"github.com/mlahtinen/syncwatch/internal/refresh"
	"github.com/mlahtinen/syncwatch/internal/session"
	"github.com/mlahtinen/syncwatch/internal/stream"
	"github.com/mlahtinen/syncwatch/internal/tokenfile"
)

// API is the server surface the supervisor needs. api.Client satisfies it.
type API interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Cancel(ctx context.Context, sessionID string) error
	ActiveJob(ctx context.Context) (*job.OrphanedSession, error)
}

// Outcome says why a watch ended.
type Outcome int

// Watch outcomes.
const (
	// OutcomeCompleted means the stream delivered its terminal event.
	OutcomeCompleted Outcome = iota
	// OutcomeConnectionLost means the reconnect budget was exhausted. The
	// job may still be running server-side.
	OutcomeConnectionLost
	// OutcomeAuthFailure means the refresh token was rejected and the
	// credential has been removed.
	OutcomeAuthFailure
	// OutcomeDetached means the caller's context was canceled, typically
	// by SIGINT. The job keeps running server-side.
	OutcomeDetached
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeConnectionLost:
		return "connection lost"
	case OutcomeAuthFailure:
		return "auth failure"
	case OutcomeDetached:
		return "detached"
	default:
		return "unknown"
	}
}

type result struct {
	outcome Outcome
	err     error
}

// Options configures a Watcher. API, Holder, and Store are required.
type Options struct {
	API    API
	Holder *tokenfile.Holder
	Store  *session.Store
	Logger *slog.Logger

	// SyncBaseURL is the root of the sync endpoints for the event stream.
	SyncBaseURL string
	// StreamClient must have no overall timeout.
	StreamClient *http.Client
	ClientID     string

	// Render hooks forwarded to the stream client, for progress output.
	OnItem        func(stream.ItemUpdate)
	OnPhaseChange func(stream.PhaseChange)

	// Refresher tuning; zero values take the refresh package defaults.
	RefreshInterval time.Duration
	ExpiryThreshold time.Duration
	MinRefreshGap   time.Duration

	// Stream tuning; zero values take the stream package defaults.
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// Watcher supervises one watch of one session. Construct with New, run
// with Run; the components it wires are reusable across sessions but a
// Watcher itself runs once.
type Watcher struct {
	api       API
	holder    *tokenfile.Holder
	store     *session.Store
	stream    *stream.Client
	refresher *refresh.Refresher
	detector  *orphan.Detector
	activity  *refresh.Activity
	logger    *slog.Logger

	done chan result
}

// New wires the supervisor. The stream's terminal callbacks and the
// refresher's auth-failure callback all land in the watcher's done
// channel; the first one wins.
func New(opts Options) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		api:      opts.API,
		holder:   opts.Holder,
		store:    opts.Store,
		activity: &refresh.Activity{},
		logger:   logger,
		done:     make(chan result, 1),
	}

	w.refresher = refresh.New(refresh.Options{
		Holder:   opts.Holder,
		Refresh:  opts.API.Refresh,
		Activity: w.activity,
		OnAuthFailure: func() {
			w.finish(result{outcome: OutcomeAuthFailure})
		},
		Logger:    logger,
		Interval:  opts.RefreshInterval,
		Threshold: opts.ExpiryThreshold,
		MinGap:    opts.MinRefreshGap,
	})

	w.detector = orphan.New(opts.API, opts.Store, func() bool {
		return opts.Holder.Token() != nil
	}, logger)

	w.stream = stream.New(stream.Options{
		SyncBaseURL: opts.SyncBaseURL,
		HTTPClient:  opts.StreamClient,
		Token:       opts.Holder,
		Store:       opts.Store,
		Activity:    w.activity,
		ClientID:    opts.ClientID,
		Logger:      logger,
		Callbacks: stream.Callbacks{
			OnItem:        opts.OnItem,
			OnPhaseChange: opts.OnPhaseChange,
			OnComplete: func(stream.SyncComplete) {
				w.finish(result{outcome: OutcomeCompleted})
			},
			OnConnectionLost: func(err error) {
				w.finish(result{outcome: OutcomeConnectionLost, err: err})
			},
		},
		MaxAttempts:    opts.MaxReconnectAttempts,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
	})

	return w
}

// finish records the first terminal result; later ones are dropped.
func (w *Watcher) finish(r result) {
	select {
	case w.done <- r:
	default:
	}
}

// Store returns the shared session store.
func (w *Watcher) Store() *session.Store {
	return w.store
}

// Detector returns the orphan detector, for probing before a watch.
func (w *Watcher) Detector() *orphan.Detector {
	return w.detector
}

// Activity returns the shared activity tracker. CLI commands record on it
// so user-initiated actions count toward the refresh gate.
func (w *Watcher) Activity() *refresh.Activity {
	return w.activity
}

// Wake asks the refresher for an immediate credential re-evaluation, e.g.
// on SIGCONT after the process was suspended.
func (w *Watcher) Wake() {
	w.refresher.Wake()
}

// Run watches sessionID until it reaches a terminal state, the connection
// is abandoned, the credential is rejected, or ctx is canceled. The store
// is left reflecting whatever happened; the caller renders it.
func (w *Watcher) Run(ctx context.Context, sessionID string) (Outcome, error) {
	w.store.StartSync(sessionID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.refresher.Run(runCtx)
	go w.watchCredentialFile(runCtx)

	w.activity.Record()
	w.stream.Connect(runCtx)

	select {
	case <-ctx.Done():
		w.stream.Disconnect()
		w.logger.Info("detaching from sync session",
			slog.String("session_id", sessionID))

		return OutcomeDetached, nil
	case r := <-w.done:
		w.stream.Disconnect()

		return r.outcome, r.err
	}
}

// Cancel asks the server to cancel the watched job and records the
// cancellation locally. Used by the watch command's interrupt handling
// when the user asked for cancel-on-interrupt.
func (w *Watcher) Cancel(ctx context.Context) error {
	sessionID := w.store.SessionID()
	if sessionID == "" {
		return nil
	}

	w.stream.Disconnect()

	if err := w.api.Cancel(ctx, sessionID); err != nil {
		return err
	}

	w.store.CancelSync()

	return nil
}

// watchCredentialFile re-arms orphan detection when the credential file
// disappears, so a logout done by another process is noticed here. Best
// effort: if the watch cannot be established the feature is skipped.
func (w *Watcher) watchCredentialFile(ctx context.Context) {
	path := w.holder.Path()
	if path == "" {
		return
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Debug("credential file watch unavailable",
			slog.String("error", err.Error()))

		return
	}
	defer fw.Close()

	// Watch the directory, not the file: atomic writes replace the inode.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		w.logger.Debug("credential file watch unavailable",
			slog.String("error", err.Error()))

		return
	}

	base := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}

			if filepath.Base(ev.Name) != base {
				continue
			}

			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Info("credential file removed, logged out elsewhere")
				w.holder.Clear()
				w.detector.Rearm()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}

			w.logger.Debug("credential file watch error",
				slog.String("error", err.Error()))
		}
	}
}
