// Package refresh implements the activity-gated credential refresher: the
// credential is renewed only when it is near expiry AND the user has been
// recently active. An idle client lets its credential lapse on purpose —
// that is what keeps a forgotten background process from holding a session
// open forever.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mlahtinen/syncwatch/internal/api"
	"github.com/mlahtinen/syncwatch/internal/tokenfile"
)

// Defaults. The idle cutoff is threshold + interval: anyone active within
// one full check cycle of the expiry window counts as watching.
const (
	defaultInterval  = 30 * time.Second
	defaultThreshold = 2 * time.Minute
	defaultMinGap    = 10 * time.Second
)

// RefreshFunc exchanges a refresh token for a new credential.
// api.Client.Refresh satisfies it.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Options configures a Refresher.
type Options struct {
	Holder   *tokenfile.Holder
	Refresh  RefreshFunc
	Activity *Activity
	// OnAuthFailure fires when the refresh token itself is rejected
	// (401/403): the credential has been removed and the caller should
	// send the user back to login.
	OnAuthFailure func()
	Logger        *slog.Logger

	// Zero values take the package defaults above.
	Interval  time.Duration
	Threshold time.Duration
	MinGap    time.Duration
}

// Refresher periodically re-evaluates the stored credential and refreshes
// it when both gates pass. Attempts are serialized (concurrent triggers
// collapse into one in-flight call) and rate-limited (a minimum gap
// between attempts regardless of trigger source), so near-simultaneous
// wake + interval + stream-activity triggers cannot cause a storm.
type Refresher struct {
	holder        *tokenfile.Holder
	refresh       RefreshFunc
	activity      *Activity
	onAuthFailure func()
	logger        *slog.Logger

	interval  time.Duration
	threshold time.Duration

	limiter *rate.Limiter
	group   singleflight.Group
	wake    chan struct{}

	// now is the clock; tests override it.
	now func() time.Time
}

// New creates a Refresher. Holder, Refresh, and Activity are required.
func New(opts Options) *Refresher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := opts.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}

	minGap := opts.MinGap
	if minGap == 0 {
		minGap = defaultMinGap
	}

	return &Refresher{
		holder:        opts.Holder,
		refresh:       opts.Refresh,
		activity:      opts.Activity,
		onAuthFailure: opts.OnAuthFailure,
		logger:        logger,
		interval:      interval,
		threshold:     threshold,
		limiter:       rate.NewLimiter(rate.Every(minGap), 1),
		wake:          make(chan struct{}, 1),
		now:           time.Now,
	}
}

// Run evaluates the credential every interval and on every Wake until ctx
// is canceled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.check(ctx)
		case <-r.wake:
			r.check(ctx)
		}
	}
}

// Wake requests an immediate re-evaluation, e.g. when the process resumes
// from suspension or the stream reattaches. Non-blocking; a pending wake
// coalesces with this one.
func (r *Refresher) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// check applies the two gates and, when both pass, attempts one refresh.
func (r *Refresher) check(ctx context.Context) {
	tok := r.holder.Token()
	if tok == nil {
		return
	}

	now := r.now()

	if !r.holder.ExpiresWithin(now, r.threshold) {
		return
	}

	last := r.activity.Last()
	idleCutoff := r.threshold + r.interval

	if last.IsZero() || now.Sub(last) > idleCutoff {
		r.logger.Debug("credential near expiry but user idle, letting it lapse",
			slog.Time("last_activity", last),
		)

		return
	}

	if !r.limiter.Allow() {
		return
	}

	_, err, _ := r.group.Do("refresh", func() (any, error) {
		newTok, refreshErr := r.refresh(ctx, tok.RefreshToken)
		if refreshErr != nil {
			return nil, refreshErr
		}

		r.holder.Set(newTok)

		return nil, nil
	})

	if err == nil {
		r.logger.Info("credential refreshed")
		return
	}

	if api.CredentialInvalid(err) {
		r.logger.Error("refresh token rejected, logging out",
			slog.String("error", err.Error()),
		)

		if logoutErr := r.holder.Logout(); logoutErr != nil {
			r.logger.Warn("failed to remove credential file",
				slog.String("error", logoutErr.Error()),
			)
		}

		if r.onAuthFailure != nil {
			r.onAuthFailure()
		}

		return
	}

	// Transient (network-level) failure: the next cycle retries.
	r.logger.Warn("credential refresh failed, will retry",
		slog.String("error", err.Error()),
	)
}
