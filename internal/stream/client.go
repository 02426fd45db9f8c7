// Package stream implements the reconnecting event-stream client: it owns
// at most one live SSE connection per active session, translates typed
// progress events into session.Store transitions, and retries dropped
// connections with bounded exponential backoff.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	sse "github.com/tmaxmax/go-sse"

	"github.com/mlahtinen/syncwatch/internal/job"
	"github.com/mlahtinen/syncwatch/internal/session"
)

// Reconnection defaults: delay for attempt n (0-indexed) is
// min(initial * 2^n, max), and after maxReconnectAttempts scheduled
// retries the next failure is terminal.
const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// TokenSource provides the bearer token placed in the stream URL's query
// string (the push channel is plain HTTP server-push and cannot carry
// custom headers). tokenfile.Holder.Bearer satisfies it.
type TokenSource interface {
	Bearer() (string, error)
}

// ActivityRecorder receives a ping for every event the stream delivers,
// feeding the activity-gated credential refresher. refresh.Activity
// satisfies it.
type ActivityRecorder interface {
	Record()
}

// Options configures a Client.
type Options struct {
	// SyncBaseURL is the root of the sync endpoints, without trailing slash.
	SyncBaseURL string
	// HTTPClient must have no overall timeout — the stream is long-lived.
	HTTPClient *http.Client
	Token      TokenSource
	Store      *session.Store
	Activity   ActivityRecorder
	Callbacks  Callbacks
	ClientID   string
	Logger     *slog.Logger

	// Zero values take the package defaults above.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client is the reconnecting event-stream client. All state transitions it
// performs go through the injected session.Store; all event handling runs
// on a single dispatcher goroutine per connection, so mutations are never
// applied concurrently.
//
// Every Connect starts a new epoch; Disconnect and terminal events bump
// the epoch so that stale reconnect timers and in-flight stream loops from
// a superseded connection discard their results instead of resurrecting a
// dead session.
type Client struct {
	syncBase   string
	httpClient *http.Client
	token      TokenSource
	store      *session.Store
	activity   ActivityRecorder
	callbacks  Callbacks
	clientID   string
	logger     *slog.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.Mutex
	epoch    uint64
	attempts int
	timer    *time.Timer
	cancel   context.CancelFunc

	// afterFunc schedules reconnects. Defaults to time.AfterFunc; tests
	// override it to capture delays without waiting.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// noopActivity is used when no recorder is supplied.
type noopActivity struct{}

func (noopActivity) Record() {}

// New creates a stream client. Store and Token are required; everything
// else has defaults.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	activity := opts.Activity
	if activity == nil {
		activity = noopActivity{}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	initialBackoff := opts.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = defaultInitialBackoff
	}

	maxBackoff := opts.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = defaultMaxBackoff
	}

	return &Client{
		syncBase:       opts.SyncBaseURL,
		httpClient:     httpClient,
		token:          opts.Token,
		store:          opts.Store,
		activity:       activity,
		callbacks:      opts.Callbacks,
		clientID:       opts.ClientID,
		logger:         logger,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		afterFunc:      time.AfterFunc,
	}
}

// Connect opens the stream for the store's current session. Preconditions:
// a session id, a credential, and an active session. If any is missing the
// call is a logged no-op, not an error. A previous connection, if any, is
// superseded.
func (c *Client) Connect(ctx context.Context) {
	sessionID := c.store.SessionID()

	tok, err := c.token.Bearer()
	if err != nil {
		tok = ""
	}

	if sessionID == "" || tok == "" || !c.store.Active() {
		c.logger.Info("stream connect skipped",
			slog.Bool("have_session", sessionID != ""),
			slog.Bool("have_credential", tok != ""),
			slog.Bool("active", c.store.Active()),
		)

		return
	}

	c.mu.Lock()
	c.stopLocked()
	c.epoch++
	epoch := c.epoch
	c.attempts = 0

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("opening event stream", slog.String("session_id", sessionID))

	go c.run(runCtx, epoch, sessionID)
}

// Disconnect tears the connection down: closes the transport, cancels any
// pending reconnect timer, and resets the attempt counter. Idempotent and
// safe to call with no active connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	c.attempts = 0
	c.stopLocked()
	c.mu.Unlock()

	c.store.UpdateConnectionState(session.Disconnected)
}

// stopLocked cancels the running stream loop and any pending reconnect
// timer. Caller holds c.mu.
func (c *Client) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// current reports whether epoch is still the live connection generation.
func (c *Client) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return epoch == c.epoch
}

// run is the dispatcher loop for one connection attempt. It opens the
// transport, applies events in arrival order, and routes failures into the
// reconnect path.
func (c *Client) run(ctx context.Context, epoch uint64, sessionID string) {
	resp, err := c.open(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		c.transportError(ctx, epoch, sessionID, err)

		return
	}

	defer resp.Body.Close()

	var (
		completed bool
		streamErr error
	)

	for ev, readErr := range sse.Read(resp.Body, nil) {
		if readErr != nil {
			streamErr = readErr
			break
		}

		if !c.current(epoch) {
			return
		}

		if c.handleEvent(epoch, ev) {
			completed = true
			break
		}
	}

	if completed {
		c.finish(epoch)
		return
	}

	if ctx.Err() != nil || !c.current(epoch) {
		return
	}

	if streamErr == nil {
		// Server closed the stream without a terminal event.
		streamErr = errors.New("stream: connection closed by server")
	}

	c.transportError(ctx, epoch, sessionID, streamErr)
}

// open performs the HTTP GET for the stream. The credential goes in the
// query string; SSE cannot carry an Authorization header.
func (c *Client) open(ctx context.Context, sessionID string) (*http.Response, error) {
	tok, err := c.token.Bearer()
	if err != nil || tok == "" {
		return nil, fmt.Errorf("stream: no credential available")
	}

	q := url.Values{}
	q.Set("token", tok)
	q.Set("clientId", c.clientID)

	streamURL := c.syncBase + "/sync/stream/" + url.PathEscape(sessionID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: creating request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: opening connection: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		return nil, fmt.Errorf("stream: server returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// handleEvent applies one wire event. Returns true for the terminal
// sync-complete event. A payload that fails to parse is logged and
// dropped — it never throws and never corrupts state.
func (c *Client) handleEvent(epoch uint64, ev sse.Event) bool {
	switch ev.Type {
	case eventConnected:
		var p Connected
		if !c.decode(ev, &p) {
			return false
		}

		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()

		c.store.UpdateConnectionState(session.Connected)
		c.store.UpdateProgress(p.Phase, p.Stats, p.Message)
		c.activity.Record()

		c.logger.Debug("stream attached",
			slog.String("session_id", p.SessionID),
			slog.String("phase", p.Phase.String()),
		)

	case eventItemUpdate:
		var p ItemUpdate
		if !c.decode(ev, &p) {
			return false
		}

		c.store.UpdateProgress(p.Phase, p.Stats, "")

		if p.Status == job.ItemFailed && p.Error != "" {
			c.store.AddFailedItem(p.ItemID, p.Error)
		}

		if c.callbacks.OnItem != nil {
			c.callbacks.OnItem(p)
		}

		c.activity.Record()

	case eventPhaseChange:
		var p PhaseChange
		if !c.decode(ev, &p) {
			return false
		}

		c.store.UpdateProgress(p.Phase, p.Stats, p.Message)

		if c.callbacks.OnPhaseChange != nil {
			c.callbacks.OnPhaseChange(p)
		}

		c.activity.Record()

	case eventComplete:
		var p SyncComplete
		if !c.decode(ev, &p) {
			return false
		}

		c.store.CompleteSync(p.Phase, p.Stats, p.Message)

		if c.callbacks.OnComplete != nil {
			c.callbacks.OnComplete(p)
		}

		c.activity.Record()

		return true

	default:
		c.logger.Debug("ignoring unknown event type", slog.String("type", ev.Type))
	}

	return false
}

// decode unmarshals an event payload, logging and dropping malformed ones.
func (c *Client) decode(ev sse.Event, out any) bool {
	if err := json.Unmarshal([]byte(ev.Data), out); err != nil {
		c.logger.Warn("dropping malformed event payload",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

// finish closes out a connection that saw the terminal event: the epoch
// moves on so a stale reconnect timer from an earlier drop cannot fire
// afterwards.
func (c *Client) finish(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}

	c.epoch++
	c.attempts = 0
	c.stopLocked()
}

// transportError records the failure and either schedules a reconnect or,
// once the attempt budget is spent, surfaces a terminal error. The job's
// phase is never touched here — it may still be running server-side.
func (c *Client) transportError(ctx context.Context, epoch uint64, sessionID string, err error) {
	c.store.SetError(err)
	c.store.UpdateConnectionState(session.ConnError)

	c.mu.Lock()

	if epoch != c.epoch || !c.store.Active() {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.maxAttempts {
		c.epoch++
		c.attempts = 0
		c.stopLocked()
		c.mu.Unlock()

		c.logger.Error("event stream abandoned",
			slog.String("session_id", sessionID),
			slog.Int("attempts", c.maxAttempts),
			slog.String("error", err.Error()),
		)

		if c.callbacks.OnConnectionLost != nil {
			c.callbacks.OnConnectionLost(fmt.Errorf(
				"stream: connection failed after %d attempts: %w", c.maxAttempts, err))
		}

		return
	}

	attempt := c.attempts
	delay := c.backoff(attempt)
	c.attempts++
	c.timer = c.afterFunc(delay, func() {
		c.reconnect(ctx, epoch, sessionID)
	})
	c.mu.Unlock()

	c.logger.Warn("event stream dropped, reconnecting",
		slog.String("session_id", sessionID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// reconnect fires when a backoff timer expires. Stale timers — from a
// superseded epoch, a torn-down client, or a session that has since gone
// inactive — do nothing.
func (c *Client) reconnect(ctx context.Context, epoch uint64, sessionID string) {
	c.mu.Lock()

	if epoch != c.epoch || ctx.Err() != nil || !c.store.Active() {
		c.mu.Unlock()
		return
	}

	c.timer = nil
	c.mu.Unlock()

	c.store.UpdateConnectionState(session.Connecting)

	go c.run(ctx, epoch, sessionID)
}

// backoff returns the delay before reconnect attempt n (0-indexed):
// min(initial * 2^n, max).
func (c *Client) backoff(attempt int) time.Duration {
	d := c.initialBackoff << uint(attempt)
	if d > c.maxBackoff || d <= 0 {
		return c.maxBackoff
	}

	return d
}
