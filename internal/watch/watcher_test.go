package watch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mlahtinen/syncwatch/internal/job"
	"github.com/mlahtinen/syncwatch/internal/session"
	"github.com/mlahtinen/syncwatch/internal/tokenfile"
)

const waitTimeout = 5 * time.Second

// fakeAPI scripts the server surface the supervisor talks to.
type fakeAPI struct {
	cancels    atomic.Int32
	lastCancel atomic.Value // string
	active     *job.OrphanedSession
}

func (f *fakeAPI) Refresh(_ context.Context, _ string) (*oauth2.Token, error) {
	return nil, errors.New("refresh not scripted")
}

func (f *fakeAPI) Cancel(_ context.Context, sessionID string) error {
	f.cancels.Add(1)
	f.lastCancel.Store(sessionID)

	return nil
}

func (f *fakeAPI) ActiveJob(_ context.Context) (*job.OrphanedSession, error) {
	return f.active, nil
}

func frame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// newTestWatcher builds a watcher with a fresh credential file and store.
func newTestWatcher(t *testing.T, api API, syncURL string, tune func(*Options)) (*Watcher, *tokenfile.Holder) {
	t.Helper()

	path := t.TempDir() + "/credentials.json"
	require.NoError(t, tokenfile.Save(path, &oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour),
	}, nil))

	holder, err := tokenfile.NewHolder(path, nil)
	require.NoError(t, err)

	opts := Options{
		API:         api,
		Holder:      holder,
		Store:       session.NewStore(nil),
		SyncBaseURL: syncURL,
		ClientID:    "client-1",
	}
	if tune != nil {
		tune(&opts)
	}

	return New(opts), holder
}

func TestRun_Completes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		fmt.Fprint(w, frame("connected", `{"sessionId":"s1","phase":"enriching","stats":{"total":2,"pending":2}}`))
		fmt.Fprint(w, frame("sync-complete", `{"phase":"completed","stats":{"total":2,"completed":2}}`))
		flusher.Flush()
	}))
	defer srv.Close()

	w, _ := newTestWatcher(t, &fakeAPI{}, srv.URL, nil)

	outcome, err := w.Run(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	s := w.Store().Snapshot()
	assert.Equal(t, job.PhaseCompleted, s.Phase)
	assert.False(t, s.IsActive)
	assert.Equal(t, session.Disconnected, s.ConnectionState)
}

func TestRun_DetachOnContextCancel(t *testing.T) {
	t.Parallel()

	attached := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		fmt.Fprint(w, frame("connected", `{"sessionId":"s1","phase":"fetching_lists","stats":{"total":9,"pending":9}}`))
		flusher.Flush()
		close(attached)

		// Hold the stream open until the client goes away.
		<-r.Context().Done()
	}))
	defer srv.Close()

	w, _ := newTestWatcher(t, &fakeAPI{}, srv.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())

	type runResult struct {
		outcome Outcome
		err     error
	}

	resCh := make(chan runResult, 1)

	go func() {
		outcome, err := w.Run(ctx, "s1")
		resCh <- runResult{outcome, err}
	}()

	select {
	case <-attached:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for stream attach")
	}

	cancel()

	var res runResult
	select {
	case res = <-resCh:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for Run to return")
	}

	require.NoError(t, res.err)
	assert.Equal(t, OutcomeDetached, res.outcome)

	// Detaching leaves the session running server-side.
	s := w.Store().Snapshot()
	assert.True(t, s.IsActive)
	assert.Equal(t, session.Disconnected, s.ConnectionState)
}

func TestRun_ConnectionLost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w, _ := newTestWatcher(t, &fakeAPI{}, srv.URL, func(o *Options) {
		o.MaxReconnectAttempts = 2
		o.InitialBackoff = time.Millisecond
		o.MaxBackoff = 2 * time.Millisecond
	})

	outcome, err := w.Run(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, OutcomeConnectionLost, outcome)
	assert.Contains(t, err.Error(), "after 2 attempts")

	// The job itself may still be running; only the pipe was abandoned.
	assert.True(t, w.Store().Active())
}

func TestCancel_StopsJobAndRecordsCancellation(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	w, _ := newTestWatcher(t, api, "http://unused", nil)

	w.Store().StartSync("s1")
	require.NoError(t, w.Cancel(context.Background()))

	assert.Equal(t, int32(1), api.cancels.Load())
	assert.Equal(t, "s1", api.lastCancel.Load())

	s := w.Store().Snapshot()
	assert.Equal(t, job.PhaseCancelled, s.Phase)
	assert.False(t, s.IsActive)
}

func TestCancel_NoSessionIsNoOp(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	w, _ := newTestWatcher(t, api, "http://unused", nil)

	require.NoError(t, w.Cancel(context.Background()))
	assert.Zero(t, api.cancels.Load())
}

func TestCredentialFileRemoval_RearmsDetection(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{active: &job.OrphanedSession{SessionID: "orphan-1", Phase: job.PhaseEnriching}}
	w, holder := newTestWatcher(t, api, "http://unused", nil)

	// An earlier probe found an orphan and used up the one-shot guard.
	require.NotNil(t, w.Detector().Detect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.watchCredentialFile(ctx)

	// Give the filesystem watch a moment to establish before removing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Remove(holder.Path()))

	require.Eventually(t, func() bool {
		return holder.Token() == nil && w.Detector().Snapshot() == nil
	}, waitTimeout, 10*time.Millisecond, "removal must clear the credential and re-arm detection")
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "completed", OutcomeCompleted.String())
	assert.Equal(t, "connection lost", OutcomeConnectionLost.String())
	assert.Equal(t, "auth failure", OutcomeAuthFailure.String())
	assert.Equal(t, "detached", OutcomeDetached.String())
}
