package orphan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlahtinen/syncwatch/internal/job"
	"github.com/mlahtinen/syncwatch/internal/session"
)

// fakeFinder scripts the server's active-job answer and counts queries.
type fakeFinder struct {
	calls atomic.Int32
	found *job.OrphanedSession
	err   error
}

func (f *fakeFinder) ActiveJob(_ context.Context) (*job.OrphanedSession, error) {
	f.calls.Add(1)

	return f.found, f.err
}

func loggedIn() bool { return true }

func TestDetect_PublishesSnapshotWithoutTouchingStore(t *testing.T) {
	t.Parallel()

	found := &job.OrphanedSession{
		SessionID: "X",
		Phase:     job.PhaseEnriching,
		Stats:     job.Stats{Total: 50, Completed: 10, Pending: 40},
	}

	store := session.NewStore(nil)
	d := New(&fakeFinder{found: found}, store, loggedIn, nil)

	got := d.Detect(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, "X", got.SessionID)
	assert.Equal(t, found, d.Snapshot())

	// The main session stays untouched until the user explicitly attaches.
	s := store.Snapshot()
	assert.Empty(t, s.SessionID)
	assert.False(t, s.IsActive)
}

func TestDetect_OneShot(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{}
	d := New(f, session.NewStore(nil), loggedIn, nil)

	d.Detect(context.Background())
	d.Detect(context.Background())
	d.Detect(context.Background())

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestDetect_Preconditions(t *testing.T) {
	t.Parallel()

	t.Run("no credential", func(t *testing.T) {
		t.Parallel()

		f := &fakeFinder{}
		d := New(f, session.NewStore(nil), func() bool { return false }, nil)

		assert.Nil(t, d.Detect(context.Background()))
		assert.Zero(t, f.calls.Load())
	})

	t.Run("active session", func(t *testing.T) {
		t.Parallel()

		store := session.NewStore(nil)
		store.StartSync("live")

		f := &fakeFinder{}
		d := New(f, store, loggedIn, nil)

		assert.Nil(t, d.Detect(context.Background()))
		assert.Zero(t, f.calls.Load())
	})

	t.Run("terminal session id still present", func(t *testing.T) {
		t.Parallel()

		store := session.NewStore(nil)
		store.StartSync("old")
		store.CancelSync()

		f := &fakeFinder{}
		d := New(f, store, loggedIn, nil)

		assert.Nil(t, d.Detect(context.Background()))
		assert.Zero(t, f.calls.Load())
	})
}

func TestDetect_MissClearsStaleSnapshot(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{}
	d := New(f, session.NewStore(nil), loggedIn, nil)

	d.mu.Lock()
	d.snapshot = &job.OrphanedSession{SessionID: "stale"}
	d.mu.Unlock()

	assert.Nil(t, d.Detect(context.Background()))
	assert.Nil(t, d.Snapshot())
}

func TestDetect_QueryFailureSwallowed(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{err: errors.New("server unreachable")}
	d := New(f, session.NewStore(nil), loggedIn, nil)

	assert.Nil(t, d.Detect(context.Background()))
	assert.Nil(t, d.Snapshot())
}

func TestRearm_AllowsReprobe(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{found: &job.OrphanedSession{SessionID: "X", Phase: job.PhaseQueueing}}
	d := New(f, session.NewStore(nil), loggedIn, nil)

	d.Detect(context.Background())
	d.Rearm()
	assert.Nil(t, d.Snapshot())

	d.Detect(context.Background())

	assert.Equal(t, int32(2), f.calls.Load())
	require.NotNil(t, d.Snapshot())
}

func TestDismiss_KeepsOneShotGuard(t *testing.T) {
	t.Parallel()

	f := &fakeFinder{found: &job.OrphanedSession{SessionID: "X"}}
	d := New(f, session.NewStore(nil), loggedIn, nil)

	d.Detect(context.Background())
	d.Dismiss()

	assert.Nil(t, d.Snapshot())
	assert.Nil(t, d.Detect(context.Background()))
	assert.Equal(t, int32(1), f.calls.Load())
}
