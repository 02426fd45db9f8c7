package refresh

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/mlahtinen/syncwatch/internal/api"
	"github.com/mlahtinen/syncwatch/internal/tokenfile"
)

var testNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

// fakeRefresh counts calls and returns a scripted result.
type fakeRefresh struct {
	calls atomic.Int32
	tok   *oauth2.Token
	err   error
}

func (f *fakeRefresh) fn(_ context.Context, _ string) (*oauth2.Token, error) {
	f.calls.Add(1)

	return f.tok, f.err
}

// newTestRefresher builds a refresher whose credential expires in one
// minute (inside the 2m threshold) against the given refresh stub.
func newTestRefresher(t *testing.T, f *fakeRefresh, onAuthFailure func()) (*Refresher, *tokenfile.Holder, *Activity) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, tokenfile.Save(path, &oauth2.Token{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		Expiry:       testNow.Add(time.Minute),
	}, nil))

	holder, err := tokenfile.NewHolder(path, nil)
	require.NoError(t, err)

	activity := &Activity{}

	r := New(Options{
		Holder:        holder,
		Refresh:       f.fn,
		Activity:      activity,
		OnAuthFailure: onAuthFailure,
	})
	r.now = func() time.Time { return testNow }

	return r, holder, activity
}

func TestCheck_RefreshesWhenNearExpiryAndActive(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{tok: &oauth2.Token{
		AccessToken:  "at-new",
		RefreshToken: "rt-new",
		Expiry:       testNow.Add(time.Hour),
	}}

	r, holder, activity := newTestRefresher(t, f, nil)
	activity.RecordAt(testNow.Add(-5 * time.Second))

	r.check(context.Background())

	assert.Equal(t, int32(1), f.calls.Load())
	require.NotNil(t, holder.Token())
	assert.Equal(t, "at-new", holder.Token().AccessToken)
}

func TestCheck_IdleUserLetsCredentialLapse(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{}
	r, holder, activity := newTestRefresher(t, f, nil)

	// Last activity is outside threshold+interval (2m30s by default).
	activity.RecordAt(testNow.Add(-10 * time.Minute))

	r.check(context.Background())

	assert.Zero(t, f.calls.Load())
	assert.Equal(t, "at-old", holder.Token().AccessToken)
}

func TestCheck_NoActivityEverRecorded(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{}
	r, _, _ := newTestRefresher(t, f, nil)

	r.check(context.Background())

	assert.Zero(t, f.calls.Load())
}

func TestCheck_FarFromExpiry(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{}
	r, holder, activity := newTestRefresher(t, f, nil)
	activity.RecordAt(testNow)

	holder.Set(&oauth2.Token{
		AccessToken:  "at-fresh",
		RefreshToken: "rt",
		Expiry:       testNow.Add(time.Hour),
	})

	r.check(context.Background())

	assert.Zero(t, f.calls.Load())
}

func TestCheck_NoCredential(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{}
	r, holder, activity := newTestRefresher(t, f, nil)
	activity.RecordAt(testNow)
	holder.Clear()

	r.check(context.Background())

	assert.Zero(t, f.calls.Load())
}

func TestCheck_RateLimited(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{err: errors.New("network down")}
	r, _, activity := newTestRefresher(t, f, nil)
	activity.RecordAt(testNow)

	// Burst of triggers: interval tick + wake + stream activity all land
	// at once. Only the first may attempt.
	r.check(context.Background())
	r.check(context.Background())
	r.check(context.Background())

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCheck_AuthFailureForcesLogout(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{err: &api.APIError{
		StatusCode: http.StatusUnauthorized,
		Err:        api.ErrUnauthorized,
	}}

	var loggedOut atomic.Bool

	r, holder, activity := newTestRefresher(t, f, func() { loggedOut.Store(true) })
	activity.RecordAt(testNow)

	r.check(context.Background())

	assert.True(t, loggedOut.Load())
	assert.Nil(t, holder.Token())

	_, statErr := os.Stat(holder.Path())
	assert.True(t, os.IsNotExist(statErr), "credential file must be removed")
}

func TestCheck_TransientFailureKeepsCredentialAndRetries(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{err: errors.New("connection refused")}

	var loggedOut atomic.Bool

	r, holder, activity := newTestRefresher(t, f, func() { loggedOut.Store(true) })
	activity.RecordAt(testNow)

	r.check(context.Background())

	assert.False(t, loggedOut.Load())
	assert.Equal(t, "at-old", holder.Token().AccessToken)

	// Next cycle retries: give the limiter a fresh token and a success.
	f.err = nil
	f.tok = &oauth2.Token{AccessToken: "at-new", RefreshToken: "rt-new", Expiry: testNow.Add(time.Hour)}
	r.limiter = rate.NewLimiter(rate.Inf, 1)

	r.check(context.Background())

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, "at-new", holder.Token().AccessToken)
}

func TestRun_WakeTriggersCheck(t *testing.T) {
	t.Parallel()

	f := &fakeRefresh{tok: &oauth2.Token{
		AccessToken:  "at-new",
		RefreshToken: "rt-new",
		Expiry:       testNow.Add(time.Hour),
	}}

	r, holder, activity := newTestRefresher(t, f, nil)
	r.interval = time.Hour // only Wake can trigger within the test window
	activity.RecordAt(testNow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx)
	r.Wake()

	require.Eventually(t, func() bool {
		tok := holder.Token()

		return tok != nil && tok.AccessToken == "at-new"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestActivity_Last(t *testing.T) {
	t.Parallel()

	var a Activity
	assert.True(t, a.Last().IsZero())

	a.RecordAt(testNow)
	assert.Equal(t, testNow.UnixNano(), a.Last().UnixNano())
}
