package refresh

import (
	"sync/atomic"
	"time"
)

// Activity tracks when the user was last seen doing something: the stream
// client pings it on every received event, and the CLI pings it on
// user-initiated commands. It is the gate that keeps an idle client from
// being refreshed forever.
type Activity struct {
	last atomic.Int64 // unix nanos; zero means never
}

// Record marks now as the most recent activity.
func (a *Activity) Record() {
	a.RecordAt(time.Now())
}

// RecordAt marks t as the most recent activity. Exposed so tests control
// the clock.
func (a *Activity) RecordAt(t time.Time) {
	a.last.Store(t.UnixNano())
}

// Last returns the most recent activity time, or the zero time if none
// was ever recorded.
func (a *Activity) Last() time.Time {
	n := a.last.Load()
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n)
}
