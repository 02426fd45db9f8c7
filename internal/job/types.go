// Package job defines the value types shared by the session store, the
// event-stream client, and the REST client: job phases, progress counters,
// and per-item outcomes. It is a leaf package with no project imports.
package job

import "fmt"

// Phase is the coarse stage of a server-side synchronization job, as
// reported by the server. The client never advances phases on its own.
type Phase string

// Phases in the order the server moves through them.
const (
	PhaseValidating    Phase = "validating"
	PhaseExporting     Phase = "exporting"
	PhaseParsing       Phase = "parsing"
	PhaseFetchingLists Phase = "fetching_lists"
	PhaseQueueing      Phase = "queueing"
	PhaseEnriching     Phase = "enriching"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
	PhaseCancelled     Phase = "cancelled"
)

// String returns the wire form of the phase.
func (p Phase) String() string {
	return string(p)
}

// Terminal reports whether the phase ends the job. A terminal phase means
// no further progress events will arrive for the session.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseValidating, PhaseExporting, PhaseParsing, PhaseFetchingLists,
		PhaseQueueing, PhaseEnriching, PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// ParsePhase converts a wire string to a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("job: unknown phase %q", s)
	}

	return p, nil
}

// ItemStatus is the outcome of a single catalog item, as reported in
// item-update events.
type ItemStatus string

// Item outcomes.
const (
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// Stats is the server's snapshot of item counters for a session. The server
// maintains the invariant pending+processing+completed+failed+skipped ==
// total; the client displays whatever it is sent and does not enforce it.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Done returns the number of items with a final outcome.
func (s Stats) Done() int {
	return s.Completed + s.Failed + s.Skipped
}

// Fraction returns overall progress in [0, 1]. Zero when Total is zero.
func (s Stats) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}

	return float64(s.Done()) / float64(s.Total)
}

// Consistent reports whether the counters add up to Total. Display hint
// only — an inconsistent snapshot is still shown as-is.
func (s Stats) Consistent() bool {
	return s.Pending+s.Processing+s.Done() == s.Total
}

// FailedItem records one item the server reported as failed. Entries are
// append-only per session and are not deduplicated: if the server
// re-reports an item, it appears twice.
type FailedItem struct {
	ItemID string `json:"itemId"`
	Error  string `json:"error,omitempty"`
}

// OrphanedSession is a read-only snapshot of a job discovered running
// server-side that this client is not attached to. It exists only between
// detection and the user's attach/cancel/dismiss decision and never merges
// into the live session state automatically.
type OrphanedSession struct {
	SessionID string `json:"sessionId"`
	Phase     Phase  `json:"phase"`
	Stats     Stats  `json:"stats"`
}
