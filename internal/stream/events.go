package stream

import (
	"github.com/mlahtinen/syncwatch/internal/job"
)

// Wire names of the event types the server emits. Anything else on the
// stream is ignored.
const (
	eventConnected   = "connected"
	eventItemUpdate  = "item-update"
	eventPhaseChange = "phase-change"
	eventComplete    = "sync-complete"
)

// Connected is the handshake event. The server sends it first on every
// (re)attachment, carrying the session's current snapshot so a client that
// reconnected mid-job catches up immediately.
type Connected struct {
	SessionID string    `json:"sessionId"`
	Phase     job.Phase `json:"phase"`
	Stats     job.Stats `json:"stats"`
	Message   string    `json:"message"`
}

// ItemUpdate reports the outcome of one catalog item. Every event carries
// the server's full stats snapshot — the client never counts locally.
type ItemUpdate struct {
	ItemID string         `json:"itemId"`
	Status job.ItemStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
	Stats  job.Stats      `json:"stats"`
	Phase  job.Phase      `json:"phase"`
}

// PhaseChange reports the job moving to a new stage.
type PhaseChange struct {
	Phase   job.Phase `json:"phase"`
	Message string    `json:"message"`
	Stats   job.Stats `json:"stats"`
}

// SyncComplete is the terminal event. The server closes the stream after
// sending it; anything the channel delivers afterwards is discarded.
type SyncComplete struct {
	Phase   job.Phase `json:"phase"`
	Stats   job.Stats `json:"stats"`
	Message string    `json:"message"`
}

// Callbacks are the caller-supplied hooks invoked from the dispatcher
// goroutine, after the store has been updated. Nil fields are skipped.
// OnConnectionLost fires once, when reconnection attempts are exhausted —
// the job may still be running server-side; only this client's view has
// been abandoned.
type Callbacks struct {
	OnItem           func(ItemUpdate)
	OnPhaseChange    func(PhaseChange)
	OnComplete       func(SyncComplete)
	OnConnectionLost func(error)
}
