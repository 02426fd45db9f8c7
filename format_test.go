package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlahtinen/syncwatch/internal/job"
	"github.com/mlahtinen/syncwatch/internal/session"
	"github.com/mlahtinen/syncwatch/internal/stream"
)

func TestProgressLine(t *testing.T) {
	tests := []struct {
		name  string
		phase job.Phase
		stats job.Stats
		want  string
	}{
		{
			"mid-flight",
			job.PhaseEnriching,
			job.Stats{Total: 40, Completed: 20, Failed: 6, Skipped: 4, Pending: 10},
			"[enriching] 30/40 (75%)",
		},
		{
			"empty job",
			job.PhaseValidating,
			job.Stats{},
			"[validating] 0/0 (0%)",
		},
		{
			"all done",
			job.PhaseCompleted,
			job.Stats{Total: 3, Completed: 3},
			"[completed] 3/3 (100%)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, progressLine(tt.phase, tt.stats))
		})
	}
}

func TestProgressPrinter_TextOutput(t *testing.T) {
	var buf bytes.Buffer

	p := &progressPrinter{out: &buf}

	p.PhaseChange(stream.PhaseChange{Phase: job.PhaseEnriching, Message: "Enriching items"})
	p.Item(stream.ItemUpdate{
		ItemID: "b-42",
		Status: job.ItemFailed,
		Error:  "lookup timed out",
		Phase:  job.PhaseEnriching,
		Stats:  job.Stats{Total: 2, Completed: 1, Failed: 1},
	})
	p.Summary(session.State{
		Message: "Sync complete",
		Stats:   job.Stats{Total: 2, Completed: 1, Failed: 1},
		FailedItems: []job.FailedItem{
			{ItemID: "b-42", Error: "lookup timed out"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "==> Enriching items")
	assert.Contains(t, out, "failed: b-42 (lookup timed out)")
	assert.Contains(t, out, "Sync complete")
	assert.Contains(t, out, "2 items: 1 completed, 1 failed, 0 skipped")
	assert.Contains(t, out, "b-42: lookup timed out")
}

func TestProgressPrinter_QuietSuppressesOutput(t *testing.T) {
	var buf bytes.Buffer

	p := &progressPrinter{out: &buf, quiet: true}

	p.PhaseChange(stream.PhaseChange{Phase: job.PhaseEnriching, Message: "Enriching"})
	p.Summary(session.State{Message: "Sync complete"})

	assert.Empty(t, buf.String())
}

func TestProgressPrinter_JSONOutput(t *testing.T) {
	var (
		events bytes.Buffer
		side   bytes.Buffer
	)

	p := &progressPrinter{out: &side, json: true, enc: json.NewEncoder(&events)}

	p.Item(stream.ItemUpdate{
		ItemID: "b-1",
		Status: job.ItemCompleted,
		Phase:  job.PhaseEnriching,
		Stats:  job.Stats{Total: 1, Completed: 1},
	})
	p.Summary(session.State{
		Phase:   job.PhaseCompleted,
		Message: "Sync complete",
		Stats:   job.Stats{Total: 1, Completed: 1},
		FailedItems: []job.FailedItem{
			{ItemID: "b-9", Error: "boom"},
		},
	})

	// JSON mode writes structured lines only; nothing on the text stream.
	assert.Empty(t, side.String())

	lines := strings.Split(strings.TrimSpace(events.String()), "\n")
	require.Len(t, lines, 3)

	var first jsonEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "item-update", first.Event)
	assert.Equal(t, "b-1", first.ItemID)

	var last jsonEvent
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "failed-item", last.Event)
	assert.Equal(t, "b-9", last.ItemID)
}

func TestProgressPrinter_InPlaceLineOverwrites(t *testing.T) {
	var buf bytes.Buffer

	p := &progressPrinter{out: &buf, tty: true}

	p.Item(stream.ItemUpdate{
		Status: job.ItemCompleted,
		Phase:  job.PhaseEnriching,
		Stats:  job.Stats{Total: 10, Completed: 1, Pending: 9},
	})
	p.Item(stream.ItemUpdate{
		Status: job.ItemCompleted,
		Phase:  job.PhaseEnriching,
		Stats:  job.Stats{Total: 10, Completed: 2, Pending: 8},
	})
	p.endLine()

	out := buf.String()
	assert.Contains(t, out, "\r[enriching] 1/10 (10%)")
	assert.Contains(t, out, "\r[enriching] 2/10 (20%)")
	assert.True(t, strings.HasSuffix(out, "\n"))
}
