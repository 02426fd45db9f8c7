package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/mlahtinen/syncwatch/internal/job"
	"github.com/mlahtinen/syncwatch/internal/session"
	"github.com/mlahtinen/syncwatch/internal/stream"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// progressPrinter renders stream events. On a terminal it overwrites one
// progress line in place; piped output gets phase changes and failures as
// discrete lines; --json emits one JSON object per event on stdout.
type progressPrinter struct {
	out        io.Writer
	tty        bool
	json       bool
	quiet      bool
	enc        *json.Encoder
	lineActive bool
	lineWidth  int
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{
		out:   os.Stderr,
		tty:   isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
		json:  flagJSON,
		quiet: flagQuiet,
		enc:   json.NewEncoder(os.Stdout),
	}
}

// jsonEvent is the schema for --json event lines.
type jsonEvent struct {
	Event   string    `json:"event"`
	Phase   job.Phase `json:"phase"`
	Stats   job.Stats `json:"stats"`
	Message string    `json:"message,omitempty"`
	ItemID  string    `json:"item_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// PhaseChange renders a phase transition.
func (p *progressPrinter) PhaseChange(ev stream.PhaseChange) {
	if p.json {
		_ = p.enc.Encode(jsonEvent{
			Event:   "phase-change",
			Phase:   ev.Phase,
			Stats:   ev.Stats,
			Message: ev.Message,
		})

		return
	}

	if p.quiet {
		return
	}

	p.endLine()

	msg := ev.Message
	if msg == "" {
		msg = ev.Phase.String()
	}

	fmt.Fprintf(p.out, "==> %s\n", msg)
}

// Item renders one item update.
func (p *progressPrinter) Item(ev stream.ItemUpdate) {
	if p.json {
		_ = p.enc.Encode(jsonEvent{
			Event:  "item-update",
			Phase:  ev.Phase,
			Stats:  ev.Stats,
			ItemID: ev.ItemID,
			Status: string(ev.Status),
			Error:  ev.Error,
		})

		return
	}

	if p.quiet {
		return
	}

	if ev.Status == job.ItemFailed && !p.tty {
		fmt.Fprintf(p.out, "failed: %s (%s)\n", ev.ItemID, ev.Error)

		return
	}

	if p.tty {
		p.writeLine(progressLine(ev.Phase, ev.Stats))
	}
}

// Summary renders the terminal state: final message, counters, and the
// failed-item recap.
func (p *progressPrinter) Summary(s session.State) {
	if p.json {
		_ = p.enc.Encode(jsonEvent{
			Event:   "summary",
			Phase:   s.Phase,
			Stats:   s.Stats,
			Message: s.Message,
		})

		for _, item := range s.FailedItems {
			_ = p.enc.Encode(jsonEvent{
				Event:  "failed-item",
				ItemID: item.ItemID,
				Error:  item.Error,
			})
		}

		return
	}

	if p.quiet {
		return
	}

	p.endLine()

	fmt.Fprintf(p.out, "%s\n", s.Message)
	fmt.Fprintf(p.out, "  %d items: %d completed, %d failed, %d skipped\n",
		s.Stats.Total, s.Stats.Completed, s.Stats.Failed, s.Stats.Skipped)

	if len(s.FailedItems) > 0 {
		fmt.Fprintln(p.out, "Failed items:")

		for _, item := range s.FailedItems {
			fmt.Fprintf(p.out, "  %s: %s\n", item.ItemID, item.Error)
		}
	}
}

// writeLine overwrites the in-place progress line.
func (p *progressPrinter) writeLine(line string) {
	// Pad with spaces so a shorter line fully covers the previous one.
	if pad := p.lineWidth - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	} else {
		p.lineWidth = len(line)
	}

	fmt.Fprintf(p.out, "\r%s", line)
	p.lineActive = true
}

// endLine terminates a pending in-place progress line, if any.
func (p *progressPrinter) endLine() {
	if p.lineActive {
		fmt.Fprintln(p.out)
		p.lineActive = false
		p.lineWidth = 0
	}
}

// progressLine formats one progress snapshot, e.g.
// "[enriching] 30/40 (75%)".
func progressLine(phase job.Phase, stats job.Stats) string {
	return fmt.Sprintf("[%s] %d/%d (%d%%)", phase, stats.Done(), stats.Total, percent(stats))
}

// percent returns the completion percentage, 0 when total is unknown.
func percent(stats job.Stats) int {
	return int(stats.Fraction() * 100)
}
