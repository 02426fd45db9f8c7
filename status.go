package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential state and any running sync job",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Server     string     `json:"server"`
	Email      string     `json:"email,omitempty"`
	TokenState string     `json:"token_state"`
	Expiry     *time.Time `json:"token_expiry,omitempty"`
	ActiveJob  *statusJob `json:"active_job,omitempty"`
}

type statusJob struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	holder, err := newHolder(logger)
	if err != nil {
		return err
	}

	out := statusOutput{
		Server:     cfg.Server.BaseURL,
		TokenState: tokenStateMissing,
	}

	if tok := holder.Token(); tok != nil {
		out.Email = holder.Meta()["email"]
		out.TokenState = tokenStateValid

		if !tok.Expiry.IsZero() {
			expiry := tok.Expiry
			out.Expiry = &expiry

			if time.Now().After(expiry) {
				out.TokenState = tokenStateExpired
			}
		}

		// A running job left behind by an earlier process shows up here.
		// Probe failures degrade to "no job shown", never to an error.
		if client, clientErr := newAPIClient(holder, logger); clientErr == nil {
			if active, activeErr := client.ActiveJob(ctx); activeErr == nil && active != nil {
				out.ActiveJob = &statusJob{
					SessionID: active.SessionID,
					Phase:     active.Phase.String(),
					Done:      active.Stats.Done(),
					Total:     active.Stats.Total,
				}
			}
		}
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Printf("Server:     %s\n", orUnset(out.Server))

	switch out.TokenState {
	case tokenStateMissing:
		fmt.Println("Credential: none — run 'syncwatch login'")
	case tokenStateExpired:
		fmt.Printf("Credential: expired at %s — run 'syncwatch login'\n",
			out.Expiry.Format(time.RFC3339))
	default:
		if out.Email != "" {
			fmt.Printf("Credential: valid (%s)\n", out.Email)
		} else {
			fmt.Println("Credential: valid")
		}

		if out.Expiry != nil {
			fmt.Printf("Expires:    %s\n", out.Expiry.Format(time.RFC3339))
		}
	}

	if out.ActiveJob != nil {
		fmt.Printf("Active job: %s [%s] %d/%d — run 'syncwatch attach'\n",
			out.ActiveJob.SessionID, out.ActiveJob.Phase,
			out.ActiveJob.Done, out.ActiveJob.Total)
	}

	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}

	return s
}
