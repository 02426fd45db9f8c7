package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlahtinen/syncwatch/internal/api"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [session-id]",
		Short: "Cancel a sync job",
		Long:  "Cancel the given sync session, or the server's running job when no id is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runJobControl(args, "cancel", func(ctx context.Context, c *api.Client, id string) error {
				return c.Cancel(ctx, id)
			}, "Sync cancelled.\n")
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume an interrupted sync job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runJobControl(args, "resume", func(ctx context.Context, c *api.Client, id string) error {
				return c.Resume(ctx, id)
			}, "Resume requested. Run 'syncwatch attach' to follow it.\n")
		},
	}
}

func newSkipFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip-failed [session-id]",
		Short: "Skip a job's failed items and continue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runJobControl(args, "skip failed items of", func(ctx context.Context, c *api.Client, id string) error {
				return c.SkipFailed(ctx, id)
			}, "Failed items skipped. Run 'syncwatch attach' to follow it.\n")
		},
	}
}

// runJobControl resolves the target session (explicit argument, or the
// server's running job) and applies one control operation to it.
func runJobControl(args []string, verb string, op func(context.Context, *api.Client, string) error, doneMsg string) error {
	logger := buildLogger()
	ctx := context.Background()

	holder, err := newHolder(logger)
	if err != nil {
		return err
	}

	if holder.Token() == nil {
		return fmt.Errorf("not logged in — run 'syncwatch login' first")
	}

	client, err := newAPIClient(holder, logger)
	if err != nil {
		return err
	}

	var sessionID string
	if len(args) == 1 {
		sessionID = args[0]
	} else {
		active, activeErr := client.ActiveJob(ctx)
		if activeErr != nil {
			return fmt.Errorf("looking up the running job: %w", activeErr)
		}

		if active == nil {
			return fmt.Errorf("no running sync job; pass a session id")
		}

		sessionID = active.SessionID
	}

	if err := op(ctx, client, sessionID); err != nil {
		return fmt.Errorf("failed to %s session %s: %w", verb, sessionID, err)
	}

	statusf("%s", doneMsg)

	return nil
}
