package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAttachCmd() *cobra.Command {
	var (
		flagCancel            bool
		flagCancelOnInterrupt bool
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Find a running sync job and attach to it",
		Long: `Probe the server for a sync job left running by an earlier process
(for example after a crash or an accidental terminal close) and attach to
its event stream. With --cancel the job is cancelled instead.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAttach(flagCancel, flagCancelOnInterrupt)
		},
	}

	cmd.Flags().BoolVar(&flagCancel, "cancel", false,
		"cancel the found job instead of attaching")
	cmd.Flags().BoolVar(&flagCancelOnInterrupt, "cancel-on-interrupt", false,
		"cancel the job on Ctrl-C instead of detaching")

	return cmd
}

func runAttach(cancelFound, cancelOnInterrupt bool) error {
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

	printer := newProgressPrinter()
	w := newSupervisor(client, holder, printer)

	found := w.Detector().Detect(ctx)
	if found == nil {
		statusf("No running sync job found.\n")

		return nil
	}

	statusf("Found running sync session %s [%s] %d/%d.\n",
		found.SessionID, found.Phase, found.Stats.Done(), found.Stats.Total)

	if cancelFound {
		if err := client.Cancel(ctx, found.SessionID); err != nil {
			return fmt.Errorf("cancelling sync job: %w", err)
		}

		w.Detector().Dismiss()
		statusf("Sync cancelled.\n")

		return nil
	}

	return runWatcher(w, printer, found.SessionID, cancelOnInterrupt)
}
