package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		flagDetach            bool
		flagCancelOnInterrupt bool
	)

	cmd := &cobra.Command{
		Use:   "start <catalog-file>",
		Short: "Upload a catalog file and start a sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runStart(args[0], flagDetach, flagCancelOnInterrupt)
		},
	}

	cmd.Flags().BoolVar(&flagDetach, "detach", false,
		"start the job and exit without watching it")
	cmd.Flags().BoolVar(&flagCancelOnInterrupt, "cancel-on-interrupt", false,
		"cancel the job on Ctrl-C instead of detaching")

	return cmd
}

func runStart(catalogPath string, detach, cancelOnInterrupt bool) error {
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

	sessionID, err := client.StartJob(ctx, catalogPath)
	if err != nil {
		return fmt.Errorf("starting sync job: %w", err)
	}

	statusf("Started sync session %s.\n", sessionID)

	if detach {
		statusf("Run 'syncwatch watch %s' to follow it.\n", sessionID)

		return nil
	}

	printer := newProgressPrinter()
	w := newSupervisor(client, holder, printer)

	return runWatcher(w, printer, sessionID, cancelOnInterrupt)
}
