package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mlahtinen/syncwatch/internal/api"
	"github.com/mlahtinen/syncwatch/internal/config"
	"github.com/mlahtinen/syncwatch/internal/session"
	"github.com/mlahtinen/syncwatch/internal/tokenfile"
	"github.com/mlahtinen/syncwatch/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var flagCancelOnInterrupt bool

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Attach to a sync session and watch its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return watchSession(args[0], flagCancelOnInterrupt)
		},
	}

	cmd.Flags().BoolVar(&flagCancelOnInterrupt, "cancel-on-interrupt", false,
		"cancel the job on Ctrl-C instead of detaching")

	return cmd
}

// watchSession builds a supervisor and watches sessionID to its end.
func watchSession(sessionID string, cancelOnInterrupt bool) error {
	logger := buildLogger()

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

	return runWatcher(w, printer, sessionID, cancelOnInterrupt)
}

// newSupervisor wires a watch.Watcher from the loaded config. The stream's
// HTTP client carries no timeout: the connection is long-lived by design.
func newSupervisor(client *api.Client, holder *tokenfile.Holder, printer *progressPrinter) *watch.Watcher {
	logger := buildLogger()

	return watch.New(watch.Options{
		API:           client,
		Holder:        holder,
		Store:         session.NewStore(logger),
		Logger:        logger,
		SyncBaseURL:   cfg.Server.SyncBaseURL,
		StreamClient:  &http.Client{},
		ClientID:      clientInstanceID,
		OnItem:        printer.Item,
		OnPhaseChange: printer.PhaseChange,

		RefreshInterval: config.Duration(cfg.Auth.RefreshInterval),
		ExpiryThreshold: config.Duration(cfg.Auth.ExpiryThreshold),
		MinRefreshGap:   config.Duration(cfg.Auth.MinRefreshGap),

		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		InitialBackoff:       config.Duration(cfg.Stream.InitialBackoff),
		MaxBackoff:           config.Duration(cfg.Stream.MaxBackoff),
	})
}

// runWatcher runs the supervisor until the session ends, the user
// interrupts, or the connection is abandoned, and renders the result.
func runWatcher(w *watch.Watcher, printer *progressPrinter, sessionID string, cancelOnInterrupt bool) error {
	logger := buildLogger()

	ctx := shutdownContext(context.Background(), logger)
	wakeOnResume(ctx, w)

	outcome, err := w.Run(ctx, sessionID)

	switch outcome {
	case watch.OutcomeCompleted:
		printer.Summary(w.Store().Snapshot())

		return nil

	case watch.OutcomeDetached:
		if cancelOnInterrupt {
			if cancelErr := w.Cancel(context.Background()); cancelErr != nil {
				return fmt.Errorf("cancelling sync job: %w", cancelErr)
			}

			printer.Summary(w.Store().Snapshot())

			return nil
		}

		printer.endLine()
		statusf("Detached. The job keeps running — run 'syncwatch attach' to re-attach.\n")

		return nil

	case watch.OutcomeConnectionLost:
		printer.endLine()

		return fmt.Errorf(
			"lost connection to the event stream: %w\nThe job may still be running — run 'syncwatch attach' to retry", err)

	case watch.OutcomeAuthFailure:
		printer.endLine()

		return fmt.Errorf("session expired — run 'syncwatch login', then 'syncwatch attach'")

	default:
		return err
	}
}
