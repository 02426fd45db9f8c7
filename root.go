// Command syncwatch starts catalog sync jobs on the collaborator server
// and watches their progress from the terminal.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mlahtinen/syncwatch/internal/api"
	"github.com/mlahtinen/syncwatch/internal/config"
	"github.com/mlahtinen/syncwatch/internal/tokenfile"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServerURL  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the effective configuration loaded by PersistentPreRunE. It is
// available to all subcommands after the root pre-run phase completes.
var cfg *config.Config

// clientInstanceID identifies this process to the server, so the stream
// endpoint can tell concurrent clients of the same user apart.
var clientInstanceID = uuid.NewString()

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "syncwatch",
		Short:   "Catalog sync client",
		Long:    "Start catalog sync jobs on the server and watch their progress live.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "server base URL (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newAttachCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newSkipFailedCmd())

	return cmd
}

// loadConfig loads the TOML config and applies CLI-flag overrides. Flags
// always win over file and environment.
func loadConfig() error {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	loaded, err := config.Load(path, slog.Default())
	if err != nil {
		return err
	}

	if flagServerURL != "" {
		loaded.Server.BaseURL = flagServerURL
		loaded.Server.SyncBaseURL = flagServerURL
	}

	cfg = loaded

	return nil
}

// buildLogger creates an slog.Logger from the loaded config and CLI flags.
// Config-file log level provides the baseline; --verbose and --quiet
// override it because CLI flags always win. Output format follows
// logging.format, defaulting to text on a terminal and JSON elsewhere.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Logging.Format
	if format == "" {
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newHolder opens the credential file. A missing file yields an empty
// holder, not an error.
func newHolder(logger *slog.Logger) (*tokenfile.Holder, error) {
	return tokenfile.NewHolder(config.CredentialPath(), logger)
}

// newAPIClient builds the REST client against the configured server.
func newAPIClient(holder *tokenfile.Holder, logger *slog.Logger) (*api.Client, error) {
	if cfg.Server.BaseURL == "" {
		return nil, fmt.Errorf("no server configured: set server.base_url in the config file or pass --server")
	}

	httpClient := &http.Client{Timeout: config.Duration(cfg.Server.RequestTimeout)}

	return api.NewClient(cfg.Server.BaseURL, httpClient, holder, clientInstanceID, logger), nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
