package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	var flagEmail string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the sync server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLogin(flagEmail)
		},
	}

	cmd.Flags().StringVar(&flagEmail, "email", "", "account email (prompted when omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved credential",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user",
		RunE:  runWhoami,
	}
}

func runLogin(email string) error {
	logger := buildLogger()
	ctx := context.Background()

	holder, err := newHolder(logger)
	if err != nil {
		return err
	}

	client, err := newAPIClient(holder, logger)
	if err != nil {
		return err
	}

	if email == "" {
		email, err = promptLine("Email: ")
		if err != nil {
			return err
		}
	}

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	tok, err := client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	holder.Set(tok)

	// Best effort: a profile fetch failure does not fail the login.
	if profile, profErr := client.Profile(ctx); profErr == nil {
		holder.SetMeta(profile)
	} else {
		logger.Debug("profile fetch after login failed", "error", profErr)
	}

	logger.Info("login successful", "email", email)
	statusf("Logged in as %s.\n", email)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	holder, err := newHolder(logger)
	if err != nil {
		return err
	}

	if err := holder.Logout(); err != nil {
		return err
	}

	logger.Info("logout successful")
	statusf("Logged out.\n")

	return nil
}

func runWhoami(_ *cobra.Command, _ []string) error {
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

	profile, err := client.Profile(ctx)
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}

	holder.SetMeta(profile)

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(profile)
	}

	if name := profile["display_name"]; name != "" {
		fmt.Printf("%s <%s>\n", name, profile["email"])
	} else {
		fmt.Println(profile["email"])
	}

	return nil
}

// promptLine reads one trimmed line from stdin, printing prompt first.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo when stdin is a terminal,
// falling back to a plain line read when it is piped.
func promptPassword(prompt string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return promptLine(prompt)
	}

	fmt.Fprint(os.Stderr, prompt)

	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(raw), nil
}
