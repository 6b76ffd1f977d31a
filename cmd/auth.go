package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/credentials"
)

// Auth command flags.
var (
	authToken     string
	authExpiresIn time.Duration
)

// AuthCommandDeps holds the dependencies for auth commands.
type AuthCommandDeps struct {
	LoadConfig func() (*config.CLIConfig, error)
	NewStore   func() (*credentials.Store, error)
}

// DefaultAuthDeps returns the default dependencies for production use.
func DefaultAuthDeps() *AuthCommandDeps {
	return &AuthCommandDeps{
		LoadConfig: config.LoadConfig,
		NewStore:   credentials.NewStore,
	}
}

// NewAuthCommand creates the auth command with its subcommands.
func NewAuthCommand(deps *AuthCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuthDeps()
	}

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store and inspect connection credentials",
		Long: `Store and inspect the credentials of the active connection.

Tokens are encrypted at rest with a key held in the system keyring.
On headless machines set TWX_ENCRYPTION_KEY instead, and TWX_TOKEN
overrides the stored token entirely for one-off runs.

Examples:
  # Prompt for a token without echo and store it
  twx auth login

  # Store a token that expires in an hour
  twx auth login --token "$TOKEN" --expires-in 1h

  # Inspect and clear stored credentials
  twx auth status
  twx auth logout`,
	}

	cmd.AddCommand(newAuthLoginCommand(deps))
	cmd.AddCommand(newAuthLogoutCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))

	return cmd
}

func newAuthLoginCommand(deps *AuthCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a token for the active connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			conn, err := cfg.Connection(ConnectionName)
			if err != nil {
				return err
			}

			token := authToken
			if token == "" {
				token, err = promptSecret(fmt.Sprintf("Token for %s: ", conn.Name))
				if err != nil {
					return err
				}
			}
			if token == "" {
				return fmt.Errorf("no token given")
			}

			store, err := deps.NewStore()
			if err != nil {
				return err
			}

			secret := credentials.Secret{Token: token}
			if authExpiresIn > 0 {
				secret.ExpiresAt = time.Now().Add(authExpiresIn)
			}
			if err := store.Set(conn.Name, secret); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Stored token for %s (%s)\n",
				conn.Name, credentials.MaskToken(token))
			return nil
		},
	}

	cmd.Flags().StringVar(&authToken, "token", "", "Token value (prompted without echo when omitted)")
	cmd.Flags().DurationVar(&authExpiresIn, "expires-in", 0, "Token lifetime, e.g. 1h (0 = non-expiring)")

	return cmd
}

func newAuthLogoutCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token of the active connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			conn, err := cfg.Connection(ConnectionName)
			if err != nil {
				return err
			}

			store, err := deps.NewStore()
			if err != nil {
				return err
			}
			if err := store.Delete(conn.Name); err != nil {
				return fmt.Errorf("removing token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed credentials for %s\n", conn.Name)
			return nil
		},
	}
}

func newAuthStatusCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which connections have stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.NewStore()
			if err != nil {
				return err
			}
			names, err := store.List()
			if err != nil {
				return fmt.Errorf("listing credentials: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No stored credentials.")
				return nil
			}
			for _, name := range names {
				sec, err := store.Get(name)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", name, err)
					continue
				}
				fmt.Fprintf(out, "%s: %s (expiry: %s)\n",
					name, credentials.MaskToken(sec.Token), credentials.FormatExpiry(sec.ExpiresAt))
			}
			return nil
		},
	}
}

// promptSecret reads a value without echoing it. Falls back to a plain
// line read when stdin is not a terminal (pipes, CI).
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
