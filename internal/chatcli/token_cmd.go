// token_cmd.go implements the primary token commands (set, show).
package chatcli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/contenox/chatsync/session"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the primary token (set, show).",
	Long: `The primary token identifies you to the token exchange.
Where it is kept depends on --token-source:

  file   .chatsync/token, or --token-file (default)
  kv     a Valkey key, see --kv-addr and --kv-key
  env    an environment variable, see --token-env (read only)
  static the --token flag (read only)`,
	SilenceUsage: true,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store the primary token; reads stdin when no argument is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTokenSet,
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored primary token (masked) and, with --check, the user it signs in as.",
	Args:  cobra.NoArgs,
	RunE:  runTokenShow,
}

func init() {
	tokenShowCmd.Flags().Bool("check", false, "Exchange the token against the server")
	tokenCmd.AddCommand(tokenSetCmd, tokenShowCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		token = string(data)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}

	ctx, cancel := commandContext(cmd, true)
	defer cancel()
	e, err := openEnv(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	store, ok := e.tokens.(session.TokenStore)
	if !ok {
		return fmt.Errorf("token source %s is read only", e.opts.TokenSource)
	}
	if err := store.SetPrimaryToken(ctx, token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored token %s (%s)\n", maskToken(token), e.opts.TokenSource)
	return nil
}

func runTokenShow(cmd *cobra.Command, _ []string) error {
	check, _ := cmd.Flags().GetBool("check")
	ctx, cancel := commandContext(cmd, true)
	defer cancel()
	e, err := openEnv(ctx, cmd, check)
	if err != nil {
		return err
	}
	defer e.close()

	token, err := e.tokens.PrimaryToken(ctx)
	if errors.Is(err, session.ErrNoPrimaryToken) {
		fmt.Fprintf(cmd.OutOrStdout(), "No token (%s)\n", e.opts.TokenSource)
		return &exitError{1}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token %s (%s)\n", maskToken(token), e.opts.TokenSource)
	if !check {
		return nil
	}
	self, err := e.self(ctx)
	if err != nil {
		return err
	}
	cred, _ := e.client.Session.Credential()
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s until %s\n", self, cred.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}
