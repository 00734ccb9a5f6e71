// cli.go holds the chat CLI entrypoint (Main), the root command and its flags.
package chatcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/contenox/chatsync/libtracker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Main runs the chat CLI.
func Main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if !errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Two-party chat rooms on a chatstore server.",
	Long: `chat talks to a chatstore server as the user behind a primary token.
The primary token is exchanged for a store scoped token on first use.

  Quickstart:
    chat token set <primary-token>      # store the token (default: .chatsync/token)
    chat open bob                       # create or reuse the room with bob
    chat send <room-id> hello there     # post a message
    chat listen <room-id>               # follow a room until interrupted
    chat rooms                          # your rooms, most recent first`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	registerFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(roomsCmd, openCmd, sendCmd, historyCmd, listenCmd, tokenCmd)
	rootCmd.InitDefaultHelpCmd()
}

func registerFlags(f *pflag.FlagSet) {
	f.String("store-url", defaultStoreURL, "chatstore server URL")
	f.String("auth-url", "", "Token exchange URL (default: the store URL)")
	f.String("user", "", "Acting user id (default: subject of the exchanged token)")
	f.String("token-source", defaultTokenSource, "Where the primary token lives: static, env, file or kv")
	f.String("token", "", "Primary token for --token-source static")
	f.String("token-env", defaultTokenEnv, "Environment variable for --token-source env")
	f.String("token-file", "", "Token file for --token-source file (default: .chatsync/token)")
	f.String("kv-addr", "", "Valkey address for --token-source kv")
	f.String("kv-key", defaultKVKey, "Valkey key for --token-source kv")
	f.String("nats-url", "", "NATS URL for room events; polling alone is used when empty")
	f.Duration("poll-interval", defaultPollInterval, "Refresh interval of listen")
	f.Int("poll-window", defaultPollWindow, "Number of recent messages fetched per refresh")
	f.Duration("timeout", defaultTimeout, "Maximum time for one-shot commands")
	f.Bool("trace", false, "Enable operation telemetry on stderr")
}

// commandContext returns a context that ends on SIGINT/SIGTERM and, when
// bounded, after the --timeout.
func commandContext(cmd *cobra.Command, bounded bool) (context.Context, context.CancelFunc) {
	ctx := libtracker.WithNewRequestID(context.Background(), "cli")
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	if !bounded {
		return ctx, stop
	}
	timeout, _ := cmd.Root().PersistentFlags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// exitError ends the process with status 1 after the message was already printed.
type exitError struct{ code int }

func (e *exitError) Error() string { return "exit" }
