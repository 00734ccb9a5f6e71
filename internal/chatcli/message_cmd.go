// message_cmd.go implements the message commands (send, history, listen).
package chatcli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libroutine"
	"github.com/spf13/cobra"
)

// sessionKeepAlive renews the scoped token while listen runs.
const sessionKeepAlive = "chat-session-keepalive"

var sendCmd = &cobra.Command{
	Use:   "send <room-id> [text...]",
	Short: "Post a message to a room.",
	Long:  `Post a message to a room. The text is taken from the remaining arguments, or from stdin when piped.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Print the most recent messages of a room.",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var listenCmd = &cobra.Command{
	Use:   "listen <room-id>",
	Short: "Follow a room and print new messages until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE:  runListen,
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Number of messages to print")
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args[1:], " ")
	if text == "" {
		piped, err := readPiped(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = piped
	}
	ctx, cancel := commandContext(cmd, true)
	defer cancel()
	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	self, err := e.self(ctx)
	if err != nil {
		return err
	}
	return e.client.Messages.Append(ctx, args[0], self, text)
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	ctx, cancel := commandContext(cmd, true)
	defer cancel()
	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	self, err := e.self(ctx)
	if err != nil {
		return err
	}
	msgs, err := e.client.Messages.Snapshot(ctx, args[0], limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintln(cmd.OutOrStdout(), formatMessage(m, self))
	}
	return nil
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd, false)
	defer cancel()
	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	self, err := e.self(ctx)
	if err != nil {
		return err
	}

	libroutine.GetGroup().StartLoop(ctx, &libroutine.LoopConfig{
		Key:          sessionKeepAlive,
		Threshold:    3,
		ResetTimeout: time.Minute,
		Interval:     time.Minute,
		Operation:    e.client.Session.EnsureSession,
	})

	out := newFeed(cmd.OutOrStdout(), self)
	stop := e.client.Poller.Subscribe(ctx, args[0], out.update)
	defer stop()

	slog.Debug("listening", "room", args[0], "interval", e.opts.PollInterval)
	<-ctx.Done()
	return nil
}

// feed prints every message of successive snapshots once.
type feed struct {
	mu   sync.Mutex
	w    io.Writer
	self string
	seen map[string]struct{}
}

func newFeed(w io.Writer, self string) *feed {
	return &feed{w: w, self: self, seen: make(map[string]struct{})}
}

func (f *feed) update(msgs []*chatstore.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		if _, ok := f.seen[m.ID]; ok {
			continue
		}
		f.seen[m.ID] = struct{}{}
		fmt.Fprintln(f.w, formatMessage(m, f.self))
	}
}

// readPiped reads r unless it is an interactive terminal.
func readPiped(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(r)
	return string(data), err
}
