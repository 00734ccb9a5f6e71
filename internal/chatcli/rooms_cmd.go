// rooms_cmd.go implements the room directory commands (rooms, open).
package chatcli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/contenox/chatsync/chatstore"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List your rooms, most recent activity first.",
	Args:  cobra.NoArgs,
	RunE:  runRooms,
}

var openCmd = &cobra.Command{
	Use:   "open <peer-id>",
	Short: "Create or reuse the room with a peer and print its id.",
	Long: `Create the room between you and <peer-id>, or reuse it when it exists.
Rooms are keyed by the sorted participant pair plus the optional --context,
so both sides always end up in the same room.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().String("context", "", "Optional numeric context the room belongs to")
	openCmd.Flags().String("name", "", "Your display name stored with the room")
	openCmd.Flags().String("peer-name", "", "The peer's display name stored with the room")
}

func runRooms(cmd *cobra.Command, _ []string) error {
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
	entries, err := e.client.Index.List(ctx, self)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No rooms yet. Start one with: chat open <peer-id>")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WITH\tROOM\tUPDATED\tLAST MESSAGE")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			entry.Title(), entry.Room.ID, formatMillis(entry.Room.UpdatedAt), preview(entry.Room.LastMessage, 48))
	}
	return tw.Flush()
}

func runOpen(cmd *cobra.Command, args []string) error {
	contextID, err := parseContextID(cmd)
	if err != nil {
		return err
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
	name, _ := cmd.Flags().GetString("name")
	peerName, _ := cmd.Flags().GetString("peer-name")
	roomID, err := e.client.Rooms.CreateOrGetRoom(ctx,
		chatstore.Participant{ID: self, UserName: name},
		chatstore.Participant{ID: args[0], UserName: peerName},
		contextID,
	)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), roomID)
	return nil
}

func parseContextID(cmd *cobra.Command) (*int64, error) {
	raw, _ := cmd.Flags().GetString("context")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --context %q: must be an integer", raw)
	}
	return &id, nil
}
