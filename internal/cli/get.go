package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().String("by", "", "Look up by index instead of id: hash, doc, chunk, tag, anchor")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	by, _ := cmd.Flags().GetString("by")
	key := args[0]

	m, st, _ := openManager()
	defer st.Close()
	ctx := cmd.Context()

	var (
		out any
		err error
	)
	switch by {
	case "":
		e := m.GetMemory(ctx, key)
		if e == nil {
			exitErr("get", fmt.Errorf("%s: %w", key, store.ErrNotFound))
		}
		out = e
	case "hash":
		out, err = st.ByHash(ctx, userID, key)
	case "doc":
		out, err = st.ByDocument(ctx, key)
	case "chunk":
		out, err = st.ByChunk(ctx, key)
	case "tag":
		out, err = st.ByTag(ctx, userID, key)
	case "anchor":
		out, err = st.ByAnchor(ctx, userID, key)
	default:
		err = fmt.Errorf("unknown index %q", by)
	}
	if err != nil {
		exitErr("get", err)
	}
	printJSON(out)
}
