package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory",
		Long:  "Delete a memory and drop it from every index. Children are detached, not deleted.",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	id := args[0]

	m, st, _ := openManager()
	defer st.Close()

	ok, err := m.DeleteMemory(cmd.Context(), id)
	if err != nil {
		exitErr("rm", err)
	}
	if !ok {
		exitErr("rm", fmt.Errorf("%s: %w", id, store.ErrNotFound))
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", id)
}
