package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "relate <id> <other-id>",
		Short: "Create or remove relations between memories",
		Long: `Relate two memories in both directions. With --parent the second id
becomes the parent of the first; an empty second id ("") detaches it.`,
		Args: cobra.ExactArgs(2),
		Run:  runRelate,
	}

	cmd.Flags().Bool("parent", false, "Make <other-id> the parent of <id>")
	cmd.Flags().Bool("rm", false, "Remove the related link")

	RootCmd.AddCommand(cmd)
}

func runRelate(cmd *cobra.Command, args []string) {
	parent, _ := cmd.Flags().GetBool("parent")
	rm, _ := cmd.Flags().GetBool("rm")
	a, b := args[0], args[1]

	m, st, _ := openManager()
	defer st.Close()
	ctx := cmd.Context()

	var err error
	switch {
	case parent:
		err = m.SetParent(ctx, a, b)
	case rm:
		err = st.Unrelate(ctx, a, b)
	default:
		err = m.Relate(ctx, a, b)
	}
	if err != nil {
		exitErr("relate", err)
	}

	e := m.GetMemory(ctx, a)
	if e == nil {
		exitErr("relate", fmt.Errorf("%s vanished", a))
	}
	printJSON(e)
}
