package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search memories by similarity",
		Long:  "Query the ledger keeping only memories whose similarity to the text reaches --threshold. Accepts every query filter.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	addQueryFlags(cmd)
	cmd.Flags().Float64("threshold", 0.2, "Minimum similarity in [-1,1]")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	p := queryParams(cmd)
	p.Semantic = &store.SemanticQuery{Text: strings.Join(args, " "), Threshold: threshold}

	_, st, _ := openManager()
	defer st.Close()

	entries, err := st.Query(cmd.Context(), p)
	if err != nil {
		exitErr("search", err)
	}
	printJSON(entries)
}
