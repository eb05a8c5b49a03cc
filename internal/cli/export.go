package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export the user's memories as a JSON array, oldest first. --all exports every user.",
		Run:   runExport,
	}

	cmd.Flags().Bool("all", false, "Export every user's memories")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	owner := userID
	if all {
		owner = ""
	}

	_, st, _ := openManager()
	defer st.Close()

	entries, err := st.ExportAll(cmd.Context(), owner)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(entries)
}
