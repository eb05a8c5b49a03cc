package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Filter memories",
		Long:  "List the user's memories matching every given filter, ordered by (relevance + importance) / 2.",
		Run:   runQuery,
	}

	addQueryFlags(cmd)
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("session", "s", "", "Filter by session")
	cmd.Flags().String("type", "", "Filter by types (comma-separated)")
	cmd.Flags().StringP("category", "c", "", "Filter by categories (comma-separated)")
	cmd.Flags().StringP("tags", "t", "", "Require every tag (comma-separated)")
	cmd.Flags().Float64("min-importance", 0, "Minimum importance")
	cmd.Flags().Float64("min-relevance", 0, "Minimum relevance")
	cmd.Flags().Duration("max-age", 0, "Only memories younger than this (e.g. 168h)")
	cmd.Flags().Bool("inactive", false, "Include inactive and expired memories")
	cmd.Flags().String("doc", "", "Filter by source document id")
	cmd.Flags().String("file-name", "", "Filter by file name substring")
	cmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
}

func queryParams(cmd *cobra.Command) store.QueryParams {
	session, _ := cmd.Flags().GetString("session")
	types, _ := cmd.Flags().GetString("type")
	categories, _ := cmd.Flags().GetString("category")
	tags, _ := cmd.Flags().GetString("tags")
	minImp, _ := cmd.Flags().GetFloat64("min-importance")
	minRel, _ := cmd.Flags().GetFloat64("min-relevance")
	maxAge, _ := cmd.Flags().GetDuration("max-age")
	inactive, _ := cmd.Flags().GetBool("inactive")
	doc, _ := cmd.Flags().GetString("doc")
	fileName, _ := cmd.Flags().GetString("file-name")
	limit, _ := cmd.Flags().GetInt("limit")

	p := store.QueryParams{
		UserID:          userID,
		SessionID:       session,
		Categories:      splitList(categories),
		Tags:            splitList(tags),
		MinImportance:   minImp,
		MinRelevance:    minRel,
		MaxAge:          maxAge,
		IncludeInactive: inactive,
		Limit:           limit,
	}
	for _, t := range splitList(types) {
		if !model.ValidTypes[model.MemoryType(t)] {
			exitErr("query", fmt.Errorf("unknown type %q", t))
		}
		p.Types = append(p.Types, model.MemoryType(t))
	}
	if doc != "" || fileName != "" {
		p.File = &store.FileFilter{DocumentID: doc, FileName: fileName}
	}
	return p
}

func runQuery(cmd *cobra.Command, args []string) {
	idsOnly, _ := cmd.Flags().GetBool("ids-only")
	p := queryParams(cmd)

	m, st, _ := openManager()
	defer st.Close()

	entries := m.QueryMemories(cmd.Context(), p)
	if idsOnly {
		for _, e := range entries {
			fmt.Println(e.ID)
		}
		return
	}
	printJSON(entries)
}
