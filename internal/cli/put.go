package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/continuity"
	"github.com/rcliao/agent-continuity/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("session", "s", "", "Owning session id")
	cmd.Flags().String("type", string(model.TypeFact), "Type: fact, preference, conversation, file_context, continuity_hook, ritual, file_insight, file_anchor, file_motif")
	cmd.Flags().StringP("category", "c", "", "Free-text category")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Float64("importance", 0.5, "Importance in [0,1]")
	cmd.Flags().Float64("relevance", 1.0, "Initial relevance in [0,1]")
	cmd.Flags().String("parent", "", "Parent memory id")
	cmd.Flags().Duration("ttl", 0, "Expire after this long (e.g. 72h)")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	typ, _ := cmd.Flags().GetString("type")
	category, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	importance, _ := cmd.Flags().GetFloat64("importance")
	relevance, _ := cmd.Flags().GetFloat64("relevance")
	parent, _ := cmd.Flags().GetString("parent")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	m, st, _ := openManager()
	defer st.Close()

	e, err := m.CreateMemory(cmd.Context(), userID, session, model.MemoryType(typ), category, strings.TrimSpace(content), continuity.CreateOptions{
		Importance: continuity.Float(importance),
		Relevance:  continuity.Float(relevance),
		Tags:       splitList(tagsStr),
		ParentID:   parent,
		TTL:        ttl,
	})
	if err != nil {
		exitErr("put", err)
	}
	printJSON(e)
}

// readContent takes the positional args, or stdin when it is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if stat == nil || stat.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(b)
}
