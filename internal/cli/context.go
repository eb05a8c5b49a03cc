package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/inject"
	"github.com/rcliao/agent-continuity/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inject [message]",
		Short: "Assemble relevant memories for a turn",
		Long: `Evaluate the user's hooks, score memories against the live topic and
intent, then greedily pack them into a token budget.`,
		Run: runInject,
	}

	cmd.Flags().StringP("session", "s", "", "Session id")
	cmd.Flags().String("topic", "", "Current topic")
	cmd.Flags().String("intent", "", "Current user intent")
	cmd.Flags().IntP("budget", "b", 2000, "Max tokens in output")
	cmd.Flags().String("strategy", string(inject.Hybrid), "Strategy: hybrid, relevance_based, importance_based")
	cmd.Flags().Bool("files", false, "Report file-derived and conversational memories separately")
	cmd.Flags().StringSlice("attach", nil, "Files attached to this turn (matched by file_content hooks)")
	cmd.Flags().StringSlice("history", nil, "Recent turns, oldest first")

	RootCmd.AddCommand(cmd)
}

func runInject(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	topic, _ := cmd.Flags().GetString("topic")
	intent, _ := cmd.Flags().GetString("intent")
	budget, _ := cmd.Flags().GetInt("budget")
	strategyStr, _ := cmd.Flags().GetString("strategy")
	files, _ := cmd.Flags().GetBool("files")
	attach, _ := cmd.Flags().GetStringSlice("attach")
	history, _ := cmd.Flags().GetStringSlice("history")

	strategy, err := inject.ParseStrategy(strategyStr)
	if err != nil {
		exitErr("inject", err)
	}

	c := model.ConversationContext{
		UserID:              userID,
		SessionID:           session,
		Topic:               topic,
		UserIntent:          intent,
		ConversationHistory: history,
		MaxTokens:           budget,
		CurrentMessage:      readContent(args),
		IncludeFileMemories: files,
	}
	for _, path := range attach {
		b, err := os.ReadFile(path)
		if err != nil {
			exitErr("read attachment", err)
		}
		c.FileContents = append(c.FileContents, string(b))
	}

	m, st, _ := openManager()
	defer st.Close()

	printJSON(m.InjectMemories(cmd.Context(), c, budget, strategy))
}
