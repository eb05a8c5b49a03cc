package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/model"
)

func init() {
	hookCmd := &cobra.Command{
		Use:   "hook",
		Short: "Continuity hook management",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a hook",
		Long: `Register a trigger/action rule evaluated on every injection.

Triggers: keyword and file_content take --pattern (case-insensitive regexp),
context takes --match field=value (topic, intent, session_id, message),
time takes --schedule (cron), topic takes --topics, session_start takes nothing.

Actions: inject_memory takes --memories, trigger_ritual takes --ritual,
update_preference takes --key and --value, load_context takes nothing.`,
		Run: runHookAdd,
	}
	addCmd.Flags().String("trigger", "", "Trigger kind (required)")
	addCmd.Flags().String("pattern", "", "Regexp for keyword and file_content triggers")
	addCmd.Flags().StringSlice("match", nil, "field=value pairs for context triggers")
	addCmd.Flags().String("schedule", "", "Cron expression for time triggers")
	addCmd.Flags().String("topics", "", "Comma-separated topics for topic triggers")
	addCmd.Flags().String("action", "", "Action kind (required)")
	addCmd.Flags().String("memories", "", "Comma-separated memory ids for inject_memory")
	addCmd.Flags().String("ritual", "", "Ritual id for trigger_ritual")
	addCmd.Flags().String("key", "", "Preference key for update_preference")
	addCmd.Flags().String("value", "", "Preference value for update_preference")
	addCmd.Flags().IntP("priority", "p", 0, "Higher fires first")
	addCmd.MarkFlagRequired("trigger")
	addCmd.MarkFlagRequired("action")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the user's hooks",
		Run:   runHookList,
	}
	listCmd.Flags().Bool("inactive", false, "Include inactive hooks")

	hookCmd.AddCommand(addCmd, listCmd)
	RootCmd.AddCommand(hookCmd)
}

func runHookAdd(cmd *cobra.Command, args []string) {
	trigger, _ := cmd.Flags().GetString("trigger")
	pattern, _ := cmd.Flags().GetString("pattern")
	match, _ := cmd.Flags().GetStringSlice("match")
	schedule, _ := cmd.Flags().GetString("schedule")
	topics, _ := cmd.Flags().GetString("topics")
	action, _ := cmd.Flags().GetString("action")
	memories, _ := cmd.Flags().GetString("memories")
	ritualID, _ := cmd.Flags().GetString("ritual")
	key, _ := cmd.Flags().GetString("key")
	value, _ := cmd.Flags().GetString("value")
	priority, _ := cmd.Flags().GetInt("priority")

	trig := model.Trigger{
		Kind:     model.TriggerKind(trigger),
		Pattern:  pattern,
		Schedule: schedule,
		Topics:   splitList(topics),
	}
	if len(match) > 0 {
		trig.Match = map[string]string{}
		for _, kv := range match {
			field, val, ok := strings.Cut(kv, "=")
			if !ok {
				exitErr("hook add", fmt.Errorf("--match %q: want field=value", kv))
			}
			trig.Match[strings.TrimSpace(field)] = strings.TrimSpace(val)
		}
	}
	act := model.Action{
		Kind:      model.ActionKind(action),
		MemoryIDs: splitList(memories),
		RitualID:  ritualID,
		Key:       key,
		Value:     value,
	}

	m, st, _ := openManager()
	defer st.Close()

	h, err := m.RegisterHook(cmd.Context(), userID, trig, act, priority)
	if err != nil {
		exitErr("hook add", err)
	}
	printJSON(h)
}

func runHookList(cmd *cobra.Command, args []string) {
	inactive, _ := cmd.Flags().GetBool("inactive")

	_, st, _ := openManager()
	defer st.Close()

	hooks, err := st.ListHooks(cmd.Context(), userID, inactive)
	if err != nil {
		exitErr("hook list", err)
	}
	printJSON(hooks)
}
