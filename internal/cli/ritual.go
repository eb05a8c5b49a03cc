package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/ritual"
)

func init() {
	ritualCmd := &cobra.Command{
		Use:   "ritual",
		Short: "Maintenance ritual management",
	}

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a ritual",
		Long: `Create a maintenance ritual. Actions run in the order given:
cleanup, consolidate, reweight, summarize. Zero parameters use the defaults.`,
		Args: cobra.ExactArgs(1),
		Run:  runRitualAdd,
	}
	addCmd.Flags().String("schedule", string(model.ScheduleDaily), "Schedule: daily, weekly, monthly, session_start, manual")
	addCmd.Flags().String("actions", "", "Comma-separated actions (required)")
	addCmd.Flags().Int("max-age-days", 0, "cleanup: minimum age in days")
	addCmd.Flags().Float64("importance-threshold", 0, "cleanup: delete below this importance")
	addCmd.Flags().Float64("similarity", 0, "consolidate: minimum similarity")
	addCmd.Flags().Float64("max-distinctness", 0, "consolidate: skip entries above this importance")
	addCmd.Flags().Float64("decay", 0, "reweight: relevance decay per day")
	addCmd.Flags().Float64("access-boost", 0, "reweight: relevance per recorded access")
	addCmd.Flags().Int("min-entries", 0, "summarize: fewest entries worth a summary")
	addCmd.MarkFlagRequired("actions")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the user's rituals",
		Run:   runRitualList,
	}

	runCmd := &cobra.Command{
		Use:   "run [id]",
		Short: "Execute a ritual now, or every due ritual with --due",
		Args:  cobra.MaximumNArgs(1),
		Run:   runRitualRun,
	}
	runCmd.Flags().Bool("due", false, "Run the user's due rituals")

	ritualCmd.AddCommand(addCmd, listCmd, runCmd)
	RootCmd.AddCommand(ritualCmd)
}

func runRitualAdd(cmd *cobra.Command, args []string) {
	schedule, _ := cmd.Flags().GetString("schedule")
	actions, _ := cmd.Flags().GetString("actions")
	maxAge, _ := cmd.Flags().GetInt("max-age-days")
	impThreshold, _ := cmd.Flags().GetFloat64("importance-threshold")
	sim, _ := cmd.Flags().GetFloat64("similarity")
	distinct, _ := cmd.Flags().GetFloat64("max-distinctness")
	decay, _ := cmd.Flags().GetFloat64("decay")
	boost, _ := cmd.Flags().GetFloat64("access-boost")
	minEntries, _ := cmd.Flags().GetInt("min-entries")

	r := &model.MemoryRitual{
		UserID:   userID,
		Name:     args[0],
		Schedule: model.ScheduleKind(schedule),
	}
	for _, kind := range splitList(actions) {
		a := model.RitualAction{Kind: model.RitualActionKind(kind)}
		switch a.Kind {
		case model.RitualCleanup:
			a.MaxAgeDays, a.ImportanceThreshold = maxAge, impThreshold
		case model.RitualConsolidate:
			a.SimilarityThreshold, a.MaxDistinctness = sim, distinct
		case model.RitualReweight:
			a.DecayPerDay, a.AccessBoost = decay, boost
		case model.RitualSummarize:
			a.MinEntries = minEntries
		}
		r.Actions = append(r.Actions, a)
	}

	m, st, _ := openManager()
	defer st.Close()

	out, err := m.CreateRitual(cmd.Context(), r)
	if err != nil {
		exitErr("ritual add", err)
	}
	printJSON(out)
}

func runRitualList(cmd *cobra.Command, args []string) {
	_, st, _ := openManager()
	defer st.Close()

	rituals, err := st.ListRituals(cmd.Context(), userID)
	if err != nil {
		exitErr("ritual list", err)
	}
	printJSON(rituals)
}

// ritualOutcome is the printable form of ritual.Executed.
type ritualOutcome struct {
	RitualID string           `json:"ritual_id"`
	Name     string           `json:"name"`
	Run      *model.RitualRun `json:"run,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func outcomes(done []ritual.Executed) []ritualOutcome {
	out := make([]ritualOutcome, 0, len(done))
	for _, d := range done {
		o := ritualOutcome{RitualID: d.Ritual.ID, Name: d.Ritual.Name, Run: d.Run}
		if d.Err != nil {
			o.Error = d.Err.Error()
		}
		out = append(out, o)
	}
	return out
}

func runRitualRun(cmd *cobra.Command, args []string) {
	due, _ := cmd.Flags().GetBool("due")
	if due == (len(args) == 1) {
		exitErr("ritual run", fmt.Errorf("give either a ritual id or --due"))
	}

	m, st, _ := openManager()
	defer st.Close()

	if due {
		printJSON(outcomes(m.RunRitualsDue(cmd.Context(), userID)))
		return
	}
	run, err := m.RunRitual(cmd.Context(), args[0])
	if err != nil {
		exitErr("ritual run", err)
	}
	printJSON(run)
}
