package model

import "time"

// ScheduleKind controls when a ritual is due.
type ScheduleKind string

const (
	ScheduleDaily        ScheduleKind = "daily"
	ScheduleWeekly       ScheduleKind = "weekly"
	ScheduleMonthly      ScheduleKind = "monthly"
	ScheduleSessionStart ScheduleKind = "session_start"
	ScheduleManual       ScheduleKind = "manual"
)

// ValidSchedules are the allowed schedule kinds.
var ValidSchedules = map[ScheduleKind]bool{
	ScheduleDaily:        true,
	ScheduleWeekly:       true,
	ScheduleMonthly:      true,
	ScheduleSessionStart: true,
	ScheduleManual:       true,
}

// RitualActionKind is one maintenance step.
type RitualActionKind string

const (
	RitualCleanup     RitualActionKind = "cleanup"
	RitualConsolidate RitualActionKind = "consolidate"
	RitualReweight    RitualActionKind = "reweight"
	RitualSummarize   RitualActionKind = "summarize"
)

// ValidRitualActions are the allowed ritual actions.
var ValidRitualActions = map[RitualActionKind]bool{
	RitualCleanup:     true,
	RitualConsolidate: true,
	RitualReweight:    true,
	RitualSummarize:   true,
}

// RitualAction is an action plus its parameters. Zero parameters fall back
// to the scheduler's defaults.
type RitualAction struct {
	Kind RitualActionKind `json:"kind"`

	// cleanup
	MaxAgeDays          int     `json:"max_age_days,omitempty"`
	ImportanceThreshold float64 `json:"importance_threshold,omitempty"`

	// consolidate
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	MaxDistinctness     float64 `json:"max_distinctness,omitempty"`

	// reweight
	DecayPerDay float64 `json:"decay_per_day,omitempty"`
	AccessBoost float64 `json:"access_boost,omitempty"`

	// summarize
	MinEntries int `json:"min_entries,omitempty"`
}

// ActionResult is the outcome of one ritual action.
type ActionResult struct {
	Kind     RitualActionKind `json:"kind"`
	Affected int              `json:"affected"`
	Error    string           `json:"error,omitempty"`
}

// RitualRun is the metadata of the latest ritual execution.
type RitualRun struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Actions   []ActionResult `json:"actions"`
}

// Failed reports whether any action of the run failed.
func (r *RitualRun) Failed() bool {
	for _, a := range r.Actions {
		if a.Error != "" {
			return true
		}
	}
	return false
}

// MemoryRitual is a scheduled maintenance job over a user's memories.
type MemoryRitual struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Schedule       ScheduleKind   `json:"schedule"`
	Actions        []RitualAction `json:"actions"`
	IsActive       bool           `json:"is_active"`
	LastExecuted   *time.Time     `json:"last_executed,omitempty"`
	ExecutionCount int            `json:"execution_count"`
	AvgDuration    time.Duration  `json:"avg_duration"`
	LastRun        *RitualRun     `json:"last_run,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
