package model

import "time"

// TriggerKind identifies how a continuity hook is matched.
type TriggerKind string

const (
	TriggerKeyword      TriggerKind = "keyword"
	TriggerContext      TriggerKind = "context"
	TriggerTime         TriggerKind = "time"
	TriggerSessionStart TriggerKind = "session_start"
	TriggerTopic        TriggerKind = "topic"
	TriggerFileContent  TriggerKind = "file_content"
)

// ValidTriggers are the allowed trigger kinds.
var ValidTriggers = map[TriggerKind]bool{
	TriggerKeyword:      true,
	TriggerContext:      true,
	TriggerTime:         true,
	TriggerSessionStart: true,
	TriggerTopic:        true,
	TriggerFileContent:  true,
}

// ActionKind identifies what a triggered hook does.
type ActionKind string

const (
	ActionInjectMemory     ActionKind = "inject_memory"
	ActionLoadContext      ActionKind = "load_context"
	ActionTriggerRitual    ActionKind = "trigger_ritual"
	ActionUpdatePreference ActionKind = "update_preference"
)

// ValidActions are the allowed action kinds.
var ValidActions = map[ActionKind]bool{
	ActionInjectMemory:     true,
	ActionLoadContext:      true,
	ActionTriggerRitual:    true,
	ActionUpdatePreference: true,
}

// Trigger describes when a hook fires.
//
// Pattern is a case-insensitive regular expression for keyword and
// file_content triggers. Match holds field/value pairs for context triggers
// (fields: topic, intent, session_id, message). Schedule is a cron
// expression for time triggers. Topics lists topic substrings.
type Trigger struct {
	Kind     TriggerKind       `json:"kind"`
	Pattern  string            `json:"pattern,omitempty"`
	Match    map[string]string `json:"match,omitempty"`
	Schedule string            `json:"schedule,omitempty"`
	Topics   []string          `json:"topics,omitempty"`
}

// Action describes what a hook does once triggered.
type Action struct {
	Kind      ActionKind `json:"kind"`
	MemoryIDs []string   `json:"memory_ids,omitempty"`
	RitualID  string     `json:"ritual_id,omitempty"`
	Key       string     `json:"key,omitempty"`
	Value     string     `json:"value,omitempty"`
}

// ContinuityHook is a trigger/action rule evaluated on live turns.
type ContinuityHook struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Trigger       Trigger    `json:"trigger"`
	Action        Action     `json:"action"`
	Priority      int        `json:"priority"`
	IsActive      bool       `json:"is_active"`
	TriggerCount  int        `json:"trigger_count"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
