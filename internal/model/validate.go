package model

import (
	"errors"
	"fmt"
)

// ErrInvalidEntry is returned when a record fails validation at the store boundary.
var ErrInvalidEntry = errors.New("invalid entry")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, fmt.Sprintf(format, args...))
}

func unitInterval(name string, v float64) error {
	if v < 0 || v > 1 {
		return invalid("%s %.3f outside [0,1]", name, v)
	}
	return nil
}

// Validate checks the entry and stamps missing schema versions.
func (e *Entry) Validate() error {
	if e.UserID == "" {
		return invalid("user id is required")
	}
	if !ValidTypes[e.Type] {
		return invalid("unknown type %q", e.Type)
	}
	if err := unitInterval("importance", e.Importance); err != nil {
		return err
	}
	if err := unitInterval("relevance", e.Relevance); err != nil {
		return err
	}
	if e.File != nil {
		if e.File.SchemaVersion == 0 {
			e.File.SchemaVersion = ProvenanceSchemaVersion
		}
		if e.File.SchemaVersion != ProvenanceSchemaVersion {
			return invalid("unsupported file provenance schema v%d", e.File.SchemaVersion)
		}
		if e.File.DocumentID == "" {
			return invalid("file provenance requires a document id")
		}
		if err := unitInterval("file confidence", e.File.Confidence); err != nil {
			return err
		}
	}
	if e.FileRelations != nil {
		if e.FileRelations.SchemaVersion == 0 {
			e.FileRelations.SchemaVersion = RelationshipSchemaVersion
		}
		if e.FileRelations.SchemaVersion != RelationshipSchemaVersion {
			return invalid("unsupported file relationship schema v%d", e.FileRelations.SchemaVersion)
		}
		for _, a := range e.FileRelations.AnchorPoints {
			if a.Name == "" {
				return invalid("anchor point without a name")
			}
		}
	}
	if e.ParentID != "" && e.ParentID == e.ID {
		return invalid("entry cannot be its own parent")
	}
	return nil
}

// Validate checks a hook's trigger and action shapes.
func (h *ContinuityHook) Validate() error {
	if h.UserID == "" {
		return invalid("hook user id is required")
	}
	if !ValidTriggers[h.Trigger.Kind] {
		return invalid("unknown trigger %q", h.Trigger.Kind)
	}
	if !ValidActions[h.Action.Kind] {
		return invalid("unknown action %q", h.Action.Kind)
	}
	switch h.Trigger.Kind {
	case TriggerKeyword, TriggerFileContent:
		if h.Trigger.Pattern == "" {
			return invalid("%s trigger requires a pattern", h.Trigger.Kind)
		}
	case TriggerContext:
		if len(h.Trigger.Match) == 0 {
			return invalid("context trigger requires match fields")
		}
	case TriggerTime:
		if h.Trigger.Schedule == "" {
			return invalid("time trigger requires a schedule")
		}
	case TriggerTopic:
		if len(h.Trigger.Topics) == 0 {
			return invalid("topic trigger requires topics")
		}
	}
	switch h.Action.Kind {
	case ActionInjectMemory:
		if len(h.Action.MemoryIDs) == 0 {
			return invalid("inject_memory action requires memory ids")
		}
	case ActionTriggerRitual:
		if h.Action.RitualID == "" {
			return invalid("trigger_ritual action requires a ritual id")
		}
	case ActionUpdatePreference:
		if h.Action.Key == "" {
			return invalid("update_preference action requires a key")
		}
	}
	return nil
}

// Validate checks the ritual schedule and its actions.
func (r *MemoryRitual) Validate() error {
	if r.UserID == "" {
		return invalid("ritual user id is required")
	}
	if !ValidSchedules[r.Schedule] {
		return invalid("unknown schedule %q", r.Schedule)
	}
	if len(r.Actions) == 0 {
		return invalid("ritual %q has no actions", r.Name)
	}
	for _, a := range r.Actions {
		if !ValidRitualActions[a.Kind] {
			return invalid("unknown ritual action %q", a.Kind)
		}
	}
	return nil
}
