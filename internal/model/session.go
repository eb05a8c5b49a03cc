package model

import "time"

// ThreadLease binds one conversation thread to one construct until ExpiresAt.
type ThreadLease struct {
	Token       string    `json:"token"`
	ConstructID string    `json:"construct_id"`
	ThreadID    string    `json:"thread_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at now.
func (l *ThreadLease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// RelationshipAnchor is a piece of persona evidence with a significance weight.
type RelationshipAnchor struct {
	Name         string  `json:"name"`
	Significance float64 `json:"significance"`
}

// PersonaSignal is the output of the external persona classifier.
type PersonaSignal struct {
	ConstructID         string               `json:"construct_id"`
	Confidence          float64              `json:"confidence"`
	Evidence            []string             `json:"evidence,omitempty"`
	RelationshipAnchors []RelationshipAnchor `json:"relationship_anchors,omitempty"`
}

// StrongestAnchor returns the highest anchor significance, or 0.
func (s PersonaSignal) StrongestAnchor() float64 {
	max := 0.0
	for _, a := range s.RelationshipAnchors {
		if a.Significance > max {
			max = a.Significance
		}
	}
	return max
}

// ContextLock pins a detected persona to a thread for a number of messages.
type ContextLock struct {
	ThreadID     string        `json:"thread_id"`
	Signal       PersonaSignal `json:"signal"`
	MaxMessages  int           `json:"max_messages"`
	MessageCount int           `json:"message_count"`
	LockedAt     time.Time     `json:"locked_at"`
}

// Remaining is the number of turns left before the lock self-expires.
func (l *ContextLock) Remaining() int {
	if r := l.MaxMessages - l.MessageCount; r > 0 {
		return r
	}
	return 0
}

// ConversationContext is supplied by the prompt-assembly layer on every turn.
type ConversationContext struct {
	UserID              string   `json:"user_id"`
	SessionID           string   `json:"session_id"`
	Topic               string   `json:"topic"`
	UserIntent          string   `json:"user_intent"`
	ConversationHistory []string `json:"conversation_history,omitempty"`
	MaxTokens           int      `json:"max_tokens"`
	CurrentMessage      string   `json:"current_message"`
	IncludeFileMemories bool     `json:"include_file_memories,omitempty"`

	// FileContents holds the text of files attached to the current turn.
	FileContents []string `json:"file_contents,omitempty"`
	// SessionStart is set on the first turn of a session.
	SessionStart bool `json:"session_start,omitempty"`
}
