// Package model defines the core memory data types.
package model

import "time"

// MemoryType is the closed set of memory classifications.
type MemoryType string

const (
	TypeFact           MemoryType = "fact"
	TypePreference     MemoryType = "preference"
	TypeConversation   MemoryType = "conversation"
	TypeFileContext    MemoryType = "file_context"
	TypeContinuityHook MemoryType = "continuity_hook"
	TypeRitual         MemoryType = "ritual"
	TypeFileInsight    MemoryType = "file_insight"
	TypeFileAnchor     MemoryType = "file_anchor"
	TypeFileMotif      MemoryType = "file_motif"
)

// ValidTypes are the allowed memory types.
var ValidTypes = map[MemoryType]bool{
	TypeFact:           true,
	TypePreference:     true,
	TypeConversation:   true,
	TypeFileContext:    true,
	TypeContinuityHook: true,
	TypeRitual:         true,
	TypeFileInsight:    true,
	TypeFileAnchor:     true,
	TypeFileMotif:      true,
}

// IsFileType reports whether memories of this type are derived from a document.
func (t MemoryType) IsFileType() bool {
	switch t {
	case TypeFileContext, TypeFileInsight, TypeFileAnchor, TypeFileMotif:
		return true
	}
	return false
}

// Current schema versions for the structured substructures of an entry.
const (
	ProvenanceSchemaVersion   = 1
	RelationshipSchemaVersion = 1
)

// Entry is the atomic unit of memory.
type Entry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	Type     MemoryType `json:"type"`
	Category string     `json:"category"`
	Content  string     `json:"content"`

	Importance   float64    `json:"importance"`
	Relevance    float64    `json:"relevance"`
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	TokenCount   int        `json:"token_count"`
	SemanticHash string     `json:"semantic_hash"`

	File *FileProvenance `json:"file,omitempty"`

	ParentID      string             `json:"parent_id,omitempty"`
	ChildIDs      []string           `json:"child_ids,omitempty"`
	RelatedIDs    []string           `json:"related_ids,omitempty"`
	HookIDs       []string           `json:"hook_ids,omitempty"`
	FileRelations *FileRelationships `json:"file_relations,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// FileProvenance records where a file-derived memory came from.
type FileProvenance struct {
	SchemaVersion    int     `json:"schema_version"`
	DocumentID       string  `json:"document_id"`
	FileName         string  `json:"file_name,omitempty"`
	FileType         string  `json:"file_type,omitempty"`
	ChunkID          string  `json:"chunk_id,omitempty"`
	Page             int     `json:"page,omitempty"`
	Section          string  `json:"section,omitempty"`
	ExtractionMethod string  `json:"extraction_method,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
}

// FileRelationships links a file memory to other parts of its document.
type FileRelationships struct {
	SchemaVersion   int           `json:"schema_version"`
	RelatedChunkIDs []string      `json:"related_chunk_ids,omitempty"`
	AnchorPoints    []AnchorPoint `json:"anchor_points,omitempty"`
	MotifInstances  []string      `json:"motif_instances,omitempty"`
}

// AnchorPoint is a named location inside a document. Anchor names are
// registered in the tag/anchor index.
type AnchorPoint struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Score returns the default ranking key (relevance + importance) / 2.
func (e *Entry) Score() float64 {
	return (e.Relevance + e.Importance) / 2
}

// Expired reports whether the entry's expiry has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// HasFile reports whether the entry carries file provenance.
func (e *Entry) HasFile() bool {
	return e.File != nil && e.File.DocumentID != ""
}
