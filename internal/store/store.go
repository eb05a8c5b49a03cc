// Package store provides the memory ledger interface and its SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/agent-continuity/internal/model"
)

// ErrNotFound is returned when an entry, hook or ritual does not exist.
var ErrNotFound = errors.New("not found")

// UpdateParams holds a partial update. Nil fields are left unchanged.
type UpdateParams struct {
	Content       *string
	Category      *string
	Importance    *float64
	Relevance     *float64
	Tags          *[]string
	HookIDs       *[]string
	File          *model.FileProvenance
	FileRelations *model.FileRelationships
	ExpiresAt     *time.Time
	IsActive      *bool
}

// Scorer supplies a similarity score between query text and an entry.
// The store applies semantic thresholds only when a Scorer is configured.
type Scorer interface {
	Similarity(ctx context.Context, query string, e *model.Entry) (float64, error)
}

// Store defines the memory ledger.
type Store interface {
	// Create assigns id and timestamps, derives token count and semantic
	// hash, and registers the entry in every applicable index.
	Create(ctx context.Context, e *model.Entry) (*model.Entry, error)

	// Update applies a partial update. Content changes re-derive the hash
	// and token count. Always bumps access count and updated time.
	Update(ctx context.Context, id string, p UpdateParams) (*model.Entry, error)

	// Delete removes an entry from all indexes and detaches its children.
	// Returns false when the id is unknown.
	Delete(ctx context.Context, id string) (bool, error)

	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Entry, error)

	// Query runs a multi-predicate filter ordered by default score.
	Query(ctx context.Context, p QueryParams) ([]model.Entry, error)

	// Touch records an access: access count, last accessed, relevance boost.
	Touch(ctx context.Context, id string, relevanceBoost float64) error

	Close() error
}
