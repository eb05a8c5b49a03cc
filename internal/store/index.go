package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rcliao/agent-continuity/internal/model"
)

// Index kinds stored in memory_index. The semantic-hash, document and chunk
// indexes are column indexes on memories and need no extra rows.
const (
	indexTag    = "tag"
	indexAnchor = "anchor"
)

// writeIndexes registers the entry's tags and anchor points. Callers run it
// inside the same transaction as the row write.
func writeIndexes(ctx context.Context, tx *sql.Tx, m *model.Entry) error {
	for _, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_index (kind, value, memory_id) VALUES (?, ?, ?)`,
			indexTag, tag, m.ID); err != nil {
			return fmt.Errorf("index tag %q: %w", tag, err)
		}
	}
	if m.FileRelations != nil {
		for _, a := range m.FileRelations.AnchorPoints {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO memory_index (kind, value, memory_id) VALUES (?, ?, ?)`,
				indexAnchor, a.Name, m.ID); err != nil {
				return fmt.Errorf("index anchor %q: %w", a.Name, err)
			}
		}
	}
	return nil
}

// ByHash returns a user's entries in the given semantic-hash bucket.
func (s *SQLiteStore) ByHash(ctx context.Context, userID, hash string) ([]model.Entry, error) {
	return s.listWhere(ctx, `m.user_id = ? AND m.semantic_hash = ?`, userID, hash)
}

// ByDocument returns all entries derived from a source document.
func (s *SQLiteStore) ByDocument(ctx context.Context, documentID string) ([]model.Entry, error) {
	return s.listWhere(ctx, `m.doc_id = ?`, documentID)
}

// ByChunk returns the entries extracted from a document chunk.
func (s *SQLiteStore) ByChunk(ctx context.Context, chunkID string) ([]model.Entry, error) {
	return s.listWhere(ctx, `m.chunk_id = ?`, chunkID)
}

// ByTag returns a user's entries carrying the tag.
func (s *SQLiteStore) ByTag(ctx context.Context, userID, tag string) ([]model.Entry, error) {
	return s.listWhere(ctx,
		`m.user_id = ? AND m.id IN (SELECT memory_id FROM memory_index WHERE kind = ? AND value = ?)`,
		userID, indexTag, tag)
}

// ByAnchor returns a user's file entries that declare the anchor point.
func (s *SQLiteStore) ByAnchor(ctx context.Context, userID, anchor string) ([]model.Entry, error) {
	return s.listWhere(ctx,
		`m.user_id = ? AND m.id IN (SELECT memory_id FROM memory_index WHERE kind = ? AND value = ?)`,
		userID, indexAnchor, anchor)
}

func (s *SQLiteStore) listWhere(ctx context.Context, where string, args ...interface{}) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories m WHERE `+where+` ORDER BY m.created_at, m.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		m, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := hydrate(ctx, s.db, entries); err != nil {
		return nil, err
	}
	return entries, nil
}
