package store

import (
	"context"
	"fmt"

	"github.com/rcliao/agent-continuity/internal/model"
)

// ExportAll returns every entry, optionally filtered by user, oldest first.
func (s *SQLiteStore) ExportAll(ctx context.Context, userID string) ([]model.Entry, error) {
	if userID == "" {
		return s.listWhere(ctx, `1 = 1`)
	}
	return s.listWhere(ctx, `m.user_id = ?`, userID)
}

// Import loads exported entries, keeping their ids and timestamps. Hash and
// token count are re-derived and every index is rebuilt, so an export/import
// round trip yields the same lookups. Entries whose id already exists are
// skipped. Returns the number imported.
func (s *SQLiteStore) Import(ctx context.Context, entries []model.Entry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	imported := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		m := e
		if m.ID == "" {
			m.ID = newID()
		}
		if err := mustExist(ctx, tx, m.ID); err == nil {
			continue
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now().UTC()
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		m.Tags = normalizeTags(m.Tags)
		derive(&m)
		if err := m.Validate(); err != nil {
			return 0, fmt.Errorf("import %s: %w", m.ID, err)
		}

		// Parent links are restored in a second pass once every row exists.
		parent := m.ParentID
		m.ParentID = ""
		args, err := entryArgs(&m)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memories (`+entryColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return 0, fmt.Errorf("import %s: %w", m.ID, err)
		}
		if err := writeIndexes(ctx, tx, &m); err != nil {
			return 0, err
		}
		m.ParentID = parent
		imported = append(imported, m)
	}

	now := s.now()
	for _, m := range imported {
		if m.ParentID != "" {
			if err := mustExist(ctx, tx, m.ParentID); err == nil {
				if _, err := tx.ExecContext(ctx, `UPDATE memories SET parent_id = ? WHERE id = ?`, m.ParentID, m.ID); err != nil {
					return 0, fmt.Errorf("restore parent of %s: %w", m.ID, err)
				}
			}
		}
		for _, rid := range m.RelatedIDs {
			if rid == m.ID {
				continue
			}
			if err := mustExist(ctx, tx, rid); err != nil {
				continue
			}
			if err := insertRelated(ctx, tx, m.ID, rid, now); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(imported), nil
}
