package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rcliao/agent-continuity/internal/model"
)

const relRelated = "related_to"

// insertRelated records a symmetric related link as two directed rows.
func insertRelated(ctx context.Context, tx *sql.Tx, a, b string, now time.Time) error {
	if a == b {
		return fmt.Errorf("%w: entry cannot relate to itself", model.ErrInvalidEntry)
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_links (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)`,
			pair[0], pair[1], relRelated, formatTime(now)); err != nil {
			return fmt.Errorf("link %s -> %s: %w", pair[0], pair[1], err)
		}
	}
	return nil
}

// Relate links two entries in both directions. Relating twice is a no-op.
func (s *SQLiteStore) Relate(ctx context.Context, a, b string) error {
	unlock := s.locks.LockMany(a, b)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range []string{a, b} {
		if err := mustExist(ctx, tx, id); err != nil {
			return fmt.Errorf("relate %s: %w", id, err)
		}
	}
	if err := insertRelated(ctx, tx, a, b, s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// Unrelate removes a related link in both directions.
func (s *SQLiteStore) Unrelate(ctx context.Context, a, b string) error {
	unlock := s.locks.LockMany(a, b)
	defer unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_links WHERE rel = ? AND ((from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?))`,
		relRelated, a, b, b, a)
	return err
}

// SetParent makes parentID the parent of childID. An empty parentID detaches
// the child. Cycles are rejected.
func (s *SQLiteStore) SetParent(ctx context.Context, childID, parentID string) error {
	unlock := s.locks.LockMany(childID, parentID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := mustExist(ctx, tx, childID); err != nil {
		return fmt.Errorf("child: %w", err)
	}
	if parentID != "" {
		if err := mustExist(ctx, tx, parentID); err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		// Walk up from the new parent; reaching the child would close a cycle.
		cur := parentID
		for cur != "" {
			if cur == childID {
				return fmt.Errorf("%w: parent link would create a cycle", model.ErrInvalidEntry)
			}
			var next sql.NullString
			if err := tx.QueryRowContext(ctx, `SELECT parent_id FROM memories WHERE id = ?`, cur).Scan(&next); err != nil {
				return err
			}
			cur = next.String
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET parent_id = ?, updated_at = ? WHERE id = ?`,
		optional(parentID), formatTime(s.now()), childID); err != nil {
		return fmt.Errorf("set parent: %w", err)
	}
	return tx.Commit()
}

// hydrate fills the derived ChildIDs and RelatedIDs of each entry.
func hydrate(ctx context.Context, q querier, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pos := make(map[string]int, len(entries))
	args := make([]interface{}, 0, len(entries))
	for i, e := range entries {
		pos[e.ID] = i
		args = append(args, e.ID)
	}
	in := placeholders(len(args))

	rows, err := q.QueryContext(ctx,
		`SELECT parent_id, id FROM memories WHERE parent_id IN (`+in+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return fmt.Errorf("load children: %w", err)
	}
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			rows.Close()
			return err
		}
		i := pos[parent]
		entries[i].ChildIDs = append(entries[i].ChildIDs, child)
	}
	rows.Close()

	rows, err = q.QueryContext(ctx,
		`SELECT from_id, to_id FROM memory_links WHERE rel = ? AND from_id IN (`+in+`) ORDER BY created_at, to_id`,
		append([]interface{}{relRelated}, args...)...)
	if err != nil {
		return fmt.Errorf("load related: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return err
		}
		i := pos[from]
		entries[i].RelatedIDs = append(entries[i].RelatedIDs, to)
	}
	return rows.Err()
}
