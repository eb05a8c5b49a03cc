package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/agent-continuity/internal/model"
)

const hookColumns = `id, user_id, trigger_json, action_json, priority, is_active, trigger_count, last_triggered, created_at`

// CreateHook validates and persists a continuity hook.
func (s *SQLiteStore) CreateHook(ctx context.Context, h *model.ContinuityHook) (*model.ContinuityHook, error) {
	n := *h
	n.ID = newID()
	n.CreatedAt = s.now().UTC()
	n.IsActive = true
	n.TriggerCount = 0
	n.LastTriggered = nil
	if err := n.Validate(); err != nil {
		return nil, err
	}

	trig, _ := json.Marshal(n.Trigger)
	act, _ := json.Marshal(n.Action)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO continuity_hooks (`+hookColumns+`) VALUES (?, ?, ?, ?, ?, 1, 0, NULL, ?)`,
		n.ID, n.UserID, string(trig), string(act), n.Priority, formatTime(n.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert hook: %w", err)
	}
	return &n, nil
}

// ListHooks returns a user's hooks by priority descending. Inactive hooks
// are included only when includeInactive is set.
func (s *SQLiteStore) ListHooks(ctx context.Context, userID string, includeInactive bool) ([]model.ContinuityHook, error) {
	q := `SELECT ` + hookColumns + ` FROM continuity_hooks WHERE user_id = ?`
	if !includeInactive {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY priority DESC, created_at, id`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []model.ContinuityHook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}

// GetHook returns a hook or ErrNotFound.
func (s *SQLiteStore) GetHook(ctx context.Context, id string) (*model.ContinuityHook, error) {
	h, err := scanHook(s.db.QueryRowContext(ctx, `SELECT `+hookColumns+` FROM continuity_hooks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// RecordHookTrigger increments a hook's trigger count and stamps the time.
func (s *SQLiteStore) RecordHookTrigger(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE continuity_hooks SET trigger_count = trigger_count + 1, last_triggered = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetHookActive enables or disables a hook.
func (s *SQLiteStore) SetHookActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE continuity_hooks SET is_active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanHook(row scanner) (model.ContinuityHook, error) {
	var h model.ContinuityHook
	var trig, act, createdAt string
	var lastTriggered sql.NullString
	var active int
	if err := row.Scan(&h.ID, &h.UserID, &trig, &act, &h.Priority, &active,
		&h.TriggerCount, &lastTriggered, &createdAt); err != nil {
		return h, err
	}
	if err := json.Unmarshal([]byte(trig), &h.Trigger); err != nil {
		return h, fmt.Errorf("decode trigger of %s: %w", h.ID, err)
	}
	if err := json.Unmarshal([]byte(act), &h.Action); err != nil {
		return h, fmt.Errorf("decode action of %s: %w", h.ID, err)
	}
	h.IsActive = active != 0
	h.LastTriggered = parseNullTime(lastTriggered)
	h.CreatedAt = parseTime(createdAt)
	return h, nil
}
