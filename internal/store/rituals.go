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

const ritualColumns = `id, user_id, name, schedule, actions_json, is_active, last_executed,
	execution_count, avg_duration_ns, last_run_json, created_at`

// CreateRitual validates and persists a ritual.
func (s *SQLiteStore) CreateRitual(ctx context.Context, r *model.MemoryRitual) (*model.MemoryRitual, error) {
	n := *r
	n.ID = newID()
	n.CreatedAt = s.now().UTC()
	n.IsActive = true
	n.LastExecuted = nil
	n.ExecutionCount = 0
	n.AvgDuration = 0
	n.LastRun = nil
	if err := n.Validate(); err != nil {
		return nil, err
	}

	actions, _ := json.Marshal(n.Actions)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_rituals (`+ritualColumns+`) VALUES (?, ?, ?, ?, ?, 1, NULL, 0, 0, NULL, ?)`,
		n.ID, n.UserID, n.Name, string(n.Schedule), string(actions), formatTime(n.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert ritual: %w", err)
	}
	return &n, nil
}

// GetRitual returns a ritual or ErrNotFound.
func (s *SQLiteStore) GetRitual(ctx context.Context, id string) (*model.MemoryRitual, error) {
	r, err := scanRitual(s.db.QueryRowContext(ctx, `SELECT `+ritualColumns+` FROM memory_rituals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRituals returns a user's active rituals in creation order.
func (s *SQLiteStore) ListRituals(ctx context.Context, userID string) ([]model.MemoryRitual, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ritualColumns+` FROM memory_rituals WHERE user_id = ? AND is_active = 1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rituals []model.MemoryRitual
	for rows.Next() {
		r, err := scanRitual(rows)
		if err != nil {
			return nil, err
		}
		rituals = append(rituals, r)
	}
	return rituals, rows.Err()
}

// RitualUsers returns every user that owns at least one active ritual.
func (s *SQLiteStore) RitualUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM memory_rituals WHERE is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// RecordRitualRun stores the execution bookkeeping of a ritual.
func (s *SQLiteStore) RecordRitualRun(ctx context.Context, r *model.MemoryRitual) error {
	var lastRun *string
	if r.LastRun != nil {
		b, err := json.Marshal(r.LastRun)
		if err != nil {
			return fmt.Errorf("encode ritual run: %w", err)
		}
		lastRun = strPtr(string(b))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_rituals SET last_executed = ?, execution_count = ?, avg_duration_ns = ?, last_run_json = ?
		 WHERE id = ?`,
		timePtr(r.LastExecuted), r.ExecutionCount, int64(r.AvgDuration), lastRun, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRitual(row scanner) (model.MemoryRitual, error) {
	var r model.MemoryRitual
	var schedule, actions, createdAt string
	var lastExecuted, lastRun sql.NullString
	var active int
	var avg int64
	if err := row.Scan(&r.ID, &r.UserID, &r.Name, &schedule, &actions, &active, &lastExecuted,
		&r.ExecutionCount, &avg, &lastRun, &createdAt); err != nil {
		return r, err
	}
	r.Schedule = model.ScheduleKind(schedule)
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return r, fmt.Errorf("decode actions of %s: %w", r.ID, err)
	}
	r.IsActive = active != 0
	r.LastExecuted = parseNullTime(lastExecuted)
	r.AvgDuration = time.Duration(avg)
	r.CreatedAt = parseTime(createdAt)
	if lastRun.Valid {
		r.LastRun = &model.RitualRun{}
		if err := json.Unmarshal([]byte(lastRun.String), r.LastRun); err != nil {
			return r, fmt.Errorf("decode last run of %s: %w", r.ID, err)
		}
	}
	return r, nil
}
