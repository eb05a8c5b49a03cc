package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string      `json:"db_path"`
	DBSizeBytes   int64       `json:"db_size_bytes"`
	TotalMemories int         `json:"total_memories"`
	ActiveMemory  int         `json:"active_memories"`
	Documents     int         `json:"documents"`
	IndexedTags   int         `json:"indexed_tags"`
	Hooks         int         `json:"hooks"`
	Rituals       int         `json:"rituals"`
	Users         []UserStats `json:"users"`
}

// UserStats holds per-user counts by memory type.
type UserStats struct {
	UserID string         `json:"user_id"`
	Count  int            `json:"count"`
	ByType map[string]int `json:"by_type"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.TotalMemories)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE is_active = 1`).Scan(&st.ActiveMemory)
	s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT doc_id) FROM memories WHERE doc_id IS NOT NULL`).Scan(&st.Documents)
	s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT value) FROM memory_index WHERE kind = ?`, indexTag).Scan(&st.IndexedTags)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM continuity_hooks`).Scan(&st.Hooks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_rituals`).Scan(&st.Rituals)

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, type, COUNT(*) FROM memories
		GROUP BY user_id, type ORDER BY user_id, type`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	idx := map[string]int{}
	for rows.Next() {
		var user, typ string
		var n int
		if err := rows.Scan(&user, &typ, &n); err != nil {
			return st, err
		}
		i, ok := idx[user]
		if !ok {
			i = len(st.Users)
			idx[user] = i
			st.Users = append(st.Users, UserStats{UserID: user, ByType: map[string]int{}})
		}
		st.Users[i].Count += n
		st.Users[i].ByType[typ] = n
	}

	return st, rows.Err()
}
