package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/agent-continuity/internal/model"
)

// FileFilter narrows a query to file-derived memories.
type FileFilter struct {
	DocumentID       string
	FileName         string // substring match
	FileType         string
	ExtractionMethod string
}

// SemanticQuery keeps entries whose similarity to Text is at least Threshold.
type SemanticQuery struct {
	Text      string
	Threshold float64
}

// QueryParams holds the predicates for a query. All filters compose
// conjunctively. UserID is required.
type QueryParams struct {
	UserID          string
	SessionID       string
	Types           []model.MemoryType
	Categories      []string
	Tags            []string // entry must carry every tag
	MinImportance   float64
	MinRelevance    float64
	MaxAge          time.Duration
	IncludeInactive bool
	File            *FileFilter
	Semantic        *SemanticQuery
	Limit           int // 0 means unlimited
}

// Query returns entries ordered by (relevance + importance) / 2 descending,
// ties broken by recency. Inactive and expired entries are skipped unless
// IncludeInactive is set.
func (s *SQLiteStore) Query(ctx context.Context, p QueryParams) ([]model.Entry, error) {
	ctx, span := tracer.Start(ctx, "store.query",
		trace.WithAttributes(
			attribute.String("memory.user_id", p.UserID),
			attribute.Int("query.limit", p.Limit),
		))
	defer span.End()

	if p.UserID == "" {
		return nil, fmt.Errorf("%w: query requires a user id", model.ErrInvalidEntry)
	}

	now := s.now()
	where := []string{"m.user_id = ?"}
	args := []interface{}{p.UserID}

	if p.SessionID != "" {
		where = append(where, "m.session_id = ?")
		args = append(args, p.SessionID)
	}
	if len(p.Types) > 0 {
		where = append(where, "m.type IN ("+placeholders(len(p.Types))+")")
		for _, t := range p.Types {
			args = append(args, string(t))
		}
	}
	if len(p.Categories) > 0 {
		where = append(where, "m.category IN ("+placeholders(len(p.Categories))+")")
		for _, c := range p.Categories {
			args = append(args, c)
		}
	}
	for _, tag := range normalizeTags(p.Tags) {
		where = append(where, "EXISTS (SELECT 1 FROM memory_index i WHERE i.memory_id = m.id AND i.kind = ? AND i.value = ?)")
		args = append(args, indexTag, tag)
	}
	if p.MinImportance > 0 {
		where = append(where, "m.importance >= ?")
		args = append(args, p.MinImportance)
	}
	if p.MinRelevance > 0 {
		where = append(where, "m.relevance >= ?")
		args = append(args, p.MinRelevance)
	}
	if p.MaxAge > 0 {
		where = append(where, "m.created_at >= ?")
		args = append(args, formatTime(now.Add(-p.MaxAge)))
	}
	if !p.IncludeInactive {
		where = append(where, "m.is_active = 1", "(m.expires_at IS NULL OR m.expires_at > ?)")
		args = append(args, formatTime(now))
	}
	if f := p.File; f != nil {
		if f.DocumentID != "" {
			where = append(where, "m.doc_id = ?")
			args = append(args, f.DocumentID)
		}
		if f.FileName != "" {
			where = append(where, "m.file_name LIKE ? ESCAPE '\\'")
			args = append(args, "%"+escapeLike(f.FileName)+"%")
		}
		if f.FileType != "" {
			where = append(where, "m.file_type = ?")
			args = append(args, f.FileType)
		}
		if f.ExtractionMethod != "" {
			where = append(where, "m.extraction_method = ?")
			args = append(args, f.ExtractionMethod)
		}
	}

	semantic := p.Semantic != nil && s.scorer != nil
	query := `SELECT ` + entryColumns + ` FROM memories m WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY (m.relevance + m.importance) / 2.0 DESC, m.created_at DESC, m.id DESC`
	// The semantic threshold is a post-filter, so the limit applies after it.
	if p.Limit > 0 && !semantic {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
		if semantic {
			score, err := s.scorer.Similarity(ctx, p.Semantic.Text, &m)
			if err != nil {
				return nil, fmt.Errorf("similarity for %s: %w", m.ID, err)
			}
			if score < p.Semantic.Threshold {
				continue
			}
		}
		entries = append(entries, m)
		if semantic && p.Limit > 0 && len(entries) == p.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := hydrate(ctx, s.db, entries); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("query.results", len(entries)))
	return entries, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
