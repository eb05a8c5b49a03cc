package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/rcliao/agent-continuity/internal/keylock"
	"github.com/rcliao/agent-continuity/internal/model"
	cotel "github.com/rcliao/agent-continuity/internal/otel"
	"github.com/rcliao/agent-continuity/internal/textutil"
)

var tracer = cotel.Tracer("github.com/rcliao/agent-continuity/internal/store")

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const entryColumns = `id, user_id, session_id, type, category, content, importance, relevance,
	access_count, last_accessed, tags, token_count, semantic_hash, file, doc_id, chunk_id,
	file_name, file_type, extraction_method, parent_id, hook_ids, file_relations,
	created_at, updated_at, expires_at, is_active`

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithScorer sets the similarity collaborator used by semantic queries.
func WithScorer(sc Scorer) Option {
	return func(s *SQLiteStore) { s.scorer = sc }
}

// SQLiteStore implements Store using SQLite. Mutations are serialized per
// entry id; reads run concurrently.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	scorer Scorer
	locks  keylock.Map
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func newID() string {
	return ulid.Make().String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		session_id        TEXT NOT NULL DEFAULT '',
		type              TEXT NOT NULL,
		category          TEXT NOT NULL DEFAULT '',
		content           TEXT NOT NULL,
		importance        REAL NOT NULL DEFAULT 0.5,
		relevance         REAL NOT NULL DEFAULT 1.0,
		access_count      INTEGER NOT NULL DEFAULT 0,
		last_accessed     TEXT,
		tags              TEXT NOT NULL DEFAULT '[]',
		token_count       INTEGER NOT NULL DEFAULT 0,
		semantic_hash     TEXT NOT NULL,
		file              TEXT,
		doc_id            TEXT,
		chunk_id          TEXT,
		file_name         TEXT,
		file_type         TEXT,
		extraction_method TEXT,
		parent_id         TEXT REFERENCES memories(id),
		hook_ids          TEXT NOT NULL DEFAULT '[]',
		file_relations    TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		expires_at        TEXT,
		is_active         INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, session_id);
	CREATE INDEX IF NOT EXISTS idx_memories_user_type ON memories(user_id, type);
	CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(user_id, semantic_hash);
	CREATE INDEX IF NOT EXISTS idx_memories_doc ON memories(doc_id);
	CREATE INDEX IF NOT EXISTS idx_memories_chunk ON memories(chunk_id);
	CREATE INDEX IF NOT EXISTS idx_memories_parent ON memories(parent_id);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);

	CREATE TABLE IF NOT EXISTS memory_index (
		kind      TEXT NOT NULL,
		value     TEXT NOT NULL,
		memory_id TEXT NOT NULL REFERENCES memories(id),
		PRIMARY KEY (kind, value, memory_id)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_index_memory ON memory_index(memory_id);

	CREATE TABLE IF NOT EXISTS memory_links (
		from_id    TEXT NOT NULL REFERENCES memories(id),
		to_id      TEXT NOT NULL REFERENCES memories(id),
		rel        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_id);

	CREATE TABLE IF NOT EXISTS continuity_hooks (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		trigger_json   TEXT NOT NULL,
		action_json    TEXT NOT NULL,
		priority       INTEGER NOT NULL DEFAULT 0,
		is_active      INTEGER NOT NULL DEFAULT 1,
		trigger_count  INTEGER NOT NULL DEFAULT 0,
		last_triggered TEXT,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hooks_user ON continuity_hooks(user_id, is_active);

	CREATE TABLE IF NOT EXISTS memory_rituals (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		schedule        TEXT NOT NULL,
		actions_json    TEXT NOT NULL,
		is_active       INTEGER NOT NULL DEFAULT 1,
		last_executed   TEXT,
		execution_count INTEGER NOT NULL DEFAULT 0,
		avg_duration_ns INTEGER NOT NULL DEFAULT 0,
		last_run_json   TEXT,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rituals_user ON memory_rituals(user_id, is_active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// derive recomputes the content-derived fields together.
func derive(e *model.Entry) {
	e.TokenCount = textutil.TokenCount(e.Content)
	e.SemanticHash = textutil.SemanticHash(e.Content)
}

func (s *SQLiteStore) Create(ctx context.Context, e *model.Entry) (*model.Entry, error) {
	ctx, span := tracer.Start(ctx, "store.create",
		trace.WithAttributes(attribute.String("memory.type", string(e.Type))))
	defer span.End()

	now := s.now().UTC()
	m := *e
	m.ID = newID()
	m.CreatedAt, m.UpdatedAt = now, now
	m.IsActive = true
	m.AccessCount = 0
	m.LastAccessed = nil
	m.Tags = normalizeTags(m.Tags)
	m.HookIDs = dedupe(m.HookIDs)
	m.RelatedIDs = dedupe(m.RelatedIDs)
	m.ChildIDs = nil
	derive(&m)

	if err := m.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if m.ParentID != "" {
		if err := mustExist(ctx, tx, m.ParentID); err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
	}

	args, err := entryArgs(&m)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	if err := writeIndexes(ctx, tx, &m); err != nil {
		return nil, err
	}

	for _, rid := range m.RelatedIDs {
		if err := mustExist(ctx, tx, rid); err != nil {
			return nil, fmt.Errorf("related %s: %w", rid, err)
		}
		if err := insertRelated(ctx, tx, m.ID, rid, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, p UpdateParams) (*model.Entry, error) {
	ctx, span := tracer.Start(ctx, "store.update", trace.WithAttributes(attribute.String("memory.id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if p.Content != nil && *p.Content != m.Content {
		m.Content = *p.Content
		derive(&m)
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.Importance != nil {
		m.Importance = *p.Importance
	}
	if p.Relevance != nil {
		m.Relevance = *p.Relevance
	}
	if p.Tags != nil {
		m.Tags = normalizeTags(*p.Tags)
	}
	if p.HookIDs != nil {
		m.HookIDs = dedupe(*p.HookIDs)
	}
	if p.File != nil {
		f := *p.File
		m.File = &f
	}
	if p.FileRelations != nil {
		fr := *p.FileRelations
		m.FileRelations = &fr
	}
	if p.ExpiresAt != nil {
		t := p.ExpiresAt.UTC()
		m.ExpiresAt = &t
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
	m.AccessCount++
	m.UpdatedAt = s.now().UTC()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := updateRow(ctx, tx, &m); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_index WHERE memory_id = ?`, id); err != nil {
		return nil, fmt.Errorf("drop indexes: %w", err)
	}
	if err := writeIndexes(ctx, tx, &m); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	entries := []model.Entry{m}
	if err := hydrate(ctx, s.db, entries); err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "store.delete", trace.WithAttributes(attribute.String("memory.id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := mustExist(ctx, tx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	stmts := []string{
		`UPDATE memories SET parent_id = NULL WHERE parent_id = ?`,
		`DELETE FROM memory_index WHERE memory_id = ?`,
		`DELETE FROM memory_links WHERE from_id = ?1 OR to_id = ?1`,
		`DELETE FROM memories WHERE id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return false, fmt.Errorf("delete memory: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entries := []model.Entry{m}
	if err := hydrate(ctx, s.db, entries); err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (s *SQLiteStore) Touch(ctx context.Context, id string, relevanceBoost float64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ?,
		        relevance = MAX(0.0, MIN(1.0, relevance + ?))
		 WHERE id = ?`,
		formatTime(s.now()), relevanceBoost, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRelevance overwrites an entry's relevance without counting an access.
// Maintenance jobs use it so decay does not inflate access counts.
func (s *SQLiteStore) SetRelevance(ctx context.Context, id string, relevance float64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET relevance = ? WHERE id = ?`, textutil.Clamp01(relevance), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func mustExist(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func entryArgs(m *model.Entry) ([]interface{}, error) {
	tags, _ := json.Marshal(nonNil(m.Tags))
	hooks, _ := json.Marshal(nonNil(m.HookIDs))

	var file, docID, chunkID, fileName, fileType, method *string
	if m.File != nil {
		b, err := json.Marshal(m.File)
		if err != nil {
			return nil, fmt.Errorf("encode file provenance: %w", err)
		}
		file = strPtr(string(b))
		docID = optional(m.File.DocumentID)
		chunkID = optional(m.File.ChunkID)
		fileName = optional(m.File.FileName)
		fileType = optional(m.File.FileType)
		method = optional(m.File.ExtractionMethod)
	}
	var relations *string
	if m.FileRelations != nil {
		b, err := json.Marshal(m.FileRelations)
		if err != nil {
			return nil, fmt.Errorf("encode file relationships: %w", err)
		}
		relations = strPtr(string(b))
	}

	return []interface{}{
		m.ID, m.UserID, m.SessionID, string(m.Type), m.Category, m.Content, m.Importance, m.Relevance,
		m.AccessCount, timePtr(m.LastAccessed), string(tags), m.TokenCount, m.SemanticHash,
		file, docID, chunkID, fileName, fileType, method, optional(m.ParentID), string(hooks), relations,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), timePtr(m.ExpiresAt), boolInt(m.IsActive),
	}, nil
}

// updateRow writes every mutable column. Parent and related links are owned
// by the link operations and are never rewritten here.
func updateRow(ctx context.Context, tx *sql.Tx, m *model.Entry) error {
	args, err := entryArgs(m)
	if err != nil {
		return err
	}
	// args order follows entryColumns; pick the mutable subset.
	_, err = tx.ExecContext(ctx,
		`UPDATE memories SET category = ?, content = ?, importance = ?, relevance = ?,
		        access_count = ?, last_accessed = ?, tags = ?, token_count = ?, semantic_hash = ?,
		        file = ?, doc_id = ?, chunk_id = ?, file_name = ?, file_type = ?, extraction_method = ?,
		        hook_ids = ?, file_relations = ?, updated_at = ?, expires_at = ?, is_active = ?
		 WHERE id = ?`,
		args[4], args[5], args[6], args[7],
		args[8], args[9], args[10], args[11], args[12],
		args[13], args[14], args[15], args[16], args[17], args[18],
		args[20], args[21], args[23], args[24], args[25],
		m.ID)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return nil
}

func scanEntry(row scanner) (model.Entry, error) {
	var m model.Entry
	var typ, tags, hooks, createdAt, updatedAt string
	var lastAccessed, file, docID, chunkID, fileName, fileType, method, parentID, relations, expiresAt sql.NullString
	var active int

	err := row.Scan(
		&m.ID, &m.UserID, &m.SessionID, &typ, &m.Category, &m.Content, &m.Importance, &m.Relevance,
		&m.AccessCount, &lastAccessed, &tags, &m.TokenCount, &m.SemanticHash,
		&file, &docID, &chunkID, &fileName, &fileType, &method, &parentID, &hooks, &relations,
		&createdAt, &updatedAt, &expiresAt, &active,
	)
	if err != nil {
		return m, err
	}

	m.Type = model.MemoryType(typ)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	m.LastAccessed = parseNullTime(lastAccessed)
	m.ExpiresAt = parseNullTime(expiresAt)
	m.IsActive = active != 0
	if parentID.Valid {
		m.ParentID = parentID.String
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return m, fmt.Errorf("decode tags of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(hooks), &m.HookIDs); err != nil {
		return m, fmt.Errorf("decode hook ids of %s: %w", m.ID, err)
	}
	if file.Valid {
		m.File = &model.FileProvenance{}
		if err := json.Unmarshal([]byte(file.String), m.File); err != nil {
			return m, fmt.Errorf("decode file provenance of %s: %w", m.ID, err)
		}
	}
	if relations.Valid {
		m.FileRelations = &model.FileRelationships{}
		if err := json.Unmarshal([]byte(relations.String), m.FileRelations); err != nil {
			return m, fmt.Errorf("decode file relationships of %s: %w", m.ID, err)
		}
	}
	if len(m.Tags) == 0 {
		m.Tags = nil
	}
	if len(m.HookIDs) == 0 {
		m.HookIDs = nil
	}

	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return strPtr(formatTime(*t))
}

func strPtr(s string) *string { return &s }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ToLower(strings.TrimSpace(t)))
	}
	return dedupe(out)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
