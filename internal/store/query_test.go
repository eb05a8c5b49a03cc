package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/agent-continuity/internal/model"
)

// fixedScorer scores entries by a lookup on content.
type fixedScorer map[string]float64

func (f fixedScorer) Similarity(_ context.Context, _ string, e *model.Entry) (float64, error) {
	return f[e.Content], nil
}

type failingScorer struct{}

func (failingScorer) Similarity(context.Context, string, *model.Entry) (float64, error) {
	return 0, errors.New("embedder offline")
}

func ids(entries []model.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestQueryDefaultOrdering(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	mustCreate(t, s, model.Entry{Content: "low", Importance: 0.1, Relevance: 0.1})
	clock.Advance(time.Second)
	mustCreate(t, s, model.Entry{Content: "tie-old", Importance: 0.5, Relevance: 0.5})
	clock.Advance(time.Second)
	mustCreate(t, s, model.Entry{Content: "tie-new", Importance: 0.6, Relevance: 0.4})
	clock.Advance(time.Second)
	mustCreate(t, s, model.Entry{Content: "high", Importance: 0.9, Relevance: 0.9})

	got, err := s.Query(ctx, QueryParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := "high,tie-new,tie-old,low"
	if strings.Join(ids(got), ",") != want {
		t.Errorf("order %v, want %s", ids(got), want)
	}

	limited, _ := s.Query(ctx, QueryParams{UserID: "u1", Limit: 2})
	if strings.Join(ids(limited), ",") != "high,tie-new" {
		t.Errorf("limit applied before ordering: %v", ids(limited))
	}
}

func TestQueryRequiresUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Query(context.Background(), QueryParams{}); !errors.Is(err, model.ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestQueryFiltersCompose(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	mustCreate(t, s, model.Entry{Content: "old fact", Importance: 0.9, Relevance: 0.9, Category: "work", Tags: []string{"go", "db"}})
	clock.Advance(48 * time.Hour)
	mustCreate(t, s, model.Entry{SessionID: "s1", Type: model.TypePreference, Content: "tea", Importance: 0.7, Relevance: 0.7, Category: "food", Tags: []string{"drink"}})
	mustCreate(t, s, model.Entry{SessionID: "s1", Content: "recent fact", Importance: 0.4, Relevance: 0.2, Category: "work", Tags: []string{"go"}})
	mustCreate(t, s, model.Entry{UserID: "u2", Content: "someone else"})

	cases := []struct {
		name string
		p    QueryParams
		want string
	}{
		{"session", QueryParams{SessionID: "s1"}, "tea,recent fact"},
		{"types", QueryParams{Types: []model.MemoryType{model.TypePreference}}, "tea"},
		{"categories", QueryParams{Categories: []string{"work"}}, "old fact,recent fact"},
		{"all tags", QueryParams{Tags: []string{"GO", "db"}}, "old fact"},
		{"one tag", QueryParams{Tags: []string{"go"}}, "old fact,recent fact"},
		{"min importance", QueryParams{MinImportance: 0.5}, "old fact,tea"},
		{"min relevance", QueryParams{MinRelevance: 0.3}, "old fact,tea"},
		{"max age", QueryParams{MaxAge: time.Hour}, "tea,recent fact"},
		{"conjunctive", QueryParams{Categories: []string{"work"}, MaxAge: time.Hour}, "recent fact"},
		{"nothing", QueryParams{Categories: []string{"work"}, Types: []model.MemoryType{model.TypePreference}}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := c.p
			p.UserID = "u1"
			got, err := s.Query(ctx, p)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if strings.Join(ids(got), ",") != c.want {
				t.Errorf("got %v, want %q", ids(got), c.want)
			}
		})
	}
}

func TestQueryInactiveAndExpired(t *testing.T) {
	ctx := context.Background()
	s, clock := newClockedStore(t)

	live := mustCreate(t, s, model.Entry{Content: "live"})
	off := mustCreate(t, s, model.Entry{Content: "off"})
	soon := mustCreate(t, s, model.Entry{Content: "soon"})

	inactive := false
	if _, err := s.Update(ctx, off.ID, UpdateParams{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	exp := clock.Now().Add(time.Minute)
	if _, err := s.Update(ctx, soon.ID, UpdateParams{ExpiresAt: &exp}); err != nil {
		t.Fatalf("set expiry: %v", err)
	}

	got, _ := s.Query(ctx, QueryParams{UserID: "u1"})
	if len(got) != 2 {
		t.Fatalf("expected live and soon, got %v", ids(got))
	}

	clock.Advance(2 * time.Minute)
	got, _ = s.Query(ctx, QueryParams{UserID: "u1"})
	if len(got) != 1 || got[0].ID != live.ID {
		t.Errorf("expected only live, got %v", ids(got))
	}

	all, _ := s.Query(ctx, QueryParams{UserID: "u1", IncludeInactive: true})
	if len(all) != 3 {
		t.Errorf("expected 3 with IncludeInactive, got %v", ids(all))
	}
}

func TestQueryFileFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mk := func(content, doc, name, typ, method string) {
		mustCreate(t, s, model.Entry{Type: model.TypeFileContext, Content: content,
			File: &model.FileProvenance{DocumentID: doc, FileName: name, FileType: typ, ExtractionMethod: method, ChunkID: doc + "#0"}})
	}
	mk("report", "d1", "q3_report.pdf", "pdf", "ocr")
	mk("notes", "d2", "meeting-notes.md", "markdown", "text")
	mk("percent", "d3", "100%_done.txt", "text", "text")
	mustCreate(t, s, model.Entry{Content: "no file"})

	cases := []struct {
		name string
		f    FileFilter
		want string
	}{
		{"doc", FileFilter{DocumentID: "d2"}, "notes"},
		{"name substring", FileFilter{FileName: "report"}, "report"},
		{"name underscore literal", FileFilter{FileName: "q3_"}, "report"},
		{"name percent literal", FileFilter{FileName: "100%"}, "percent"},
		{"type", FileFilter{FileType: "pdf"}, "report"},
		// Equal scores fall back to recency.
		{"method", FileFilter{ExtractionMethod: "text"}, "percent,notes"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := c.f
			got, err := s.Query(ctx, QueryParams{UserID: "u1", File: &f})
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if strings.Join(ids(got), ",") != c.want {
				t.Errorf("got %v, want %q", ids(got), c.want)
			}
		})
	}
}

func TestQuerySemanticPostFilter(t *testing.T) {
	ctx := context.Background()
	scores := fixedScorer{"a": 0.9, "b": 0.2, "c": 0.7}
	s := newTestStore(t, WithScorer(scores))

	mustCreate(t, s, model.Entry{Content: "a", Importance: 0.5, Relevance: 0.5})
	mustCreate(t, s, model.Entry{Content: "b", Importance: 0.9, Relevance: 0.9})
	mustCreate(t, s, model.Entry{Content: "c", Importance: 0.3, Relevance: 0.3})

	got, err := s.Query(ctx, QueryParams{UserID: "u1", Semantic: &SemanticQuery{Text: "x", Threshold: 0.5}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if strings.Join(ids(got), ",") != "a,c" {
		t.Errorf("got %v, want [a c]", ids(got))
	}

	// The limit counts entries that pass the threshold.
	got, _ = s.Query(ctx, QueryParams{UserID: "u1", Limit: 1, Semantic: &SemanticQuery{Text: "x", Threshold: 0.5}})
	if len(got) != 1 || got[0].Content != "a" {
		t.Errorf("got %v, want [a]", ids(got))
	}
}

func TestQuerySemanticWithoutScorerIsIgnored(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, model.Entry{Content: "a"})
	got, err := s.Query(context.Background(), QueryParams{UserID: "u1", Semantic: &SemanticQuery{Text: "x", Threshold: 0.99}})
	if err != nil || len(got) != 1 {
		t.Errorf("expected threshold ignored without scorer: %v %v", ids(got), err)
	}
}

func TestQuerySemanticScorerError(t *testing.T) {
	s := newTestStore(t, WithScorer(failingScorer{}))
	mustCreate(t, s, model.Entry{Content: "a"})
	if _, err := s.Query(context.Background(), QueryParams{UserID: "u1", Semantic: &SemanticQuery{Text: "x"}}); err == nil {
		t.Error("expected scorer error to surface")
	}
}
