// Package inject selects and packs memories into a token budget for a live
// conversation turn.
package inject

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/agent-continuity/internal/model"
	cotel "github.com/rcliao/agent-continuity/internal/otel"
	"github.com/rcliao/agent-continuity/internal/store"
	"github.com/rcliao/agent-continuity/internal/textutil"
)

var tracer = cotel.Tracer("github.com/rcliao/agent-continuity/internal/inject")

// Strategy selects the weighting used to rank candidates.
type Strategy string

const (
	Hybrid          Strategy = "hybrid"
	RelevanceBased  Strategy = "relevance_based"
	ImportanceBased Strategy = "importance_based"
)

// ParseStrategy accepts a strategy name; empty means Hybrid.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", Hybrid:
		return Hybrid, nil
	case RelevanceBased, ImportanceBased:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q (want hybrid, relevance_based or importance_based)", s)
}

// Weights is the hybrid blend. Weights are normalized by their sum.
type Weights struct {
	Topic     float64
	Intent    float64
	Relevance float64
}

// Params bounds candidate retrieval and sets the hybrid blend.
type Params struct {
	RelevanceFloor float64
	CandidateLimit int
	Weights        Weights
}

// DefaultParams returns the standard floor, limit and blend.
func DefaultParams() Params {
	return Params{
		RelevanceFloor: 0.3,
		CandidateLimit: 50,
		Weights:        Weights{Topic: 0.3, Intent: 0.3, Relevance: 0.4},
	}
}

// Source is the read side of the ledger the injector needs.
type Source interface {
	Query(ctx context.Context, p store.QueryParams) ([]model.Entry, error)
	Get(ctx context.Context, id string) (*model.Entry, error)
}

// Request is one injection.
type Request struct {
	Context  model.ConversationContext
	Budget   int
	Strategy Strategy

	// Forced ids are packed ahead of every scored candidate, in order.
	Forced []string
	// AllSessions widens retrieval from the context's session to the whole user.
	AllSessions bool
}

// FileReport splits the selection into file-derived and conversational parts.
type FileReport struct {
	FileEntries         int      `json:"file_entries"`
	FileTokens          int      `json:"file_tokens"`
	ConversationEntries int      `json:"conversation_entries"`
	ConversationTokens  int      `json:"conversation_tokens"`
	DocumentIDs         []string `json:"document_ids"`
	ChunkIDs            []string `json:"chunk_ids"`
}

// Result is the packed selection.
type Result struct {
	Selected    []model.Entry `json:"selected"`
	Scores      []float64     `json:"scores"`
	TotalTokens int           `json:"total_tokens"`
	// RelevanceScore is the mean context score of the selection.
	RelevanceScore float64     `json:"relevance_score"`
	Strategy       Strategy    `json:"strategy"`
	Files          *FileReport `json:"files,omitempty"`
}

// Empty returns a zero-token result.
func Empty(s Strategy) *Result {
	return &Result{Selected: []model.Entry{}, Scores: []float64{}, Strategy: s}
}

// Option configures an Injector.
type Option func(*Injector)

// WithClock overrides the time source used to skip expired forced entries.
func WithClock(now func() time.Time) Option {
	return func(in *Injector) { in.now = now }
}

// Injector ranks candidates against the live context and packs them greedily.
type Injector struct {
	src    Source
	params Params
	now    func() time.Time
}

// New returns an Injector reading from src.
func New(src Source, p Params, opts ...Option) *Injector {
	in := &Injector{src: src, params: p, now: time.Now}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

type candidate struct {
	entry  model.Entry
	score  float64
	forced bool
}

// Inject runs retrieval, scoring and packing. A non-positive budget or an
// empty candidate set yields an empty result, not an error.
func (in *Injector) Inject(ctx context.Context, req Request) (*Result, error) {
	strategy, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "inject",
		trace.WithAttributes(
			attribute.String("inject.strategy", string(strategy)),
			attribute.Int("inject.budget", req.Budget),
		))
	defer span.End()

	if req.Budget <= 0 {
		return Empty(strategy), nil
	}
	if req.Context.UserID == "" {
		return nil, errors.New("inject: context user id is required")
	}

	qp := store.QueryParams{
		UserID:       req.Context.UserID,
		MinRelevance: in.params.RelevanceFloor,
		Limit:        in.params.CandidateLimit,
	}
	if !req.AllSessions {
		qp.SessionID = req.Context.SessionID
	}
	entries, err := in.src.Query(ctx, qp)
	if err != nil {
		return nil, fmt.Errorf("inject candidates: %w", err)
	}

	scorer := newContextScorer(req.Context, strategy, in.params.Weights)
	cands := make([]candidate, 0, len(entries)+len(req.Forced))
	seen := make(map[string]bool, len(entries)+len(req.Forced))

	now := in.now()
	for _, id := range req.Forced {
		if seen[id] {
			continue
		}
		e, err := in.src.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inject forced %s: %w", id, err)
		}
		if e.UserID != req.Context.UserID || !e.IsActive || e.Expired(now) {
			continue
		}
		seen[id] = true
		cands = append(cands, candidate{entry: *e, score: scorer.score(e), forced: true})
	}
	for i := range entries {
		if seen[entries[i].ID] {
			continue
		}
		seen[entries[i].ID] = true
		cands = append(cands, candidate{entry: entries[i], score: scorer.score(&entries[i])})
	}

	// Forced entries keep their given order ahead of the ranked rest.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].forced != cands[j].forced {
			return cands[i].forced
		}
		if cands[i].forced {
			return false
		}
		return cands[i].score > cands[j].score
	})

	res := pack(cands, req.Budget, strategy)
	if req.Context.IncludeFileMemories {
		res.Files = fileReport(res.Selected)
	}

	span.SetAttributes(
		attribute.Int("inject.candidates", len(cands)),
		attribute.Int("inject.selected", len(res.Selected)),
		attribute.Int("inject.tokens", res.TotalTokens),
	)
	return res, nil
}

// pack accepts candidates in order until the first one that would overflow.
func pack(cands []candidate, budget int, strategy Strategy) *Result {
	res := Empty(strategy)
	sum := 0.0
	for _, c := range cands {
		if res.TotalTokens+c.entry.TokenCount > budget {
			break
		}
		res.Selected = append(res.Selected, c.entry)
		res.Scores = append(res.Scores, c.score)
		res.TotalTokens += c.entry.TokenCount
		sum += c.score
	}
	if n := len(res.Selected); n > 0 {
		res.RelevanceScore = sum / float64(n)
	}
	return res
}

func fileReport(selected []model.Entry) *FileReport {
	r := &FileReport{DocumentIDs: []string{}, ChunkIDs: []string{}}
	docs, chunks := map[string]bool{}, map[string]bool{}
	for _, e := range selected {
		if !e.HasFile() {
			r.ConversationEntries++
			r.ConversationTokens += e.TokenCount
			continue
		}
		r.FileEntries++
		r.FileTokens += e.TokenCount
		if !docs[e.File.DocumentID] {
			docs[e.File.DocumentID] = true
			r.DocumentIDs = append(r.DocumentIDs, e.File.DocumentID)
		}
		if c := e.File.ChunkID; c != "" && !chunks[c] {
			chunks[c] = true
			r.ChunkIDs = append(r.ChunkIDs, c)
		}
	}
	return r
}

// contextScorer rescores an entry against the live turn.
type contextScorer struct {
	strategy Strategy
	weights  Weights
	topic    []string
	intent   []string
}

func newContextScorer(c model.ConversationContext, s Strategy, w Weights) *contextScorer {
	return &contextScorer{
		strategy: s,
		weights:  w,
		topic:    textutil.Keywords(c.Topic),
		intent:   textutil.Keywords(c.UserIntent),
	}
}

func (cs *contextScorer) score(e *model.Entry) float64 {
	switch cs.strategy {
	case RelevanceBased:
		return e.Relevance
	case ImportanceBased:
		return e.Importance
	}
	w := cs.weights
	total := w.Topic + w.Intent + w.Relevance
	if total <= 0 {
		return e.Relevance
	}
	words := textutil.Set(textutil.Keywords(e.Content + " " + e.Category + " " + strings.Join(e.Tags, " ")))
	s := w.Topic*textutil.Overlap(cs.topic, words) +
		w.Intent*textutil.Overlap(cs.intent, words) +
		w.Relevance*e.Relevance
	return s / total
}
