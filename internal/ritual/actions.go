package ritual

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/store"
	"github.com/rcliao/agent-continuity/internal/textutil"
)

// Action defaults, used when a parameter is left at zero.
const (
	DefaultMaxAgeDays          = 90
	DefaultImportanceThreshold = 0.3
	DefaultSimilarityThreshold = 0.6
	DefaultMaxDistinctness     = 0.5
	DefaultDecayPerDay         = 0.05
	DefaultAccessBoost         = 0.01
	DefaultSummaryMinEntries   = 5

	// SummaryCategory marks entries written by the summarize action.
	SummaryCategory = "summary"
	// ConsolidatedCategory is given to merged entries whose sources had no category.
	ConsolidatedCategory = "consolidated"
)

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// cleanup deletes entries that are both older than the age limit and below
// the importance threshold.
func (s *Scheduler) cleanup(ctx context.Context, userID string, a model.RitualAction) (int, error) {
	days := a.MaxAgeDays
	if days <= 0 {
		days = DefaultMaxAgeDays
	}
	threshold := orDefault(a.ImportanceThreshold, DefaultImportanceThreshold)
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	entries, err := s.st.Query(ctx, store.QueryParams{UserID: userID, IncludeInactive: true})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.CreatedAt.Before(cutoff) || e.Importance >= threshold {
			continue
		}
		ok, err := s.st.Delete(ctx, e.ID)
		if err != nil {
			return n, fmt.Errorf("delete %s: %w", e.ID, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// consolidate merges clusters of similar low-distinctness entries of the
// same type into one entry and deletes the originals. A cluster requires
// every member to be similar to every other member. File-derived entries
// and earlier summaries are left alone. Returns the number of entries removed.
func (s *Scheduler) consolidate(ctx context.Context, userID string, a model.RitualAction) (int, error) {
	simThreshold := orDefault(a.SimilarityThreshold, DefaultSimilarityThreshold)
	maxDistinct := orDefault(a.MaxDistinctness, DefaultMaxDistinctness)

	entries, err := s.st.Query(ctx, store.QueryParams{UserID: userID})
	if err != nil {
		return 0, err
	}

	byType := map[model.MemoryType][]model.Entry{}
	var types []model.MemoryType
	for _, e := range entries {
		if e.HasFile() || e.Type.IsFileType() || e.Importance > maxDistinct || e.Category == SummaryCategory {
			continue
		}
		if _, ok := byType[e.Type]; !ok {
			types = append(types, e.Type)
		}
		byType[e.Type] = append(byType[e.Type], e)
	}

	removed := 0
	for _, t := range types {
		for _, cluster := range clusters(byType[t], simThreshold) {
			n, err := s.merge(ctx, cluster)
			removed += n
			if err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func similar(a, b *model.Entry, threshold float64) bool {
	if a.SemanticHash != "" && a.SemanticHash == b.SemanticHash {
		return true
	}
	return textutil.Jaccard(a.Content, b.Content) >= threshold
}

// clusters groups entries greedily; each entry joins the first cluster whose
// members it is all similar to. Singletons are dropped.
func clusters(entries []model.Entry, threshold float64) [][]model.Entry {
	var groups [][]model.Entry
	for i := range entries {
		e := &entries[i]
		placed := false
		for g := range groups {
			fits := true
			for j := range groups[g] {
				if !similar(e, &groups[g][j], threshold) {
					fits = false
					break
				}
			}
			if fits {
				groups[g] = append(groups[g], *e)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []model.Entry{*e})
		}
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 1 {
			out = append(out, g)
		}
	}
	return out
}

func (s *Scheduler) merge(ctx context.Context, cluster []model.Entry) (int, error) {
	seed := cluster[0]
	merged := model.Entry{
		UserID:    seed.UserID,
		SessionID: seed.SessionID,
		Type:      seed.Type,
		Category:  seed.Category,
	}
	if merged.Category == "" {
		merged.Category = ConsolidatedCategory
	}
	var parts []string
	seen := map[string]bool{}
	tags := map[string]bool{}
	for _, e := range cluster {
		c := strings.TrimSpace(e.Content)
		if !seen[c] {
			seen[c] = true
			parts = append(parts, c)
		}
		merged.Importance = math.Max(merged.Importance, e.Importance)
		merged.Relevance = math.Max(merged.Relevance, e.Relevance)
		for _, t := range e.Tags {
			if !tags[t] {
				tags[t] = true
				merged.Tags = append(merged.Tags, t)
			}
		}
	}
	merged.Content = strings.Join(parts, "\n")

	if _, err := s.st.Create(ctx, &merged); err != nil {
		return 0, fmt.Errorf("create merged entry: %w", err)
	}
	n := 0
	for _, e := range cluster {
		ok, err := s.st.Delete(ctx, e.ID)
		if err != nil {
			return n, fmt.Errorf("delete %s: %w", e.ID, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// reweight decays relevance exponentially over the time since the entry was
// last used or last reweighted, whichever is later, then adds a boost per
// recorded access. The result is clamped to [0,1].
func (s *Scheduler) reweight(ctx context.Context, r *model.MemoryRitual, a model.RitualAction) (int, error) {
	decay := orDefault(a.DecayPerDay, DefaultDecayPerDay)
	boost := orDefault(a.AccessBoost, DefaultAccessBoost)
	now := s.now()

	entries, err := s.st.Query(ctx, store.QueryParams{UserID: r.UserID})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		ref := e.CreatedAt
		if e.LastAccessed != nil && e.LastAccessed.After(ref) {
			ref = *e.LastAccessed
		}
		if r.LastExecuted != nil && r.LastExecuted.After(ref) {
			ref = *r.LastExecuted
		}
		days := now.Sub(ref).Hours() / 24
		if days < 0 {
			days = 0
		}
		next := textutil.Clamp01(e.Relevance*math.Exp(-decay*days) + boost*float64(e.AccessCount))
		if next == e.Relevance {
			continue
		}
		if err := s.st.SetRelevance(ctx, e.ID, next); err != nil {
			return n, fmt.Errorf("reweight %s: %w", e.ID, err)
		}
		n++
	}
	return n, nil
}

// summaryExcerpt bounds how much of each source entry a summary quotes.
const summaryExcerpt = 80

// summarize writes one summary over the user's conversation entries that
// have no parent yet and adopts them as its children. Returns the number of
// entries summarized.
func (s *Scheduler) summarize(ctx context.Context, userID string, a model.RitualAction) (int, error) {
	minEntries := a.MinEntries
	if minEntries <= 0 {
		minEntries = DefaultSummaryMinEntries
	}
	entries, err := s.st.Query(ctx, store.QueryParams{
		UserID: userID,
		Types:  []model.MemoryType{model.TypeConversation},
	})
	if err != nil {
		return 0, err
	}

	var sources []model.Entry
	for _, e := range entries {
		if e.ParentID == "" && e.Category != SummaryCategory {
			sources = append(sources, e)
		}
	}
	if len(sources) < minEntries {
		return 0, nil
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].CreatedAt.Before(sources[j].CreatedAt) })

	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %d conversation memories:", len(sources))
	imp := 0.0
	for _, e := range sources {
		b.WriteString("\n- ")
		b.WriteString(excerpt(e.Content, summaryExcerpt))
		imp = math.Max(imp, e.Importance)
	}
	summary, err := s.st.Create(ctx, &model.Entry{
		UserID:     userID,
		Type:       model.TypeConversation,
		Category:   SummaryCategory,
		Content:    b.String(),
		Importance: imp,
		Relevance:  1,
	})
	if err != nil {
		return 0, fmt.Errorf("create summary: %w", err)
	}

	n := 0
	for _, e := range sources {
		if err := s.st.SetParent(ctx, e.ID, summary.ID); err != nil {
			return n, fmt.Errorf("adopt %s: %w", e.ID, err)
		}
		n++
	}
	return n, nil
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
