package inject

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/store"
	"github.com/rcliao/agent-continuity/internal/textutil"
)

// fakeSource returns canned entries in the given order.
type fakeSource struct {
	entries []model.Entry
	err     error
	last    store.QueryParams
}

func (f *fakeSource) Query(_ context.Context, p store.QueryParams) ([]model.Entry, error) {
	f.last = p
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Entry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeSource) Get(_ context.Context, id string) (*model.Entry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			out := e
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func entry(id, content string, imp, rel float64, tokens int) model.Entry {
	return model.Entry{ID: id, UserID: "u1", Type: model.TypeFact, Content: content,
		Importance: imp, Relevance: rel, TokenCount: tokens, IsActive: true}
}

func selectedIDs(r *Result) []string {
	out := make([]string, 0, len(r.Selected))
	for _, e := range r.Selected {
		out = append(out, e.ID)
	}
	return out
}

func ctxFor(topic, intent string) model.ConversationContext {
	return model.ConversationContext{UserID: "u1", SessionID: "s1", Topic: topic, UserIntent: intent}
}

func TestRelevanceBasedIgnoresImportance(t *testing.T) {
	src := &fakeSource{entries: []model.Entry{
		entry("important", "alpha", 0.9, 0.2, 5),
		entry("relevant", "beta", 0.2, 0.9, 5),
	}}
	in := New(src, DefaultParams())

	res, err := in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: 100, Strategy: RelevanceBased})
	require.NoError(t, err)
	assert.Equal(t, []string{"relevant", "important"}, selectedIDs(res))
	assert.InDelta(t, 0.55, res.RelevanceScore, 1e-9)

	res, err = in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: 100, Strategy: ImportanceBased})
	require.NoError(t, err)
	assert.Equal(t, []string{"important", "relevant"}, selectedIDs(res))
}

func TestZeroBudgetIsEmpty(t *testing.T) {
	src := &fakeSource{entries: []model.Entry{entry("a", "alpha", 0.5, 0.5, 1)}}
	in := New(src, DefaultParams())

	for _, budget := range []int{0, -10} {
		res, err := in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: budget})
		require.NoError(t, err)
		assert.Empty(t, res.Selected)
		assert.Equal(t, 0, res.TotalTokens)
	}
}

func TestEmptyCandidatesIsEmpty(t *testing.T) {
	in := New(&fakeSource{}, DefaultParams())
	res, err := in.Inject(context.Background(), Request{Context: ctxFor("x", "y"), Budget: 50})
	require.NoError(t, err)
	assert.NotNil(t, res.Selected)
	assert.Empty(t, res.Selected)
	assert.Zero(t, res.RelevanceScore)
}

func TestGreedyStopsAtFirstOverflow(t *testing.T) {
	src := &fakeSource{entries: []model.Entry{
		entry("a", "a", 0, 0.9, 6),
		entry("b", "b", 0, 0.8, 5),
		entry("c", "c", 0, 0.7, 1), // would fit, but packing stopped at b
	}}
	in := New(src, DefaultParams())

	res, err := in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: 10, Strategy: RelevanceBased})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, selectedIDs(res))
	assert.Equal(t, 6, res.TotalTokens)
}

func TestBudgetNeverOvershoots(t *testing.T) {
	var entries []model.Entry
	for i := 0; i < 40; i++ {
		entries = append(entries, entry(string(rune('A'+i)), "memory", 0.5, float64(i%10)/10, i%7+1))
	}
	in := New(&fakeSource{entries: entries}, DefaultParams())

	for budget := 1; budget < 120; budget += 7 {
		res, err := in.Inject(context.Background(), Request{Context: ctxFor("memory", ""), Budget: budget})
		require.NoError(t, err)
		sum := 0
		for _, e := range res.Selected {
			sum += e.TokenCount
		}
		assert.Equal(t, res.TotalTokens, sum)
		assert.LessOrEqual(t, sum, budget)
	}
}

func TestHybridUsesLiveContext(t *testing.T) {
	src := &fakeSource{entries: []model.Entry{
		entry("generic", "the user enjoys long walks", 0.5, 0.9, 3),
		entry("on-topic", "billing invoice disputes handled by finance", 0.5, 0.4, 3),
	}}
	in := New(src, DefaultParams())

	res, err := in.Inject(context.Background(), Request{
		Context: ctxFor("billing invoice", "resolve invoice disputes"),
		Budget:  100,
	})
	require.NoError(t, err)
	require.Len(t, res.Selected, 2)
	assert.Equal(t, "on-topic", res.Selected[0].ID)
	// 0.3*1 + 0.3*(2/3) + 0.4*0.4
	assert.InDelta(t, 0.66, res.Scores[0], 1e-9)
	assert.InDelta(t, 0.36, res.Scores[1], 1e-9)
}

func TestRetrievalParams(t *testing.T) {
	src := &fakeSource{}
	in := New(src, DefaultParams())

	_, err := in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: 10})
	require.NoError(t, err)
	assert.Equal(t, "s1", src.last.SessionID)
	assert.Equal(t, 0.3, src.last.MinRelevance)
	assert.Equal(t, 50, src.last.Limit)

	_, err = in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: 10, AllSessions: true})
	require.NoError(t, err)
	assert.Empty(t, src.last.SessionID)
}

func TestForcedEntriesPackFirst(t *testing.T) {
	pinned := entry("pinned", "low value but pinned", 0, 0, 2)
	inactive := entry("inactive", "switched off", 0, 0, 2)
	inactive.IsActive = false
	src := &fakeSource{entries: []model.Entry{
		entry("top", "best", 1, 1, 2),
		pinned,
		inactive,
	}}
	in := New(src, DefaultParams())

	res, err := in.Inject(context.Background(), Request{
		Context: ctxFor("", ""), Budget: 100, Strategy: RelevanceBased,
		Forced: []string{"pinned", "missing", "inactive", "pinned"},
	})
	require.NoError(t, err)
	// inactive is still a query candidate in the fake; only its forced slot is skipped.
	assert.Equal(t, []string{"pinned", "top", "inactive"}, selectedIDs(res))
}

func TestFileReport(t *testing.T) {
	f1 := entry("f1", "chunk one", 0, 0.9, 4)
	f1.File = &model.FileProvenance{DocumentID: "doc", ChunkID: "doc#0"}
	f2 := entry("f2", "chunk two", 0, 0.8, 3)
	f2.File = &model.FileProvenance{DocumentID: "doc", ChunkID: "doc#1"}
	c1 := entry("c1", "chat", 0, 0.7, 2)
	src := &fakeSource{entries: []model.Entry{f1, f2, c1}}
	in := New(src, DefaultParams())

	ctx := ctxFor("", "")
	res, err := in.Inject(context.Background(), Request{Context: ctx, Budget: 100, Strategy: RelevanceBased})
	require.NoError(t, err)
	assert.Nil(t, res.Files)

	ctx.IncludeFileMemories = true
	res, err = in.Inject(context.Background(), Request{Context: ctx, Budget: 100, Strategy: RelevanceBased})
	require.NoError(t, err)
	require.NotNil(t, res.Files)
	assert.Equal(t, 3, len(res.Selected), "reporting does not change selection")
	assert.Equal(t, 2, res.Files.FileEntries)
	assert.Equal(t, 7, res.Files.FileTokens)
	assert.Equal(t, 2, res.Files.ConversationTokens)
	assert.Equal(t, []string{"doc"}, res.Files.DocumentIDs)
	assert.Equal(t, []string{"doc#0", "doc#1"}, res.Files.ChunkIDs)
}

func TestQueryErrorPropagates(t *testing.T) {
	in := New(&fakeSource{err: errors.New("disk gone")}, DefaultParams())
	_, err := in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: 10})
	assert.Error(t, err)
}

func TestUnknownStrategy(t *testing.T) {
	in := New(&fakeSource{}, DefaultParams())
	_, err := in.Inject(context.Background(), Request{Context: ctxFor("", ""), Budget: 10, Strategy: "random"})
	assert.Error(t, err)
}

func TestInjectAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "inject.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, e := range []model.Entry{
		{UserID: "u1", SessionID: "s1", Type: model.TypeFact, Content: "prefers dark roast coffee", Importance: 0.9, Relevance: 0.2},
		{UserID: "u1", SessionID: "s1", Type: model.TypeFact, Content: "works night shifts", Importance: 0.2, Relevance: 0.9},
		{UserID: "u1", SessionID: "s2", Type: model.TypeFact, Content: "other session", Importance: 1, Relevance: 1},
	} {
		_, err := s.Create(ctx, &e)
		require.NoError(t, err)
	}

	res, err := New(s, DefaultParams()).Inject(ctx, Request{Context: ctxFor("", ""), Budget: 1000, Strategy: RelevanceBased})
	require.NoError(t, err)
	// The 0.2-relevance entry sits below the floor.
	require.Len(t, res.Selected, 1)
	assert.Equal(t, "works night shifts", res.Selected[0].Content)
	assert.Equal(t, textutil.TokenCount("works night shifts"), res.TotalTokens)
}
