package ritual

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func setup(t *testing.T) (*Scheduler, *store.SQLiteStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ritual.db"), store.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewScheduler(s, WithClock(c.Now)), s, c
}

func create(t *testing.T, s *store.SQLiteStore, e model.Entry) *model.Entry {
	t.Helper()
	if e.UserID == "" {
		e.UserID = "u1"
	}
	if e.Type == "" {
		e.Type = model.TypeFact
	}
	out, err := s.Create(context.Background(), &e)
	require.NoError(t, err)
	return out
}

func exists(t *testing.T, s *store.SQLiteStore, id string) bool {
	t.Helper()
	_, err := s.Get(context.Background(), id)
	return err == nil
}

func TestShouldRun(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }
	monthAgo := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		schedule model.ScheduleKind
		last     *time.Time
		active   bool
		want     bool
	}{
		{"daily never run", model.ScheduleDaily, nil, true, true},
		{"daily 23h", model.ScheduleDaily, at(23 * time.Hour), true, false},
		{"daily 24h", model.ScheduleDaily, at(24 * time.Hour), true, true},
		{"weekly 6d", model.ScheduleWeekly, at(6 * 24 * time.Hour), true, false},
		{"weekly 7d", model.ScheduleWeekly, at(7 * 24 * time.Hour), true, true},
		{"monthly 30d", model.ScheduleMonthly, at(30 * 24 * time.Hour), true, false},
		{"monthly calendar month", model.ScheduleMonthly, &monthAgo, true, true},
		{"session start", model.ScheduleSessionStart, nil, true, false},
		{"manual", model.ScheduleManual, nil, true, false},
		{"inactive", model.ScheduleDaily, nil, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &model.MemoryRitual{Schedule: c.schedule, LastExecuted: c.last, IsActive: c.active}
			assert.Equal(t, c.want, ShouldRun(r, now))
		})
	}
}

func TestCleanupRequiresAgeAndLowImportance(t *testing.T) {
	ctx := context.Background()
	sched, s, c := setup(t)

	oldLow := create(t, s, model.Entry{Content: "old trivia", Importance: 0.1})
	oldHigh := create(t, s, model.Entry{Content: "old but vital", Importance: 0.9})
	c.t = c.t.Add(40 * 24 * time.Hour)
	newLow := create(t, s, model.Entry{Content: "fresh trivia", Importance: 0.1})
	c.t = c.t.Add(time.Hour)

	r := &model.MemoryRitual{ID: "r", UserID: "u1", Actions: []model.RitualAction{
		{Kind: model.RitualCleanup, MaxAgeDays: 30, ImportanceThreshold: 0.5},
	}}
	n, err := sched.cleanup(ctx, r.UserID, r.Actions[0])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, exists(t, s, oldLow.ID))
	assert.True(t, exists(t, s, oldHigh.ID))
	assert.True(t, exists(t, s, newLow.ID))
}

func TestConsolidateMergesSimilarLowDistinctness(t *testing.T) {
	ctx := context.Background()
	sched, s, _ := setup(t)

	a := create(t, s, model.Entry{Content: "user likes hiking mountains weekends", Importance: 0.2, Relevance: 0.5, Tags: []string{"outdoors"}})
	b := create(t, s, model.Entry{Content: "weekends user likes hiking mountains", Importance: 0.3, Relevance: 0.7, Tags: []string{"hobby"}})
	distinct := create(t, s, model.Entry{Content: "user likes hiking mountains weekends", Importance: 0.9})
	other := create(t, s, model.Entry{Content: "allergic to peanuts", Importance: 0.2})
	pref := create(t, s, model.Entry{Type: model.TypePreference, Content: "user likes hiking mountains weekends", Importance: 0.2})

	n, err := sched.consolidate(ctx, "u1", model.RitualAction{Kind: model.RitualConsolidate})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, exists(t, s, a.ID))
	assert.False(t, exists(t, s, b.ID))
	for _, id := range []string{distinct.ID, other.ID, pref.ID} {
		assert.True(t, exists(t, s, id))
	}

	merged, err := s.Query(ctx, store.QueryParams{UserID: "u1", Categories: []string{ConsolidatedCategory}})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 0.3, merged[0].Importance)
	assert.Equal(t, 0.7, merged[0].Relevance)
	assert.ElementsMatch(t, []string{"outdoors", "hobby"}, merged[0].Tags)
	assert.Contains(t, merged[0].Content, "user likes hiking mountains weekends")
	assert.Contains(t, merged[0].Content, "weekends user likes hiking mountains")
}

func TestConsolidateKeepsKeywordlessEntriesApart(t *testing.T) {
	ctx := context.Background()
	sched, s, _ := setup(t)

	a := create(t, s, model.Entry{Content: "I am ok", Importance: 0.2})
	b := create(t, s, model.Entry{Content: "Go to it", Importance: 0.2})

	n, err := sched.consolidate(ctx, "u1", model.RitualAction{Kind: model.RitualConsolidate})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, exists(t, s, a.ID))
	assert.True(t, exists(t, s, b.ID))

	// Identical keywordless text still shares a hash.
	dup := create(t, s, model.Entry{Content: "i am OK", Importance: 0.2})
	n, err = sched.consolidate(ctx, "u1", model.RitualAction{Kind: model.RitualConsolidate})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, exists(t, s, a.ID))
	assert.False(t, exists(t, s, dup.ID))
	assert.True(t, exists(t, s, b.ID))
}

func TestReweightDecaysAndBoosts(t *testing.T) {
	ctx := context.Background()
	sched, s, c := setup(t)

	idle := create(t, s, model.Entry{Content: "idle", Relevance: 0.8})
	used := create(t, s, model.Entry{Content: "used", Relevance: 0.8})
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Touch(ctx, used.ID, 0))
	}
	c.t = c.t.Add(10 * 24 * time.Hour)

	r := &model.MemoryRitual{UserID: "u1"}
	n, err := sched.reweight(ctx, r, model.RitualAction{Kind: model.RitualReweight, DecayPerDay: 0.1, AccessBoost: 0.02})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gotIdle, _ := s.Get(ctx, idle.ID)
	gotUsed, _ := s.Get(ctx, used.ID)
	decayed := 0.8 * math.Exp(-1)
	assert.InDelta(t, decayed, gotIdle.Relevance, 1e-9)
	// Touches happened at creation time, so the decay window matches.
	assert.InDelta(t, decayed+0.06, gotUsed.Relevance, 1e-9)
	assert.Equal(t, 3, gotUsed.AccessCount, "reweighting is not an access")

	// A second run right after decays over no time.
	last := c.t
	r.LastExecuted = &last
	_, err = sched.reweight(ctx, r, model.RitualAction{Kind: model.RitualReweight, DecayPerDay: 0.1})
	require.NoError(t, err)
	again, _ := s.Get(ctx, idle.ID)
	assert.InDelta(t, decayed, again.Relevance, 1e-9)
}

func TestReweightClamps(t *testing.T) {
	ctx := context.Background()
	sched, s, _ := setup(t)

	e := create(t, s, model.Entry{Content: "popular", Relevance: 0.99})
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Touch(ctx, e.ID, 0))
	}
	_, err := sched.reweight(ctx, &model.MemoryRitual{UserID: "u1"}, model.RitualAction{Kind: model.RitualReweight, AccessBoost: 0.5})
	require.NoError(t, err)
	got, _ := s.Get(ctx, e.ID)
	assert.Equal(t, 1.0, got.Relevance)
}

func TestSummarizeAdoptsSources(t *testing.T) {
	ctx := context.Background()
	sched, s, c := setup(t)

	var ids []string
	for i, msg := range []string{"asked about flights", "picked the morning option", "wants aisle seat"} {
		c.t = c.t.Add(time.Duration(i+1) * time.Minute)
		ids = append(ids, create(t, s, model.Entry{Type: model.TypeConversation, Content: msg, Importance: 0.4}).ID)
	}

	n, err := sched.summarize(ctx, "u1", model.RitualAction{Kind: model.RitualSummarize, MinEntries: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "below the minimum nothing is summarized")

	n, err = sched.summarize(ctx, "u1", model.RitualAction{Kind: model.RitualSummarize, MinEntries: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	summaries, err := s.Query(ctx, store.QueryParams{UserID: "u1", Categories: []string{SummaryCategory}})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	sum := summaries[0]
	assert.Equal(t, ids, sum.ChildIDs)
	assert.True(t, strings.HasPrefix(sum.Content, "Summary of 3 conversation memories:"))
	assert.Equal(t, 0.4, sum.Importance)

	n, err = sched.summarize(ctx, "u1", model.RitualAction{Kind: model.RitualSummarize, MinEntries: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "adopted entries and summaries are not summarized again")
}

func TestExecuteContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	sched, s, _ := setup(t)

	create(t, s, model.Entry{Content: "keep me", Relevance: 0.5})
	r, err := s.CreateRitual(ctx, &model.MemoryRitual{UserID: "u1", Name: "nightly", Schedule: model.ScheduleDaily,
		Actions: []model.RitualAction{{Kind: model.RitualCleanup}, {Kind: model.RitualReweight}}})
	require.NoError(t, err)
	r.Actions = []model.RitualAction{{Kind: "explode"}, {Kind: model.RitualReweight}}

	run, err := sched.Execute(ctx, r)
	require.NoError(t, err)
	require.Len(t, run.Actions, 2)
	assert.NotEmpty(t, run.Actions[0].Error)
	assert.Empty(t, run.Actions[1].Error)
	assert.True(t, run.Failed())

	stored, err := s.GetRitual(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)
	require.NotNil(t, stored.LastRun)
	assert.NotEmpty(t, stored.LastRun.Actions[0].Error)
}

func TestExecuteRunningAverage(t *testing.T) {
	ctx := context.Background()
	sched, s, _ := setup(t)

	r, err := s.CreateRitual(ctx, &model.MemoryRitual{UserID: "u1", Schedule: model.ScheduleManual,
		Actions: []model.RitualAction{{Kind: model.RitualReweight}}})
	require.NoError(t, err)
	r.ExecutionCount = 3
	r.AvgDuration = 3 * time.Second

	run, err := sched.Execute(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 4, r.ExecutionCount)
	assert.Equal(t, (9*time.Second+run.Duration)/4, r.AvgDuration)
}

func TestRunDueSkipsNotDue(t *testing.T) {
	ctx := context.Background()
	sched, s, c := setup(t)

	daily, err := s.CreateRitual(ctx, &model.MemoryRitual{UserID: "u1", Schedule: model.ScheduleDaily,
		Actions: []model.RitualAction{{Kind: model.RitualReweight}}})
	require.NoError(t, err)
	_, err = s.CreateRitual(ctx, &model.MemoryRitual{UserID: "u1", Schedule: model.ScheduleSessionStart,
		Actions: []model.RitualAction{{Kind: model.RitualReweight}}})
	require.NoError(t, err)

	done, err := sched.RunDue(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, daily.ID, done[0].Ritual.ID)

	c.t = c.t.Add(time.Hour)
	done, err = sched.RunDue(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, done)

	started, err := sched.RunSessionStart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, started, 1)

	c.t = c.t.Add(24 * time.Hour)
	total, err := sched.RunDueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestLoop(t *testing.T) {
	sched, s, _ := setup(t)
	_, err := s.CreateRitual(context.Background(), &model.MemoryRitual{UserID: "u1", Schedule: model.ScheduleDaily,
		Actions: []model.RitualAction{{Kind: model.RitualReweight}}})
	require.NoError(t, err)

	_, err = NewLoop(sched, "not a schedule")
	assert.Error(t, err)

	l, err := NewLoop(sched, "")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Tick(context.Background()))
	assert.Equal(t, 0, l.Tick(context.Background()))

	l.Start()
	assert.False(t, l.Next().IsZero())
	l.Stop()
}
