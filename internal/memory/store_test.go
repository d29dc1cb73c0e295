package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/bus"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/observability"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

type fixture struct {
	kv    *store.MemoryKV
	bus   *bus.EventBus
	store *Store
}

func newFixture(t *testing.T, maxEntries int, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	kv := store.NewMemoryKV()
	eb := bus.New(logger, 0)
	s, err := New(context.Background(), kv, eb, logger, config.MemoryConfig{MaxEntriesPerCategory: maxEntries}, opts...)
	require.NoError(t, err)
	return &fixture{kv: kv, bus: eb, store: s}
}

func actions(entries []schemas.MemoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestNew_ValidatesDependencies(t *testing.T) {
	logger := zaptest.NewLogger(t)
	eb := bus.New(logger, 0)
	cfg := config.MemoryConfig{MaxEntriesPerCategory: 10}

	_, err := New(context.Background(), nil, eb, logger, cfg)
	assert.ErrorContains(t, err, "requires a KV backend")
	_, err = New(context.Background(), store.NewMemoryKV(), nil, logger, cfg)
	assert.ErrorContains(t, err, "requires an event publisher")
	_, err = New(context.Background(), store.NewMemoryKV(), eb, logger, config.MemoryConfig{})
	assert.ErrorContains(t, err, "must be positive")
}

func TestRemember_EvictsOldestBeyondCap(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.store.Remember(ctx, CategoryAnalyses, schemas.MemoryEntry{Action: fmt.Sprintf("a%d", i)})
		require.NoError(t, err)
	}

	assert.Equal(t, 5, f.store.Stats()[CategoryAnalyses])
	got := actions(f.store.Recall(CategoryAnalyses, 100))
	want := []string{"a11", "a10", "a9", "a8", "a7"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("retained entries mismatch (-want +got):\n%s", diff)
	}
}

func TestRemember_AssignsIdentityAndPublishes(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	var payloads []schemas.MemoryUpdatedPayload
	f.bus.Subscribe(schemas.EventMemoryUpdated, func(_ context.Context, ev schemas.Event) error {
		payloads = append(payloads, ev.Payload.(schemas.MemoryUpdatedPayload))
		return nil
	})

	e1, err := f.store.Remember(ctx, CategoryTasks, schemas.MemoryEntry{Action: "one", Confidence: 1.7})
	require.NoError(t, err)
	e2, err := f.store.Remember(ctx, CategoryTasks, schemas.MemoryEntry{Action: "two"})
	require.NoError(t, err)

	assert.NotEmpty(t, e1.ID)
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.Equal(t, CategoryTasks, e1.Category)
	assert.False(t, e1.Timestamp.IsZero())
	assert.Equal(t, 1.0, e1.Confidence, "confidence is clamped into [0,1]")
	assert.Equal(t, []schemas.MemoryUpdatedPayload{
		{Category: CategoryTasks, Cases: 1},
		{Category: CategoryTasks, Cases: 2},
	}, payloads)

	_, err = f.store.Remember(ctx, "", schemas.MemoryEntry{})
	assert.Error(t, err)
}

func TestRecall(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.store.Remember(ctx, CategoryAgents, schemas.MemoryEntry{Action: fmt.Sprintf("e%d", i)})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"e3", "e2"}, actions(f.store.Recall(CategoryAgents, 2)))
	assert.Len(t, f.store.Recall(CategoryAgents, 50), 4)
	assert.Empty(t, f.store.Recall(CategoryAgents, 0))
	assert.Empty(t, f.store.Recall("unknown", 5))
}

func TestNew_ReloadsPersistedCategories(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	_, err := f.store.Remember(ctx, CategoryAnalyses, schemas.MemoryEntry{Action: "persisted"})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	reloaded, err := New(ctx, f.kv, f.bus, logger, config.MemoryConfig{MaxEntriesPerCategory: 10})
	require.NoError(t, err)

	got := reloaded.Recall(CategoryAnalyses, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "persisted", got[0].Action)
}

func TestSearchMemory(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	remember := func(cat, action string, context map[string]any, offset time.Duration) {
		_, err := f.store.Remember(ctx, cat, schemas.MemoryEntry{Action: action, Context: context, Timestamp: base.Add(offset)})
		require.NoError(t, err)
	}
	remember(CategoryAnalyses, "Analyze ACME Corp", nil, 1*time.Minute)
	remember(CategoryTasks, "research market", map[string]any{"organization": "acme corp"}, 3*time.Minute)
	remember(CategoryAgents, "spawn helper", map[string]any{"note": "unrelated"}, 2*time.Minute)

	t.Run("matches action and context across categories, newest first", func(t *testing.T) {
		got := actions(f.store.SearchMemory("ACME", ""))
		assert.Equal(t, []string{"research market", "Analyze ACME Corp"}, got)
	})

	t.Run("restricts to a category", func(t *testing.T) {
		got := actions(f.store.SearchMemory("acme", CategoryAnalyses))
		assert.Equal(t, []string{"Analyze ACME Corp"}, got)
	})

	t.Run("no match yields an empty slice", func(t *testing.T) {
		got := f.store.SearchMemory("zebra", "")
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("caps results at twenty", func(t *testing.T) {
		for i := 0; i < 30; i++ {
			remember(CategoryImprovements, fmt.Sprintf("bulk %d", i), nil, time.Hour+time.Duration(i)*time.Second)
		}
		got := f.store.SearchMemory("bulk", "")
		require.Len(t, got, 20)
		assert.Equal(t, "bulk 29", got[0].Action)
	})
}

func TestLearnFromExperience(t *testing.T) {
	ctx := context.Background()

	t.Run("failure stores cautionary lessons", func(t *testing.T) {
		f := newFixture(t, 10)
		cat, err := f.store.LearnFromExperience(ctx, schemas.MemoryEntry{
			Action:     "enter market",
			Outcome:    map[string]any{"success": false, "error": "tariffs"},
			Confidence: 0.95,
		})
		require.NoError(t, err)
		assert.Equal(t, CategoryFailures, cat)

		stored := f.store.Recall(CategoryFailures, 1)
		require.Len(t, stored, 1)
		assert.Len(t, stored[0].LessonsLearned, 3)
		assert.Contains(t, stored[0].LessonsLearned[2], "tariffs")
		assert.Empty(t, f.store.Recall(CategorySuccessfulPatterns, 1), "a failure is never a successful pattern")
	})

	t.Run("confident success stores a pattern", func(t *testing.T) {
		f := newFixture(t, 10)
		cat, err := f.store.LearnFromExperience(ctx, schemas.MemoryEntry{
			Action:     "partner",
			Outcome:    map[string]any{"success": true},
			Confidence: 0.9,
		})
		require.NoError(t, err)
		assert.Equal(t, CategorySuccessfulPatterns, cat)
		assert.Len(t, f.store.Recall(CategorySuccessfulPatterns, 5), 1)
	})

	t.Run("other entries are not stored", func(t *testing.T) {
		f := newFixture(t, 10)
		cat, err := f.store.LearnFromExperience(ctx, schemas.MemoryEntry{Action: "meh", Confidence: 0.8})
		require.NoError(t, err)
		assert.Empty(t, cat)
		assert.Empty(t, f.store.Categories())
	})
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	for i := 0; i < 8; i++ {
		_, err := f.store.Remember(ctx, CategoryErrors, schemas.MemoryEntry{Action: fmt.Sprintf("e%d", i)})
		require.NoError(t, err)
	}

	evicted, err := f.store.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted)

	// A lowered cap takes effect on the next compaction.
	f.store.cfg.MaxEntriesPerCategory = 3
	evicted, err = f.store.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, evicted)
	assert.Equal(t, []string{"e7", "e6", "e5"}, actions(f.store.Recall(CategoryErrors, 10)))

	h := f.store.Health(ctx)
	assert.True(t, h.Healthy)
	assert.Equal(t, "3 entries in 1 categories", h.Detail)
}

type readOnlyKV struct {
	*store.MemoryKV
}

func (readOnlyKV) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestRemember_PersistFailureIsTaggedReported(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	s, err := New(context.Background(), readOnlyKV{store.NewMemoryKV()}, bus.New(logger, 0), logger, config.MemoryConfig{MaxEntriesPerCategory: 10})
	require.NoError(t, err)

	entry, err := s.Remember(context.Background(), CategoryErrors, schemas.MemoryEntry{Action: "upstream timed out"})
	assert.ErrorContains(t, err, "disk full")
	assert.NotEmpty(t, entry.ID, "the entry is kept in memory")
	assert.Len(t, s.Recall(CategoryErrors, 5), 1)

	failed := logs.FilterMessage("Failed to persist memory").All()
	require.Len(t, failed, 1)
	assert.Equal(t, true, failed[0].ContextMap()[observability.ReportedKey])
}
