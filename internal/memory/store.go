// File: internal/memory/store.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/observability"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// Well-known categories.
const (
	CategoryAnalyses           = "analyses"
	CategoryAgents             = "agents"
	CategoryTasks              = "tasks"
	CategoryErrors             = "errors"
	CategorySecurity           = "security"
	CategoryFailures           = "failures"
	CategorySuccessfulPatterns = "successful_patterns"
	CategoryImprovements       = "improvements"
)

const (
	maxSearchResults           = 20
	successfulPatternThreshold = 0.8
)

// Option configures a Store.
type Option func(*Store)

// WithMatcher replaces the default keyword liability matcher.
func WithMatcher(m LiabilityMatcher) Option {
	return func(s *Store) { s.matcher = m }
}

// Store is the categorized, size-bounded long-term memory. Every mutation
// rewrites the full category map to the KV record.
type Store struct {
	kv     store.KV
	bus    schemas.EventPublisher
	logger *zap.Logger
	cfg    config.MemoryConfig

	mu         sync.RWMutex
	categories map[string][]schemas.MemoryEntry

	catalog []schemas.LiabilityRisk
	matcher LiabilityMatcher
}

// New reloads every persisted category before returning.
func New(ctx context.Context, kv store.KV, bus schemas.EventPublisher, logger *zap.Logger, cfg config.MemoryConfig, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("memory store requires a KV backend")
	}
	if bus == nil {
		return nil, fmt.Errorf("memory store requires an event publisher")
	}
	if cfg.MaxEntriesPerCategory <= 0 {
		return nil, fmt.Errorf("max_entries_per_category must be positive, got %d", cfg.MaxEntriesPerCategory)
	}

	s := &Store{
		kv:         kv,
		bus:        bus,
		logger:     logger.Named("memory"),
		cfg:        cfg,
		categories: make(map[string][]schemas.MemoryEntry),
		catalog:    defaultCatalog(),
		matcher:    KeywordMatcher{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := store.LoadJSON(ctx, kv, store.KeyMemory, &s.categories); err != nil {
		return nil, fmt.Errorf("failed to reload memory: %w", err)
	}
	if s.categories == nil {
		s.categories = make(map[string][]schemas.MemoryEntry)
	}
	for cat := range s.categories {
		s.categories[cat] = s.truncate(s.categories[cat])
	}

	s.logger.Debug("Memory loaded", zap.Int("categories", len(s.categories)))
	return s, nil
}

// Remember appends entry under category, evicting the oldest entries beyond
// the cap, persists the store and publishes memoryUpdated. The stored entry
// is returned even if persisting failed.
func (s *Store) Remember(ctx context.Context, category string, entry schemas.MemoryEntry) (schemas.MemoryEntry, error) {
	if category == "" {
		return schemas.MemoryEntry{}, fmt.Errorf("category is required")
	}
	entry.ID = uuid.NewString()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Category = category
	entry.Confidence = clamp01(entry.Confidence)

	s.mu.Lock()
	s.categories[category] = s.truncate(append(s.categories[category], entry))
	cases := len(s.categories[category])
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	err := store.SaveJSON(ctx, s.kv, store.KeyMemory, snapshot)
	if err != nil {
		s.logger.Error("Failed to persist memory", zap.String("category", category), zap.Error(err), observability.Reported())
	}

	s.bus.Emit(ctx, schemas.EventMemoryUpdated, schemas.MemoryUpdatedPayload{Category: category, Cases: cases})
	return entry, err
}

// Recall returns up to limit entries of category, newest first.
func (s *Store) Recall(category string, limit int) []schemas.MemoryEntry {
	if limit <= 0 {
		return []schemas.MemoryEntry{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.categories[category]
	n := min(limit, len(entries))
	out := make([]schemas.MemoryEntry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out
}

// SearchMemory performs case-insensitive substring matching of query over
// each entry's action and serialized context, in one category or all of them
// when category is empty. Results are newest first, at most 20.
func (s *Store) SearchMemory(query, category string) []schemas.MemoryEntry {
	needle := strings.ToLower(query)

	s.mu.RLock()
	var cats []string
	if category != "" {
		cats = []string{category}
	} else {
		for c := range s.categories {
			cats = append(cats, c)
		}
	}
	var matches []schemas.MemoryEntry
	for _, c := range cats {
		entries := s.categories[c]
		// Walk backwards so the stable sort keeps insertion order newest-first on ties.
		for i := len(entries) - 1; i >= 0; i-- {
			if entryMatches(entries[i], needle) {
				matches = append(matches, entries[i])
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}
	if matches == nil {
		return []schemas.MemoryEntry{}
	}
	return matches
}

func entryMatches(e schemas.MemoryEntry, needle string) bool {
	if strings.Contains(strings.ToLower(e.Action), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(serializeContext(e.Context)), needle)
}

func serializeContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return ""
	}
	raw, err := store.Marshal(ctx)
	if err != nil {
		return fmt.Sprint(ctx)
	}
	return string(raw)
}

// AssessLiability returns every catalog risk the configured matcher applies
// to the action and its serialized context.
func (s *Store) AssessLiability(action string, context map[string]any) []schemas.LiabilityRisk {
	serialized := serializeContext(context)
	risks := []schemas.LiabilityRisk{}
	for _, risk := range s.catalog {
		if s.matcher.Matches(risk, action, serialized) {
			risks = append(risks, risk)
		}
	}
	return risks
}

// Catalog returns a copy of the static liability catalog.
func (s *Store) Catalog() []schemas.LiabilityRisk {
	return append([]schemas.LiabilityRisk(nil), s.catalog...)
}

// LearnFromExperience stores failures with cautionary lessons under
// "failures" and confident successes under "successful_patterns". Nothing
// else is stored. It returns the category written to, or "" if none.
func (s *Store) LearnFromExperience(ctx context.Context, entry schemas.MemoryEntry) (string, error) {
	success, known := entry.Succeeded()
	switch {
	case known && !success:
		entry.LessonsLearned = append(entry.LessonsLearned, cautionaryLessons(entry)...)
		if _, err := s.Remember(ctx, CategoryFailures, entry); err != nil {
			return CategoryFailures, err
		}
		return CategoryFailures, nil
	case entry.Confidence > successfulPatternThreshold:
		if _, err := s.Remember(ctx, CategorySuccessfulPatterns, entry); err != nil {
			return CategorySuccessfulPatterns, err
		}
		return CategorySuccessfulPatterns, nil
	default:
		return "", nil
	}
}

func cautionaryLessons(entry schemas.MemoryEntry) []string {
	lessons := []string{
		fmt.Sprintf("Validate inputs and preconditions before repeating %q", entry.Action),
		"Lower the confidence assigned to similar actions until a success is recorded",
	}
	if reason, ok := entry.Outcome["error"].(string); ok && reason != "" {
		lessons = append(lessons, "Investigate the recorded failure cause: "+reason)
	} else {
		lessons = append(lessons, "Capture the failure cause so future attempts can avoid it")
	}
	return lessons
}

// Categories returns the known category names, sorted.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats := make([]string, 0, len(s.categories))
	for c := range s.categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// Stats returns the number of entries per category.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make(map[string]int, len(s.categories))
	for c, entries := range s.categories {
		stats[c] = len(entries)
	}
	return stats
}

// Compact drops empty categories and re-applies the cap. It persists only
// when something changed and returns the number of entries evicted.
func (s *Store) Compact(ctx context.Context) (int, error) {
	s.mu.Lock()
	evicted, changed := 0, false
	for c, entries := range s.categories {
		if len(entries) == 0 {
			delete(s.categories, c)
			changed = true
			continue
		}
		kept := s.truncate(entries)
		if d := len(entries) - len(kept); d > 0 {
			evicted += d
			changed = true
			s.categories[c] = kept
		}
	}
	var snapshot map[string][]schemas.MemoryEntry
	if changed {
		snapshot = s.snapshotLocked()
	}
	s.mu.Unlock()

	if !changed {
		return 0, nil
	}
	if err := store.SaveJSON(ctx, s.kv, store.KeyMemory, snapshot); err != nil {
		return evicted, err
	}
	s.logger.Info("Memory compacted", zap.Int("evicted", evicted))
	return evicted, nil
}

// Health implements schemas.HealthReporter.
func (s *Store) Health(_ context.Context) schemas.ComponentHealth {
	s.mu.RLock()
	total := 0
	for _, entries := range s.categories {
		total += len(entries)
	}
	cats := len(s.categories)
	s.mu.RUnlock()
	return schemas.ComponentHealth{
		Name:    "memory",
		Healthy: true,
		Detail:  fmt.Sprintf("%d entries in %d categories", total, cats),
	}
}

// truncate keeps the newest MaxEntriesPerCategory entries.
func (s *Store) truncate(entries []schemas.MemoryEntry) []schemas.MemoryEntry {
	limit := s.cfg.MaxEntriesPerCategory
	if len(entries) <= limit {
		return entries
	}
	kept := make([]schemas.MemoryEntry, limit)
	copy(kept, entries[len(entries)-limit:])
	return kept
}

// snapshotLocked copies the category slices so they can be encoded outside the lock.
func (s *Store) snapshotLocked() map[string][]schemas.MemoryEntry {
	out := make(map[string][]schemas.MemoryEntry, len(s.categories))
	for c, entries := range s.categories {
		out[c] = append([]schemas.MemoryEntry(nil), entries...)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
