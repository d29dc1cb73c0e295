// internal/evolution/improver.go
package evolution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
)

// Weight names adjusted by the improvement pass.
const (
	WeightResearchDepth  = "research_depth"
	WeightReasoningDepth = "reasoning_depth"
	WeightDocumentDetail = "document_detail"
	WeightConfidenceBias = "confidence_bias"
)

// Bounds applied to every nudged weight.
const (
	minWeight = 0.5
	maxWeight = 2.0
)

// SampleKind distinguishes the two sample streams.
type SampleKind string

const (
	KindPerformance SampleKind = "performance"
	KindAccuracy    SampleKind = "accuracy"
)

// Sample is one observation fed to the improver. Performance samples carry a
// latency and an outcome; accuracy samples carry a score in [0,1].
type Sample struct {
	Kind      SampleKind `json:"kind"`
	Operation string     `json:"operation"`
	LatencyMs float64    `json:"latency_ms,omitempty"`
	Success   bool       `json:"success"`
	Accuracy  float64    `json:"accuracy,omitempty"`
	At        time.Time  `json:"at"`
}

// MemoryRecorder is the slice of the memory store used by the improver.
type MemoryRecorder interface {
	Remember(ctx context.Context, category string, entry schemas.MemoryEntry) (schemas.MemoryEntry, error)
}

// Option configures an Improver.
type Option func(*Improver)

// WithClock overrides time.Now. Tests only.
func WithClock(now func() time.Time) Option {
	return func(i *Improver) { i.now = now }
}

// Improver keeps bounded performance and accuracy samples and nudges the
// tunable weights toward the configured targets.
type Improver struct {
	cfg    config.EvolutionConfig
	memory MemoryRecorder
	bus    schemas.EventPublisher
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	samples  []Sample
	weights  map[string]float64
	defaults map[string]float64
	passes   int
}

// NewImprover returns an improver seeded with the configured weights.
func NewImprover(cfg config.EvolutionConfig, mem MemoryRecorder, eb schemas.EventPublisher, logger *zap.Logger, opts ...Option) (*Improver, error) {
	if mem == nil || eb == nil {
		return nil, fmt.Errorf("improver requires a memory recorder and an event publisher")
	}
	if cfg.MaxSamples <= 0 {
		return nil, fmt.Errorf("evolution.max_samples must be positive")
	}

	defaults := config.DefaultWeights()
	for k, v := range cfg.Weights {
		defaults[k] = v
	}
	i := &Improver{
		cfg:      cfg,
		memory:   mem,
		bus:      eb,
		logger:   logger.Named("improver"),
		now:      time.Now,
		defaults: defaults,
		weights:  copyWeights(defaults),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// RecordPerformance stores a latency/outcome sample.
func (i *Improver) RecordPerformance(s Sample) {
	s.Kind = KindPerformance
	i.record(s)
}

// RecordAccuracy stores an accuracy sample. Scores are clamped to [0,1].
func (i *Improver) RecordAccuracy(s Sample) {
	s.Kind = KindAccuracy
	s.Accuracy = math.Max(0, math.Min(1, s.Accuracy))
	i.record(s)
}

func (i *Improver) record(s Sample) {
	if s.At.IsZero() {
		s.At = i.now()
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.samples = append(i.samples, s)
	if over := len(i.samples) - i.cfg.MaxSamples; over > 0 {
		i.samples = append([]Sample(nil), i.samples[over:]...)
	}
}

// HasRecentSamples reports whether any sample falls inside the sample window.
func (i *Improver) HasRecentSamples() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.recentLocked()) > 0
}

func (i *Improver) recentLocked() []Sample {
	if i.cfg.SampleWindow <= 0 {
		return i.samples
	}
	cutoff := i.now().Add(-i.cfg.SampleWindow)
	var out []Sample
	for _, s := range i.samples {
		if s.At.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// AnalyzeAndImprove scores the recent samples and adjusts weights.
//
// The score is the mean accuracy scaled to 0-100. Without accuracy samples it
// falls back to the performance success ratio, and without any samples it is
// 100. research_depth rises by one step when mean accuracy is below the
// target; document_detail drops by one step when mean latency exceeds the
// latency target. Weights stay within [0.5, 2.0].
func (i *Improver) AnalyzeAndImprove(ctx context.Context) schemas.Improvement {
	i.mu.Lock()
	recent := i.recentLocked()

	var accSum, latSum float64
	var accN, perfN, perfOK int
	for _, s := range recent {
		switch s.Kind {
		case KindAccuracy:
			accSum += s.Accuracy
			accN++
		case KindPerformance:
			latSum += s.LatencyMs
			perfN++
			if s.Success {
				perfOK++
			}
		}
	}

	score := 100.0
	switch {
	case accN > 0:
		score = accSum / float64(accN) * 100
	case perfN > 0:
		score = float64(perfOK) / float64(perfN) * 100
	}
	score = round2(score)

	var adjustments []schemas.WeightAdjustment
	if accN > 0 {
		if mean := accSum / float64(accN); mean < i.cfg.AccuracyTarget {
			if adj, ok := i.nudgeLocked(WeightResearchDepth, i.cfg.Step,
				fmt.Sprintf("mean accuracy %.2f below target %.2f", mean, i.cfg.AccuracyTarget)); ok {
				adjustments = append(adjustments, adj)
			}
		}
	}
	if perfN > 0 && i.cfg.LatencyTargetMs > 0 {
		if mean := latSum / float64(perfN); mean > i.cfg.LatencyTargetMs {
			if adj, ok := i.nudgeLocked(WeightDocumentDetail, -i.cfg.Step,
				fmt.Sprintf("mean latency %.0fms above target %.0fms", mean, i.cfg.LatencyTargetMs)); ok {
				adjustments = append(adjustments, adj)
			}
		}
	}
	i.passes++
	result := schemas.Improvement{
		Score:       score,
		Samples:     len(recent),
		Adjustments: adjustments,
		Weights:     copyWeights(i.weights),
	}
	i.mu.Unlock()

	i.logger.Info("Self-improvement pass complete",
		zap.Float64("score", result.Score),
		zap.Int("samples", result.Samples),
		zap.Int("adjustments", len(adjustments)))

	if len(adjustments) > 0 {
		i.bus.Emit(ctx, schemas.EventWeightsAdjusted, schemas.WeightsAdjustedPayload{Adjustments: adjustments})
	}
	if _, err := i.memory.Remember(ctx, memory.CategoryImprovements, schemas.MemoryEntry{
		Action:     "self-improvement pass",
		Context:    map[string]any{"samples": result.Samples, "score": result.Score},
		Outcome:    map[string]any{"success": true, "adjustments": len(adjustments)},
		Confidence: result.Score / 100,
	}); err != nil {
		i.logger.Warn("Failed to record improvement", zap.Error(err))
	}
	return result
}

func (i *Improver) nudgeLocked(name string, delta float64, reason string) (schemas.WeightAdjustment, bool) {
	from := i.weights[name]
	to := round2(math.Max(minWeight, math.Min(maxWeight, from+delta)))
	if to == from {
		return schemas.WeightAdjustment{}, false
	}
	i.weights[name] = to
	return schemas.WeightAdjustment{Name: name, From: from, To: to, Reason: reason}, true
}

// Weights returns a copy of the current weights.
func (i *Improver) Weights() map[string]float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return copyWeights(i.weights)
}

// ResetWeights restores the configured defaults and publishes the changes.
func (i *Improver) ResetWeights(ctx context.Context) {
	i.mu.Lock()
	var adjustments []schemas.WeightAdjustment
	names := make([]string, 0, len(i.defaults))
	for name := range i.defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if from := i.weights[name]; from != i.defaults[name] {
			adjustments = append(adjustments, schemas.WeightAdjustment{Name: name, From: from, To: i.defaults[name], Reason: "reset to defaults"})
		}
	}
	i.weights = copyWeights(i.defaults)
	i.mu.Unlock()

	i.logger.Info("Weights reset to defaults", zap.Int("changed", len(adjustments)))
	if len(adjustments) > 0 {
		i.bus.Emit(ctx, schemas.EventWeightsAdjusted, schemas.WeightsAdjustedPayload{Adjustments: adjustments})
	}
}

// Health implements schemas.HealthReporter.
func (i *Improver) Health(_ context.Context) schemas.ComponentHealth {
	i.mu.Lock()
	defer i.mu.Unlock()
	return schemas.ComponentHealth{
		Name:    "self_improvement_engine",
		Healthy: true,
		Detail:  fmt.Sprintf("%d samples, %d passes", len(i.samples), i.passes),
	}
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
