// File: internal/orchestrator/research.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/evolution"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// Session states.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Reasons a research loop stopped.
const (
	StopTargetReached = "target_reached"
	StopMaxIterations = "max_iterations"
	StopTimeBudget    = "time_budget"
	StopStale         = "stale"
	StopError         = "error"
)

const maxFinishedSessions = 100

// ResearchSession is the record of one bounded research loop.
type ResearchSession struct {
	ID            string     `json:"id"`
	Query         string     `json:"query"`
	Status        string     `json:"status"`
	StopReason    string     `json:"stop_reason,omitempty"`
	Iterations    int        `json:"iterations"`
	MaxIterations int        `json:"max_iterations"`
	Completeness  float64    `json:"completeness"`
	Findings      []string   `json:"findings,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// weight reads one tunable weight of the improver.
func (o *Orchestrator) weight(name string) (float64, bool) {
	w, ok := o.deps.Improver.Weights()[name]
	return w, ok
}

// researchIterations scales the configured iteration cap by the
// research_depth weight, keeping at least one pass.
func (o *Orchestrator) researchIterations() int {
	depth, ok := o.weight(evolution.WeightResearchDepth)
	if !ok || depth <= 0 {
		return o.cfg.ResearchMaxIterations
	}
	return max(1, int(math.Round(float64(o.cfg.ResearchMaxIterations)*depth)))
}

func (o *Orchestrator) researchCacheKey(sessionID string) string {
	return o.cachePrefix + "research_" + sessionID
}

// runResearch iterates the researcher until completeness reaches the target,
// the iteration cap is hit, or the time budget runs out. Iterations are paced
// by a token bucket. Only researcher failures and cancellation of ctx are
// errors; running out of budget is a normal stop.
func (o *Orchestrator) runResearch(ctx context.Context, query string) (ResearchSession, error) {
	session := &ResearchSession{
		ID:        uuid.NewString(),
		Query:     query,
		Status:        SessionRunning,
		MaxIterations: o.researchIterations(),
		StartedAt:     o.now().UTC(),
	}
	o.sessionsMu.Lock()
	o.sessions[session.ID] = session
	o.sessionsMu.Unlock()

	limit := rate.Inf
	if o.cfg.ResearchRatePerSecond > 0 {
		limit = rate.Limit(o.cfg.ResearchRatePerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	budgetCtx := ctx
	if o.cfg.ResearchTimeBudget > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, o.cfg.ResearchTimeBudget)
		defer cancel()
	}

	var (
		completeness float64
		findings     []string
		iterations   int
		reason       = StopMaxIterations
	)
	for iterations < session.MaxIterations {
		if err := limiter.Wait(budgetCtx); err != nil {
			if ctx.Err() != nil {
				return o.finishResearch(ctx, session.ID, iterations, completeness, findings, StopError, ctx.Err())
			}
			reason = StopTimeBudget
			break
		}
		res, err := o.deps.Researcher.Research(budgetCtx, query)
		iterations++
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				reason = StopTimeBudget
				break
			}
			return o.finishResearch(ctx, session.ID, iterations, completeness, findings, StopError, err)
		}
		completeness = math.Max(completeness, res.Completeness)
		findings = append(findings, res.Findings...)
		if completeness >= o.cfg.ResearchTarget {
			reason = StopTargetReached
			break
		}
	}
	return o.finishResearch(ctx, session.ID, iterations, completeness, findings, reason, nil)
}

func (o *Orchestrator) finishResearch(ctx context.Context, id string, iterations int, completeness float64, findings []string, reason string, runErr error) (ResearchSession, error) {
	now := o.now().UTC()
	o.sessionsMu.Lock()
	s, ok := o.sessions[id]
	if !ok || s.Status != SessionRunning {
		// The stale sweep closed it first.
		var out ResearchSession
		if ok {
			out = *s
		}
		o.sessionsMu.Unlock()
		return out, runErr
	}
	s.Iterations = iterations
	s.Completeness = math.Min(100, completeness)
	s.Findings = findings
	s.StopReason = reason
	s.CompletedAt = &now
	s.Status = SessionCompleted
	if runErr != nil {
		s.Status = SessionFailed
	}
	out := *s
	o.sessionsMu.Unlock()

	if runErr != nil {
		return out, fmt.Errorf("research session %s failed: %w", id, runErr)
	}

	if err := store.SaveJSON(ctx, o.deps.KV, o.researchCacheKey(id), out); err != nil {
		o.logger.Warn("Failed to cache research session", zap.String("session_id", id), zap.Error(err))
	}
	o.deps.Bus.Emit(ctx, schemas.EventResearchCompleted, schemas.ResearchCompletedPayload{
		SessionID:    id,
		Query:        out.Query,
		Completeness: out.Completeness,
		Iterations:   out.Iterations,
	})
	o.logger.Info("Research session complete",
		zap.String("session_id", id),
		zap.String("stop_reason", reason),
		zap.Int("iterations", iterations),
		zap.Float64("completeness", out.Completeness))
	return out, nil
}

// researchTaskHandler lets research-capable agents run a session for the
// task description.
func (o *Orchestrator) researchTaskHandler(ctx context.Context, a schemas.Agent, task schemas.Task) (map[string]any, error) {
	s, err := o.runResearch(ctx, task.Description)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"agent":        a.Name,
		"session_id":   s.ID,
		"completeness": s.Completeness,
		"iterations":   s.Iterations,
		"stop_reason":  s.StopReason,
	}, nil
}

// ResearchSessions returns copies of the tracked sessions, newest first.
func (o *Orchestrator) ResearchSessions() []ResearchSession {
	o.sessionsMu.Lock()
	out := make([]ResearchSession, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, *s)
	}
	o.sessionsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// CachedResearch loads a finished session from the cache.
func (o *Orchestrator) CachedResearch(ctx context.Context, sessionID string) (ResearchSession, bool, error) {
	var s ResearchSession
	found, err := store.LoadJSON(ctx, o.deps.KV, o.researchCacheKey(sessionID), &s)
	return s, found, err
}

// RunResearchSweep completes sessions that have been running longer than
// the stale threshold and prunes the oldest finished sessions. It returns the
// number of sessions it completed.
func (o *Orchestrator) RunResearchSweep(ctx context.Context) int {
	now := o.now().UTC()
	cutoff := now.Add(-o.cfg.ResearchStaleAfter)

	var completed []ResearchSession
	o.sessionsMu.Lock()
	var finished []*ResearchSession
	for _, s := range o.sessions {
		if s.Status == SessionRunning && !s.StartedAt.After(cutoff) {
			done := now
			s.Status = SessionCompleted
			s.StopReason = StopStale
			s.CompletedAt = &done
			completed = append(completed, *s)
		}
		if s.Status != SessionRunning {
			finished = append(finished, s)
		}
	}
	if over := len(finished) - maxFinishedSessions; over > 0 {
		sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
		for _, s := range finished[:over] {
			delete(o.sessions, s.ID)
		}
	}
	o.sessionsMu.Unlock()

	for _, s := range completed {
		if err := store.SaveJSON(ctx, o.deps.KV, o.researchCacheKey(s.ID), s); err != nil {
			o.logger.Warn("Failed to cache stale research session", zap.String("session_id", s.ID), zap.Error(err))
		}
		o.deps.Bus.Emit(ctx, schemas.EventResearchCompleted, schemas.ResearchCompletedPayload{
			SessionID:    s.ID,
			Query:        s.Query,
			Completeness: s.Completeness,
			Iterations:   s.Iterations,
		})
	}
	if len(completed) > 0 {
		o.logger.Info("Research sweep completed stale sessions", zap.Int("count", len(completed)))
	}
	return len(completed)
}
