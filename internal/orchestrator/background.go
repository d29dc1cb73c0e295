// File: internal/orchestrator/background.go
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

const stopTimeout = 30 * time.Second

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// StartBackgroundProcesses schedules the research, improvement and
// maintenance cycles. It returns false if they are already running. The
// cycles stop when ctx is cancelled or StopBackgroundProcesses is called.
func (o *Orchestrator) StartBackgroundProcesses(ctx context.Context) bool {
	o.bgMu.Lock()
	defer o.bgMu.Unlock()
	if o.cron != nil {
		return false
	}

	adapter := cronLogger{s: o.logger.Named("cron").Sugar()}
	c := cron.New(cron.WithLogger(adapter), cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)))
	runCtx, cancel := context.WithCancel(ctx)

	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"research", o.cfg.ResearchInterval, func(ctx context.Context) { o.RunResearchSweep(ctx) }},
		{"improvement", o.cfg.ImprovementInterval, func(ctx context.Context) { o.RunImprovementSweep(ctx) }},
		{"maintenance", o.cfg.MaintenanceInterval, func(ctx context.Context) {
			if _, err := o.RunMaintenanceSweep(ctx); err != nil {
				o.logger.Warn("Maintenance sweep failed", zap.Error(err))
			}
		}},
	}
	for _, j := range jobs {
		j := j
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", j.interval), func() { j.fn(runCtx) }); err != nil {
			o.logger.Error("Failed to schedule background cycle", zap.String("cycle", j.name), zap.Error(err))
			cancel()
			return false
		}
	}

	done := make(chan struct{})
	o.cron = c
	o.bgCancel = cancel
	o.bgDone = done
	c.Start()

	go func() {
		defer close(done)
		<-runCtx.Done()
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(stopTimeout):
			o.logger.Warn("Timed out waiting for background cycles to finish")
		}
		o.bgMu.Lock()
		if o.bgDone == done {
			o.cron, o.bgCancel, o.bgDone = nil, nil, nil
		}
		o.bgMu.Unlock()
	}()

	o.logger.Info("Background processes started",
		zap.Duration("research_interval", o.cfg.ResearchInterval),
		zap.Duration("improvement_interval", o.cfg.ImprovementInterval),
		zap.Duration("maintenance_interval", o.cfg.MaintenanceInterval))
	return true
}

// StopBackgroundProcesses cancels the cycles and waits for running jobs to
// return. Calling it when nothing runs is a no-op.
func (o *Orchestrator) StopBackgroundProcesses() {
	o.bgMu.Lock()
	cancel, done := o.bgCancel, o.bgDone
	o.cron, o.bgCancel, o.bgDone = nil, nil, nil
	o.bgMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.logger.Info("Background processes stopped")
}

// IsRunning reports whether the background cycles are scheduled.
func (o *Orchestrator) IsRunning() bool {
	o.bgMu.Lock()
	defer o.bgMu.Unlock()
	return o.cron != nil
}

// RunImprovementSweep runs a self-improvement pass when recent samples exist.
func (o *Orchestrator) RunImprovementSweep(ctx context.Context) (schemas.Improvement, bool) {
	if !o.deps.Improver.HasRecentSamples() {
		return schemas.Improvement{}, false
	}
	return o.deps.Improver.AnalyzeAndImprove(ctx), true
}

// RunMaintenanceSweep compacts long-term memory.
func (o *Orchestrator) RunMaintenanceSweep(ctx context.Context) (int, error) {
	removed, err := o.deps.Memory.Compact(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory compaction failed: %w", err)
	}
	if removed > 0 {
		o.logger.Info("Memory compacted", zap.Int("removed", removed))
	}
	return removed, nil
}
