// internal/autofix/watcher_test.go
package autofix

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/bus"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
	"github.com/braydenmw/bwmetadata-sub003/internal/observability"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// recordingReporter captures every report it receives.
type recordingReporter struct {
	mu      sync.Mutex
	reports []schemas.SystemError
}

func (r *recordingReporter) ReportError(_ context.Context, partial schemas.SystemError) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, partial)
	return "id"
}

func (r *recordingReporter) snapshot() []schemas.SystemError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.SystemError(nil), r.reports...)
}

// --- Unit Tests (Classification) ---

func TestClassifyLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		line     string
		ok       bool
		severity schemas.Severity
		message  string
	}{
		{name: "Plain panic", line: "panic: runtime error: invalid memory address", ok: true, severity: schemas.SeverityCritical, message: "runtime error: invalid memory address"},
		{name: "Fatal runtime", line: "fatal error: concurrent map writes", ok: true, severity: schemas.SeverityCritical, message: "concurrent map writes"},
		{name: "JSON error", line: `{"level":"error","ts":"2026-01-01T00:00:00.000Z","logger":"bwcore.agents","msg":"Task failed","error":"boom"}`, ok: true, severity: schemas.SeverityHigh, message: "Task failed: boom"},
		{name: "JSON fatal", line: `{"level":"fatal","msg":"cannot open store"}`, ok: true, severity: schemas.SeverityCritical, message: "cannot open store"},
		{name: "JSON warn ignored", line: `{"level":"warn","msg":"Event handler failed"}`, ok: false},
		{name: "Own logger ignored", line: `{"level":"error","logger":"bwcore.autofix","msg":"Failed to persist errors"}`, ok: false},
		{name: "Reported entry ignored", line: `{"level":"error","logger":"bwcore.memory","msg":"Failed to persist memory","error":"disk full","reported":true}`, ok: false},
		{name: "Unreported memory error", line: `{"level":"error","logger":"bwcore.memory","msg":"Failed to persist memory","error":"disk full","reported":false}`, ok: true, severity: schemas.SeverityHigh, message: "Failed to persist memory: disk full"},
		{name: "Plain text ignored", line: "INFO starting up", ok: false},
		{name: "Malformed JSON ignored", line: `{"level":"error"`, ok: false},
		{name: "Blank ignored", line: "   ", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			se, ok := ClassifyLine(tt.line)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, schemas.ErrorRuntime, se.Type)
			assert.Equal(t, tt.severity, se.Severity)
			assert.Equal(t, tt.message, se.Message)
			assert.Equal(t, "log_watcher", se.Context["source"])
		})
	}
}

func TestClassifyLine_StacktraceLocation(t *testing.T) {
	line := `{"level":"error","msg":"handler crashed","stacktrace":"main.handle()\n\t/app/internal/agent/registry.go:210\nmain.main()\n\t/app/main.go:12"}`
	se, ok := ClassifyLine(line)
	require.True(t, ok)
	assert.Equal(t, "/app/internal/agent/registry.go", se.Context["file"])
	assert.Equal(t, 210, se.Context["line"])
	assert.Contains(t, se.Stack, "registry.go:210")
}

func TestParsePanicLocation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		stackTrace   string
		expectedFile string
		expectedLine int
		expectError  bool
	}{
		{
			name:         "Standard Application Panic",
			stackTrace:   "main.process()\n\t/app/src/processor.go:42\nmain.main()\n\t/app/src/main.go:20",
			expectedFile: "/app/src/processor.go",
			expectedLine: 42,
		},
		{
			name:         "Prioritizes Application Code over Runtime",
			stackTrace:   "sync.(*WaitGroup).Add()\n\t/usr/local/go/src/sync/waitgroup.go:79\nmain.worker()\n\t/app/src/buggy_worker.go:15",
			expectedFile: "/app/src/buggy_worker.go",
			expectedLine: 15,
		},
		{
			name:         "Prioritizes Application Code over Vendor",
			stackTrace:   "github.com/some/library.Do()\n\t/app/vendor/github.com/some/library/client.go:100\nmain.callLibrary()\n\t/app/src/service.go:55",
			expectedFile: "/app/src/service.go",
			expectedLine: 55,
		},
		{
			name:        "No Application Code Found",
			stackTrace:  "runtime.gopanic()\n\t/usr/local/go/src/runtime/panic.go:969",
			expectError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			file, line, err := parsePanicLocation(tt.stackTrace)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedFile, file)
			assert.Equal(t, tt.expectedLine, line)
		})
	}
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher(zaptest.NewLogger(t), "", &recordingReporter{})
	assert.Error(t, err)
	_, err = NewWatcher(zaptest.NewLogger(t), "app.log", nil)
	assert.Error(t, err)
}

func TestWatcher_StartMissingFile(t *testing.T) {
	w, err := NewWatcher(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "absent.log"), &recordingReporter{})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

// --- Integration Tests (Log Tailing) ---

func TestWatcher_ReportsPanicsAndErrorLines(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	content := "" +
		`{"level":"info","msg":"Service started"}` + "\n" +
		`{"level":"error","logger":"bwcore.orchestrator","msg":"Research sweep failed","error":"deadline exceeded"}` + "\n" +
		"panic: assignment to entry in nil map\n" +
		"\n" +
		"goroutine 7 [running]:\n" +
		"main.worker()\n" +
		"\t/app/internal/agent/registry.go:88 +0x20\n" +
		`{"level":"info","msg":"after the crash"}` + "\n"
	require.NoError(t, os.WriteFile(logFile, []byte(content), 0o644))

	reporter := &recordingReporter{}
	w, err := NewWatcher(zaptest.NewLogger(t), logFile, reporter)
	require.NoError(t, err)
	w.fromStart = true
	w.poll = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.Eventually(t, func() bool { return len(reporter.snapshot()) == 2 }, 5*time.Second, 20*time.Millisecond)

	reports := reporter.snapshot()
	assert.Equal(t, schemas.SeverityHigh, reports[0].Severity)
	assert.Equal(t, "Research sweep failed: deadline exceeded", reports[0].Message)

	assert.Equal(t, schemas.SeverityCritical, reports[1].Severity)
	assert.Equal(t, "assignment to entry in nil map", reports[1].Message)
	assert.Equal(t, "/app/internal/agent/registry.go", reports[1].Context["file"])
	assert.Equal(t, 88, reports[1].Context["line"])
	assert.Contains(t, reports[1].Stack, "goroutine 7")
}

// readOnlyKV serves reads and rejects every write, like a store on a full disk.
type readOnlyKV struct {
	*store.MemoryKV
}

func (readOnlyKV) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestWatcher_FailingStoreDoesNotFeedBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logFile := filepath.Join(t.TempDir(), "bwcore.log")
	logger := observability.NewLogger(config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "bwcore",
		LogFile:     logFile,
	}, zapcore.AddSync(io.Discard))
	logger.Info("Service started")

	kv := readOnlyKV{store.NewMemoryKV()}
	eb := bus.New(logger, 0)
	mem, err := memory.New(ctx, kv, eb, logger, config.MemoryConfig{MaxEntriesPerCategory: 100})
	require.NoError(t, err)
	engine, err := NewEngine(ctx, config.AutofixConfig{
		Enabled:                    true,
		MinConfidence:              0.7,
		PatternRepeatThreshold:     3,
		ReplayConfidence:           0.85,
		WarningUnresolvedThreshold: 2,
		CriticalWindow:             time.Hour,
	}, kv, mem, eb, nil, logger)
	require.NoError(t, err)
	defer engine.Close()

	w, err := NewWatcher(logger, logFile, engine)
	require.NoError(t, err)
	w.poll = true
	require.NoError(t, w.Start(ctx))

	engine.ReportError(ctx, schemas.SystemError{
		Type:     schemas.ErrorNetwork,
		Severity: schemas.SeverityMedium,
		Message:  "upstream timed out",
	})

	// An untagged error line shows the watcher is live.
	logger.Named("orchestrator").Error("Research sweep failed", zap.Error(errors.New("deadline exceeded")))
	require.Eventually(t, func() bool {
		return engine.GetErrorDiagnostics().Total == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Never(t, func() bool {
		return engine.GetErrorDiagnostics().Total > 2
	}, time.Second, 50*time.Millisecond)

	d := engine.GetErrorDiagnostics()
	for _, p := range d.TopPatterns {
		assert.False(t, strings.HasPrefix(p.Key, "runtime:failed to persist"), "persistence failures must not be re-reported: %s", p.Key)
	}
	assert.Equal(t, 1, d.ByType[schemas.ErrorNetwork])
	assert.Equal(t, 1, d.ByType[schemas.ErrorRuntime])
}
