// internal/autofix/watcher.go
package autofix

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// -- Regex Definitions --
var newEntryRegex = regexp.MustCompile(`^(\d{4}[-/]\d{2}[-/]\d{2}|\{|INFO|WARN|ERROR|DEBUG|panic:|fatal error:)`)
var plainPanicRegex = regexp.MustCompile(`^(panic:|fatal error:)`)
var locationRegex = regexp.MustCompile(`^\s*(.*?\.go):(\d+)`)

const stackFlushDelay = 100 * time.Millisecond

var lineJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// logLine is the subset of the JSON file sink's fields the watcher reads.
type logLine struct {
	Level      string `json:"level"`
	Logger     string `json:"logger"`
	Msg        string `json:"msg"`
	Error      string `json:"error"`
	Stacktrace string `json:"stacktrace"`
	// Reported mirrors observability.ReportedKey.
	Reported bool `json:"reported"`
}

// ClassifyLine turns one log line into a partial error report. Go panics and
// fatal entries are critical; JSON entries at error level are high. Entries
// written by the autofix loggers or tagged with observability.Reported are
// ignored, so reporting an error never feeds back into the watcher.
func ClassifyLine(line string) (schemas.SystemError, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return schemas.SystemError{}, false
	}

	if plainPanicRegex.MatchString(trimmed) {
		return schemas.SystemError{
			Type:     schemas.ErrorRuntime,
			Severity: schemas.SeverityCritical,
			Message:  extractPanicMessage(trimmed),
			Context:  map[string]any{"source": "log_watcher"},
		}, true
	}

	if !strings.HasPrefix(trimmed, "{") {
		return schemas.SystemError{}, false
	}
	var entry logLine
	if err := lineJSON.UnmarshalFromString(trimmed, &entry); err != nil {
		return schemas.SystemError{}, false
	}
	if entry.Reported || strings.Contains(entry.Logger, "autofix") {
		return schemas.SystemError{}, false
	}

	var severity schemas.Severity
	switch entry.Level {
	case "panic", "dpanic", "fatal":
		severity = schemas.SeverityCritical
	case "error":
		severity = schemas.SeverityHigh
	default:
		return schemas.SystemError{}, false
	}

	msg := entry.Msg
	if entry.Error != "" {
		msg = msg + ": " + entry.Error
	}
	ctx := map[string]any{"source": "log_watcher"}
	if entry.Logger != "" {
		ctx["logger"] = entry.Logger
	}
	if file, lineNum, err := parsePanicLocation(entry.Stacktrace); err == nil {
		ctx["file"] = file
		ctx["line"] = lineNum
	}
	return schemas.SystemError{
		Type:     schemas.ErrorRuntime,
		Severity: severity,
		Message:  msg,
		Stack:    entry.Stacktrace,
		Context:  ctx,
	}, true
}

// Watcher tails the JSON log file and reports failures to the engine.
// Multi-line Go panic traces are buffered until the next entry or a short
// quiet period, then reported as one critical error.
type Watcher struct {
	logger   *zap.Logger
	path     string
	reporter ErrorReporter
	// fromStart makes the tailer read existing content. Tests only.
	fromStart bool
	poll      bool
}

// NewWatcher returns a watcher for the log file at path.
func NewWatcher(logger *zap.Logger, path string, reporter ErrorReporter) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("logger.log_file must be configured for the log watcher")
	}
	if reporter == nil {
		return nil, fmt.Errorf("log watcher requires an error reporter")
	}
	return &Watcher{
		logger:   logger.Named("autofix-watcher"),
		path:     path,
		reporter: reporter,
	}, nil
}

// Start begins tailing in a background goroutine. It returns an error if the
// file cannot be tailed. The goroutine exits when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting log watcher", zap.String("log_file", w.path))

	location := &tail.SeekInfo{Offset: 0, Whence: 2}
	if w.fromStart {
		location = nil
	}
	t, err := tail.TailFile(w.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      w.poll,
		Location:  location,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}

	go w.monitorLoop(ctx, t)
	return nil
}

// monitorLoop reads lines and buffers plain panic traces until they are complete.
func (w *Watcher) monitorLoop(ctx context.Context, t *tail.Tail) {
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	var currentStackTrace []string
	timeout := time.NewTimer(stackFlushDelay)
	if !timeout.Stop() {
		<-timeout.C
	}
	stopTimer := func() {
		if !timeout.Stop() {
			select {
			case <-timeout.C:
			default:
			}
		}
	}

	flush := func() {
		if len(currentStackTrace) > 0 {
			w.reportPanic(ctx, currentStackTrace)
			currentStackTrace = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			w.logger.Info("Stopping log watcher.")
			return

		case line, ok := <-t.Lines:
			if !ok {
				flush()
				w.logger.Info("Log file tailer channel closed.")
				return
			}
			if line.Err != nil {
				w.logger.Warn("Error reading from log file", zap.Error(line.Err))
				continue
			}

			text := line.Text
			if len(currentStackTrace) > 0 && newEntryRegex.MatchString(text) {
				flush()
				stopTimer()
			}

			switch {
			case plainPanicRegex.MatchString(text):
				currentStackTrace = append(currentStackTrace, text)
				timeout.Reset(stackFlushDelay)
			case len(currentStackTrace) > 0:
				currentStackTrace = append(currentStackTrace, text)
				timeout.Reset(stackFlushDelay)
			default:
				if partial, ok := ClassifyLine(text); ok {
					w.reporter.ReportError(ctx, partial)
				}
			}

		case <-timeout.C:
			flush()
		}
	}
}

func (w *Watcher) reportPanic(ctx context.Context, stackTrace []string) {
	partial, ok := ClassifyLine(stackTrace[0])
	if !ok {
		return
	}
	fullTrace := strings.Join(stackTrace, "\n")
	partial.Stack = fullTrace
	if file, lineNum, err := parsePanicLocation(fullTrace); err == nil {
		partial.Context["file"] = file
		partial.Context["line"] = lineNum
	}
	w.logger.Warn("Panic detected in log", zap.String("message", partial.Message))
	w.reporter.ReportError(ctx, partial)
}

// parsePanicLocation finds the first tab-indented frame outside the Go
// runtime and vendored code.
func parsePanicLocation(stackTrace string) (string, int, error) {
	for _, line := range strings.Split(stackTrace, "\n") {
		if !strings.HasPrefix(line, "\t") {
			continue
		}
		matches := locationRegex.FindStringSubmatch(strings.TrimSpace(line))
		if len(matches) != 3 {
			continue
		}
		filePath := matches[1]
		if strings.Contains(filePath, "runtime/") || strings.Contains(filePath, "/go/src/") || strings.Contains(filePath, "/vendor/") {
			continue
		}
		lineNum, _ := strconv.Atoi(matches[2])
		return filePath, lineNum, nil
	}
	return "", 0, fmt.Errorf("could not determine location from stack trace")
}

func extractPanicMessage(panicLine string) string {
	for _, prefix := range []string{"panic: ", "fatal error: "} {
		if parts := strings.SplitN(panicLine, prefix, 2); len(parts) > 1 {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(panicLine)
}

var _ WatcherInterface = (*Watcher)(nil)
