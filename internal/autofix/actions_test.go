// internal/autofix/actions_test.go
package autofix_test

import (
	"context"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/autofix"
	"github.com/braydenmw/bwmetadata-sub003/internal/bus"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

func TestPatternKey(t *testing.T) {
	tests := []struct {
		errType schemas.ErrorType
		message string
		want    string
	}{
		{schemas.ErrorNetwork, "Connection refused by upstream host", "network:connection refused by"},
		{schemas.ErrorNetwork, "connection   REFUSED by something else", "network:connection refused by"},
		{schemas.ErrorRuntime, "boom", "runtime:boom"},
		{schemas.ErrorLogic, "", "logic:"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, autofix.PatternKey(tt.errType, tt.message))
	}
}

func TestRecoveryAction_EligibleAndResolution(t *testing.T) {
	low := autofix.RecoveryAction{Risk: autofix.RiskLow, Confidence: 0.75, Description: "Retry"}
	assert.True(t, low.Eligible(0.7))
	assert.False(t, low.Eligible(0.75), "confidence must exceed the minimum")

	medium := autofix.RecoveryAction{Risk: autofix.RiskMedium, Confidence: 0.99}
	assert.False(t, medium.Eligible(0.7))

	assert.Equal(t, "Retry", low.Resolution())
	replay := autofix.RecoveryAction{Kind: autofix.KindReplayFix, Description: "Replay previous fix: Retry", Params: autofix.ActionParams{Fix: "Retry"}}
	assert.Equal(t, "Retry", replay.Resolution())
}

func TestInterpreter_BuiltIns(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	kv := store.NewMemoryKV()
	eb := bus.New(logger, 0)
	mem := new(MockMemory)
	weights := new(MockWeights)

	var signals []schemas.RecoverySignalPayload
	eb.Subscribe(schemas.EventRecoverySignal, func(_ context.Context, ev schemas.Event) error {
		signals = append(signals, ev.Payload.(schemas.RecoverySignalPayload))
		return nil
	})

	interp := autofix.NewInterpreter(autofix.InterpreterDeps{KV: kv, Bus: eb, Memory: mem, Weights: weights}, logger)
	target := schemas.SystemError{ID: "err-1", Message: "credential leak", Severity: schemas.SeverityHigh}

	t.Run("clear cache", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, "cache_a", []byte("1")))
		require.NoError(t, kv.Put(ctx, "other", []byte("1")))
		require.NoError(t, interp.Execute(ctx, autofix.RecoveryAction{Kind: autofix.KindClearCache, Params: autofix.ActionParams{Prefix: "cache_"}}, target))
		keys, _ := kv.Keys(ctx, "")
		assert.Equal(t, []string{"other"}, keys)

		assert.Error(t, interp.Execute(ctx, autofix.RecoveryAction{Kind: autofix.KindClearCache}, target), "prefix is required")
	})

	t.Run("emit signal", func(t *testing.T) {
		require.NoError(t, interp.Execute(ctx, autofix.RecoveryAction{Kind: autofix.KindEmitSignal, Params: autofix.ActionParams{Signal: autofix.SignalReduceParallelism}}, target))
		require.NotEmpty(t, signals)
		last := signals[len(signals)-1]
		assert.Equal(t, autofix.SignalReduceParallelism, last.Signal)
		assert.Equal(t, "err-1", last.ErrorID)
	})

	t.Run("reset weights", func(t *testing.T) {
		weights.On("ResetWeights", mock.Anything).Once()
		require.NoError(t, interp.Execute(ctx, autofix.RecoveryAction{Kind: autofix.KindResetWeights}, target))
		weights.AssertExpectations(t)

		bare := autofix.NewInterpreter(autofix.InterpreterDeps{KV: kv, Bus: eb, Memory: mem}, logger)
		assert.Error(t, bare.Execute(ctx, autofix.RecoveryAction{Kind: autofix.KindResetWeights}, target))
	})

	t.Run("log security", func(t *testing.T) {
		mem.On("Remember", mock.Anything, memory.CategorySecurity, mock.MatchedBy(func(e schemas.MemoryEntry) bool {
			return strings.Contains(e.Action, "credential leak") && e.Context["error_id"] == "err-1"
		})).Return(schemas.MemoryEntry{}, nil).Once()
		require.NoError(t, interp.Execute(ctx, autofix.RecoveryAction{Kind: autofix.KindLogSecurity}, target))
		mem.AssertExpectations(t)
	})

	t.Run("unknown kind", func(t *testing.T) {
		assert.Error(t, interp.Execute(ctx, autofix.RecoveryAction{Kind: "reboot_datacenter"}, target))
	})

	t.Run("panic becomes error", func(t *testing.T) {
		interp.Register("explode", func(context.Context, autofix.RecoveryAction, schemas.SystemError) error {
			panic("kaboom")
		})
		err := interp.Execute(ctx, autofix.RecoveryAction{Kind: "explode"}, target)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kaboom")
	})
}

func FuzzPatternKey(f *testing.F) {
	f.Add([]byte("network connection refused by upstream"))
	f.Fuzz(func(t *testing.T, data []byte) {
		var in struct {
			Type    string
			Message string
			Suffix  string
		}
		consumer := fuzz.NewConsumer(data)
		if err := consumer.GenerateStruct(&in); err != nil {
			return
		}
		key := autofix.PatternKey(schemas.ErrorType(in.Type), in.Message)
		if !strings.HasPrefix(key, in.Type+":") {
			t.Fatalf("key %q does not start with type %q", key, in.Type)
		}
		words := strings.Fields(strings.TrimPrefix(key, in.Type+":"))
		if len(words) > 3 {
			t.Fatalf("key %q carries more than three words", key)
		}
		// Words past the third never change the signature.
		if len(strings.Fields(in.Message)) >= 3 {
			extended := autofix.PatternKey(schemas.ErrorType(in.Type), in.Message+" "+in.Suffix)
			if extended != key {
				t.Fatalf("suffix changed key: %q vs %q", key, extended)
			}
		}
	})
}
