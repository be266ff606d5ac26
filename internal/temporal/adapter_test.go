package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapterFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewZapAdapter(zap.New(core))

	adapter.Info("round dispatched", "round", 1, "tasks", 3)
	adapter.Warn("worker failed", "error", errors.New("boom"))
	adapter.Debug("odd keyvals", "only")

	entries := logs.All()
	require.Len(t, entries, 3)

	ctx := entries[0].ContextMap()
	assert.Equal(t, int64(1), ctx["round"])
	assert.Equal(t, int64(3), ctx["tasks"])

	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, "only", entries[2].ContextMap()["_extra"])
}

func TestZapAdapterUnserializableValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewZapAdapter(zap.New(core))

	adapter.Error("bad values", "fn", func() {}, "ch", make(chan int), "nil", nil)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "<func>", ctx["fn"])
	assert.Equal(t, "<chan>", ctx["ch"])
	assert.Equal(t, "<nil>", ctx["nil"])
}

func TestZapAdapterWith(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewZapAdapter(zap.New(core)).(*ZapAdapter)

	adapter.With("workflow_id", "wf-1").Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "wf-1", logs.All()[0].ContextMap()["workflow_id"])
}

func TestZapAdapterTypedValues(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	adapter := NewZapAdapter(zap.New(core))

	adapter.Debug("filtered", "k", "v")
	adapter.Info("activity timing", "elapsed", 1500*time.Millisecond, 7, "non-string key")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, 1500*time.Millisecond, ctx["elapsed"])
	assert.Equal(t, "non-string key", ctx["7"])
}
