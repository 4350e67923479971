package recorderlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNamedAndWithCarryFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core)).Named("pipeline").With(String("session", "abc"))

	l.Info("frame accepted", Uint64("sequence_id", 7))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "abc", ctx["session"])
	assert.Equal(t, uint64(7), ctx["sequence_id"])
}

func TestReplaceGlobalIgnoresNil(t *testing.T) {
	before := L()
	ReplaceGlobal(nil)
	assert.Same(t, before, L())
}

func TestLimiterSuppressesWithinWindow(t *testing.T) {
	now := time.Unix(100, 0)
	rl := NewLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("overflow")
	assert.True(t, ok)
	ok, _ = rl.Allow("overflow")
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		ok, _ = rl.Allow("overflow")
		assert.False(t, ok)
	}

	// other keys have their own bucket
	ok, _ = rl.Allow("invalid_plane")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, suppressed := rl.Allow("overflow")
	assert.True(t, ok)
	assert.Equal(t, uint64(5), suppressed)
}

func TestLimiterWarnAttachesSuppressedCount(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := Wrap(zap.New(core))

	now := time.Unix(0, 0)
	rl := NewLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Warn(l, "k", "queue full")
	rl.Warn(l, "k", "queue full")
	rl.Warn(l, "k", "queue full")
	now = now.Add(time.Minute)
	rl.Warn(l, "k", "queue full")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[1].ContextMap()["suppressed"])
}
