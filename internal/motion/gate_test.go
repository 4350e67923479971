package motion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mikeyg42/posecapture/internal/frame"
)

const second = uint64(1_000_000_000)

func newGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate(DefaultMaxSpeed)
	require.NoError(t, err)
	return g
}

func TestNewGateRejectsNonPositiveThreshold(t *testing.T) {
	for _, v := range []float64{0, -1} {
		_, err := NewGate(v)
		assert.Error(t, err, "threshold %v", v)
	}
}

func TestGateScenario(t *testing.T) {
	g := newGate(t)

	v := g.Evaluate(r3.Vec{}, 0)
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonNoBaseline, v.Reason)

	v = g.Evaluate(r3.Vec{X: 0.05}, second)
	assert.True(t, v.Accepted)
	assert.InDelta(t, 0.05, v.Speed, 1e-9)

	v = g.Evaluate(r3.Vec{X: 1}, second+second/10)
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonTooFast, v.Reason)
	assert.InDelta(t, 9.5, v.Speed, 1e-6)
}

func TestGateFirstSampleAlwaysRejected(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		g := newGate(t)
		pos := r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		v := g.Evaluate(pos, rng.Uint64())
		assert.False(t, v.Accepted)
		assert.True(t, g.HasBaseline())
	}
}

func TestGateRejectsNonPositiveElapsedTime(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	g := newGate(t)
	ts := 100 * second
	g.Evaluate(r3.Vec{}, ts)

	for i := 0; i < 50; i++ {
		// same or earlier timestamp, identical position: speed would be 0
		back := ts - uint64(rng.Int63n(int64(second)))
		v := g.Evaluate(r3.Vec{}, back)
		assert.False(t, v.Accepted)
		assert.Equal(t, ReasonNonMonotonic, v.Reason)
		ts = back
	}
}

func TestGateBaselineUpdatesOnReject(t *testing.T) {
	g := newGate(t)
	g.Evaluate(r3.Vec{}, 0)

	// fast move: rejected, but becomes the new baseline
	v := g.Evaluate(r3.Vec{X: 10}, second)
	require.False(t, v.Accepted)

	// measured from X=10, not from the origin
	v = g.Evaluate(r3.Vec{X: 10.01}, 2*second)
	assert.True(t, v.Accepted)
	assert.InDelta(t, 0.01, v.Speed, 1e-9)
}

func TestGateThresholdIsExclusive(t *testing.T) {
	g, err := NewGate(1)
	require.NoError(t, err)
	g.Evaluate(r3.Vec{}, 0)

	v := g.Evaluate(r3.Vec{Z: 1}, second)
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonTooFast, v.Reason)
}

func TestGateReset(t *testing.T) {
	g := newGate(t)
	g.Evaluate(r3.Vec{}, 0)
	require.True(t, g.Evaluate(r3.Vec{}, second).Accepted)

	g.Reset()
	assert.False(t, g.HasBaseline())
	v := g.Evaluate(r3.Vec{}, 2*second)
	assert.Equal(t, ReasonNoBaseline, v.Reason)
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "too_fast", ReasonTooFast.String())
	assert.Equal(t, "unknown", Reason(42).String())
}

func TestGateAcceptUsesPoseTimestamp(t *testing.T) {
	g := newGate(t)
	assert.False(t, g.Accept(frame.Pose{Position: r3.Vec{Y: 1}, TimestampNanos: second}))
	assert.True(t, g.Accept(frame.Pose{Position: r3.Vec{Y: 1.05}, TimestampNanos: 2 * second}))
	assert.False(t, g.Accept(frame.Pose{Position: r3.Vec{Y: 9.5}, TimestampNanos: 3 * second}))
}
