// Package motion decides which camera samples are still enough to capture.
package motion

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mikeyg42/posecapture/internal/frame"
)

// DefaultMaxSpeed is the probe speed, in pose units per second, below which
// a frame is considered free of motion blur.
const DefaultMaxSpeed = 0.15

// Reason explains a gate verdict.
type Reason int

const (
	ReasonAccepted Reason = iota
	ReasonNoBaseline
	ReasonNonMonotonic
	ReasonTooFast
)

func (r Reason) String() string {
	switch r {
	case ReasonAccepted:
		return "accepted"
	case ReasonNoBaseline:
		return "no_baseline"
	case ReasonNonMonotonic:
		return "non_monotonic"
	case ReasonTooFast:
		return "too_fast"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of one gate evaluation.
type Verdict struct {
	Accepted bool
	Reason   Reason
	// Speed is only meaningful when Reason is ReasonAccepted or ReasonTooFast.
	Speed float64
}

// Gate is a stateful speed filter. Every sample becomes the baseline for the
// next one, accepted or not. A Gate is not safe for concurrent use; it is
// owned by the capture pipeline.
type Gate struct {
	maxSpeed float64

	lastPosition  r3.Vec
	lastTimestamp uint64
	hasBaseline   bool
}

// NewGate creates a gate accepting samples slower than maxSpeed.
func NewGate(maxSpeed float64) (*Gate, error) {
	if !(maxSpeed > 0) {
		return nil, fmt.Errorf("max speed must be positive, got %v", maxSpeed)
	}
	return &Gate{maxSpeed: maxSpeed}, nil
}

// MaxSpeed returns the configured threshold.
func (g *Gate) MaxSpeed() float64 { return g.maxSpeed }

// HasBaseline reports whether a previous sample is recorded.
func (g *Gate) HasBaseline() bool { return g.hasBaseline }

// Evaluate judges the sample at pos taken at nowNanos.
func (g *Gate) Evaluate(pos r3.Vec, nowNanos uint64) Verdict {
	if !g.hasBaseline {
		g.record(pos, nowNanos)
		return Verdict{Reason: ReasonNoBaseline}
	}

	if nowNanos <= g.lastTimestamp {
		g.record(pos, nowNanos)
		return Verdict{Reason: ReasonNonMonotonic}
	}

	dt := float64(nowNanos-g.lastTimestamp) / 1e9
	speed := r3.Norm(r3.Sub(pos, g.lastPosition)) / dt
	g.record(pos, nowNanos)

	if speed < g.maxSpeed {
		return Verdict{Accepted: true, Reason: ReasonAccepted, Speed: speed}
	}
	return Verdict{Reason: ReasonTooFast, Speed: speed}
}

// Accept evaluates the pose position at the pose timestamp.
func (g *Gate) Accept(p frame.Pose) bool {
	return g.Evaluate(p.Position, p.TimestampNanos).Accepted
}

// Reset forgets the baseline; the next sample is rejected again.
func (g *Gate) Reset() {
	g.lastPosition = r3.Vec{}
	g.lastTimestamp = 0
	g.hasBaseline = false
}

func (g *Gate) record(pos r3.Vec, ts uint64) {
	g.lastPosition = pos
	g.lastTimestamp = ts
	g.hasBaseline = true
}
