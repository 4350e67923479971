package pipeline

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mikeyg42/posecapture/internal/frame"
)

// Admission decides whether a gate-accepted frame may enter the queue.
type Admission int

const (
	// AdmitOneInFlight skips captures while an earlier accepted frame is
	// still waiting for the worker.
	AdmitOneInFlight Admission = iota
	// AdmitAlways enqueues every accepted frame.
	AdmitAlways
)

func (a Admission) String() string {
	switch a {
	case AdmitOneInFlight:
		return "one_in_flight"
	case AdmitAlways:
		return "always"
	default:
		return "unknown"
	}
}

// ParseAdmission maps a config value to an Admission.
func ParseAdmission(s string) (Admission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "one_in_flight":
		return AdmitOneInFlight, nil
	case "always":
		return AdmitAlways, nil
	default:
		return 0, fmt.Errorf("unknown admission policy %q", s)
	}
}

func (a Admission) admit(pending int) bool {
	return a == AdmitAlways || pending == 0
}

// Probe selects the point whose speed the gate measures.
type Probe int

const (
	// ProbePosition tracks the camera position.
	ProbePosition Probe = iota
	// ProbeView tracks a point ahead of and above the camera, so rotation
	// counts as motion too.
	ProbeView
)

func (p Probe) String() string {
	switch p {
	case ProbePosition:
		return "position"
	case ProbeView:
		return "view"
	default:
		return "unknown"
	}
}

// ParseProbe maps a config value to a Probe.
func ParseProbe(s string) (Probe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "position":
		return ProbePosition, nil
	case "view":
		return ProbeView, nil
	default:
		return 0, fmt.Errorf("unknown probe %q", s)
	}
}

func (p Probe) point(pose *frame.Pose) r3.Vec {
	if p == ProbeView {
		return pose.ViewProbe()
	}
	return pose.Position
}
