package frame

import (
	"fmt"
	"strings"
	"time"
)

// Intrinsics are the pinhole camera parameters reported with a frame.
type Intrinsics struct {
	Width          int
	Height         int
	FocalLength    [2]float64
	PrincipalPoint [2]float64
	FOV            float64
	Distortion     []float64
}

// String is the textual dump written to metadata sidecars.
func (in Intrinsics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Width: %d, Height: %d, ", in.Width, in.Height)
	fmt.Fprintf(&b, "FocalLength: (%.5f, %.5f), ", in.FocalLength[0], in.FocalLength[1])
	fmt.Fprintf(&b, "PrincipalPoint: (%.5f, %.5f), ", in.PrincipalPoint[0], in.PrincipalPoint[1])
	fmt.Fprintf(&b, "FOV: %.5f, Distortion: [", in.FOV)
	for i, d := range in.Distortion {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.5f", d)
	}
	b.WriteString("]")
	return b.String()
}

// CapturedFrame is an accepted, normalized frame on its way to disk. It is
// owned by exactly one stage at a time; pushing it onto the queue hands the
// plane buffer to the consumer.
type CapturedFrame struct {
	Plane      FramePlane
	Pose       Pose
	Intrinsics *Intrinsics
	SequenceID uint64
	SessionID  string
	AcceptedAt time.Time
	// Speed is the gate's measured probe speed in units per second.
	Speed float64
}
