// Package source defines where raw camera frames come from.
package source

import (
	"context"
	"errors"

	"github.com/mikeyg42/posecapture/internal/frame"
)

// ErrAlreadyRunning is returned by Start on a started source.
var ErrAlreadyRunning = errors.New("source already running")

// FrameHandler receives one sensor frame. pose is nil when tracking has
// no pose for the frame; intr is nil when intrinsics are unknown. The
// plane's buffer is only valid for the duration of the call.
type FrameHandler func(plane frame.FramePlane, pose *frame.Pose, intr *frame.Intrinsics)

// CameraSource delivers frames to a handler from its own goroutine until
// stopped.
type CameraSource interface {
	Start(ctx context.Context, handle FrameHandler) error
	Stop() error
}
