package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
)

// SyntheticConfig describes a generated camera stream.
type SyntheticConfig struct {
	Width     int
	Height    int
	FrameRate float64
	Format    frame.PixelFormat

	// RowPadding is added to every row, like sensors that align rows.
	RowPadding int
	// PoseDropoutEvery > 0 delivers every Nth frame without a pose.
	PoseDropoutEvery int

	// The trajectory alternates DwellFrames of standing still with
	// SweepFrames of moving along X at SweepSpeed units per second.
	DwellFrames int
	SweepFrames int
	SweepSpeed  float64
}

func (c *SyntheticConfig) setDefaults() {
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if c.Format == frame.FormatUnknown {
		c.Format = frame.FormatRGBA8888
	}
	if c.DwellFrames <= 0 {
		c.DwellFrames = max(1, int(c.FrameRate))
	}
	if c.SweepFrames < 0 {
		c.SweepFrames = 0
	}
	if c.SweepSpeed == 0 {
		c.SweepSpeed = 1
	}
}

// SyntheticStats counts generated frames
type SyntheticStats struct {
	Frames      uint64
	WithoutPose uint64
}

// Synthetic is a CameraSource that renders a moving gradient with a
// scripted pose. It needs no hardware and is deterministic per frame index.
type Synthetic struct {
	cfg    SyntheticConfig
	logger recorderlog.Logger
	intr   frame.Intrinsics
	period time.Duration

	// buf is reused between frames; handlers must copy what they keep.
	buf   []byte
	index uint64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	frames      atomic.Uint64
	withoutPose atomic.Uint64
}

// NewSynthetic validates cfg and builds the source.
func NewSynthetic(cfg SyntheticConfig, logger recorderlog.Logger) (*Synthetic, error) {
	cfg.setDefaults()
	if cfg.Width < 0 || cfg.Height < 0 || cfg.RowPadding < 0 {
		return nil, fmt.Errorf("synthetic source: invalid geometry %dx%d padding %d", cfg.Width, cfg.Height, cfg.RowPadding)
	}
	if cfg.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("synthetic source: unsupported format %s", cfg.Format)
	}
	if logger == nil {
		logger = recorderlog.L()
	}

	stride := cfg.Width*cfg.Format.BytesPerPixel() + cfg.RowPadding
	fx := float64(cfg.Width) / (2 * math.Tan(math.Pi/6))
	return &Synthetic{
		cfg:    cfg,
		logger: logger.Named("synthetic-source"),
		period: time.Duration(float64(time.Second) / cfg.FrameRate),
		buf:    make([]byte, stride*cfg.Height),
		intr: frame.Intrinsics{
			Width:          cfg.Width,
			Height:         cfg.Height,
			FocalLength:    [2]float64{fx, fx},
			PrincipalPoint: [2]float64{float64(cfg.Width) / 2, float64(cfg.Height) / 2},
			FOV:            math.Pi / 3,
		},
	}, nil
}

// Start begins ticking at the configured frame rate.
func (s *Synthetic) Start(ctx context.Context, handle FrameHandler) error {
	if handle == nil {
		return errors.New("synthetic source: nil handler")
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx, handle)

	s.logger.Info("Synthetic source started",
		recorderlog.Int("width", s.cfg.Width),
		recorderlog.Int("height", s.cfg.Height),
		recorderlog.Float64("frame_rate", s.cfg.FrameRate),
		recorderlog.String("format", s.cfg.Format.String()))
	return nil
}

func (s *Synthetic) run(ctx context.Context, handle FrameHandler) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			plane, pose, intr := s.Next()
			handle(plane, pose, intr)
		}
	}
}

// Stop cancels the ticker and waits for the in-flight callback.
func (s *Synthetic) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Synthetic source stopped",
		recorderlog.Uint64("frames", s.frames.Load()),
		recorderlog.Uint64("without_pose", s.withoutPose.Load()))
	return nil
}

// Stats returns generation counters.
func (s *Synthetic) Stats() SyntheticStats {
	return SyntheticStats{Frames: s.frames.Load(), WithoutPose: s.withoutPose.Load()}
}

// Next renders the next frame. The returned plane aliases an internal
// buffer that the following call overwrites.
func (s *Synthetic) Next() (frame.FramePlane, *frame.Pose, *frame.Intrinsics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index++
	i := s.index
	s.frames.Add(1)

	plane := s.render(i)
	intr := s.intr

	if n := s.cfg.PoseDropoutEvery; n > 0 && i%uint64(n) == 0 {
		s.withoutPose.Add(1)
		return plane, nil, &intr
	}
	pose := s.PoseAt(i)
	return plane, &pose, &intr
}

// PoseAt returns the scripted pose for frame i (1-based; 0 is treated as
// 1). Timestamps start one period after zero so they are always positive.
func (s *Synthetic) PoseAt(i uint64) frame.Pose {
	if i == 0 {
		i = 1
	}
	cycle := uint64(s.cfg.DwellFrames + s.cfg.SweepFrames)
	full := (i - 1) / cycle
	inCycle := int((i - 1) % cycle)

	moving := 0
	if inCycle >= s.cfg.DwellFrames {
		moving = inCycle - s.cfg.DwellFrames + 1
	}
	step := s.cfg.SweepSpeed / s.cfg.FrameRate
	x := step * float64(full*uint64(s.cfg.SweepFrames)+uint64(moving))

	yaw := 0.05 * math.Sin(x)
	return frame.Pose{
		Position:       r3.Vec{X: x, Y: 1.6},
		Rotation:       quat.Number(r3.NewRotation(yaw, r3.Vec{Y: 1})),
		TimestampNanos: i * uint64(s.period),
	}
}

func (s *Synthetic) render(i uint64) frame.FramePlane {
	bpp := s.cfg.Format.BytesPerPixel()
	stride := s.cfg.Width*bpp + s.cfg.RowPadding
	shift := byte(i)

	for y := 0; y < s.cfg.Height; y++ {
		row := s.buf[y*stride : (y+1)*stride]
		for x := 0; x < s.cfg.Width; x++ {
			px := row[x*bpp : x*bpp+bpp]
			v := byte((x*255)/max(s.cfg.Width, 1)) + shift
			w := byte((y * 255) / max(s.cfg.Height, 1))
			switch s.cfg.Format {
			case frame.FormatGray8:
				px[0] = v
			case frame.FormatRGB888:
				px[0], px[1], px[2] = v, w, 128
			case frame.FormatBGRA8888:
				px[0], px[1], px[2], px[3] = 128, w, v, 255
			default:
				px[0], px[1], px[2], px[3] = v, w, 128, 255
			}
		}
		// padding bytes are garbage on real sensors
		for p := s.cfg.Width * bpp; p < stride; p++ {
			row[p] = 0xEE
		}
	}

	return frame.FramePlane{
		Width:         s.cfg.Width,
		Height:        s.cfg.Height,
		StrideBytes:   stride,
		BytesPerPixel: bpp,
		Format:        s.cfg.Format,
		Data:          s.buf,
	}
}
