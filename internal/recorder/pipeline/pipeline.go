package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/motion"
	"github.com/mikeyg42/posecapture/internal/recorder/buffer"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
)

// State is the pipeline's arming state.
type State int32

const (
	StateIdle State = iota
	StateWaitingForBaseline
	StateArmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForBaseline:
		return "waiting_for_baseline"
	case StateArmed:
		return "armed"
	default:
		return "unknown"
	}
}

// Config contains capture pipeline parameters
type Config struct {
	MaxSpeed  float64
	Flip      bool
	Probe     Probe
	Admission Admission
	SessionID string
}

// Metrics tracks pipeline decisions. Every received callback lands in
// exactly one of the outcome counters.
type Metrics struct {
	Received        atomic.Uint64
	NotStarted      atomic.Uint64
	PoseUnavailable atomic.Uint64
	NoBaseline      atomic.Uint64
	NonMonotonic    atomic.Uint64
	TooFast         atomic.Uint64
	Busy            atomic.Uint64
	InvalidPlane    atomic.Uint64
	QueueOverflow   atomic.Uint64
	QueueClosed     atomic.Uint64
	Enqueued        atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Received        uint64 `json:"received"`
	NotStarted      uint64 `json:"not_started"`
	PoseUnavailable uint64 `json:"pose_unavailable"`
	NoBaseline      uint64 `json:"no_baseline"`
	NonMonotonic    uint64 `json:"non_monotonic"`
	TooFast         uint64 `json:"too_fast"`
	Busy            uint64 `json:"busy"`
	InvalidPlane    uint64 `json:"invalid_plane"`
	QueueOverflow   uint64 `json:"queue_overflow"`
	QueueClosed     uint64 `json:"queue_closed"`
	Enqueued        uint64 `json:"enqueued"`
}

// Snapshot describes the most recently enqueued frame for display
// purposes. It never references pixel data.
type Snapshot struct {
	SequenceID     uint64    `json:"sequence_id"`
	TimestampNanos uint64    `json:"timestamp_nanos"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Speed          float64   `json:"speed"`
	AcceptedAt     time.Time `json:"accepted_at"`
}

// Pipeline turns raw camera callbacks into queued CapturedFrames. Its
// HandleFrame is meant to be called inline from the capture thread and
// never blocks on I/O.
type Pipeline struct {
	cfg   Config
	queue *buffer.Queue
	norm  frame.Normalizer
	pool  *buffer.PlanePool

	logger recorderlog.Logger
	warn   *recorderlog.Limiter
	now    func() time.Time

	// mu serializes callbacks; gate and nextSeq are owned by the holder.
	mu      sync.Mutex
	gate    *motion.Gate
	nextSeq uint64

	state   atomic.Int32
	latest  atomic.Pointer[Snapshot]
	metrics Metrics
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l recorderlog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPlanePool makes normalized buffers come from pool. The consumer
// should return them with pool.Put once the frame is persisted.
func WithPlanePool(pool *buffer.PlanePool) Option {
	return func(p *Pipeline) { p.pool = pool }
}

// WithWarnLimiter replaces the default one-warning-per-10s limiter.
func WithWarnLimiter(l *recorderlog.Limiter) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.warn = l
		}
	}
}

// WithClock overrides time.Now for AcceptedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates an idle pipeline feeding q.
func New(cfg Config, q *buffer.Queue, opts ...Option) (*Pipeline, error) {
	if q == nil {
		return nil, errors.New("pipeline: nil queue")
	}
	if cfg.MaxSpeed == 0 {
		cfg.MaxSpeed = motion.DefaultMaxSpeed
	}
	gate, err := motion.NewGate(cfg.MaxSpeed)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		queue:   q,
		gate:    gate,
		nextSeq: 1,
		logger:  recorderlog.L(),
		warn:    recorderlog.NewLimiter(1, 10*time.Second),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("capture-pipeline")
	p.norm = frame.Normalizer{Flip: cfg.Flip}
	if p.pool != nil {
		p.norm.Alloc = p.pool.Get
	}
	return p, nil
}

// Start arms the pipeline. The next pose becomes the gate baseline.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if State(p.state.Load()) == StateIdle {
		p.gate.Reset()
		p.state.Store(int32(StateWaitingForBaseline))
		p.logger.Info("Capture pipeline started",
			recorderlog.String("session_id", p.cfg.SessionID),
			recorderlog.Float64("max_speed", p.gate.MaxSpeed()),
			recorderlog.String("probe", p.cfg.Probe.String()),
			recorderlog.String("admission", p.cfg.Admission.String()))
	}
}

// Stop returns the pipeline to idle; later callbacks are ignored.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Store(int32(StateIdle))
}

// Reset drops the gate baseline, e.g. after tracking was lost.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate.Reset()
	if State(p.state.Load()) != StateIdle {
		p.state.Store(int32(StateWaitingForBaseline))
	}
}

// State reports the current arming state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// SessionID returns the session frames are tagged with.
func (p *Pipeline) SessionID() string { return p.cfg.SessionID }

// Latest returns the most recently enqueued frame's metadata.
func (p *Pipeline) Latest() (Snapshot, bool) {
	s := p.latest.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// HandleFrame processes one camera callback. pose == nil means tracking
// had no pose for this frame. The plane is only read during the call.
func (p *Pipeline) HandleFrame(plane frame.FramePlane, pose *frame.Pose, intr *frame.Intrinsics) {
	p.metrics.Received.Add(1)

	if pose == nil {
		p.metrics.PoseUnavailable.Add(1)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) == StateIdle {
		p.metrics.NotStarted.Add(1)
		return
	}

	v := p.gate.Evaluate(p.cfg.Probe.point(pose), pose.TimestampNanos)
	p.state.Store(int32(StateArmed))
	if !v.Accepted {
		switch v.Reason {
		case motion.ReasonNoBaseline:
			p.metrics.NoBaseline.Add(1)
		case motion.ReasonNonMonotonic:
			p.metrics.NonMonotonic.Add(1)
		default:
			p.metrics.TooFast.Add(1)
		}
		return
	}

	if !p.cfg.Admission.admit(p.queue.Len()) {
		p.metrics.Busy.Add(1)
		return
	}

	norm, err := p.norm.Normalize(plane)
	if err != nil {
		p.metrics.InvalidPlane.Add(1)
		p.warn.Warn(p.logger, "invalid_plane", "Dropping frame with invalid plane",
			recorderlog.Uint64("timestamp_nanos", pose.TimestampNanos),
			recorderlog.Error(err))
		return
	}

	f := &frame.CapturedFrame{
		Plane:      norm,
		Pose:       *pose,
		Intrinsics: cloneIntrinsics(intr),
		SequenceID: p.nextSeq,
		SessionID:  p.cfg.SessionID,
		AcceptedAt: p.now(),
		Speed:      v.Speed,
	}

	if err := p.queue.Push(f); err != nil {
		p.release(norm.Data)
		if errors.Is(err, buffer.ErrQueueFull) {
			p.metrics.QueueOverflow.Add(1)
			p.warn.Warn(p.logger, "queue_overflow", "Capture queue full, dropping newest frame",
				recorderlog.Int("capacity", p.queue.Capacity()),
				recorderlog.Uint64("timestamp_nanos", pose.TimestampNanos))
		} else {
			p.metrics.QueueClosed.Add(1)
		}
		return
	}

	p.nextSeq++
	p.metrics.Enqueued.Add(1)
	p.latest.Store(&Snapshot{
		SequenceID:     f.SequenceID,
		TimestampNanos: pose.TimestampNanos,
		Width:          norm.Width,
		Height:         norm.Height,
		Speed:          v.Speed,
		AcceptedAt:     f.AcceptedAt,
	})
	p.logger.Debug("Frame enqueued",
		recorderlog.Uint64("sequence_id", f.SequenceID),
		recorderlog.Float64("speed", v.Speed))
}

func (p *Pipeline) release(buf []byte) {
	if p.pool != nil {
		p.pool.Put(buf)
	}
}

// Metrics returns a snapshot of the counters.
func (p *Pipeline) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Received:        p.metrics.Received.Load(),
		NotStarted:      p.metrics.NotStarted.Load(),
		PoseUnavailable: p.metrics.PoseUnavailable.Load(),
		NoBaseline:      p.metrics.NoBaseline.Load(),
		NonMonotonic:    p.metrics.NonMonotonic.Load(),
		TooFast:         p.metrics.TooFast.Load(),
		Busy:            p.metrics.Busy.Load(),
		InvalidPlane:    p.metrics.InvalidPlane.Load(),
		QueueOverflow:   p.metrics.QueueOverflow.Load(),
		QueueClosed:     p.metrics.QueueClosed.Load(),
		Enqueued:        p.metrics.Enqueued.Load(),
	}
}

func cloneIntrinsics(in *frame.Intrinsics) *frame.Intrinsics {
	if in == nil {
		return nil
	}
	out := *in
	out.Distortion = append([]float64(nil), in.Distortion...)
	return &out
}
