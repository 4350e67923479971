// internal/recorder/recorder.go
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mikeyg42/posecapture/internal/config"
	"github.com/mikeyg42/posecapture/internal/recorder/buffer"
	"github.com/mikeyg42/posecapture/internal/recorder/encoder"
	"github.com/mikeyg42/posecapture/internal/recorder/pipeline"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
	"github.com/mikeyg42/posecapture/internal/source"
)

// ErrServiceRunning is returned by Start on a running or finished service.
var ErrServiceRunning = errors.New("capture service already started")

// CaptureService wires the capture pipeline, the persistence worker and
// the artifact sinks around one capture session.
type CaptureService struct {
	config    *config.Config
	logger    recorderlog.Logger
	sessionID string

	// Core components
	encoder  encoder.Encoder
	writer   *storage.ArtifactWriter
	queue    *buffer.Queue
	pool     *buffer.PlanePool
	pipeline *pipeline.Pipeline
	worker   *pipeline.Worker

	// Optional sinks
	index  *storage.Index
	mirror *storage.Mirror
	extra  []namedSink

	// State management
	mu        sync.Mutex
	running   atomic.Bool
	started   atomic.Bool
	source    source.CameraSource
	startedAt time.Time
	stopCh    chan struct{}
	closeOnce sync.Once

	// Workers
	wg sync.WaitGroup
}

type namedSink struct {
	name string
	sink storage.Sink
}

// Option configures a CaptureService.
type Option func(*CaptureService)

// WithSink registers an additional artifact sink, such as the event hub.
func WithSink(name string, s storage.Sink) Option {
	return func(c *CaptureService) {
		if s != nil {
			c.extra = append(c.extra, namedSink{name: name, sink: s})
		}
	}
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(c *CaptureService) {
		if id != "" {
			c.sessionID = id
		}
	}
}

// Status is a point-in-time view of the service.
type Status struct {
	SessionID string                         `json:"session_id"`
	State     string                         `json:"state"`
	Running   bool                           `json:"running"`
	StartedAt time.Time                      `json:"started_at,omitempty"`
	Directory string                         `json:"directory"`
	Format    string                         `json:"format"`
	Pipeline  pipeline.MetricsSnapshot       `json:"pipeline"`
	Worker    pipeline.WorkerMetricsSnapshot `json:"worker"`
	Pool      *buffer.PoolStats              `json:"pool,omitempty"`
	Mirror    *storage.MirrorStats           `json:"mirror,omitempty"`
	Latest    *pipeline.Snapshot             `json:"latest,omitempty"`
}

// NewCaptureService builds every component from cfg. Sinks that need a
// connection (index, mirror) are opened here so misconfiguration fails
// before any frame is accepted.
func NewCaptureService(ctx context.Context, cfg *config.Config, logger recorderlog.Logger, opts ...Option) (*CaptureService, error) {
	if cfg == nil {
		return nil, errors.New("capture service: nil config")
	}
	if logger == nil {
		logger = recorderlog.L()
	}

	c := &CaptureService{
		config:    cfg,
		logger:    logger.Named("capture-service"),
		sessionID: uuid.NewString(),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(recorderlog.String("session_id", c.sessionID))

	probe, err := pipeline.ParseProbe(cfg.Capture.Probe)
	if err != nil {
		return nil, err
	}
	admission, err := pipeline.ParseAdmission(cfg.Capture.Admission)
	if err != nil {
		return nil, err
	}
	naming, err := storage.ParseNaming(cfg.Capture.Naming)
	if err != nil {
		return nil, err
	}

	c.encoder, err = encoder.New(encoder.Config{
		Format:  cfg.Capture.ImageFormat,
		Quality: cfg.Capture.ImageQuality,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create image encoder: %w", err)
	}
	c.writer = storage.NewArtifactWriter(cfg.Capture.Directory, c.encoder, naming, c.logger)

	if cfg.Capture.PlanePoolMaxBytes > 0 {
		c.pool = buffer.NewPlanePool(cfg.Capture.PlanePoolMaxBytes)
	}
	c.queue = buffer.NewQueue(cfg.Capture.QueueCapacity)

	pipeOpts := []pipeline.Option{pipeline.WithLogger(c.logger)}
	if c.pool != nil {
		pipeOpts = append(pipeOpts, pipeline.WithPlanePool(c.pool))
	}
	c.pipeline, err = pipeline.New(pipeline.Config{
		MaxSpeed:  cfg.Capture.MaxSpeed,
		Flip:      cfg.Capture.Flip,
		Probe:     probe,
		Admission: admission,
		SessionID: c.sessionID,
	}, c.queue, pipeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipeline: %w", err)
	}

	workerOpts := []pipeline.WorkerOption{
		pipeline.WithWorkerLogger(c.logger),
		pipeline.WithShutdownWarnAfter(cfg.Service.ShutdownWarnAfter),
		pipeline.WithSinkTimeout(cfg.Service.SinkTimeout),
	}
	if c.pool != nil {
		workerOpts = append(workerOpts, pipeline.WithBufferRelease(c.pool))
	}

	if cfg.Storage.Index.Enabled {
		c.index, err = storage.OpenIndex(ctx, cfg.Storage.Index, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture index: %w", err)
		}
		workerOpts = append(workerOpts, pipeline.WithSink("index", c.index))
	}
	if cfg.Storage.MinIO.Enabled {
		c.mirror, err = storage.NewMirror(ctx, cfg.Storage.MinIO, c.logger)
		if err != nil {
			c.closeIndex()
			return nil, fmt.Errorf("failed to create object mirror: %w", err)
		}
		workerOpts = append(workerOpts, pipeline.WithSink("minio", c.mirror))
	}
	for _, s := range c.extra {
		workerOpts = append(workerOpts, pipeline.WithSink(s.name, s.sink))
	}
	c.worker = pipeline.NewWorker(c.queue, c.writer, workerOpts...)

	return c, nil
}

// SessionID identifies this capture session.
func (c *CaptureService) SessionID() string { return c.sessionID }

// Pipeline exposes the frame callback target.
func (c *CaptureService) Pipeline() *pipeline.Pipeline { return c.pipeline }

// Index returns the capture index, nil when disabled.
func (c *CaptureService) Index() *storage.Index { return c.index }

// Start runs the free-space preflight, starts the worker and the metrics
// reporter, arms the pipeline and finally starts src. A service runs once.
func (c *CaptureService) Start(ctx context.Context, src source.CameraSource) error {
	if src == nil {
		return errors.New("capture service: nil source")
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrServiceRunning
	}

	minBytes := c.config.Service.MinFreeMB * 1024 * 1024
	if err := storage.CheckFreeSpace(c.writer.Dir(), minBytes); err != nil {
		c.started.Store(false)
		return fmt.Errorf("disk space preflight: %w", err)
	}

	if err := c.worker.Start(); err != nil {
		c.started.Store(false)
		return fmt.Errorf("failed to start persistence worker: %w", err)
	}

	c.mu.Lock()
	c.source = src
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.running.Store(true)

	c.wg.Add(1)
	go c.metricsReporter(ctx)

	c.pipeline.Start()
	if err := src.Start(ctx, c.pipeline.HandleFrame); err != nil {
		c.logger.Error("Failed to start capture source", recorderlog.Error(err))
		c.shutdown(false)
		return fmt.Errorf("failed to start capture source: %w", err)
	}

	c.logger.Info("Capture service started",
		recorderlog.String("directory", c.writer.Dir()),
		recorderlog.String("format", c.encoder.Name()),
		recorderlog.Bool("index", c.index != nil),
		recorderlog.Bool("mirror", c.mirror != nil))
	return nil
}

// Stop stops the source, disarms the pipeline, drains the queue to disk
// and closes the sinks. It blocks until every accepted frame is persisted.
func (c *CaptureService) Stop() error {
	if !c.running.Load() {
		// never started, or already stopped
		c.closeIndex()
		return nil
	}
	c.logger.Info("Stopping capture service")
	return c.shutdown(true)
}

func (c *CaptureService) shutdown(stopSource bool) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	var errs []error
	c.mu.Lock()
	src := c.source
	c.mu.Unlock()
	if stopSource && src != nil {
		if err := src.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop source: %w", err))
		}
	}

	c.pipeline.Stop()
	c.worker.Stop()

	close(c.stopCh)
	c.wg.Wait()
	c.reportMetrics()

	c.closeIndex()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.Info("Capture service stopped")
	return nil
}

func (c *CaptureService) closeIndex() {
	if c.index == nil {
		return
	}
	c.closeOnce.Do(func() {
		if err := c.index.Close(); err != nil {
			c.logger.Error("Failed to close capture index", recorderlog.Error(err))
		}
	})
}

// Status reports pipeline, worker and sink state.
func (c *CaptureService) Status() Status {
	c.mu.Lock()
	startedAt := c.startedAt
	c.mu.Unlock()

	st := Status{
		SessionID: c.sessionID,
		State:     c.pipeline.State().String(),
		Running:   c.running.Load(),
		StartedAt: startedAt,
		Directory: c.writer.Dir(),
		Format:    c.encoder.Name(),
		Pipeline:  c.pipeline.Metrics(),
		Worker:    c.worker.Metrics(),
	}
	if c.pool != nil {
		ps := c.pool.Stats()
		st.Pool = &ps
	}
	if c.mirror != nil {
		ms := c.mirror.Stats()
		st.Mirror = &ms
	}
	if snap, ok := c.pipeline.Latest(); ok {
		st.Latest = &snap
	}
	return st
}

// metricsReporter periodically logs metrics
func (c *CaptureService) metricsReporter(ctx context.Context) {
	defer c.wg.Done()

	interval := c.config.Service.MetricsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.reportMetrics()
		}
	}
}

func (c *CaptureService) reportMetrics() {
	pm := c.pipeline.Metrics()
	wm := c.worker.Metrics()
	c.logger.Info("Capture service metrics",
		recorderlog.String("state", c.pipeline.State().String()),
		recorderlog.Uint64("frames_received", pm.Received),
		recorderlog.Uint64("frames_enqueued", pm.Enqueued),
		recorderlog.Uint64("pose_unavailable", pm.PoseUnavailable),
		recorderlog.Uint64("too_fast", pm.TooFast),
		recorderlog.Uint64("busy", pm.Busy),
		recorderlog.Uint64("queue_overflow", pm.QueueOverflow),
		recorderlog.Uint64("persisted", wm.Persisted),
		recorderlog.Uint64("encode_failures", wm.EncodeFailures),
		recorderlog.Uint64("write_failures", wm.WriteFailures),
		recorderlog.Uint64("sink_failures", wm.SinkFailures),
		recorderlog.Uint64("bytes_written", wm.BytesWritten),
		recorderlog.Int("queue_depth", wm.QueueDepth),
	)
}
