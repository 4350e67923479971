package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/recorder/buffer"
	"github.com/mikeyg42/posecapture/internal/recorder/encoder"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
)

// ErrWorkerRunning is returned by Start on a running worker.
var ErrWorkerRunning = errors.New("persistence worker already running")

// ArtifactWriter persists one frame.
type ArtifactWriter interface {
	Write(ctx context.Context, f *frame.CapturedFrame) (storage.Artifact, error)
}

type namedSink struct {
	name string
	sink storage.Sink
}

// WorkerMetrics tracks persistence outcomes
type WorkerMetrics struct {
	Persisted      atomic.Uint64
	EncodeFailures atomic.Uint64
	WriteFailures  atomic.Uint64
	SinkFailures   atomic.Uint64
	BytesWritten   atomic.Uint64
	LastPersisted  atomic.Int64 // unix nanos
}

// WorkerMetricsSnapshot is a point-in-time copy of WorkerMetrics.
type WorkerMetricsSnapshot struct {
	Persisted      uint64    `json:"persisted"`
	EncodeFailures uint64    `json:"encode_failures"`
	WriteFailures  uint64    `json:"write_failures"`
	SinkFailures   uint64    `json:"sink_failures"`
	BytesWritten   uint64    `json:"bytes_written"`
	QueueDepth     int       `json:"queue_depth"`
	LastPersisted  time.Time `json:"last_persisted,omitempty"`
}

// Worker is the single consumer of the capture queue. It writes each
// frame to disk in FIFO order and then notifies the sinks.
type Worker struct {
	queue  *buffer.Queue
	writer ArtifactWriter
	sinks  []namedSink
	pool   *buffer.PlanePool
	logger recorderlog.Logger

	warnAfter   time.Duration
	sinkTimeout time.Duration

	running atomic.Bool
	wg      sync.WaitGroup
	stopMu  sync.Mutex

	metrics WorkerMetrics
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithSink adds a post-persist notification target. Sinks run in the
// order they were added.
func WithSink(name string, s storage.Sink) WorkerOption {
	return func(w *Worker) {
		if s != nil {
			w.sinks = append(w.sinks, namedSink{name: name, sink: s})
		}
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l recorderlog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBufferRelease returns persisted plane buffers to pool.
func WithBufferRelease(pool *buffer.PlanePool) WorkerOption {
	return func(w *Worker) { w.pool = pool }
}

// WithShutdownWarnAfter sets how often Stop logs while still draining.
func WithShutdownWarnAfter(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.warnAfter = d
		}
	}
}

// WithSinkTimeout bounds each sink call.
func WithSinkTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.sinkTimeout = d
		}
	}
}

// NewWorker creates a stopped worker.
func NewWorker(q *buffer.Queue, writer ArtifactWriter, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       q,
		writer:      writer,
		logger:      recorderlog.L(),
		warnAfter:   10 * time.Second,
		sinkTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("persistence-worker")
	return w
}

// Start launches the consume loop.
func (w *Worker) Start() error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("Persistence worker started")
	return nil
}

// Running reports whether Start has been called without Stop.
func (w *Worker) Running() bool { return w.running.Load() }

// Stop closes the queue and waits until every queued frame has been
// persisted. There is no deadline; a warning is logged every
// warnAfter while frames remain.
func (w *Worker) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()

	w.running.Store(false)
	w.queue.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	start := time.Now()
	ticker := time.NewTicker(w.warnAfter)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			w.logger.Info("Persistence worker stopped",
				recorderlog.Uint64("persisted", w.metrics.Persisted.Load()),
				recorderlog.Duration("drain_time", time.Since(start)))
			return
		case <-ticker.C:
			w.logger.Warn("Persistence worker still draining",
				recorderlog.Int("queue_depth", w.queue.Len()),
				recorderlog.Duration("elapsed", time.Since(start)))
		}
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		f, ok := w.queue.PopBlocking()
		if !ok {
			return
		}
		w.persist(f)
	}
}

// persist never stops the loop; every failure is logged and counted.
func (w *Worker) persist(f *frame.CapturedFrame) {
	// frames already accepted are written even during shutdown
	a, err := w.writer.Write(context.Background(), f)
	if w.pool != nil {
		w.pool.Put(f.Plane.Data)
		f.Plane.Data = nil
	}

	if err != nil {
		if errors.Is(err, encoder.ErrEncodeFailure) {
			w.metrics.EncodeFailures.Add(1)
			w.logger.Error("Failed to encode frame",
				recorderlog.Uint64("sequence_id", f.SequenceID),
				recorderlog.Error(err))
		} else {
			w.metrics.WriteFailures.Add(1)
			w.logger.Error("Failed to write frame",
				recorderlog.Uint64("sequence_id", f.SequenceID),
				recorderlog.Error(err))
		}
		return
	}

	w.metrics.Persisted.Add(1)
	w.metrics.BytesWritten.Add(uint64(a.ImageBytes))
	w.metrics.LastPersisted.Store(a.PersistedAt.UnixNano())
	w.logger.Debug("Frame persisted",
		recorderlog.Uint64("sequence_id", a.SequenceID),
		recorderlog.String("path", a.ImagePath))

	for _, s := range w.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), w.sinkTimeout)
		if err := s.sink.Persisted(ctx, a); err != nil {
			w.metrics.SinkFailures.Add(1)
			w.logger.Warn("Sink failed",
				recorderlog.String("sink", s.name),
				recorderlog.Uint64("sequence_id", a.SequenceID),
				recorderlog.Error(err))
		}
		cancel()
	}
}

// Metrics returns a snapshot of the counters.
func (w *Worker) Metrics() WorkerMetricsSnapshot {
	s := WorkerMetricsSnapshot{
		Persisted:      w.metrics.Persisted.Load(),
		EncodeFailures: w.metrics.EncodeFailures.Load(),
		WriteFailures:  w.metrics.WriteFailures.Load(),
		SinkFailures:   w.metrics.SinkFailures.Load(),
		BytesWritten:   w.metrics.BytesWritten.Load(),
		QueueDepth:     w.queue.Len(),
	}
	if ns := w.metrics.LastPersisted.Load(); ns != 0 {
		s.LastPersisted = time.Unix(0, ns)
	}
	return s
}
