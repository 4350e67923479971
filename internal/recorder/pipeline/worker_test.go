package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/recorder/buffer"
	"github.com/mikeyg42/posecapture/internal/recorder/encoder"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
)

func capturedFrame(seq uint64) *frame.CapturedFrame {
	return &frame.CapturedFrame{
		Plane:      grayPlane(4, 4),
		Pose:       *poseAt(seq*second, 0),
		SequenceID: seq,
		SessionID:  "test",
	}
}

// fakeWriter records sequence IDs and fails on request.
type fakeWriter struct {
	mu    sync.Mutex
	seen  []uint64
	fail  map[uint64]error
	block chan struct{}
}

func (w *fakeWriter) Write(_ context.Context, f *frame.CapturedFrame) (storage.Artifact, error) {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = append(w.seen, f.SequenceID)
	if err := w.fail[f.SequenceID]; err != nil {
		return storage.Artifact{}, err
	}
	return storage.Artifact{SequenceID: f.SequenceID, ImageBytes: 10, PersistedAt: time.Now()}, nil
}

func (w *fakeWriter) sequence() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint64(nil), w.seen...)
}

func TestWorkerDrainsAllFramesToDisk(t *testing.T) {
	const k = 12
	dir := filepath.Join(t.TempDir(), "capture")
	enc, err := encoder.New(encoder.Config{Format: "png"})
	require.NoError(t, err)
	aw := storage.NewArtifactWriter(dir, enc, storage.NameSequence, recorderlog.Nop())

	q := buffer.NewQueue(0)
	for i := uint64(1); i <= k; i++ {
		require.NoError(t, q.Push(capturedFrame(i)))
	}

	w := NewWorker(q, aw, WithWorkerLogger(recorderlog.Nop()))
	require.NoError(t, w.Start())
	w.Stop()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var images, sidecars int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".png":
			images++
		case ".txt":
			sidecars++
		default:
			t.Errorf("unexpected file %s", e.Name())
		}
	}
	assert.Equal(t, k, images)
	assert.Equal(t, k, sidecars)
	assert.EqualValues(t, k, w.Metrics().Persisted)
	assert.False(t, w.Running())
}

func TestWorkerPersistsInFIFOOrder(t *testing.T) {
	q := buffer.NewQueue(0)
	fw := &fakeWriter{}

	var mu sync.Mutex
	var sunk []uint64
	sink := storage.SinkFunc(func(_ context.Context, a storage.Artifact) error {
		mu.Lock()
		sunk = append(sunk, a.SequenceID)
		mu.Unlock()
		return nil
	})

	w := NewWorker(q, fw, WithWorkerLogger(recorderlog.Nop()), WithSink("order", sink))
	require.NoError(t, w.Start())
	for i := uint64(1); i <= 50; i++ {
		require.NoError(t, q.Push(capturedFrame(i)))
	}
	w.Stop()

	seq := fw.sequence()
	require.Len(t, seq, 50)
	assert.True(t, sort.SliceIsSorted(seq, func(i, j int) bool { return seq[i] < seq[j] }))
	assert.Equal(t, seq, sunk)
}

func TestWorkerContinuesAfterFailures(t *testing.T) {
	q := buffer.NewQueue(0)
	fw := &fakeWriter{fail: map[uint64]error{
		2: &encoder.EncodeError{Format: "jpeg", Message: "boom", Fatal: true},
		3: errors.Join(storage.ErrWriteFailure, errors.New("disk full")),
	}}
	sinkErr := errors.New("unreachable")
	var sinkCalls int
	sink := storage.SinkFunc(func(context.Context, storage.Artifact) error {
		sinkCalls++
		return sinkErr
	})

	w := NewWorker(q, fw, WithWorkerLogger(recorderlog.Nop()), WithSink("flaky", sink))
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, q.Push(capturedFrame(i)))
	}
	require.NoError(t, w.Start())
	w.Stop()

	assert.Equal(t, []uint64{1, 2, 3, 4}, fw.sequence())
	m := w.Metrics()
	assert.EqualValues(t, 2, m.Persisted)
	assert.EqualValues(t, 1, m.EncodeFailures)
	assert.EqualValues(t, 1, m.WriteFailures)
	assert.EqualValues(t, 2, m.SinkFailures)
	assert.EqualValues(t, 20, m.BytesWritten)
	assert.Equal(t, 2, sinkCalls, "sinks only see persisted artifacts")
	assert.False(t, m.LastPersisted.IsZero())
}

func TestWorkerStartTwice(t *testing.T) {
	w := NewWorker(buffer.NewQueue(0), &fakeWriter{}, WithWorkerLogger(recorderlog.Nop()))
	require.NoError(t, w.Start())
	assert.ErrorIs(t, w.Start(), ErrWorkerRunning)
	w.Stop()
	w.Stop()
}

func TestWorkerWarnsWhileDraining(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	q := buffer.NewQueue(0)
	fw := &fakeWriter{block: make(chan struct{})}

	w := NewWorker(q, fw,
		WithWorkerLogger(recorderlog.Wrap(zap.New(core))),
		WithShutdownWarnAfter(5*time.Millisecond))
	require.NoError(t, q.Push(capturedFrame(1)))
	require.NoError(t, w.Start())

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Persistence worker still draining").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("Stop returned before the queued frame was persisted")
	default:
	}

	close(fw.block)
	<-stopped
	assert.Equal(t, []uint64{1}, fw.sequence())
}

func TestWorkerReleasesBuffersToPool(t *testing.T) {
	pool := buffer.NewPlanePool(1 << 20)
	q := buffer.NewQueue(0)

	f := capturedFrame(1)
	f.Plane.Data = pool.Get(16)
	require.EqualValues(t, 1, pool.Stats().InUse)
	require.NoError(t, q.Push(f))

	w := NewWorker(q, &fakeWriter{}, WithWorkerLogger(recorderlog.Nop()), WithBufferRelease(pool))
	require.NoError(t, w.Start())
	w.Stop()

	assert.EqualValues(t, 0, pool.Stats().InUse)
}
