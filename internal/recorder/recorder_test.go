package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mikeyg42/posecapture/internal/config"
	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/recorder/pipeline"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
	"github.com/mikeyg42/posecapture/internal/source"
)

const second = uint64(1_000_000_000)

// manualSource hands the frame handler to the test.
type manualSource struct {
	mu       sync.Mutex
	handle   source.FrameHandler
	startErr error
	stopped  bool
}

func (m *manualSource) Start(_ context.Context, h source.FrameHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.handle = h
	return nil
}

func (m *manualSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *manualSource) emit(ts uint64, x float64) {
	plane := frame.FramePlane{
		Width: 2, Height: 2, StrideBytes: 3, BytesPerPixel: 1, Format: frame.FormatGray8,
		Data: []byte{1, 2, 0, 3, 4, 0},
	}
	pose := &frame.Pose{Position: r3.Vec{X: x}, Rotation: frame.IdentityRotation, TimestampNanos: ts}
	m.handle(plane, pose, nil)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.Directory = filepath.Join(t.TempDir(), "capture")
	cfg.Capture.ImageFormat = "png"
	cfg.Capture.Admission = "always"
	cfg.Service.MinFreeMB = 0
	cfg.ApplyDerived()
	return cfg
}

func TestCaptureServiceEndToEnd(t *testing.T) {
	cfg := testConfig(t)

	var (
		mu   sync.Mutex
		seen []storage.Artifact
	)
	collect := storage.SinkFunc(func(_ context.Context, a storage.Artifact) error {
		mu.Lock()
		seen = append(seen, a)
		mu.Unlock()
		return nil
	})

	svc, err := NewCaptureService(context.Background(), cfg, recorderlog.Nop(),
		WithSink("collect", collect), WithSessionID("session-1"))
	require.NoError(t, err)
	assert.Equal(t, "session-1", svc.SessionID())

	src := &manualSource{}
	require.NoError(t, svc.Start(context.Background(), src))
	assert.ErrorIs(t, svc.Start(context.Background(), src), ErrServiceRunning)

	src.emit(1*second, 0)    // baseline
	src.emit(2*second, 0.01) // still
	src.emit(3*second, 5)    // too fast
	src.emit(4*second, 5.01) // still
	src.handle(frame.FramePlane{}, nil, nil)

	require.NoError(t, svc.Stop())
	assert.True(t, src.stopped)

	st := svc.Status()
	assert.False(t, st.Running)
	assert.Equal(t, "idle", st.State)
	assert.EqualValues(t, 5, st.Pipeline.Received)
	assert.EqualValues(t, 2, st.Pipeline.Enqueued)
	assert.EqualValues(t, 1, st.Pipeline.PoseUnavailable)
	assert.EqualValues(t, 2, st.Worker.Persisted)
	require.NotNil(t, st.Latest)
	assert.Equal(t, uint64(2), st.Latest.SequenceID)

	for _, name := range []string{"00000001.png", "00000001.txt", "00000002.png", "00000002.txt"} {
		assert.FileExists(t, filepath.Join(cfg.Capture.Directory, name))
	}

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, uint64(1), seen[0].SequenceID)
	assert.Equal(t, uint64(2), seen[1].SequenceID)
	assert.Equal(t, "session-1", seen[0].SessionID)
	mu.Unlock()

	idx, err := storage.OpenIndex(context.Background(), cfg.Storage.Index, recorderlog.Nop())
	require.NoError(t, err)
	defer idx.Close()
	n, err := idx.Count(context.Background(), "session-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCaptureServiceStopIsIdempotent(t *testing.T) {
	svc, err := NewCaptureService(context.Background(), testConfig(t), recorderlog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background(), &manualSource{}))
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
}

func TestCaptureServiceSourceStartFailure(t *testing.T) {
	svc, err := NewCaptureService(context.Background(), testConfig(t), recorderlog.Nop())
	require.NoError(t, err)

	boom := errors.New("camera busy")
	err = svc.Start(context.Background(), &manualSource{startErr: boom})
	require.ErrorIs(t, err, boom)
	assert.False(t, svc.Status().Running)
	assert.Equal(t, "idle", svc.Status().State)
}

func TestCaptureServiceInsufficientSpace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Service.MinFreeMB = 1 << 40
	cfg.Storage.Index.Enabled = false

	svc, err := NewCaptureService(context.Background(), cfg, recorderlog.Nop())
	require.NoError(t, err)
	defer svc.Stop()

	err = svc.Start(context.Background(), &manualSource{})
	assert.ErrorIs(t, err, storage.ErrInsufficientSpace)
	_, statErr := os.Stat(cfg.Capture.Directory)
	assert.True(t, os.IsNotExist(statErr), "preflight must not create the directory")
}

func TestCaptureServiceWorkerStartFailureAllowsRetry(t *testing.T) {
	svc, err := NewCaptureService(context.Background(), testConfig(t), recorderlog.Nop())
	require.NoError(t, err)
	defer svc.Stop()

	// A worker that is already running refuses a second Start.
	require.NoError(t, svc.worker.Start())
	defer svc.worker.Stop()

	err = svc.Start(context.Background(), &manualSource{})
	require.ErrorIs(t, err, pipeline.ErrWorkerRunning)
	assert.False(t, svc.Status().Running)

	err = svc.Start(context.Background(), &manualSource{})
	assert.ErrorIs(t, err, pipeline.ErrWorkerRunning)
	assert.NotErrorIs(t, err, ErrServiceRunning)
}

func TestNewCaptureServiceRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.ImageFormat = "bmp"
	_, err := NewCaptureService(context.Background(), cfg, recorderlog.Nop())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Capture.Probe = "gaze"
	_, err = NewCaptureService(context.Background(), cfg, recorderlog.Nop())
	assert.Error(t, err)

	_, err = NewCaptureService(context.Background(), nil, recorderlog.Nop())
	assert.Error(t, err)
}
