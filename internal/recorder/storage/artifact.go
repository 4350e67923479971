package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/recorder/encoder"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
)

// Naming selects how artifact base names are derived.
type Naming int

const (
	// NameSequence uses the zero-padded sequence ID; unique within a
	// session by construction.
	NameSequence Naming = iota
	// NameTimestamp uses the camera timestamp in nanoseconds. Two accepted
	// frames carrying the same timestamp overwrite each other.
	NameTimestamp
)

func (n Naming) String() string {
	switch n {
	case NameSequence:
		return "sequence"
	case NameTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// ParseNaming maps a config value to a Naming.
func ParseNaming(s string) (Naming, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequence":
		return NameSequence, nil
	case "timestamp":
		return NameTimestamp, nil
	default:
		return 0, fmt.Errorf("unknown naming mode %q", s)
	}
}

const sidecarExt = "txt"

// ArtifactWriter encodes captured frames and writes the image/sidecar
// pair into a single flat directory.
type ArtifactWriter struct {
	dir    string
	naming Naming
	enc    encoder.Encoder
	logger recorderlog.Logger

	mu       sync.Mutex
	dirReady bool

	now func() time.Time
}

// NewArtifactWriter creates a writer. The directory is created on the
// first successful encode, not here.
func NewArtifactWriter(dir string, enc encoder.Encoder, naming Naming, logger recorderlog.Logger) *ArtifactWriter {
	if logger == nil {
		logger = recorderlog.L()
	}
	return &ArtifactWriter{
		dir:    dir,
		naming: naming,
		enc:    enc,
		logger: logger.Named("artifact-writer"),
		now:    time.Now,
	}
}

// Dir returns the capture directory.
func (w *ArtifactWriter) Dir() string { return w.dir }

// Name returns the base name an artifact for f would get.
func (w *ArtifactWriter) Name(f *frame.CapturedFrame) string {
	if w.naming == NameTimestamp {
		return strconv.FormatUint(f.Pose.TimestampNanos, 10)
	}
	return fmt.Sprintf("%08d", f.SequenceID)
}

// Write encodes f and persists it. Encoding happens before anything
// touches the filesystem, so an encode failure leaves the directory as
// it was. Errors match encoder.ErrEncodeFailure or ErrWriteFailure.
func (w *ArtifactWriter) Write(ctx context.Context, f *frame.CapturedFrame) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	img, err := w.enc.Encode(f.Plane)
	if err != nil {
		return Artifact{}, err
	}
	sidecar := FormatSidecar(f.Intrinsics, f.Pose)

	if err := w.ensureDir(); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrWriteFailure, &StorageError{Op: "mkdir", Key: w.dir, Err: err})
	}

	name := w.Name(f)
	imgPath := filepath.Join(w.dir, name+"."+w.enc.Extension())
	metaPath := filepath.Join(w.dir, name+"."+sidecarExt)

	if err := writeFileAtomic(imgPath, img); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrWriteFailure, &StorageError{Op: "write_image", Key: imgPath, Err: err})
	}
	if err := writeFileAtomic(metaPath, []byte(sidecar)); err != nil {
		// no half pairs on disk
		if rmErr := os.Remove(imgPath); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.Warn("Failed to remove orphaned image",
				recorderlog.String("path", imgPath),
				recorderlog.Error(rmErr))
		}
		return Artifact{}, fmt.Errorf("%w: %w", ErrWriteFailure, &StorageError{Op: "write_sidecar", Key: metaPath, Err: err})
	}

	return Artifact{
		SessionID:      f.SessionID,
		SequenceID:     f.SequenceID,
		TimestampNanos: f.Pose.TimestampNanos,
		Name:           name,
		ImagePath:      imgPath,
		MetadataPath:   metaPath,
		Width:          f.Plane.Width,
		Height:         f.Plane.Height,
		Format:         w.enc.Name(),
		ImageBytes:     int64(len(img)),
		Speed:          f.Speed,
		PersistedAt:    w.now(),
	}, nil
}

func (w *ArtifactWriter) ensureDir() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirReady {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	w.dirReady = true
	w.logger.Info("Capture directory ready", recorderlog.String("dir", w.dir))
	return nil
}

// writeFileAtomic writes data to path via a temp file and rename so that
// readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err = file.Write(data); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err = file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err = file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
