// storage/store.go
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrWriteFailure is matched by every error the ArtifactWriter returns
// after encoding succeeded.
var ErrWriteFailure = errors.New("write failure")

// Artifact describes one persisted image/sidecar pair.
type Artifact struct {
	SessionID      string    `json:"session_id"`
	SequenceID     uint64    `json:"sequence_id"`
	TimestampNanos uint64    `json:"timestamp_nanos"`
	Name           string    `json:"name"`
	ImagePath      string    `json:"image_path"`
	MetadataPath   string    `json:"metadata_path"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Format         string    `json:"format"`
	ImageBytes     int64     `json:"image_bytes"`
	Speed          float64   `json:"speed"`
	PersistedAt    time.Time `json:"persisted_at"`
}

// Sink is notified after an artifact pair is durably on disk.
type Sink interface {
	Persisted(ctx context.Context, a Artifact) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a Artifact) error

func (f SinkFunc) Persisted(ctx context.Context, a Artifact) error { return f(ctx, a) }

// PutOption configures Mirror uploads
type PutOption interface {
	applyPut(*putOptions)
}

type putOptions struct {
	ContentType string
	Metadata    map[string]string
}

type contentTypeOption string

func (o contentTypeOption) applyPut(opts *putOptions) { opts.ContentType = string(o) }

type metadataOption map[string]string

func (o metadataOption) applyPut(opts *putOptions) { opts.Metadata = o }

func WithContentType(contentType string) PutOption {
	return contentTypeOption(contentType)
}

func WithMetadata(metadata map[string]string) PutOption {
	return metadataOption(metadata)
}

// StorageError represents a storage operation error
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotExist returns true if the error indicates the object doesn't exist
func IsNotExist(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.StatusCode == 404
	}
	return false
}

// IsAccessDenied returns true if the error indicates access was denied
func IsAccessDenied(err error) bool {
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.StatusCode == 403
	}
	return false
}
