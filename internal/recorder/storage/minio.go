// storage/minio.go
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
)

// MinIOConfig contains MinIO configuration
type MinIOConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	Region          string `yaml:"region" json:"region"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix" json:"prefix"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// Retry settings. The client itself makes a single attempt per call;
	// Put retries up to MaxRetries more times.
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// MirrorMetrics tracks uploads
type MirrorMetrics struct {
	Uploads      atomic.Uint64
	UploadBytes  atomic.Uint64
	UploadErrors atomic.Uint64
}

// MirrorStats is a snapshot of MirrorMetrics.
type MirrorStats struct {
	Uploads      uint64 `json:"uploads"`
	UploadBytes  uint64 `json:"upload_bytes"`
	UploadErrors uint64 `json:"upload_errors"`
}

// Mirror copies persisted artifact pairs to a MinIO bucket. It is a Sink.
type Mirror struct {
	client *minio.Client
	config MinIOConfig
	logger recorderlog.Logger

	metrics MirrorMetrics
}

// NewMirror creates the client and makes sure the bucket exists.
func NewMirror(ctx context.Context, config MinIOConfig, logger recorderlog.Logger) (*Mirror, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if logger == nil {
		logger = recorderlog.L()
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
		// 1 disables the client's own retry loop.
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	m := &Mirror{
		client: client,
		config: config,
		logger: logger.Named("minio-mirror"),
	}

	// Ensure bucket exists (or create)
	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		m.logger.Info("Created MinIO bucket", recorderlog.String("bucket", config.Bucket))
	}

	return m, nil
}

// Persisted uploads the image and its sidecar.
func (m *Mirror) Persisted(ctx context.Context, a Artifact) error {
	meta := WithMetadata(map[string]string{
		"session-id":      a.SessionID,
		"sequence-id":     fmt.Sprint(a.SequenceID),
		"timestamp-nanos": fmt.Sprint(a.TimestampNanos),
	})
	for _, p := range []string{a.ImagePath, a.MetadataPath} {
		key := ObjectKey(m.config.Prefix, a.SessionID, p)
		if err := m.PutFile(ctx, key, p, meta); err != nil {
			return err
		}
	}
	return nil
}

// Put uploads an object, retrying with exponential backoff.
func (m *Mirror) Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error {
	options := &putOptions{
		ContentType: "application/octet-stream",
	}
	for _, opt := range opts {
		opt.applyPut(options)
	}

	putOpts := minio.PutObjectOptions{
		ContentType:  options.ContentType,
		UserMetadata: options.Metadata,
	}

	// Fresh backoff per operation
	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		if m.config.RetryBackoff > 0 {
			ebo.InitialInterval = m.config.RetryBackoff
		}
		ebo.Reset()
		if m.config.MaxRetries > 0 {
			return backoff.WithMaxRetries(ebo, uint64(m.config.MaxRetries))
		}
		return ebo
	}

	attempt := 0
	op := func() error {
		attempt++

		// If we need to retry, we must rewind seekable readers.
		if rs, ok := reader.(io.ReadSeeker); ok {
			if attempt > 1 {
				if _, err := rs.Seek(0, io.SeekStart); err != nil {
					return backoff.Permanent(fmt.Errorf("seek reset failed: %w", err))
				}
			}
		} else if attempt > 1 {
			return backoff.Permanent(fmt.Errorf("reader not seekable; not retrying"))
		}

		info, err := m.client.PutObject(ctx, m.config.Bucket, key, reader, size, putOpts)
		if err != nil {
			m.metrics.UploadErrors.Add(1)
			return err
		}

		m.metrics.Uploads.Add(1)
		m.metrics.UploadBytes.Add(uint64(info.Size))

		m.logger.Debug("Object uploaded",
			recorderlog.String("key", key),
			recorderlog.Int64("size", info.Size),
			recorderlog.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		return &StorageError{
			Op:         "put",
			Key:        key,
			Err:        err,
			StatusCode: minioStatusCode(err),
			Retryable:  true,
		}
	}
	return nil
}

// PutFile uploads a file to storage
func (m *Mirror) PutFile(ctx context.Context, key, filePath string, opts ...PutOption) error {
	file, err := os.Open(filePath)
	if err != nil {
		return &StorageError{Op: "put_file", Key: key, Err: err}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return &StorageError{Op: "put_file", Key: key, Err: err}
	}

	options := &putOptions{}
	for _, opt := range opts {
		opt.applyPut(options)
	}
	if options.ContentType == "" {
		opts = append(opts, WithContentType(detectContentType(filePath)))
	}

	return m.Put(ctx, key, file, stat.Size(), opts...)
}

// HealthCheck verifies the bucket is reachable.
func (m *Mirror) HealthCheck(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.config.Bucket)
	if err != nil {
		return &StorageError{Op: "health_check", Err: err}
	}
	if !exists {
		return &StorageError{Op: "health_check", Err: fmt.Errorf("bucket %s does not exist", m.config.Bucket)}
	}
	return nil
}

// Stats returns upload counters.
func (m *Mirror) Stats() MirrorStats {
	return MirrorStats{
		Uploads:      m.metrics.Uploads.Load(),
		UploadBytes:  m.metrics.UploadBytes.Load(),
		UploadErrors: m.metrics.UploadErrors.Load(),
	}
}

// ObjectKey builds <prefix>/<session>/<file base name>.
func ObjectKey(prefix, sessionID, filePath string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if sessionID != "" {
		parts = append(parts, sessionID)
	}
	parts = append(parts, filepath.Base(filePath))
	return path.Join(parts...)
}

// detectContentType maps artifact extensions to MIME types
func detectContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// minioStatusCode extracts HTTP status code from MinIO error
func minioStatusCode(err error) int {
	if errResp := minio.ToErrorResponse(err); errResp.Code != "" {
		switch errResp.Code {
		case "NoSuchKey", "NoSuchBucket":
			return 404
		case "AccessDenied":
			return 403
		case "InvalidArgument":
			return 400
		default:
			return 500
		}
	}
	return 500
}
