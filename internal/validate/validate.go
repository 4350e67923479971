package validate

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/posecapture/internal/config"
	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/recorder/encoder"
	"github.com/mikeyg42/posecapture/internal/recorder/pipeline"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators and reports every
// problem at once.
func ValidateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration validation failed: nil config")
	}
	v := &Validator{}

	validateCaptureConfig(v, &cfg.Capture)
	validateIndexConfig(v, &cfg.Storage.Index)
	validateMinIOConfig(v, &cfg.Storage.MinIO)
	validateServiceConfig(v, &cfg.Service)
	validateAPIConfig(v, &cfg.API)
	validateLogConfig(v, &cfg.Log)
	validateSourceConfig(v, &cfg.Source)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateCaptureConfig(v *Validator, cfg *config.CaptureConfig) {
	if !(cfg.MaxSpeed > 0) {
		v.AddError("capture.max_speed must be positive: %v", cfg.MaxSpeed)
	}
	// 0 selects the codec default
	if cfg.ImageQuality < 0 || cfg.ImageQuality > 100 {
		v.AddError("capture.image_quality must be 0..100: %d", cfg.ImageQuality)
	}
	if !slices.Contains(encoder.Formats(), strings.ToLower(cfg.ImageFormat)) {
		v.AddError("capture.image_format %q not available (have %s)", cfg.ImageFormat, strings.Join(encoder.Formats(), ", "))
	}
	if !isValidDirectoryPath(cfg.Directory) {
		v.AddError("invalid capture.directory: %q", cfg.Directory)
	}

	if cfg.Stream.Width <= 0 || cfg.Stream.Height <= 0 {
		v.AddError("invalid stream dimensions: width=%d height=%d", cfg.Stream.Width, cfg.Stream.Height)
	}
	if cfg.Stream.Width > 8192 || cfg.Stream.Height > 8192 {
		v.AddError("stream dimensions too large: %dx%d (max 8192x8192)", cfg.Stream.Width, cfg.Stream.Height)
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > 240 {
		v.AddError("invalid capture.frame_rate: %v (0-240]", cfg.FrameRate)
	}

	if _, err := pipeline.ParseProbe(cfg.Probe); err != nil {
		v.AddError("capture.probe: %v (must be position or view)", err)
	}
	if _, err := pipeline.ParseAdmission(cfg.Admission); err != nil {
		v.AddError("capture.admission: %v (must be one_in_flight or always)", err)
	}
	if _, err := storage.ParseNaming(cfg.Naming); err != nil {
		v.AddError("capture.naming: %v (must be sequence or timestamp)", err)
	}
	if cfg.QueueCapacity < 0 {
		v.AddError("capture.queue_capacity must be >= 0")
	}
	if cfg.PlanePoolMaxBytes < 0 {
		v.AddError("capture.plane_pool_max_bytes must be >= 0")
	}
}

func validateIndexConfig(v *Validator, cfg *storage.IndexConfig) {
	if !cfg.Enabled {
		return
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		v.AddError("invalid storage.index.driver: %q (must be sqlite or postgres)", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		v.AddError("storage.index.dsn cannot be empty")
	}
	if cfg.MaxOpenConns < 0 {
		v.AddError("storage.index.max_open_conns must be >= 0")
	}
}

func validateMinIOConfig(v *Validator, cfg *storage.MinIOConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Endpoint == "" {
		v.AddError("storage.minio.endpoint cannot be empty")
	} else if strings.Contains(cfg.Endpoint, "://") {
		v.AddError("storage.minio.endpoint must be host[:port] without scheme: %s", cfg.Endpoint)
	}
	if !isValidBucketName(cfg.Bucket) {
		v.AddError("invalid storage.minio.bucket: %q", cfg.Bucket)
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		v.AddError("storage.minio access_key_id and secret_access_key are required")
	}
	if cfg.MaxRetries < 0 {
		v.AddError("storage.minio.max_retries must be >= 0")
	}
	if cfg.RetryBackoff < 0 {
		v.AddError("storage.minio.retry_backoff must be >= 0")
	}
}

func validateServiceConfig(v *Validator, cfg *config.ServiceConfig) {
	if cfg.MetricsInterval <= 0 {
		v.AddError("metrics interval must be positive")
	} else if cfg.MetricsInterval < time.Second {
		v.AddError("metrics interval too short (min 1s)")
	}
	if cfg.ShutdownWarnAfter <= 0 {
		v.AddError("shutdown_warn_after must be positive")
	}
	if cfg.SinkTimeout <= 0 {
		v.AddError("sink_timeout must be positive")
	}
}

func validateAPIConfig(v *Validator, cfg *config.APIConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.EventBuffer < 1 {
		v.AddError("api.event_buffer must be positive")
	}
	if cfg.Addr == "" {
		v.AddError("api address cannot be empty")
		return
	}
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		v.AddError("api address must be host:port: %v", err)
		return
	}
	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
			v.AddError("invalid hostname in api address: %s", host)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		v.AddError("invalid port in api address: %s", portStr)
	}
}

func validateLogConfig(v *Validator, cfg *recorderlog.Config) {
	if _, err := recorderlog.ParseLevel(cfg.Level); err != nil {
		v.AddError("log.level: %v", err)
	}
}

func validateSourceConfig(v *Validator, cfg *config.SourceConfig) {
	if cfg.Type != "synthetic" {
		v.AddError("invalid source.type: %q (must be synthetic)", cfg.Type)
	}
	if _, err := frame.ParsePixelFormat(cfg.PixelFormat); err != nil {
		v.AddError("source.pixel_format: %v", err)
	}
	if cfg.RowPadding < 0 {
		v.AddError("source.row_padding must be >= 0")
	}
	if cfg.PoseDropoutEvery < 0 {
		v.AddError("source.pose_dropout_every must be >= 0")
	}
	if cfg.DwellFrames < 0 || cfg.SweepFrames < 0 {
		v.AddError("source dwell_frames and sweep_frames must be >= 0")
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

var (
	hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	bucketName    = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)
)

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, l := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(l) {
			return false
		}
	}
	return true
}

func isValidBucketName(name string) bool {
	return bucketName.MatchString(name) && !strings.Contains(name, "..")
}

func isValidDirectoryPath(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00") && !strings.HasPrefix(clean, "..")
}
