// config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
)

// Config represents the complete configuration for the capture service
type Config struct {
	Capture CaptureConfig      `yaml:"capture" json:"capture"`
	Storage StorageConfig      `yaml:"storage" json:"storage"`
	Service ServiceConfig      `yaml:"service" json:"service"`
	API     APIConfig          `yaml:"api" json:"api"`
	Log     recorderlog.Config `yaml:"log" json:"log"`
	Source  SourceConfig       `yaml:"source" json:"source"`
}

// CaptureConfig contains gating, normalization and encoding settings
type CaptureConfig struct {
	// MaxSpeed is the probe speed (pose units per second) below which a
	// frame is captured.
	MaxSpeed     float64 `yaml:"max_speed" json:"max_speed"`
	ImageQuality int     `yaml:"image_quality" json:"image_quality"` // 0..100, 0 = codec default
	ImageFormat  string  `yaml:"image_format" json:"image_format"`   // jpeg, png, tiff, opencv
	Directory    string  `yaml:"directory" json:"directory"`

	Stream    StreamConfig `yaml:"stream" json:"stream"`
	FrameRate float64      `yaml:"frame_rate" json:"frame_rate"`

	Flip      bool   `yaml:"flip" json:"flip"`
	Probe     string `yaml:"probe" json:"probe"`         // position, view
	Admission string `yaml:"admission" json:"admission"` // one_in_flight, always
	Naming    string `yaml:"naming" json:"naming"`       // sequence, timestamp

	// QueueCapacity bounds the capture queue; 0 is unbounded.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`
	// PlanePoolMaxBytes caps recycled plane buffers; 0 disables pooling.
	PlanePoolMaxBytes int `yaml:"plane_pool_max_bytes" json:"plane_pool_max_bytes"`
}

// StreamConfig is the requested camera resolution
type StreamConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// StorageConfig contains the optional artifact sinks
type StorageConfig struct {
	Index storage.IndexConfig `yaml:"index" json:"index"`
	MinIO storage.MinIOConfig `yaml:"minio" json:"minio"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	MetricsInterval   time.Duration `yaml:"metrics_interval" json:"metrics_interval"`
	ShutdownWarnAfter time.Duration `yaml:"shutdown_warn_after" json:"shutdown_warn_after"`
	SinkTimeout       time.Duration `yaml:"sink_timeout" json:"sink_timeout"`
	// MinFreeMB is checked against the capture directory at start; 0 skips it.
	MinFreeMB uint64 `yaml:"min_free_mb" json:"min_free_mb"`
}

// APIConfig contains the status/events HTTP server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	// EventBuffer is the per-client websocket send queue length.
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// SourceConfig selects and tunes the frame source
type SourceConfig struct {
	Type             string  `yaml:"type" json:"type"` // synthetic
	PixelFormat      string  `yaml:"pixel_format" json:"pixel_format"`
	RowPadding       int     `yaml:"row_padding" json:"row_padding"`
	PoseDropoutEvery int     `yaml:"pose_dropout_every" json:"pose_dropout_every"`
	DwellFrames      int     `yaml:"dwell_frames" json:"dwell_frames"`
	SweepFrames      int     `yaml:"sweep_frames" json:"sweep_frames"`
	SweepSpeed       float64 `yaml:"sweep_speed" json:"sweep_speed"`
}

// DefaultCaptureDir is <user config dir>/posecapture/capture, falling back
// to ./capture when the user config dir is unknown.
func DefaultCaptureDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return "capture"
	}
	return filepath.Join(base, "posecapture", "capture")
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			MaxSpeed:          0.15,
			ImageQuality:      100,
			ImageFormat:       "jpeg",
			Directory:         DefaultCaptureDir(),
			Stream:            StreamConfig{Width: 1920, Height: 1080},
			FrameRate:         30,
			Flip:              true,
			Probe:             "position",
			Admission:         "one_in_flight",
			Naming:            "sequence",
			QueueCapacity:     0,
			PlanePoolMaxBytes: 64 << 20,
		},
		Storage: StorageConfig{
			Index: storage.IndexConfig{
				Enabled: true,
				Driver:  "sqlite",
			},
			MinIO: storage.MinIOConfig{
				Enabled:        false,
				Endpoint:       "localhost:9000",
				Bucket:         "captures",
				Region:         "us-east-1",
				Prefix:         "posecapture",
				ConnectTimeout: 30 * time.Second,
				MaxRetries:     5,
				RetryBackoff:   500 * time.Millisecond,
			},
		},
		Service: ServiceConfig{
			MetricsInterval:   30 * time.Second,
			ShutdownWarnAfter: 10 * time.Second,
			SinkTimeout:       30 * time.Second,
			MinFreeMB:         256,
		},
		API: APIConfig{
			Enabled:     false,
			Addr:        "127.0.0.1:8089",
			EventBuffer: 64,
		},
		Log: recorderlog.Config{
			Level:       "info",
			Development: false,
		},
		Source: SourceConfig{
			Type:             "synthetic",
			PixelFormat:      "RGBA8888",
			RowPadding:       64,
			PoseDropoutEvery: 15,
			DwellFrames:      45,
			SweepFrames:      30,
			SweepSpeed:       0.6,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults. Fields absent from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyDerived()
	return cfg, nil
}

// Parse decodes YAML into cfg, overlaying whatever cfg already holds.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyDerived fills settings that depend on other settings.
func (c *Config) ApplyDerived() {
	if c.Storage.Index.Driver == "" {
		c.Storage.Index.Driver = "sqlite"
	}
	if c.Storage.Index.DSN == "" && c.Storage.Index.Driver == "sqlite" {
		c.Storage.Index.DSN = storage.DefaultIndexDSN(c.Capture.Directory)
	}
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
