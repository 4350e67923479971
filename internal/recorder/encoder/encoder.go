// encoder/encoder.go
package encoder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mikeyg42/posecapture/internal/frame"
)

// ErrEncodeFailure is matched by every error an Encoder returns.
var ErrEncodeFailure = errors.New("encode failure")

// DefaultQuality is used when Config.Quality is zero.
const DefaultQuality = 100

// Encoder turns a packed plane into a still image file body.
type Encoder interface {
	Encode(p frame.FramePlane) ([]byte, error)
	// Extension is the file extension without the dot.
	Extension() string
	Name() string
}

// Config selects a codec
type Config struct {
	Format  string `yaml:"image_format" json:"image_format"`
	Quality int    `yaml:"image_quality" json:"image_quality"`
}

// Factory builds an Encoder for an already validated Config.
type Factory func(cfg Config) (Encoder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a codec available to New under name. Registering the
// same name twice replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Formats lists the registered codec names.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the encoder for cfg. An empty format means jpeg.
func New(cfg Config) (Encoder, error) {
	if cfg.Format == "" {
		cfg.Format = "jpeg"
	}
	if cfg.Quality == 0 {
		cfg.Quality = DefaultQuality
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return nil, fmt.Errorf("encoder: quality %d out of range [1,100]", cfg.Quality)
	}

	registryMu.RLock()
	f, ok := registry[strings.ToLower(cfg.Format)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("encoder: unknown format %q (available: %s)",
			cfg.Format, strings.Join(Formats(), ", "))
	}
	return f(cfg)
}

// EncodeError describes a failed encode.
type EncodeError struct {
	Format  string
	Message string
	// Fatal is set when retrying the same frame cannot succeed.
	Fatal bool
	Err   error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("encoder %s: %s (fatal: %v)", e.Format, e.Message, e.Fatal)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEncodeFailure}
	}
	return []error{ErrEncodeFailure, e.Err}
}

func encodeErr(format, msg string, fatal bool, err error) error {
	return &EncodeError{Format: format, Message: msg, Fatal: fatal, Err: err}
}

// checkPlane rejects planes no codec can represent.
func checkPlane(format string, p frame.FramePlane) error {
	if p.Width <= 0 || p.Height <= 0 {
		return encodeErr(format, fmt.Sprintf("empty plane %dx%d", p.Width, p.Height), true, nil)
	}
	if p.Format == frame.FormatUnknown {
		return encodeErr(format, "unknown pixel format", true, nil)
	}
	if err := p.Validate(); err != nil {
		return encodeErr(format, "invalid plane", true, err)
	}
	return nil
}
