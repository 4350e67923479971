// Package frame holds the capture data model: raw pixel planes, camera
// poses and intrinsics, and the pixel normalization applied before frames
// are handed to persistence.
package frame

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidPlane is returned when a plane's geometry and buffer disagree.
var ErrInvalidPlane = errors.New("invalid frame plane")

// PixelFormat identifies the byte layout of one pixel.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatRGBA8888
	FormatRGB888
	FormatBGRA8888
	FormatGray8
)

// BytesPerPixel returns the pixel size for known formats and 0 otherwise.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888, FormatBGRA8888:
		return 4
	case FormatRGB888:
		return 3
	case FormatGray8:
		return 1
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA8888"
	case FormatRGB888:
		return "RGB888"
	case FormatBGRA8888:
		return "BGRA8888"
	case FormatGray8:
		return "GRAY8"
	default:
		return "UNKNOWN"
	}
}

// ParsePixelFormat is the inverse of String, case-insensitive.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RGBA8888", "RGBA":
		return FormatRGBA8888, nil
	case "RGB888", "RGB":
		return FormatRGB888, nil
	case "BGRA8888", "BGRA":
		return FormatBGRA8888, nil
	case "GRAY8", "GRAY":
		return FormatGray8, nil
	}
	return FormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// FramePlane describes one buffer of raw pixel data. Rows start every
// StrideBytes bytes; only the first Width*BytesPerPixel bytes of a row are
// pixels, the rest is alignment padding.
type FramePlane struct {
	Width         int
	Height        int
	StrideBytes   int
	BytesPerPixel int
	Format        PixelFormat
	Data          []byte
}

// RowBytes is the number of pixel bytes in one row.
func (p FramePlane) RowBytes() int {
	return p.Width * p.BytesPerPixel
}

// Packed reports whether rows carry no padding.
func (p FramePlane) Packed() bool {
	return p.StrideBytes == p.RowBytes()
}

// Validate checks the geometry invariants. Zero-sized planes are
// structurally valid; encoders reject them.
func (p FramePlane) Validate() error {
	if p.Width < 0 || p.Height < 0 || p.BytesPerPixel < 0 || p.StrideBytes < 0 {
		return fmt.Errorf("%w: negative dimension (w=%d h=%d bpp=%d stride=%d)",
			ErrInvalidPlane, p.Width, p.Height, p.BytesPerPixel, p.StrideBytes)
	}
	if want := p.Format.BytesPerPixel(); want != 0 && want != p.BytesPerPixel {
		return fmt.Errorf("%w: format %s has %d bytes per pixel, plane declares %d",
			ErrInvalidPlane, p.Format, want, p.BytesPerPixel)
	}
	if p.Width > 0 && p.BytesPerPixel > math.MaxInt/p.Width {
		return fmt.Errorf("%w: row size overflows (w=%d bpp=%d)",
			ErrInvalidPlane, p.Width, p.BytesPerPixel)
	}
	if p.Height > 0 && p.StrideBytes > math.MaxInt/p.Height {
		return fmt.Errorf("%w: plane size overflows (stride=%d h=%d)",
			ErrInvalidPlane, p.StrideBytes, p.Height)
	}
	if p.StrideBytes < p.RowBytes() {
		return fmt.Errorf("%w: stride %d shorter than row %d",
			ErrInvalidPlane, p.StrideBytes, p.RowBytes())
	}
	if need := p.StrideBytes * p.Height; len(p.Data) < need {
		return fmt.Errorf("%w: buffer holds %d bytes, need %d",
			ErrInvalidPlane, len(p.Data), need)
	}
	return nil
}
