// Package imgconv converts packed frame planes into image types the
// encoders understand, handling every supported pixel format.
package imgconv

import (
	"fmt"
	"image"

	"github.com/mikeyg42/posecapture/internal/frame"
)

// ToImage wraps or converts a packed plane into an image.Image.
// RGBA8888 and GRAY8 share the plane buffer; other formats are converted
// into a new NRGBA image. Camera RGBA is straight alpha, hence NRGBA.
func ToImage(p frame.FramePlane) (image.Image, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("imgconv: empty plane %dx%d", p.Width, p.Height)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("imgconv: %w", err)
	}

	rect := image.Rect(0, 0, p.Width, p.Height)

	switch p.Format {
	case frame.FormatRGBA8888:
		return &image.NRGBA{Pix: p.Data[:p.StrideBytes*p.Height], Stride: p.StrideBytes, Rect: rect}, nil

	case frame.FormatGray8:
		return &image.Gray{Pix: p.Data[:p.StrideBytes*p.Height], Stride: p.StrideBytes, Rect: rect}, nil

	case frame.FormatRGB888:
		img := image.NewNRGBA(rect)
		for y := 0; y < p.Height; y++ {
			src := p.Data[y*p.StrideBytes:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < p.Width; x++ {
				dst[x*4+0] = src[x*3+0]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+2]
				dst[x*4+3] = 0xFF
			}
		}
		return img, nil

	case frame.FormatBGRA8888:
		img := image.NewNRGBA(rect)
		for y := 0; y < p.Height; y++ {
			src := p.Data[y*p.StrideBytes:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < p.Width; x++ {
				dst[x*4+0] = src[x*4+2]
				dst[x*4+1] = src[x*4+1]
				dst[x*4+2] = src[x*4+0]
				dst[x*4+3] = src[x*4+3]
			}
		}
		return img, nil

	default:
		return nil, fmt.Errorf("imgconv: unsupported pixel format %s", p.Format)
	}
}
