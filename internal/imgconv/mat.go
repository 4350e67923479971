//go:build gocv

package imgconv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/posecapture/internal/frame"
)

// ToMat converts a plane to an OpenCV Mat in BGR(A) order suitable for
// gocv.IMEncode. Returns a Mat you own - caller must Close() it.
func ToMat(p frame.FramePlane) (gocv.Mat, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return gocv.NewMat(), fmt.Errorf("imgconv: empty plane %dx%d", p.Width, p.Height)
	}
	if err := p.Validate(); err != nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: %w", err)
	}

	// NewMatFromBytes needs tightly packed rows
	packed := p
	if !p.Packed() {
		var err error
		if packed, err = frame.Compact(p); err != nil {
			return gocv.NewMat(), err
		}
	}
	buf := packed.Data[:packed.RowBytes()*packed.Height]

	var (
		matType gocv.MatType
		code    gocv.ColorConversionCode
		convert = true
	)
	switch p.Format {
	case frame.FormatRGBA8888:
		matType, code = gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR
	case frame.FormatBGRA8888:
		matType, code = gocv.MatTypeCV8UC4, gocv.ColorBGRAToBGR
	case frame.FormatRGB888:
		matType, code = gocv.MatTypeCV8UC3, gocv.ColorRGBToBGR
	case frame.FormatGray8:
		matType, convert = gocv.MatTypeCV8UC1, false
	default:
		return gocv.NewMat(), fmt.Errorf("imgconv: unsupported pixel format %s", p.Format)
	}

	mat, err := gocv.NewMatFromBytes(p.Height, p.Width, matType, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: failed to create Mat from %s: %v", p.Format, err)
	}
	if !convert {
		return mat, nil
	}

	result := gocv.NewMat()
	gocv.CvtColor(mat, &result, code)
	mat.Close()
	return result, nil
}
