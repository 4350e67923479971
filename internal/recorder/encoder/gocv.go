//go:build gocv

package encoder

import (
	"gocv.io/x/gocv"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/imgconv"
)

func init() {
	Register("opencv", func(cfg Config) (Encoder, error) {
		return &cvEncoder{quality: cfg.Quality}, nil
	})
}

// cvEncoder encodes JPEG through OpenCV's libjpeg-turbo build.
type cvEncoder struct {
	quality int
}

func (e *cvEncoder) Name() string      { return "opencv" }
func (e *cvEncoder) Extension() string { return "jpg" }

func (e *cvEncoder) Encode(p frame.FramePlane) ([]byte, error) {
	if err := checkPlane(e.Name(), p); err != nil {
		return nil, err
	}
	mat, err := imgconv.ToMat(p)
	if err != nil {
		return nil, encodeErr(e.Name(), "convert plane", true, err)
	}
	defer mat.Close()

	nb, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, e.quality})
	if err != nil {
		return nil, encodeErr(e.Name(), "imencode", false, err)
	}
	defer nb.Close()

	// nb's memory belongs to OpenCV
	out := make([]byte, nb.Len())
	copy(out, nb.GetBytes())
	return out, nil
}
