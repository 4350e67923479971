package encoder

import (
	"bytes"
	"image/jpeg"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/imgconv"
)

func init() {
	Register("jpeg", newJPEG)
	Register("jpg", newJPEG)
}

type jpegEncoder struct {
	quality int
}

func newJPEG(cfg Config) (Encoder, error) {
	return &jpegEncoder{quality: cfg.Quality}, nil
}

func (e *jpegEncoder) Name() string      { return "jpeg" }
func (e *jpegEncoder) Extension() string { return "jpg" }

func (e *jpegEncoder) Encode(p frame.FramePlane) ([]byte, error) {
	if err := checkPlane(e.Name(), p); err != nil {
		return nil, err
	}
	img, err := imgconv.ToImage(p)
	if err != nil {
		return nil, encodeErr(e.Name(), "convert plane", true, err)
	}

	var buf bytes.Buffer
	buf.Grow(p.Width * p.Height / 2)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, encodeErr(e.Name(), "jpeg encode", false, err)
	}
	return buf.Bytes(), nil
}
