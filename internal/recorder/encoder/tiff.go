package encoder

import (
	"bytes"

	"golang.org/x/image/tiff"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/imgconv"
)

func init() {
	Register("tiff", newTIFF)
	Register("tif", newTIFF)
}

type tiffEncoder struct{}

func newTIFF(Config) (Encoder, error) { return tiffEncoder{}, nil }

func (tiffEncoder) Name() string      { return "tiff" }
func (tiffEncoder) Extension() string { return "tif" }

func (e tiffEncoder) Encode(p frame.FramePlane) ([]byte, error) {
	if err := checkPlane(e.Name(), p); err != nil {
		return nil, err
	}
	img, err := imgconv.ToImage(p)
	if err != nil {
		return nil, encodeErr(e.Name(), "convert plane", true, err)
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return nil, encodeErr(e.Name(), "tiff encode", false, err)
	}
	return buf.Bytes(), nil
}
