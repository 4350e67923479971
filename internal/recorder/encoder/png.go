package encoder

import (
	"bytes"
	"image/png"

	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/imgconv"
)

func init() {
	Register("png", func(Config) (Encoder, error) {
		return &pngEncoder{enc: png.Encoder{CompressionLevel: png.BestSpeed}}, nil
	})
}

// pngEncoder is lossless; Config.Quality is ignored.
type pngEncoder struct {
	enc png.Encoder
}

func (e *pngEncoder) Name() string      { return "png" }
func (e *pngEncoder) Extension() string { return "png" }

func (e *pngEncoder) Encode(p frame.FramePlane) ([]byte, error) {
	if err := checkPlane(e.Name(), p); err != nil {
		return nil, err
	}
	img, err := imgconv.ToImage(p)
	if err != nil {
		return nil, encodeErr(e.Name(), "convert plane", true, err)
	}

	var buf bytes.Buffer
	if err := e.enc.Encode(&buf, img); err != nil {
		return nil, encodeErr(e.Name(), "png encode", false, err)
	}
	return buf.Bytes(), nil
}
