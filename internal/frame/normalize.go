package frame

import "fmt"

// Normalizer turns sensor planes into packed planes in the row order the
// persisted image expects.
type Normalizer struct {
	// Flip reverses row order; the sensor delivers rows in the opposite
	// vertical order from the encoded image.
	Flip bool
	// Alloc supplies the output buffer; nil means make.
	Alloc func(size int) []byte
}

// Normalize applies the configured transform.
func (n Normalizer) Normalize(p FramePlane) (FramePlane, error) {
	return normalize(p, n.Flip, n.Alloc)
}

// Compact copies p into a freshly allocated packed buffer, dropping row
// padding. A packed input is duplicated byte for byte.
func Compact(p FramePlane) (FramePlane, error) {
	return Normalize(p, false)
}

// FlipVertical reverses the row order of a packed plane.
func FlipVertical(p FramePlane) (FramePlane, error) {
	if !p.Packed() {
		return FramePlane{}, fmt.Errorf("%w: flip requires a packed plane (stride %d, row %d)",
			ErrInvalidPlane, p.StrideBytes, p.RowBytes())
	}
	return Normalize(p, true)
}

// Normalize compacts p and optionally flips it in one pass. Source row y
// (at y*StrideBytes) lands at row y, or at row Height-1-y when flip is set,
// of a packed buffer of exactly Width*Height*BytesPerPixel bytes.
func Normalize(p FramePlane, flip bool) (FramePlane, error) {
	return normalize(p, flip, nil)
}

func normalize(p FramePlane, flip bool, alloc func(int) []byte) (FramePlane, error) {
	if err := p.Validate(); err != nil {
		return FramePlane{}, err
	}

	row := p.RowBytes()
	var out []byte
	if alloc != nil {
		out = alloc(row * p.Height)
	}
	if len(out) != row*p.Height {
		out = make([]byte, row*p.Height)
	}

	if !flip && p.Packed() {
		copy(out, p.Data[:len(out)])
	} else {
		for y := 0; y < p.Height; y++ {
			src := y * p.StrideBytes
			dy := y
			if flip {
				dy = p.Height - 1 - y
			}
			copy(out[dy*row:dy*row+row], p.Data[src:src+row])
		}
	}

	return FramePlane{
		Width:         p.Width,
		Height:        p.Height,
		StrideBytes:   row,
		BytesPerPixel: p.BytesPerPixel,
		Format:        p.Format,
		Data:          out,
	}, nil
}
