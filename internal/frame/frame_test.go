package frame

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const pad = 0xEE

func grayPlane(w, h, stride int, rows ...[]byte) FramePlane {
	data := make([]byte, 0, stride*h)
	for _, r := range rows {
		line := make([]byte, stride)
		for i := range line {
			line[i] = pad
		}
		copy(line, r)
		data = append(data, line...)
	}
	return FramePlane{Width: w, Height: h, StrideBytes: stride, BytesPerPixel: 1, Format: FormatGray8, Data: data}
}

func TestNormalizeStridedScenario(t *testing.T) {
	p := grayPlane(4, 2, 6, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	out, err := Normalize(p, true)
	require.NoError(t, err)

	if diff := cmp.Diff([]byte{5, 6, 7, 8, 1, 2, 3, 4}, out.Data); diff != "" {
		t.Fatalf("normalized data mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, out.StrideBytes)
	assert.True(t, out.Packed())
	assert.Equal(t, FormatGray8, out.Format)
}

func TestCompactDropsPaddingWithoutFlip(t *testing.T) {
	p := grayPlane(4, 2, 6, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	out, err := Compact(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, out.Data)
}

func TestCompactPackedIsIndependentCopy(t *testing.T) {
	p := grayPlane(2, 2, 2, []byte{1, 2}, []byte{3, 4})

	out, err := Compact(p)
	require.NoError(t, err)
	assert.Equal(t, p.Data, out.Data)

	out.Data[0] = 99
	assert.Equal(t, byte(1), p.Data[0], "output must not alias the source buffer")
}

func TestNormalizePackedIsFlippedCopy(t *testing.T) {
	rows := [][]byte{
		{1, 1, 1, 1, 2, 2, 2, 2},
		{3, 3, 3, 3, 4, 4, 4, 4},
		{5, 5, 5, 5, 6, 6, 6, 6},
	}
	var data []byte
	for _, r := range rows {
		data = append(data, r...)
	}
	p := FramePlane{Width: 2, Height: 3, StrideBytes: 8, BytesPerPixel: 4, Format: FormatRGBA8888, Data: data}

	out, err := Normalize(p, true)
	require.NoError(t, err)
	require.Len(t, out.Data, 2*3*4)
	for y := 0; y < 3; y++ {
		assert.Equal(t, rows[y], out.Data[(2-y)*8:(3-y)*8], "row %d", y)
	}
}

func TestFlipIsInvolution(t *testing.T) {
	p := grayPlane(3, 4, 5,
		[]byte{1, 2, 3}, []byte{4, 5, 6}, []byte{7, 8, 9}, []byte{10, 11, 12})

	packed, err := Compact(p)
	require.NoError(t, err)

	once, err := FlipVertical(packed)
	require.NoError(t, err)
	twice, err := FlipVertical(once)
	require.NoError(t, err)

	assert.Equal(t, packed.Data, twice.Data)
	assert.NotEqual(t, packed.Data, once.Data)
}

func TestFlipVerticalRequiresPackedPlane(t *testing.T) {
	p := grayPlane(4, 2, 6, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})
	_, err := FlipVertical(p)
	assert.ErrorIs(t, err, ErrInvalidPlane)
}

func TestNormalizerUsesConfiguredFlip(t *testing.T) {
	p := grayPlane(1, 2, 1, []byte{1}, []byte{2})

	out, err := Normalizer{Flip: false}.Normalize(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, out.Data)

	out, err = Normalizer{Flip: true}.Normalize(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1}, out.Data)
}

func TestNormalizeZeroSizedPlane(t *testing.T) {
	out, err := Normalize(FramePlane{BytesPerPixel: 4, Format: FormatRGBA8888}, true)
	require.NoError(t, err)
	assert.Empty(t, out.Data)
}

func TestNormalizeRejectsOverflowingGeometry(t *testing.T) {
	p := FramePlane{Width: 1 << 61, Height: 1, StrideBytes: 8, BytesPerPixel: 4, Format: FormatRGBA8888, Data: make([]byte, 8)}

	assert.NotPanics(t, func() {
		_, err := Normalize(p, true)
		assert.ErrorIs(t, err, ErrInvalidPlane)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		plane FramePlane
		ok    bool
	}{
		{"valid padded", FramePlane{Width: 2, Height: 2, StrideBytes: 8, BytesPerPixel: 3, Format: FormatRGB888, Data: make([]byte, 16)}, true},
		{"stride too short", FramePlane{Width: 4, Height: 1, StrideBytes: 3, BytesPerPixel: 1, Data: make([]byte, 4)}, false},
		{"buffer too short", FramePlane{Width: 2, Height: 2, StrideBytes: 2, BytesPerPixel: 1, Data: make([]byte, 3)}, false},
		{"format mismatch", FramePlane{Width: 1, Height: 1, StrideBytes: 4, BytesPerPixel: 3, Format: FormatRGBA8888, Data: make([]byte, 4)}, false},
		{"negative", FramePlane{Width: -1, Height: 1, StrideBytes: 0, BytesPerPixel: 1}, false},
		{"row size overflow", FramePlane{Width: 1 << 61, Height: 1, StrideBytes: 8, BytesPerPixel: 4, Format: FormatRGBA8888, Data: make([]byte, 8)}, false},
		{"plane size overflow", FramePlane{Width: 1, Height: 1 << 62, StrideBytes: 1 << 62, BytesPerPixel: 1, Format: FormatGray8, Data: make([]byte, 1)}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.plane.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPlane)
			}
		})
	}
}

func TestParsePixelFormatRoundTrip(t *testing.T) {
	for _, f := range []PixelFormat{FormatRGBA8888, FormatRGB888, FormatBGRA8888, FormatGray8} {
		got, err := ParsePixelFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParsePixelFormat("yuv420")
	assert.Error(t, err)
}

func TestPoseIdentityTransform(t *testing.T) {
	p := Pose{Position: r3.Vec{X: 1, Y: 2, Z: 3}, Rotation: IdentityRotation}

	m := p.Transform()
	want := []float64{
		1, 0, 0, 1,
		0, 1, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	}
	for i := 0; i < 16; i++ {
		assert.InDelta(t, want[i], m.At(i/4, i%4), 1e-12, "element %d", i)
	}

	assert.Equal(t,
		"1.00000\t0.00000\t0.00000\t1.00000\n"+
			"0.00000\t1.00000\t0.00000\t2.00000\n"+
			"0.00000\t0.00000\t1.00000\t3.00000\n"+
			"0.00000\t0.00000\t0.00000\t1.00000\n",
		FormatTransform(m))
}

func TestPoseViewProbe(t *testing.T) {
	p := Pose{Position: r3.Vec{X: 1}, Rotation: IdentityRotation}
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, p.ViewProbe())

	// zero quaternion behaves like identity
	p.Rotation = quat.Number{}
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, p.ViewProbe())

	// turning in place moves the probe but not the position
	p.Rotation = quat.Number(r3.NewRotation(math.Pi/2, r3.Vec{Y: 1}))
	probe := p.ViewProbe()
	assert.Greater(t, r3.Norm(r3.Sub(probe, r3.Vec{X: 1, Y: 1, Z: 1})), 0.5)
	assert.InDelta(t, math.Sqrt(2), r3.Norm(r3.Sub(probe, p.Position)), 1e-9)
}

func TestIntrinsicsString(t *testing.T) {
	in := Intrinsics{
		Width: 1920, Height: 1080,
		FocalLength:    [2]float64{1400, 1401.5},
		PrincipalPoint: [2]float64{960, 540},
		FOV:            1.2,
		Distortion:     []float64{0.1, -0.2},
	}
	assert.Equal(t,
		"Width: 1920, Height: 1080, FocalLength: (1400.00000, 1401.50000), "+
			"PrincipalPoint: (960.00000, 540.00000), FOV: 1.20000, Distortion: [0.10000, -0.20000]",
		in.String())
}

func TestNormalizerAllocSuppliesBuffer(t *testing.T) {
	p := grayPlane(2, 2, 3, []byte{1, 2}, []byte{3, 4})

	var requested int
	backing := make([]byte, 8)
	n := Normalizer{Flip: true, Alloc: func(size int) []byte {
		requested = size
		return backing[:size]
	}}

	out, err := n.Normalize(p)
	require.NoError(t, err)
	assert.Equal(t, 4, requested)
	assert.Equal(t, []byte{3, 4, 1, 2}, out.Data)
	assert.Equal(t, []byte{3, 4, 1, 2}, backing[:4])
}
