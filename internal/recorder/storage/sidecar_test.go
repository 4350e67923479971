package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mikeyg42/posecapture/internal/frame"
)

func TestFormatSidecarLayout(t *testing.T) {
	pose := frame.Pose{Position: r3.Vec{X: 0.5, Y: -1, Z: 2}, Rotation: frame.IdentityRotation}
	intr := &frame.Intrinsics{Width: 640, Height: 480, FocalLength: [2]float64{500, 500}, PrincipalPoint: [2]float64{320, 240}}

	got := FormatSidecar(intr, pose)
	want := "intrinsics\n" + intr.String() + "\n" +
		"extrinsics\n" +
		"1.00000\t0.00000\t0.00000\t0.50000\n" +
		"0.00000\t1.00000\t0.00000\t-1.00000\n" +
		"0.00000\t0.00000\t1.00000\t2.00000\n" +
		"0.00000\t0.00000\t0.00000\t1.00000\n"
	assert.Equal(t, want, got)

	in, ok, ext, err := ParseSidecarSections(got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, intr.String(), in)
	assert.Contains(t, ext, "-1.00000")
}

func TestFormatSidecarWithoutIntrinsics(t *testing.T) {
	got := FormatSidecar(nil, frame.Pose{Rotation: frame.IdentityRotation})
	assert.Contains(t, got, "intrinsics\nNot Available\nextrinsics\n")
}

func TestParseTransformMatchesPose(t *testing.T) {
	pose := frame.Pose{
		Position: r3.Vec{X: 1, Y: 2, Z: 3},
		Rotation: quat.Number(r3.NewRotation(math.Pi/3, r3.Vec{Z: 1})),
	}
	_, _, ext, err := ParseSidecarSections(FormatSidecar(nil, pose))
	require.NoError(t, err)

	m, err := ParseTransform(ext)
	require.NoError(t, err)
	want := pose.Transform()
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			assert.InDelta(t, want.At(r, c), m.At(r, c), 1e-5, "element %d,%d", r, c)
		}
	}
}

func TestParseSidecarRejectsMalformed(t *testing.T) {
	_, _, _, err := ParseSidecarSections("extrinsics\n1\t2\n")
	assert.Error(t, err)

	_, _, _, err = ParseSidecarSections("intrinsics\nfoo\n")
	assert.Error(t, err)

	_, err = ParseTransform("1\t2\t3\n")
	assert.Error(t, err)

	_, err = ParseTransform("1\t0\t0\t0\n0\t1\t0\t0\n0\t0\t1\t0\n0\t0\t0\tx\n")
	assert.Error(t, err)
}
