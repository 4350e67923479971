package frame

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	forward = r3.Vec{Z: 1}
	up      = r3.Vec{Y: 1}
)

// Pose is the camera's 6-DOF pose at a sensor timestamp.
type Pose struct {
	Position       r3.Vec
	Rotation       quat.Number
	TimestampNanos uint64
}

// IdentityRotation is the no-op rotation.
var IdentityRotation = quat.Number{Real: 1}

// unitRotation returns Rotation normalized to unit length. A zero
// quaternion is treated as identity.
func (p Pose) unitRotation() r3.Rotation {
	n := quat.Abs(p.Rotation)
	if n == 0 {
		return r3.Rotation(IdentityRotation)
	}
	return r3.Rotation(quat.Scale(1/n, p.Rotation))
}

// ViewProbe is the position offset by the rotated forward and up axes, so
// that turning the head in place moves the probe as well.
func (p Pose) ViewProbe() r3.Vec {
	rot := p.unitRotation()
	return r3.Add(p.Position, r3.Add(rot.Rotate(forward), rot.Rotate(up)))
}

// Transform returns the 4x4 homogeneous camera-to-world transform.
func (p Pose) Transform() *mat.Dense {
	rot := p.unitRotation()
	cx := rot.Rotate(r3.Vec{X: 1})
	cy := rot.Rotate(r3.Vec{Y: 1})
	cz := rot.Rotate(r3.Vec{Z: 1})
	return mat.NewDense(4, 4, []float64{
		cx.X, cy.X, cz.X, p.Position.X,
		cx.Y, cy.Y, cz.Y, p.Position.Y,
		cx.Z, cy.Z, cz.Z, p.Position.Z,
		0, 0, 0, 1,
	})
}

// FormatTransform renders a 4x4 matrix as four tab-separated rows with five
// decimals, the layout used in metadata sidecars.
func FormatTransform(m mat.Matrix) string {
	r, c := m.Dims()
	var b strings.Builder
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				b.WriteByte('\t')
			}
			fmt.Fprintf(&b, "%.5f", m.At(i, j))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
