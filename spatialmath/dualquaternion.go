package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// dualQuaternion is a rigid transform held as a unit dual quaternion. The real part is the rotation
// and the dual part is half the translation multiplied by the rotation.
type dualQuaternion struct {
	Quat dualquat.Number
}

// newDualQuaternion returns the identity transform. Use it instead of &dualQuaternion{}, whose
// real part is zero.
func newDualQuaternion() *dualQuaternion {
	return &dualQuaternion{dualquat.Number{
		Real: quat.Number{Real: 1},
		Dual: quat.Number{},
	}}
}

func newDualQuaternionFromPose(p Pose) *dualQuaternion {
	q := newDualQuaternion()
	q.Quat.Real = NormalizeQuaternion(p.Orientation())
	pt := p.Point()
	q.SetTranslation(pt.X, pt.Y, pt.Z)
	return q
}

// SetTranslation sets the translation against the current rotation.
func (q *dualQuaternion) SetTranslation(x, y, z float64) {
	q.Quat.Dual = quat.Mul(quat.Number{Imag: x / 2, Jmag: y / 2, Kmag: z / 2}, q.Quat.Real)
}

// Translation multiplies the dual quaternion by its own conjugate, leaving the identity rotation
// and the translation in the dual part.
func (q *dualQuaternion) Translation() r3.Vector {
	t := dualquat.Mul(q.Quat, dualquat.Conj(q.Quat))
	return r3.Vector{X: t.Dual.Imag, Y: t.Dual.Jmag, Z: t.Dual.Kmag}
}

// Transformation multiplies the dual quat contained in this dualQuaternion by another dual quat.
func (q *dualQuaternion) Transformation(by dualquat.Number) dualquat.Number {
	// Ensure we are multiplying by a unit dual quaternion
	if vecLen := quat.Abs(by.Real); vecLen != 1 {
		by.Real = quat.Scale(1/vecLen, by.Real)
		by.Dual = quat.Scale(1/vecLen, by.Dual)
	}
	return dualquat.Mul(q.Quat, by)
}

// Invert returns the transform that undoes q. For a unit dual quaternion this is its quaternion
// conjugate.
func (q *dualQuaternion) Invert() *dualQuaternion {
	return &dualQuaternion{dualquat.ConjQuat(q.Quat)}
}

func (q *dualQuaternion) Pose() Pose {
	return NewPose(q.Translation(), q.Quat.Real)
}
