// Package spatialmath defines the rigid-body poses used to detect camera motion.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// NewZeroOrientation returns an orientation which signifies no rotation.
func NewZeroOrientation() quat.Number {
	return quat.Number{Real: 1}
}

// NormalizeQuaternion scales q to unit length. A zero quaternion becomes the identity.
func NormalizeQuaternion(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return NewZeroOrientation()
	}
	return quat.Scale(1/norm, q)
}

// QuaternionAlmostEqual is an equality test for all the float components of a quaternion. Quaternions have double coverage,
// q and -q represent the same rotation, so both are checked.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	same := func(x, y quat.Number) bool {
		return math.Abs(x.Real-y.Real) < tol &&
			math.Abs(x.Imag-y.Imag) < tol &&
			math.Abs(x.Jmag-y.Jmag) < tol &&
			math.Abs(x.Kmag-y.Kmag) < tol
	}
	return same(a, b) || same(a, quat.Scale(-1, b))
}

// OrientationBetween returns the rotation taking o1 to o2.
func OrientationBetween(o1, o2 quat.Number) quat.Number {
	return quat.Mul(o2, quat.Conj(o1))
}

// QuaternionFromAxisAngle builds the unit quaternion rotating theta radians about axis.
func QuaternionFromAxisAngle(axis r3.Vector, theta float64) quat.Number {
	if axis.Norm() == 0 {
		return NewZeroOrientation()
	}
	axis = axis.Normalize()
	s := math.Sin(theta / 2)
	return quat.Number{Real: math.Cos(theta / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}
