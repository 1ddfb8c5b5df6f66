package spatialmath

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a 6dof pose, position and orientation, with respect to the parent frame.
type Pose interface {
	Point() r3.Vector
	Orientation() quat.Number
}

type pose struct {
	point       r3.Vector
	orientation quat.Number
}

// NewPose returns a pose at point with orientation o. The orientation is normalized.
func NewPose(point r3.Vector, o quat.Number) Pose {
	return &pose{point: point, orientation: NormalizeQuaternion(o)}
}

// NewPoseFromPoint returns a pose at point with no rotation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return &pose{point: point, orientation: NewZeroOrientation()}
}

// NewZeroPose returns a pose at (0,0,0) with no rotation.
func NewZeroPose() Pose {
	return NewPoseFromPoint(r3.Vector{})
}

func (p *pose) Point() r3.Vector {
	return p.point
}

func (p *pose) Orientation() quat.Number {
	return p.orientation
}

func (p *pose) String() string {
	o := p.orientation
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f W:%.4f I:%.4f J:%.4f K:%.4f}",
		p.point.X, p.point.Y, p.point.Z, o.Real, o.Imag, o.Jmag, o.Kmag)
}

// Compose returns the pose of b expressed in a's parent frame, i.e. a * b.
func Compose(a, b Pose) Pose {
	composed := newDualQuaternionFromPose(a).Transformation(newDualQuaternionFromPose(b).Quat)
	return (&dualQuaternion{composed}).Pose()
}

// PoseInverse returns the pose that undoes p.
func PoseInverse(p Pose) Pose {
	return newDualQuaternionFromPose(p).Invert().Pose()
}

// Isometry returns the homogeneous 4x4 matrix of p.
func Isometry(p Pose) *mat.Dense {
	q := p.Orientation()
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	t := p.Point()
	return mat.NewDense(4, 4, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), t.X,
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), t.Y,
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), t.Z,
		0, 0, 0, 1,
	})
}

// PoseAlmostEqual reports whether the isometries of a and b agree up to a relative precision:
// ‖A−B‖ ≤ prec·min(‖A‖, ‖B‖) under the Frobenius norm.
func PoseAlmostEqual(a, b Pose, prec float64) bool {
	ma, mb := Isometry(a), Isometry(b)
	var diff mat.Dense
	diff.Sub(ma, mb)
	return mat.Norm(&diff, 2) <= prec*math.Min(mat.Norm(ma, 2), mat.Norm(mb, 2))
}

// PoseLookup resolves the pose of source in target at a given instant. Implementations answer from
// what they already hold and never wait for data to arrive.
type PoseLookup interface {
	LookupPose(ctx context.Context, target, source string, stamp time.Time) (Pose, error)
}

// PoseLookupFunc adapts a function to a PoseLookup.
type PoseLookupFunc func(ctx context.Context, target, source string, stamp time.Time) (Pose, error)

// LookupPose calls f.
func (f PoseLookupFunc) LookupPose(ctx context.Context, target, source string, stamp time.Time) (Pose, error) {
	return f(ctx, target, source, stamp)
}

// NewLookupError returns the error for a transform that cannot be resolved.
func NewLookupError(target, source string, stamp time.Time) error {
	return errors.Errorf("no transform from %q to %q at %s", source, target, stamp.Format(time.RFC3339Nano))
}
