package motion

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func sampleAt(ms int64, positions ...float64) JointSample {
	return JointSample{
		Names:     []string{"shoulder", "elbow", "wrist"}[:len(positions)],
		Positions: positions,
		Stamp:     time.UnixMilli(ms),
	}
}

func TestJointHistoryFirstSample(t *testing.T) {
	t.Parallel()
	var h JointHistory
	test.That(t, h.Ready(), test.ShouldBeFalse)
	test.That(t, h.Current(), test.ShouldBeNil)

	test.That(t, h.Update(sampleAt(1000, 0.1)), test.ShouldBeTrue)
	test.That(t, h.Ready(), test.ShouldBeTrue)
	test.That(t, h.Previous(), test.ShouldResemble, h.Current())
}

func TestJointHistoryDebounce(t *testing.T) {
	t.Parallel()
	var h JointHistory
	h.Update(sampleAt(1000, 0.1))
	h.Update(sampleAt(1100, 0.2))
	current, previous := h.Current(), h.Previous()
	test.That(t, current.Positions, test.ShouldResemble, []float64{0.2})
	test.That(t, previous.Positions, test.ShouldResemble, []float64{0.1})

	for _, ms := range []int64{1100, 1120, 1149, 900} {
		test.That(t, h.Update(sampleAt(ms, 9)), test.ShouldBeFalse)
		test.That(t, h.Current(), test.ShouldEqual, current)
		test.That(t, h.Previous(), test.ShouldEqual, previous)
	}

	test.That(t, h.Update(sampleAt(1150, 0.3)), test.ShouldBeTrue)
	test.That(t, h.Previous(), test.ShouldEqual, current)
	test.That(t, h.Current().Positions, test.ShouldResemble, []float64{0.3})
}

func TestPositionDistance(t *testing.T) {
	t.Parallel()
	a := sampleAt(0, 0, 0, 0)
	b := sampleAt(0, 3, 4, 0)
	test.That(t, b.PositionDistance(&a), test.ShouldAlmostEqual, 5)

	short := sampleAt(0, 3)
	test.That(t, b.PositionDistance(&short), test.ShouldAlmostEqual, 4)
}
