package motion

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/stableseg/stableseg/logging"
)

func TestSteadinessBoundary(t *testing.T) {
	t.Parallel()
	clk := clock.NewMock()
	gate := NewSteadinessGate(time.Second, clk, logging.NewTestLogger(t))
	state := &State{LastMovedTime: clk.Now()}

	clk.Add(time.Second - time.Millisecond)
	test.That(t, gate.IsSteady(state), test.ShouldBeFalse)

	// exactly the wait interval is not enough
	clk.Add(time.Millisecond)
	test.That(t, gate.IsSteady(state), test.ShouldBeFalse)
	test.That(t, state.LastSteadyTime.IsZero(), test.ShouldBeTrue)

	clk.Add(time.Millisecond)
	test.That(t, gate.IsSteady(state), test.ShouldBeTrue)
	test.That(t, state.LastSteadyTime, test.ShouldEqual, clk.Now())
}

func TestSteadinessResetsOnMotion(t *testing.T) {
	t.Parallel()
	clk := clock.NewMock()
	gate := NewSteadinessGate(500*time.Millisecond, clk, logging.NewTestLogger(t))
	state := &State{LastMovedTime: clk.Now()}

	clk.Add(time.Second)
	test.That(t, gate.IsSteady(state), test.ShouldBeTrue)
	steadyAt := state.LastSteadyTime

	state.Moving = true
	state.LastMovedTime = clk.Now()
	clk.Add(time.Second)
	test.That(t, gate.IsSteady(state), test.ShouldBeFalse)
	test.That(t, state.LastSteadyTime, test.ShouldEqual, steadyAt)

	state.Moving = false
	test.That(t, gate.IsSteady(state), test.ShouldBeTrue)
}
