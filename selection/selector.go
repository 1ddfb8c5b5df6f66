package selection

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/stableseg/stableseg/logging"
)

// ErrNoStableFrame is returned by a selection round in which the scorer accepted no candidate.
var ErrNoStableFrame = errors.New("no stable frame among the buffered candidates")

// Selector owns the FrameBuffer and runs selection rounds with a StabilityScorer.
type Selector struct {
	buffer FrameBuffer
	scorer StabilityScorer
	logger logging.Logger

	noStableThrottle *logging.Throttle
}

// NewSelector returns a Selector using scorer.
func NewSelector(scorer StabilityScorer, logger logging.Logger) *Selector {
	return &Selector{
		scorer:           scorer,
		logger:           logger,
		noStableThrottle: logging.NewThrottle(time.Second),
	}
}

// Len returns the number of buffered candidates.
func (s *Selector) Len() int {
	return s.buffer.Len()
}

// CanBuffer reports whether another candidate fits.
func (s *Selector) CanBuffer() bool {
	return !s.buffer.Full()
}

// Buffer appends c. It reports false when the buffer is full.
func (s *Selector) Buffer(c CandidateFrame) bool {
	return s.buffer.Add(c)
}

// ShouldSelect reports whether a round is due: the robot moves again with more than one candidate
// buffered, or the buffer has filled up.
func (s *Selector) ShouldSelect(moving bool) bool {
	n := s.buffer.Len()
	return (n > 1 && moving) || n > MaxCandidates-1
}

// Select runs one round: the scorer picks a candidate, which is returned along with its index.
// The buffer is empty afterwards whatever the outcome. ErrNoStableFrame means the scorer rejected
// every candidate.
func (s *Selector) Select(ctx context.Context) (CandidateFrame, int, error) {
	ctx, span := trace.StartSpan(ctx, "selection::Selector::Select")
	defer span.End()

	idx := s.scorer.SelectBest(ctx, s.buffer.Candidates())
	if idx < 0 {
		s.buffer.Clear()
		s.noStableThrottle.Do(func() {
			s.logger.Error("no stable image")
		})
		return CandidateFrame{}, idx, ErrNoStableFrame
	}
	c, err := s.buffer.Take(idx)
	if err != nil {
		return CandidateFrame{}, idx, errors.Wrap(err, "scorer returned an invalid index")
	}
	return c, idx, nil
}

// Reset drops every buffered candidate.
func (s *Selector) Reset() {
	s.buffer.Clear()
}
