package selection

import (
	"context"
	"math"

	"github.com/montanaflynn/stats"
)

// NoStableFrame is the index a StabilityScorer returns when no candidate is acceptable.
const NoStableFrame = -1

// StabilityScorer ranks buffered candidates and returns the index of the best one, or
// NoStableFrame.
type StabilityScorer interface {
	SelectBest(ctx context.Context, candidates []*CandidateFrame) int
}

// StabilityScorerFunc adapts a function to a StabilityScorer.
type StabilityScorerFunc func(ctx context.Context, candidates []*CandidateFrame) int

// SelectBest calls f.
func (f StabilityScorerFunc) SelectBest(ctx context.Context, candidates []*CandidateFrame) int {
	return f(ctx, candidates)
}

// DefaultMinValidFraction is the share of valid depth pixels a candidate needs to be scored.
const DefaultMinValidFraction = 0.5

// DepthStabilityScorer prefers the candidate whose depth deviates least from the per-pixel median
// of all candidates. Candidates with too few valid pixels, or with a different size than the first
// candidate, are never chosen.
type DepthStabilityScorer struct {
	MinValidFraction float64
}

// NewDepthStabilityScorer returns a scorer with DefaultMinValidFraction.
func NewDepthStabilityScorer() *DepthStabilityScorer {
	return &DepthStabilityScorer{MinValidFraction: DefaultMinValidFraction}
}

// SelectBest implements StabilityScorer.
func (s *DepthStabilityScorer) SelectBest(ctx context.Context, candidates []*CandidateFrame) int {
	if len(candidates) == 0 {
		return NoStableFrame
	}
	first := candidates[0].Frame.Depth
	width, height := first.Width(), first.Height()
	pixels := width * height
	if pixels == 0 {
		return NoStableFrame
	}

	eligible := make([]int, 0, len(candidates))
	for i, c := range candidates {
		dm := c.Frame.Depth
		if dm.Width() != width || dm.Height() != height {
			continue
		}
		if float64(dm.ValidCount())/float64(pixels) < s.MinValidFraction {
			continue
		}
		eligible = append(eligible, i)
	}
	if len(eligible) == 0 {
		return NoStableFrame
	}
	if len(eligible) == 1 {
		return eligible[0]
	}

	median := make([]float64, pixels)
	samples := make(stats.Float64Data, 0, len(eligible))
	for k := 0; k < pixels; k++ {
		if k%width == 0 && ctx.Err() != nil {
			return NoStableFrame
		}
		samples = samples[:0]
		for _, i := range eligible {
			if d := candidates[i].Frame.Depth.Data()[k]; d > 0 {
				samples = append(samples, float64(d))
			}
		}
		median[k] = 0
		if len(samples) > 0 {
			if m, err := samples.Median(); err == nil {
				median[k] = m
			}
		}
	}

	best, bestScore := NoStableFrame, math.Inf(1)
	for _, i := range eligible {
		deviations := make(stats.Float64Data, 0, pixels)
		for k, d := range candidates[i].Frame.Depth.Data() {
			if d > 0 && median[k] > 0 {
				deviations = append(deviations, math.Abs(float64(d)-median[k]))
			}
		}
		score, err := deviations.Mean()
		if err != nil {
			continue
		}
		if score < bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
