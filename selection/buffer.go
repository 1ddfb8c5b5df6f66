// Package selection buffers candidate frames while the robot is steady and picks the most stable
// one for segmentation.
package selection

import (
	"time"

	"github.com/pkg/errors"

	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/segmentation"
)

// MaxCandidates is the capacity of a FrameBuffer.
const MaxCandidates = 5

// CandidateFrame is one preprocessed snapshot awaiting selection.
type CandidateFrame struct {
	Frame     *rimage.PreprocessedFrame
	Instances *segmentation.SemanticInstanceSegmentation
	Stamp     time.Time
	FrameID   string
}

// FrameBuffer is a fixed arena of MaxCandidates slots. Frames are only appended; a selection
// round takes one and empties the rest.
type FrameBuffer struct {
	slots [MaxCandidates]CandidateFrame
	n     int
}

// Len returns the number of buffered candidates.
func (b *FrameBuffer) Len() int {
	return b.n
}

// Full reports whether no slot is free.
func (b *FrameBuffer) Full() bool {
	return b.n == MaxCandidates
}

// Add stores c in the next free slot. It reports false, leaving the buffer unchanged, when full.
func (b *FrameBuffer) Add(c CandidateFrame) bool {
	if b.Full() {
		return false
	}
	b.slots[b.n] = c
	b.n++
	return true
}

// Candidates returns pointers to the occupied slots in insertion order. They are only valid until
// the next Take or Clear.
func (b *FrameBuffer) Candidates() []*CandidateFrame {
	out := make([]*CandidateFrame, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = &b.slots[i]
	}
	return out
}

// Take returns the candidate in slot i and clears the buffer.
func (b *FrameBuffer) Take(i int) (CandidateFrame, error) {
	defer b.Clear()
	if i < 0 || i >= b.n {
		return CandidateFrame{}, errors.Errorf("candidate index %d out of range [0, %d)", i, b.n)
	}
	return b.slots[i], nil
}

// Clear empties every slot, dropping the frames they reference.
func (b *FrameBuffer) Clear() {
	for i := 0; i < b.n; i++ {
		b.slots[i] = CandidateFrame{}
	}
	b.n = 0
}
