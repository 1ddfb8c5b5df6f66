package ros

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/stableseg/stableseg/spatialmath"
)

// DefaultTransformHistory is how far behind the newest sample of a link older samples are kept.
const DefaultTransformHistory = 10 * time.Second

type stampedPose struct {
	stamp time.Time
	pose  spatialmath.Pose
}

// edge is the transform from a child frame to its parent.
type edge struct {
	parent  string
	static  bool
	samples []stampedPose
}

func (e *edge) at(stamp time.Time, tolerance time.Duration) (spatialmath.Pose, bool) {
	if len(e.samples) == 0 {
		return nil, false
	}
	if e.static {
		return e.samples[len(e.samples)-1].pose, true
	}
	i := sort.Search(len(e.samples), func(i int) bool { return !e.samples[i].stamp.Before(stamp) })
	best := -1
	var bestDist time.Duration
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(e.samples) {
			continue
		}
		d := e.samples[j].stamp.Sub(stamp)
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = j, d
		}
	}
	if bestDist > tolerance {
		return nil, false
	}
	return e.samples[best].pose, true
}

// TransformBuffer stores stamped transforms between frames and resolves poses across chains of
// them. A lookup uses, for each link, the sample nearest to the requested time, and fails when that
// sample is further away than the tolerance. Static links match any time and keep only their latest
// sample; other links drop samples older than the history window.
type TransformBuffer struct {
	mu        sync.RWMutex
	tolerance time.Duration
	history   time.Duration
	edges     map[string]*edge
}

// NewTransformBuffer returns an empty buffer. The history window is DefaultTransformHistory or ten
// tolerances, whichever is longer.
func NewTransformBuffer(tolerance time.Duration) *TransformBuffer {
	return &TransformBuffer{
		tolerance: tolerance,
		history:   max(DefaultTransformHistory, 10*tolerance),
		edges:     map[string]*edge{},
	}
}

// Add records the pose of child in parent at stamp. A frame has one parent; a sample naming a new
// parent for a known child replaces the old link.
func (b *TransformBuffer) Add(parent, child string, stamp time.Time, pose spatialmath.Pose, static bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.edges[child]
	if !ok || e.parent != parent {
		e = &edge{parent: parent}
		b.edges[child] = e
	}
	e.static = static
	sample := stampedPose{stamp: stamp, pose: pose}
	i := sort.Search(len(e.samples), func(i int) bool { return e.samples[i].stamp.After(stamp) })
	e.samples = append(e.samples, stampedPose{})
	copy(e.samples[i+1:], e.samples[i:])
	e.samples[i] = sample
	e.prune(b.history)
}

func (e *edge) prune(history time.Duration) {
	keep := 0
	if e.static {
		keep = len(e.samples) - 1
	} else {
		cutoff := e.samples[len(e.samples)-1].stamp.Add(-history)
		keep = sort.Search(len(e.samples), func(i int) bool { return !e.samples[i].stamp.Before(cutoff) })
	}
	if keep > 0 {
		e.samples = append(e.samples[:0], e.samples[keep:]...)
	}
}

// AddMessage records every transform of msg.
func (b *TransformBuffer) AddMessage(msg *TFMessage, static bool) {
	for i := range msg.Data.Transforms {
		t := &msg.Data.Transforms[i]
		b.Add(t.Header.FrameID, t.ChildFrameID, t.Header.Stamp.Time(), t.Pose(), static)
	}
}

// toRoot returns the frames from frame up to its root, each with its pose in the root.
func (b *TransformBuffer) toRoot(frame string, stamp time.Time) (map[string]spatialmath.Pose, []string, error) {
	var chain []string
	var links []spatialmath.Pose
	seen := map[string]bool{}
	for cur := frame; ; {
		if seen[cur] {
			return nil, nil, errors.Errorf("transform cycle through %q", cur)
		}
		seen[cur] = true
		chain = append(chain, cur)
		e, ok := b.edges[cur]
		if !ok {
			break
		}
		pose, ok := e.at(stamp, b.tolerance)
		if !ok {
			// the chain is cut here; frames above cur are unreachable at stamp
			break
		}
		links = append(links, pose)
		cur = e.parent
	}

	// inRoot[f] is the pose of f in the last frame of chain
	inRoot := make(map[string]spatialmath.Pose, len(chain))
	acc := spatialmath.NewZeroPose()
	inRoot[chain[len(chain)-1]] = acc
	for i := len(links) - 1; i >= 0; i-- {
		acc = spatialmath.Compose(acc, links[i])
		inRoot[chain[i]] = acc
	}
	return inRoot, chain, nil
}

// LookupPose returns the pose of source in target at stamp.
func (b *TransformBuffer) LookupPose(ctx context.Context, target, source string, stamp time.Time) (spatialmath.Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	sourceInRoot, sourceChain, err := b.toRoot(source, stamp)
	if err != nil {
		return nil, err
	}
	targetInRoot, targetChain, err := b.toRoot(target, stamp)
	if err != nil {
		return nil, err
	}
	if sourceChain[len(sourceChain)-1] != targetChain[len(targetChain)-1] {
		return nil, spatialmath.NewLookupError(target, source, stamp)
	}
	return spatialmath.Compose(spatialmath.PoseInverse(targetInRoot[target]), sourceInRoot[source]), nil
}
