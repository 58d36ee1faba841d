package quadtree

import (
	"math/bits"

	"github.com/aukilabs/ingwaz/geo"
)

// ProbeLevel fixes the depth probe: probing starts once the registry
// holds 4^ProbeLevel nodes, and a failed probe never retries below this
// level.
const ProbeLevel = 4

const probeThreshold = 1 << (2 * ProbeLevel)

// probeCache holds the grid parameters of the current probing level. It
// is recomputed only when the node count, shifted right by twice the
// probe level, crosses into another bucket, so repeated nearby lookups
// reuse the same cell math.
type probeCache struct {
	valid  bool
	bucket uint32
	level  uint32
	cells  uint32
	cellW  float32
	cellH  float32
}

func computeProbe(bounds geo.Rect, nodeCount uint32) probeCache {
	// log4(m) + ProbeLevel - 1, capped at the deepest level.
	level := uint32(bits.Len32(nodeCount)-1)/2 + ProbeLevel - 1
	if level > MaxLevel {
		level = MaxLevel
	}
	cells := uint32(1) << level
	return probeCache{
		valid:  true,
		bucket: nodeCount >> (2 * ProbeLevel),
		level:  level,
		cells:  cells,
		cellW:  bounds.Width / float32(cells),
		cellH:  bounds.Height / float32(cells),
	}
}

// findNode returns the node addressing the given key: the leaf whose
// bounds hold it, or the deepest internal node missing the quadrant
// child that would. The caller guarantees the key lies in the closed
// tree bounds.
func (t *Tree[V]) findNode(key geo.Point) *Node[V] {
	node := t.probeStart(key)
	for node.data == nil {
		c := node.children[node.quadrant(key)]
		if c == nil {
			return node
		}
		node = c
	}
	return node
}

// probeStart picks the descent entry point. Small trees start at the
// root. Past the probe threshold, the key's grid cell near the expected
// tree depth is looked up directly by signature, backing off two levels
// per miss until the probe floor sends the search back to the root.
func (t *Tree[V]) probeStart(key geo.Point) *Node[V] {
	m := uint32(len(t.nodes))
	if m < probeThreshold {
		return t.root
	}
	if !t.probe.valid || m>>(2*ProbeLevel) != t.probe.bucket {
		t.probe = computeProbe(t.bounds, m)
	}

	gx := uint32((key.X - t.bounds.Left) / t.probe.cellW)
	gy := uint32((key.Y - t.bounds.Top) / t.probe.cellH)
	// Keys exactly on the outer right/bottom edge clamp into the last
	// cell.
	if gx == t.probe.cells {
		gx--
	}
	if gy == t.probe.cells {
		gy--
	}

	for level := t.probe.level; level >= ProbeLevel; level -= 2 {
		n, ok := t.nodes[signature(level, gx, gy)]
		if ok && n.bounds.Contains(key) {
			return n
		}
		gx >>= 2
		gy >>= 2
	}
	return t.root
}
