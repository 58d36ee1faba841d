package quadtree

import "github.com/aukilabs/ingwaz/geo"

// MaxLevel is the deepest subdivision level. It is dictated by the
// signature packing: 4 level bits plus two 14-bit grid coordinates fill
// the 32-bit word.
const MaxLevel = 14

const (
	levelBits = 4
	gridBits  = 14

	levelMask = 1<<levelBits - 1
	gridMask  = 1<<gridBits - 1

	rootSignature uint32 = 0
)

// signature packs a node address into a single 32-bit registry key:
// level in the low 4 bits, then the grid X and Y coordinates of the
// node's cell at that level.
func signature(level, gridX, gridY uint32) uint32 {
	return level | gridX<<levelBits | gridY<<(levelBits+gridBits)
}

// Node is one quadrant of the tree: a leaf holding point-keyed entries,
// or an internal node holding up to four children ordered top-left,
// top-right, bottom-left, bottom-right. data is non-nil exactly on
// leaves.
type Node[V comparable] struct {
	signature uint32
	bounds    geo.Rect
	center    geo.Point
	parent    *Node[V]
	children  [4]*Node[V]
	data      map[geo.Point]V
}

func (n *Node[V]) Signature() uint32 {
	return n.signature
}

func (n *Node[V]) Level() int {
	return int(n.signature & levelMask)
}

func (n *Node[V]) Bounds() geo.Rect {
	return n.bounds
}

func (n *Node[V]) Center() geo.Point {
	return n.center
}

// Parent returns the enclosing node, nil for the root.
func (n *Node[V]) Parent() *Node[V] {
	return n.parent
}

func (n *Node[V]) IsLeaf() bool {
	return n.data != nil
}

// Len returns the number of entries held by a leaf, 0 for internal
// nodes.
func (n *Node[V]) Len() int {
	return len(n.data)
}

// Child returns the child at the given quadrant index, nil if absent.
func (n *Node[V]) Child(i int) *Node[V] {
	return n.children[i]
}

func (n *Node[V]) gridX() uint32 {
	return n.signature >> levelBits & gridMask
}

func (n *Node[V]) gridY() uint32 {
	return n.signature >> (levelBits + gridBits) & gridMask
}

// quadrant returns the child index for a point: the sign of its offset
// from the node center picks the half on each axis, points exactly on a
// center line going right/bottom.
func (n *Node[V]) quadrant(p geo.Point) int {
	i := 0
	if p.X >= n.center.X {
		i |= 1
	}
	if p.Y >= n.center.Y {
		i |= 2
	}
	return i
}

// slot returns the index this node occupies in its parent's children,
// derived from the grid coordinate parity.
func (n *Node[V]) slot() int {
	return int(n.gridX()&1 | n.gridY()&1<<1)
}

func (n *Node[V]) hasChildren() bool {
	return n.children[0] != nil || n.children[1] != nil ||
		n.children[2] != nil || n.children[3] != nil
}

// childOrCreate returns the child of node at quadrant index i, creating
// and registering it as an empty leaf when absent.
func (t *Tree[V]) childOrCreate(node *Node[V], i int) *Node[V] {
	if c := node.children[i]; c != nil {
		return c
	}

	sig := signature(
		uint32(node.Level()+1),
		node.gridX()<<1|uint32(i&1),
		node.gridY()<<1|uint32(i>>1),
	)
	c := &Node[V]{
		signature: sig,
		bounds:    node.bounds.Quadrant(i),
		parent:    node,
		data:      make(map[geo.Point]V),
	}
	c.center = c.bounds.Center()

	node.children[i] = c
	t.nodes[sig] = c
	return c
}

// split redistributes a full leaf's entries into its quadrant children
// and turns the leaf into an internal node. Children overfilled by the
// redistribution are split again by the insert loop, not here.
func (t *Tree[V]) split(node *Node[V]) {
	for p, v := range node.data {
		c := t.childOrCreate(node, node.quadrant(p))
		c.data[p] = v
	}
	node.data = nil
}

// collapse unlinks an empty leaf from its parent and walks up the
// parent chain, dropping every ancestor left without children. The
// root is never unregistered: it reverts to an empty leaf instead.
func (t *Tree[V]) collapse(node *Node[V]) {
	for node.parent != nil {
		parent := node.parent
		parent.children[node.slot()] = nil
		node.parent = nil
		delete(t.nodes, node.signature)

		if parent.hasChildren() {
			return
		}
		node = parent
	}

	if node.data == nil {
		node.data = make(map[geo.Point]V)
	}
}

func (n *Node[V]) searchRect(query geo.Rect, out map[geo.Point]V) {
	if n.data != nil {
		for p, v := range n.data {
			if query.Contains(p) {
				out[p] = v
			}
		}
		return
	}
	for i, c := range n.children {
		if c != nil && n.quadrantIntersects(i, query) {
			c.searchRect(query, out)
		}
	}
}

func (n *Node[V]) searchCircle(square geo.Rect, center geo.Point, radius2 float32, out map[geo.Point]V) {
	if n.data != nil {
		for p, v := range n.data {
			if square.Contains(p) && p.Dist2(center) <= radius2 {
				out[p] = v
			}
		}
		return
	}
	for i, c := range n.children {
		if c != nil && n.quadrantIntersects(i, square) {
			c.searchCircle(square, center, radius2, out)
		}
	}
}

// quadrantIntersects reports whether the query rectangle reaches into
// quadrant i's half-planes relative to the node center.
func (n *Node[V]) quadrantIntersects(i int, query geo.Rect) bool {
	if i&1 == 0 {
		if query.Left >= n.center.X {
			return false
		}
	} else if query.Right() <= n.center.X {
		return false
	}
	if i&2 == 0 {
		return query.Top < n.center.Y
	}
	return query.Bottom() > n.center.Y
}
