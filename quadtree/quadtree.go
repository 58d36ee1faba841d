// Package quadtree implements a point-region quadtree mapping 2D point
// keys to values, with bounded-capacity leaves, signature-keyed node
// addressing and a depth-probe accelerated point lookup.
package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/geo"
)

// DefaultCapacity is the leaf capacity used by New.
const DefaultCapacity = 8

// Keyed is an optional contract for stored values that carry their own
// key. When a value implements it, mutators verify the embedded key
// matches the point key the value is stored under.
type Keyed interface {
	PointKey() geo.Point
}

// Tree is a point-region quadtree over a fixed rectangular domain.
// Leaves hold up to a fixed number of entries before they split, except
// at MaxLevel where they grow unbounded. Every node is registered under
// its signature for O(1) addressing.
//
// A Tree is not safe for concurrent use. Callers serialize access
// externally.
type Tree[V comparable] struct {
	bounds   geo.Rect
	capacity int
	count    int
	nodes    map[uint32]*Node[V]
	root     *Node[V]
	probe    probeCache
}

// New returns a tree over the given bounds with DefaultCapacity.
func New[V comparable](bounds geo.Rect) (*Tree[V], error) {
	return NewWithCapacity[V](bounds, DefaultCapacity)
}

// NewWithCapacity returns a tree over the given bounds where leaves
// below MaxLevel hold at most capacity entries.
func NewWithCapacity[V comparable](bounds geo.Rect, capacity int) (*Tree[V], error) {
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return nil, errors.New("tree bounds must have a positive size").
			WithType(ErrTypeInvalidArgument).
			WithTag("width", bounds.Width).
			WithTag("height", bounds.Height)
	}
	if capacity <= 0 {
		return nil, errors.New("leaf capacity must be positive").
			WithType(ErrTypeInvalidArgument).
			WithTag("capacity", capacity)
	}

	t := &Tree[V]{
		bounds:   bounds,
		capacity: capacity,
	}
	t.reset()
	return t, nil
}

func (t *Tree[V]) reset() {
	root := &Node[V]{
		bounds: t.bounds,
		center: t.bounds.Center(),
		data:   make(map[geo.Point]V),
	}
	t.root = root
	t.nodes = map[uint32]*Node[V]{rootSignature: root}
	t.count = 0
	t.probe = probeCache{}
}

func (t *Tree[V]) Bounds() geo.Rect {
	return t.bounds
}

func (t *Tree[V]) Capacity() int {
	return t.capacity
}

// Len returns the number of stored key/value pairs.
func (t *Tree[V]) Len() int {
	return t.count
}

// NodeCount returns the number of registered nodes, the root included.
func (t *Tree[V]) NodeCount() int {
	return len(t.nodes)
}

func (t *Tree[V]) Root() *Node[V] {
	return t.root
}

// Add stores value under the given key. It fails when the key lies
// outside the tree bounds, is already stored, or the value's embedded
// key disagrees with it.
func (t *Tree[V]) Add(key geo.Point, value V) error {
	if !t.bounds.Contains(key) {
		return errors.New("key is outside the tree bounds").
			WithType(ErrTypeOutOfBounds).
			WithTag("key_x", key.X).
			WithTag("key_y", key.Y)
	}

	node := t.findNode(key)
	if node.data != nil {
		if _, ok := node.data[key]; ok {
			return errors.New("key is already stored").
				WithType(ErrTypeDuplicateKey).
				WithTag("key_x", key.X).
				WithTag("key_y", key.Y)
		}
	}
	if err := checkKeyed(key, value); err != nil {
		return err
	}

	t.insert(node, key, value)
	return nil
}

// Set stores value under the given key, replacing any value already
// stored there.
func (t *Tree[V]) Set(key geo.Point, value V) error {
	if !t.bounds.Contains(key) {
		return errors.New("key is outside the tree bounds").
			WithType(ErrTypeOutOfBounds).
			WithTag("key_x", key.X).
			WithTag("key_y", key.Y)
	}
	if err := checkKeyed(key, value); err != nil {
		return err
	}

	node := t.findNode(key)
	if node.data != nil {
		if _, ok := node.data[key]; ok {
			node.data[key] = value
			return nil
		}
	}

	t.insert(node, key, value)
	return nil
}

// insert places the pair at or below node, splitting full leaves on the
// way down. The loop is bounded by MaxLevel: a MaxLevel leaf accepts
// entries regardless of capacity.
func (t *Tree[V]) insert(node *Node[V], key geo.Point, value V) {
	for {
		if node.data != nil {
			if len(node.data) < t.capacity || node.Level() == MaxLevel {
				node.data[key] = value
				t.count++
				return
			}
			t.split(node)
		}
		node = t.childOrCreate(node, node.quadrant(key))
	}
}

// Get returns the value stored under the given key.
func (t *Tree[V]) Get(key geo.Point) (V, bool) {
	var zero V
	if !t.inDomain(key) {
		return zero, false
	}
	node := t.findNode(key)
	if node.data == nil {
		return zero, false
	}
	v, ok := node.data[key]
	return v, ok
}

func (t *Tree[V]) ContainsKey(key geo.Point) bool {
	_, ok := t.Get(key)
	return ok
}

// ContainsValue reports whether any key maps to the given value.
func (t *Tree[V]) ContainsValue(value V) bool {
	for _, n := range t.nodes {
		if n.data == nil {
			continue
		}
		for _, v := range n.data {
			if v == value {
				return true
			}
		}
	}
	return false
}

// Remove deletes the pair stored under the given key and reports
// whether it was present. Leaves emptied by the removal are collapsed.
func (t *Tree[V]) Remove(key geo.Point) bool {
	if !t.inDomain(key) {
		return false
	}
	node := t.findNode(key)
	if node.data == nil {
		return false
	}
	if _, ok := node.data[key]; !ok {
		return false
	}

	delete(node.data, key)
	t.count--
	if len(node.data) == 0 {
		t.collapse(node)
	}
	return true
}

// Move relocates the value stored under oldKey to newKey and returns
// the source leaf so callers can chain further relocations. A valid
// hint leaf skips the source lookup; when newKey falls within the
// source leaf's bounds the value is relocated in place without touching
// the structure. The returned leaf may have been emptied or unlinked by
// the relocation.
func (t *Tree[V]) Move(oldKey, newKey geo.Point, hint *Node[V]) (*Node[V], error) {
	src := hint
	if src != nil {
		if src.data == nil {
			src = nil
		} else if _, ok := src.data[oldKey]; !ok {
			src = nil
		}
	}
	if src == nil && t.inDomain(oldKey) {
		if n := t.findNode(oldKey); n.data != nil {
			if _, ok := n.data[oldKey]; ok {
				src = n
			}
		}
	}
	if src == nil {
		return nil, errors.New("key to move is not stored").
			WithType(ErrTypeKeyNotFound).
			WithTag("key_x", oldKey.X).
			WithTag("key_y", oldKey.Y)
	}

	value := src.data[oldKey]
	if newKey == oldKey {
		return src, nil
	}

	if src.bounds.Contains(newKey) {
		if _, ok := src.data[newKey]; ok {
			return nil, errors.New("destination key is already stored").
				WithType(ErrTypeDuplicateKey).
				WithTag("key_x", newKey.X).
				WithTag("key_y", newKey.Y)
		}
		if err := checkKeyed(newKey, value); err != nil {
			return nil, err
		}
		delete(src.data, oldKey)
		src.data[newKey] = value
		return src, nil
	}

	if !t.bounds.Contains(newKey) {
		return nil, errors.New("destination key is outside the tree bounds").
			WithType(ErrTypeOutOfBounds).
			WithTag("key_x", newKey.X).
			WithTag("key_y", newKey.Y)
	}
	if t.ContainsKey(newKey) {
		return nil, errors.New("destination key is already stored").
			WithType(ErrTypeDuplicateKey).
			WithTag("key_x", newKey.X).
			WithTag("key_y", newKey.Y)
	}
	if err := checkKeyed(newKey, value); err != nil {
		return nil, err
	}

	delete(src.data, oldKey)
	t.count--
	if len(src.data) == 0 {
		t.collapse(src)
	}
	t.insert(t.findNode(newKey), newKey, value)
	return src, nil
}

// FindRange returns the stored pairs whose key lies within the given
// rectangle. No ordering is guaranteed.
func (t *Tree[V]) FindRange(bounds geo.Rect) map[geo.Point]V {
	out := make(map[geo.Point]V)
	if !bounds.Intersects(t.bounds) {
		return out
	}
	t.root.searchRect(bounds, out)
	return out
}

// FindRadius returns the stored pairs whose key lies within radius of
// center. The search walks the circle's circumscribing square and
// filters by squared distance.
func (t *Tree[V]) FindRadius(center geo.Point, radius float32) map[geo.Point]V {
	out := make(map[geo.Point]V)
	square := geo.Rect{
		Left:   center.X - radius,
		Top:    center.Y - radius,
		Width:  radius * 2,
		Height: radius * 2,
	}
	if !square.Intersects(t.bounds) {
		return out
	}
	t.root.searchCircle(square, center, radius*radius, out)
	return out
}

// Each calls fn for every stored pair, in no particular order, until fn
// returns false.
func (t *Tree[V]) Each(fn func(key geo.Point, value V) bool) {
	for _, n := range t.nodes {
		if n.data == nil {
			continue
		}
		for p, v := range n.data {
			if !fn(p, v) {
				return
			}
		}
	}
}

// EachNode calls fn for every registered node, in no particular order,
// until fn returns false.
func (t *Tree[V]) EachNode(fn func(*Node[V]) bool) {
	for _, n := range t.nodes {
		if !fn(n) {
			return
		}
	}
}

// Clear removes all pairs and nodes, reverting the root to an empty
// leaf.
func (t *Tree[V]) Clear() {
	t.reset()
}

// inDomain reports whether key can address a probe grid cell. Unlike
// Contains it is closed on the right/bottom outer edges, so queries
// exactly on them still reach the probe's clamping path.
func (t *Tree[V]) inDomain(key geo.Point) bool {
	return key.X >= t.bounds.Left && key.X <= t.bounds.Right() &&
		key.Y >= t.bounds.Top && key.Y <= t.bounds.Bottom()
}

func checkKeyed[V comparable](key geo.Point, value V) error {
	k, ok := any(value).(Keyed)
	if !ok {
		return nil
	}
	if k.PointKey() != key {
		return errors.New("value embeds a key that differs from its point key").
			WithType(ErrTypeKeyMismatch).
			WithTag("key_x", key.X).
			WithTag("key_y", key.Y).
			WithTag("value_key_x", k.PointKey().X).
			WithTag("value_key_y", k.PointKey().Y)
	}
	return nil
}
