package models

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/geo"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/quadtree"
)

// EntityIndex is a session's spatial index. It keys entities by their
// pose position and remembers the leaf returned by the last relocation
// of each entity so close moves skip the tree lookup. Its operations
// are safe for concurrent use.
type EntityIndex struct {
	mutex sync.RWMutex
	tree  *quadtree.Tree[*Entity]
	hints map[uint32]*quadtree.Node[*Entity]
}

func NewEntityIndex(domain geo.Rect, capacity int) (*EntityIndex, error) {
	tree, err := quadtree.NewWithCapacity[*Entity](domain, capacity)
	if err != nil {
		return nil, err
	}

	return &EntityIndex{
		tree:  tree,
		hints: make(map[uint32]*quadtree.Node[*Entity]),
	}, nil
}

// Add indexes the given entity under its current pose position.
func (x *EntityIndex) Add(e *Entity) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	return x.tree.Add(e.PointKey(), e)
}

// Remove drops the given entity from the index and reports whether it
// was indexed.
func (x *EntityIndex) Remove(e *Entity) bool {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	delete(x.hints, e.ID)
	return x.tree.Remove(e.PointKey())
}

// MoveTo relocates the given entity to the given pose, keeping its pose
// and its index key in sync. The pose is left untouched when the
// relocation fails.
func (x *EntityIndex) MoveTo(e *Entity, pose Pose) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	oldPose := e.Pose()
	oldKey := geo.NewPoint(oldPose.X, oldPose.Y)
	newKey := geo.NewPoint(pose.X, pose.Y)

	// The destination is checked before the pose is written so other
	// goroutines never observe a pose outside the domain.
	if !x.tree.Bounds().Contains(newKey) {
		return errors.New("pose is outside the session domain").
			WithType(quadtree.ErrTypeOutOfBounds).
			WithTag("key_x", newKey.X).
			WithTag("key_y", newKey.Y)
	}

	e.SetPose(pose)
	node, err := x.tree.Move(oldKey, newKey, x.hints[e.ID])
	if err != nil {
		e.SetPose(oldPose)
		return err
	}

	// A cross-leaf relocation invalidates the source leaf as a hint.
	if node != nil && node.IsLeaf() && node.Bounds().Contains(newKey) {
		x.hints[e.ID] = node
	} else {
		delete(x.hints, e.ID)
	}
	return nil
}

// InRect returns the entities positioned within the given bounds.
func (x *EntityIndex) InRect(bounds geo.Rect) []*Entity {
	x.mutex.RLock()
	defer x.mutex.RUnlock()

	found := x.tree.FindRange(bounds)

	entities := make([]*Entity, 0, len(found))
	for _, e := range found {
		entities = append(entities, e)
	}
	return entities
}

// InRadius returns the entities positioned within radius of center.
func (x *EntityIndex) InRadius(center geo.Point, radius float32) []*Entity {
	x.mutex.RLock()
	defer x.mutex.RUnlock()

	found := x.tree.FindRadius(center, radius)

	entities := make([]*Entity, 0, len(found))
	for _, e := range found {
		entities = append(entities, e)
	}
	return entities
}

func (x *EntityIndex) Len() int {
	x.mutex.RLock()
	defer x.mutex.RUnlock()

	return x.tree.Len()
}

func (x *EntityIndex) NodeCount() int {
	x.mutex.RLock()
	defer x.mutex.RUnlock()

	return x.tree.NodeCount()
}

func (x *EntityIndex) Bounds() geo.Rect {
	x.mutex.RLock()
	defer x.mutex.RUnlock()

	return x.tree.Bounds()
}

func (x *EntityIndex) Stats() messages.IndexStats {
	x.mutex.RLock()
	defer x.mutex.RUnlock()

	var maxDepth, leafCount uint32
	x.tree.EachNode(func(n *quadtree.Node[*Entity]) bool {
		if level := uint32(n.Level()); level > maxDepth {
			maxDepth = level
		}
		if n.IsLeaf() {
			leafCount++
		}
		return true
	})

	bounds := x.tree.Bounds()

	return messages.IndexStats{
		EntityCount: uint32(x.tree.Len()),
		NodeCount:   uint32(x.tree.NodeCount()),
		LeafCount:   leafCount,
		MaxDepth:    maxDepth,
		Capacity:    uint32(x.tree.Capacity()),
		Bounds: messages.Rect{
			Left:   bounds.Left,
			Top:    bounds.Top,
			Width:  bounds.Width,
			Height: bounds.Height,
		},
	}
}
