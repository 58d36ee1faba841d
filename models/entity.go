package models

import (
	"sync"

	"github.com/aukilabs/ingwaz/geo"
	"github.com/aukilabs/ingwaz/messages"
)

// Entity is an object positioned in a session. Its pose position is its
// key in the session's spatial index, which makes positions unique
// within a session.
type Entity struct {
	ID            uint32
	ParticipantID uint32
	Persist       bool

	mutex sync.RWMutex
	pose  Pose
}

func (e *Entity) SetPose(v Pose) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.pose = v
}

func (e *Entity) Pose() Pose {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.pose
}

// PointKey returns the entity's position, the key it is indexed under.
func (e *Entity) PointKey() geo.Point {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return geo.NewPoint(e.pose.X, e.pose.Y)
}

func (e *Entity) ToMessage() messages.Entity {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return messages.Entity{
		ID:            e.ID,
		ParticipantID: e.ParticipantID,
		Persist:       e.Persist,
		Pose:          e.pose.ToMessage(),
	}
}

func EntitiesToMessages(entities []*Entity) []messages.Entity {
	res := make([]messages.Entity, len(entities))
	for i, e := range entities {
		res[i] = e.ToMessage()
	}
	return res
}

// Pose is a 2D position with a heading in radians.
type Pose struct {
	X       float32
	Y       float32
	Heading float32
}

func (p Pose) ToMessage() messages.Pose {
	return messages.Pose{
		X:       p.X,
		Y:       p.Y,
		Heading: p.Heading,
	}
}

func PoseFromMessage(p messages.Pose) Pose {
	return Pose{
		X:       p.X,
		Y:       p.Y,
		Heading: p.Heading,
	}
}
