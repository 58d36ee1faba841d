package models

import (
	"sync"

	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/wire"
)

// A session participant. Identity carries the client id presented at
// connect time.
type Participant struct {
	ID        uint32
	Identity  string
	Responder wire.ResponseSender

	mutex     sync.Mutex
	entityIDs map[uint32]struct{}
}

func (p *Participant) AddEntity(e *Entity) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.entityIDs == nil {
		p.entityIDs = make(map[uint32]struct{})
	}
	p.entityIDs[e.ID] = struct{}{}
}

func (p *Participant) RemoveEntity(e *Entity) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.entityIDs, e.ID)
}

// HasEntity reports whether the participant owns the entity with the
// given id.
func (p *Participant) HasEntity(id uint32) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	_, ok := p.entityIDs[id]
	return ok
}

func (p *Participant) EntityIDs() map[uint32]struct{} {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ids := make(map[uint32]struct{}, len(p.entityIDs))
	for id := range p.entityIDs {
		ids[id] = struct{}{}
	}
	return ids
}

func (p *Participant) ToMessage() messages.Participant {
	return messages.Participant{
		ID: p.ID,
	}
}

func ParticipantsToMessages(participants []*Participant) []messages.Participant {
	res := make([]messages.Participant, len(participants))
	for i, p := range participants {
		res[i] = p.ToMessage()
	}
	return res
}
