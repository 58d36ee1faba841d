package models

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/ingwaz/geo"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/wire"
	"github.com/google/uuid"
)

// Session represents a shared space where participants position
// entities and communicate with each other. Entity positions live in
// the session's spatial index.
type Session struct {
	ID          uint32
	SessionUUID string

	AppKey string

	participantIDs   SequentialIDGenerator
	participantMutex sync.RWMutex
	participants     map[uint32]*Participant

	entityIDs   SequentialIDGenerator
	entityMutex sync.RWMutex
	entities    map[uint32]*Entity
	entityIndex *EntityIndex

	moduleStates map[string]any
	moduleMutex  sync.RWMutex

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()

	frameMutex sync.RWMutex

	createdAt         time.Time
	usageMutex        sync.Mutex
	peakParticipants  int
	peakEntities      int
	peakNodes         int
	instrumentedNodes int

	closeOnce sync.Once
}

func NewSession(id uint32, frameDuration time.Duration, domain geo.Rect, indexCapacity int) (*Session, error) {
	index, err := NewEntityIndex(domain, indexCapacity)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:             id,
		SessionUUID:    uuid.New().String(),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		participants:   make(map[uint32]*Participant),
		entities:       make(map[uint32]*Entity),
		entityIndex:    index,
		moduleStates:   make(map[string]any),
		frameHandlers:  make(map[uint32]func()),
		createdAt:      time.Now(),
	}, nil
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.instrumentNodes(0)
		s.closeFrameChan <- struct{}{}
	})
}

func (s *Session) NewParticipantID() uint32 {
	return s.participantIDs.New()
}

func (s *Session) AddParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	s.participants[p.ID] = p
	s.notePeaks(len(s.participants), -1, -1)
}

func (s *Session) RemoveParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	delete(s.participants, p.ID)
}

func (s *Session) GetParticipants() []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		participants = append(participants, p)
	}
	return participants
}

func (s *Session) GetParticipantsByIDs(ids ...uint32) []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(ids))
	for _, id := range ids {
		p, ok := s.participants[id]
		if ok {
			participants = append(participants, p)
		}
	}
	return participants
}

func (s *Session) ParticipantCount() int {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	return len(s.participants)
}

func (s *Session) NewEntityID() uint32 {
	return s.entityIDs.New()
}

// AddEntity stores the given entity and indexes it under its pose
// position. It fails when the position is outside the session domain or
// already occupied.
func (s *Session) AddEntity(e *Entity) error {
	if err := s.entityIndex.Add(e); err != nil {
		return err
	}

	s.entityMutex.Lock()
	s.entities[e.ID] = e
	entityCount := len(s.entities)
	s.entityMutex.Unlock()

	nodes := s.entityIndex.NodeCount()
	s.notePeaks(-1, entityCount, nodes)
	s.instrumentNodes(nodes)

	instrumentIncreaseEntityGauge(s.AppKey)
	return nil
}

func (s *Session) RemoveEntity(e *Entity) {
	s.entityMutex.Lock()
	if _, ok := s.entities[e.ID]; !ok {
		s.entityMutex.Unlock()
		return
	}
	delete(s.entities, e.ID)
	s.entityMutex.Unlock()

	s.entityIndex.Remove(e)
	s.instrumentNodes(s.entityIndex.NodeCount())

	instrumentDecreaseEntityGauge(s.AppKey)
}

func (s *Session) EntityByID(id uint32) (*Entity, bool) {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	e, ok := s.entities[id]
	return e, ok
}

func (s *Session) Entities() []*Entity {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	entities := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	return entities
}

// MoveEntity relocates the given entity to the given pose, updating its
// index key. The pose is left untouched when the relocation fails.
func (s *Session) MoveEntity(e *Entity, pose Pose) error {
	if err := s.entityIndex.MoveTo(e, pose); err != nil {
		return err
	}

	nodes := s.entityIndex.NodeCount()
	s.notePeaks(-1, -1, nodes)
	s.instrumentNodes(nodes)
	return nil
}

// EntitiesInRect returns the entities positioned within the given
// bounds.
func (s *Session) EntitiesInRect(bounds geo.Rect) []*Entity {
	return s.entityIndex.InRect(bounds)
}

// EntitiesInRadius returns the entities positioned within radius of
// center.
func (s *Session) EntitiesInRadius(center geo.Point, radius float32) []*Entity {
	return s.entityIndex.InRadius(center, radius)
}

func (s *Session) IndexStats() messages.IndexStats {
	return s.entityIndex.Stats()
}

func (s *Session) Domain() geo.Rect {
	return s.entityIndex.Bounds()
}

// GetCurrentSessionState snapshots the session's participants and
// entities for a joining participant.
func (s *Session) GetCurrentSessionState() messages.SessionState {
	return messages.SessionState{
		Type:         messages.MsgTypeSessionState,
		Timestamp:    time.Now(),
		Participants: ParticipantsToMessages(s.GetParticipants()),
		Entities:     EntitiesToMessages(s.Entities()),
	}
}

// instrumentNodes moves the per-app index node gauge by the change
// since the last call.
func (s *Session) instrumentNodes(nodes int) {
	s.usageMutex.Lock()
	delta := nodes - s.instrumentedNodes
	s.instrumentedNodes = nodes
	s.usageMutex.Unlock()

	if delta != 0 {
		instrumentAddIndexNodeGauge(s.AppKey, float64(delta))
	}
}

// notePeaks records the given high-water candidates. Negative values
// leave the corresponding peak untouched.
func (s *Session) notePeaks(participants, entities, nodes int) {
	s.usageMutex.Lock()
	defer s.usageMutex.Unlock()

	if participants > s.peakParticipants {
		s.peakParticipants = participants
	}
	if entities > s.peakEntities {
		s.peakEntities = entities
	}
	if nodes > s.peakNodes {
		s.peakNodes = nodes
	}
}

// SessionUsage summarizes a session's lifetime for usage reporting.
type SessionUsage struct {
	SessionUUID      string
	AppKey           string
	StartedAt        time.Time
	Duration         time.Duration
	PeakParticipants int
	PeakEntities     int
	PeakNodes        int
}

func (s *Session) Usage() SessionUsage {
	s.usageMutex.Lock()
	defer s.usageMutex.Unlock()

	return SessionUsage{
		SessionUUID:      s.SessionUUID,
		AppKey:           s.AppKey,
		StartedAt:        s.createdAt,
		Duration:         time.Since(s.createdAt),
		PeakParticipants: s.peakParticipants,
		PeakEntities:     s.peakEntities,
		PeakNodes:        s.peakNodes,
	}
}

func (s *Session) Broadcast(sender *Participant, v any) {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	msg, err := wire.MsgFromJSON(v)
	if err != nil {
		logs.WithTag("message", v).Debug(err)
		return
	}

	for _, p := range s.participants {
		if p == sender {
			continue
		}
		p.Responder.SendMsg(msg)
	}
}

func (s *Session) BroadcastTo(sender *Participant, v any, participantIDs ...uint32) {
	participants := s.GetParticipantsByIDs(participantIDs...)
	isParticipantHandled := make(map[uint32]struct{}, len(participantIDs))

	msg, err := wire.MsgFromJSON(v)
	if err != nil {
		logs.WithTag("message", v).Debug(err)
		return
	}

	for _, p := range participants {
		if p == sender {
			continue
		}

		if _, ok := isParticipantHandled[p.ID]; ok {
			continue
		}
		isParticipantHandled[p.ID] = struct{}{}

		p.Responder.SendMsg(msg)
	}
}

func (s *Session) SetModuleState(moduleName string, state any) {
	s.moduleMutex.Lock()
	defer s.moduleMutex.Unlock()

	s.moduleStates[moduleName] = state
}

func (s *Session) ModuleState(moduleName string) (any, bool) {
	s.moduleMutex.RLock()
	defer s.moduleMutex.RUnlock()

	state, ok := s.moduleStates[moduleName]
	return state, ok
}

func (s *Session) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

func (s *Session) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()
			}
		}
	})
}

type SessionStore struct {
	// The session discovery service where sessions are registered.
	DiscoveryService SessionDiscoveryService

	initOnce sync.Once
	mutex    sync.RWMutex
	sessions map[string]*Session
	ids      SequentialIDGenerator
}

func (s *SessionStore) init() {
	s.sessions = map[string]*Session{}

	if s.DiscoveryService == nil {
		s.DiscoveryService = defaultSessionDiscoveryService{}
	}
}

func (s *SessionStore) NewID() uint32 {
	return s.ids.New()
}

func (s *SessionStore) Add(ctx context.Context, session *Session) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[s.GlobalSessionID(session.ID)] = session

	instrumentIncreaseSessionGauge(session.AppKey)
	instrumentCountSession(session.AppKey)
	return nil
}

func (s *SessionStore) Remove(ctx context.Context, session *Session) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.sessions, s.GlobalSessionID(session.ID))
	session.Close()

	s.ids.Reuse(session.ID)

	instrumentDecreaseSessionGauge(session.AppKey)
}

func (s *SessionStore) GetByGlobalID(v string) (*Session, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[v]
	return session, ok
}

func (s *SessionStore) Len() int {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.sessions)
}

func (s *SessionStore) GlobalSessionID(sessionID uint32) string {
	return fmt.Sprintf("%sx%x", s.DiscoveryService.ServerID(), sessionID)
}

// SessionDiscoveryService is the interface to communicate with a
// session discovery service where servers register.
type SessionDiscoveryService interface {
	// Returns the id attributed to the current server.
	ServerID() string
}

type defaultSessionDiscoveryService struct{}

func (s defaultSessionDiscoveryService) ServerID() string {
	return "ing"
}
