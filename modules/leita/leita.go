// Package leita implements the spatial query module. It exposes the
// session's entity index to clients: one-shot region and radius
// queries, index statistics, and region watches that report entities
// entering or leaving a watched area at the end of each frame.
package leita

import (
	"context"
	"sort"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/featureflag"
	"github.com/aukilabs/ingwaz/geo"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/models"
	"github.com/aukilabs/ingwaz/wire"
)

type Module struct {
	FeatureFlags featureflag.FeatureFlag

	currentSession     *models.Session
	currentParticipant *models.Participant
	state              *State

	stopWatchDispatch func()
}

func (m *Module) Name() string {
	return "leita"
}

func (m *Module) Init(s *models.Session, p *models.Participant) {
	m.currentSession = s
	m.currentParticipant = p

	state, ok := s.ModuleState(m.Name())
	if !ok {
		state = &State{}
		s.SetModuleState(m.Name(), state)
	}
	m.state = state.(*State)
}

func (m *Module) HandleMsg(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var err error

	switch msg.Type {
	case messages.MsgTypeLeitaRegionQueryRequest:
		err = m.handleRegionQuery(ctx, respond, msg)

	case messages.MsgTypeLeitaRadiusQueryRequest:
		err = m.handleRadiusQuery(ctx, respond, msg)

	case messages.MsgTypeLeitaStatsRequest:
		err = m.handleStats(ctx, respond, msg)

	case messages.MsgTypeLeitaWatchRequest:
		err = m.handleWatch(ctx, respond, msg)

	case messages.MsgTypeLeitaWatchClearRequest:
		err = m.handleWatchClear(ctx, respond, msg)

	default:
		err = wire.ErrModuleMsgSkip
	}

	return err
}

func (m *Module) HandleDisconnect() {
	participant := m.currentParticipant
	if participant == nil {
		return
	}

	if m.stopWatchDispatch != nil {
		m.stopWatchDispatch()
		m.stopWatchDispatch = nil
	}

	count := m.state.WatchCount(participant.ID)
	if count != 0 {
		m.state.RemoveWatches(participant.ID)
		instrumentDecreaseWatchGauge(m.currentSession.AppKey, count)
	}
}

func (m *Module) handleRegionQuery(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.LeitaRegionQueryRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil || m.currentParticipant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	if req.Region.Width <= 0 || req.Region.Height <= 0 {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeBadRequest,
		})
		return nil
	}

	defer instrumentQuery(regionQueryKind, time.Now())
	entities := session.EntitiesInRect(rectFromMessage(req.Region))

	respond.Send(&messages.LeitaRegionQueryResponse{
		Type:      messages.MsgTypeLeitaRegionQueryResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
		Entities:  entitiesToSortedMessages(entities),
	})
	return nil
}

func (m *Module) handleRadiusQuery(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.LeitaRadiusQueryRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil || m.currentParticipant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	if req.Radius <= 0 {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeBadRequest,
		})
		return nil
	}

	defer instrumentQuery(radiusQueryKind, time.Now())
	entities := session.EntitiesInRadius(geo.NewPoint(req.Center.X, req.Center.Y), req.Radius)

	respond.Send(&messages.LeitaRadiusQueryResponse{
		Type:      messages.MsgTypeLeitaRadiusQueryResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
		Entities:  entitiesToSortedMessages(entities),
	})
	return nil
}

func (m *Module) handleStats(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.LeitaStatsRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil || m.currentParticipant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	defer instrumentQuery(statsQueryKind, time.Now())

	respond.Send(&messages.LeitaStatsResponse{
		Type:      messages.MsgTypeLeitaStatsResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
		Stats:     session.IndexStats(),
	})
	return nil
}

func (m *Module) handleWatch(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.LeitaWatchRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	participant := m.currentParticipant
	if session == nil || participant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	if req.Region.Width <= 0 || req.Region.Height <= 0 {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeBadRequest,
		})
		return nil
	}

	region := rectFromMessage(req.Region)

	// Entities already inside the region are not reported: a watch
	// streams boundary crossings from its registration on, the initial
	// content is one region query away.
	seen := make(map[uint32]*models.Entity)
	for _, e := range session.EntitiesInRect(region) {
		seen[e.ID] = e
	}

	w := &Watch{
		ID:     m.state.NewWatchID(),
		Region: region,
		seen:   seen,
	}
	m.state.SetWatch(participant.ID, w)
	instrumentIncreaseWatchGauge(session.AppKey)

	if m.stopWatchDispatch == nil {
		m.stopWatchDispatch = session.HandleFrame(m.dispatchWatchEvents)
	}

	respond.Send(&messages.LeitaWatchResponse{
		Type:      messages.MsgTypeLeitaWatchResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
		WatchID:   w.ID,
	})
	return nil
}

func (m *Module) handleWatchClear(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.LeitaWatchClearRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	participant := m.currentParticipant
	if session == nil || participant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	if req.WatchID == 0 {
		count := m.state.WatchCount(participant.ID)
		if count != 0 {
			m.state.RemoveWatches(participant.ID)
			instrumentDecreaseWatchGauge(session.AppKey, count)
		}
	} else {
		if _, ok := m.state.Watch(participant.ID, req.WatchID); !ok {
			respond.Send(&messages.ErrorResponse{
				Type:      messages.MsgTypeErrorResponse,
				Timestamp: time.Now(),
				RequestID: req.RequestID,
				Code:      messages.ErrorCodeNotFound,
			})
			return nil
		}
		m.state.RemoveWatch(participant.ID, req.WatchID)
		instrumentDecreaseWatchGauge(session.AppKey, 1)
	}

	if m.stopWatchDispatch != nil && m.state.WatchCount(participant.ID) == 0 {
		m.stopWatchDispatch()
		m.stopWatchDispatch = nil
	}

	respond.Send(&messages.LeitaWatchClearResponse{
		Type:      messages.MsgTypeLeitaWatchClearResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
	})
	return nil
}

// dispatchWatchEvents runs on the session frame goroutine. It diffs
// each of the participant's watched regions against the index and sends
// the boundary crossings to the watcher.
func (m *Module) dispatchWatchEvents() {
	watches := m.state.Watches(m.currentParticipant.ID)
	sort.Slice(watches, func(i, j int) bool {
		return watches[i].ID < watches[j].ID
	})

	var events []messages.LeitaWatchEvent
	for _, w := range watches {
		current := make(map[uint32]*models.Entity)
		for _, e := range m.currentSession.EntitiesInRect(w.Region) {
			current[e.ID] = e
		}

		var entered, left []*models.Entity
		for id, e := range current {
			if _, ok := w.seen[id]; !ok {
				entered = append(entered, e)
			}
		}
		for id, e := range w.seen {
			if _, ok := current[id]; !ok {
				left = append(left, e)
			}
		}
		w.seen = current

		sort.Slice(entered, func(i, j int) bool { return entered[i].ID < entered[j].ID })
		sort.Slice(left, func(i, j int) bool { return left[i].ID < left[j].ID })

		for _, e := range entered {
			events = append(events, messages.LeitaWatchEvent{
				WatchID: w.ID,
				Entity:  e.ToMessage(),
				Entered: true,
			})
		}
		for _, e := range left {
			events = append(events, messages.LeitaWatchEvent{
				WatchID: w.ID,
				Entity:  e.ToMessage(),
			})
		}
	}

	if len(events) == 0 {
		return
	}

	m.FeatureFlags.IfNotSet(featureflag.FlagDisableWatchEvents, func() {
		m.currentParticipant.Responder.Send(&messages.LeitaWatchEvents{
			Type:      messages.MsgTypeLeitaWatchEvents,
			Timestamp: time.Now(),
			Events:    events,
		})
	})
}

func rectFromMessage(r messages.Rect) geo.Rect {
	return geo.NewRect(r.Left, r.Top, r.Width, r.Height)
}

func entitiesToSortedMessages(entities []*models.Entity) []messages.Entity {
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID < entities[j].ID
	})
	return models.EntitiesToMessages(entities)
}
