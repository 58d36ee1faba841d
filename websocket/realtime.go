package websocket

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/featureflag"
	"github.com/aukilabs/ingwaz/geo"
	ingwazhttp "github.com/aukilabs/ingwaz/http"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/models"
	"github.com/aukilabs/ingwaz/modules"
	"github.com/aukilabs/ingwaz/quadtree"
	"github.com/aukilabs/ingwaz/report"
	"github.com/aukilabs/ingwaz/wire"
	"golang.org/x/net/websocket"
)

const customMessageMaxSize = 10240

// RealtimeHandler represents a service that manages multiple client
// connections and relays their actions in realtime.
type RealtimeHandler struct {
	// The interval between each sync clock message sent to the connected
	// client.
	ClientSyncClockInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The duration of a frame.
	FrameDuration time.Duration

	// The domain bounds of per-session spatial indexes.
	IndexDomain geo.Rect

	// The leaf capacity of per-session spatial indexes.
	IndexCapacity int

	// The store that contains all the server sessions.
	Sessions *models.SessionStore

	// The modules that expand Ingwaz features.
	Modules []modules.Module

	FeatureFlags featureflag.FeatureFlag

	// The wallet key that signs latency stats.
	PrivateKey *ecdsa.PrivateKey

	// channel for sending session usage reports to the report handler
	// goroutine
	ReportChan chan report.SessionUsageReport

	conn               *websocket.Conn
	currentSession     *models.Session
	currentParticipant *models.Participant

	signedLatency models.SignedLatency

	stopFrameHandling func()

	clientID string
	appKey   string
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()
	h.clientID = req.Header.Get(ingwazhttp.HeaderClientID)
	h.appKey = ingwazhttp.GetAppKeyFromUserToken(ingwazhttp.GetUserTokenFromHTTPRequest(req))

	h.conn = conn
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.PingRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	respond.Send(&messages.PingResponse{
		Type:      messages.MsgTypePingResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
	})
	return nil
}

func (h *RealtimeHandler) HandlePingResponse(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var res messages.PingResponse
	if err := msg.DataTo(&res); err != nil {
		return err
	}

	// Ping responses only matter while a signed latency measurement is
	// running.
	if h.signedLatency.Done() {
		return nil
	}

	return h.signedLatency.OnPing(res.RequestID)
}

func (h *RealtimeHandler) HandleSignedLatency(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.SignedLatencyRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := h.currentSession
	if session == nil || h.currentParticipant == nil {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeUnauthorized,
		})
		return nil
	}

	if req.Iteration <= 1 || req.Iteration >= 100 || req.WalletAddress == "" {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeBadRequest,
		})
		return nil
	}

	h.signedLatency.Start(h.PrivateKey, respond,
		req.RequestID,
		req.Iteration,
		h.Sessions.GlobalSessionID(session.ID),
		h.clientID,
		req.WalletAddress,
	)
	return nil
}

func (h *RealtimeHandler) HandleParticipantJoin(ctx context.Context, handleFrame func(), respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.ParticipantJoinRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.currentSession != nil && h.Sessions.GlobalSessionID(h.currentSession.ID) == req.SessionID {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeSessionAlreadyJoined,
		})
		return nil
	}

	if h.currentParticipant != nil {
		h.leaveSession()
	}

	session, ok := h.Sessions.GetByGlobalID(req.SessionID)
	if !ok && req.SessionID != "" {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeNotFound,
		})
		return nil
	}

	if !ok {
		var err error
		session, err = models.NewSession(h.Sessions.NewID(), h.FrameDuration, h.IndexDomain, h.IndexCapacity)
		if err != nil {
			respond.Send(&messages.ErrorResponse{
				Type:      messages.MsgTypeErrorResponse,
				Timestamp: time.Now(),
				RequestID: req.RequestID,
				Code:      messages.ErrorCodeInternalServerError,
			})
			return nil
		}
		session.AppKey = h.appKey

		if err := h.Sessions.Add(ctx, session); err != nil {
			respond.Send(&messages.ErrorResponse{
				Type:      messages.MsgTypeErrorResponse,
				Timestamp: time.Now(),
				RequestID: req.RequestID,
				Code:      messages.ErrorCodeInternalServerError,
			})
			return nil
		}
		go session.StartDispatchFrames()
	}

	participant := &models.Participant{
		ID:        session.NewParticipantID(),
		Identity:  h.clientID,
		Responder: respond,
	}

	session.AddParticipant(participant)
	h.stopFrameHandling = session.HandleFrame(handleFrame)

	respond.Send(&messages.ParticipantJoinResponse{
		Type:          messages.MsgTypeParticipantJoinResponse,
		Timestamp:     time.Now(),
		RequestID:     req.RequestID,
		SessionID:     h.Sessions.GlobalSessionID(session.ID),
		SessionUUID:   session.SessionUUID,
		ParticipantID: participant.ID,
	})

	h.currentSession = session
	h.currentParticipant = participant

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableSessionState, func() {
		state := session.GetCurrentSessionState()
		respond.Send(&state)
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableParticipantJoinBroadcast, func() {
		session.Broadcast(participant, &messages.ParticipantJoinBroadcast{
			Type:            messages.MsgTypeParticipantJoinBroadcast,
			Timestamp:       time.Now(),
			OriginTimestamp: req.Timestamp,
			ParticipantID:   participant.ID,
		})
	})

	for _, m := range h.Modules {
		m.Init(session, participant)
	}

	return nil
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.currentParticipant != nil {
		h.leaveSession()
	}
}

func (h *RealtimeHandler) HandleEntityAdd(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.EntityAddRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	entity := &models.Entity{
		ID:            session.NewEntityID(),
		ParticipantID: participant.ID,
		Persist:       req.Persist,
	}
	entity.SetPose(models.PoseFromMessage(req.Pose))

	if err := session.AddEntity(entity); err != nil {
		code := messages.ErrorCodeInternalServerError
		switch {
		case errors.IsType(err, quadtree.ErrTypeDuplicateKey):
			code = messages.ErrorCodeConflict

		case errors.IsType(err, quadtree.ErrTypeOutOfBounds):
			code = messages.ErrorCodeOutOfBounds
		}

		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      code,
		})
		return nil
	}
	participant.AddEntity(entity)

	now := time.Now()

	respond.Send(&messages.EntityAddResponse{
		Type:      messages.MsgTypeEntityAddResponse,
		Timestamp: now,
		RequestID: req.RequestID,
		EntityID:  entity.ID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityAddBroadcast, func() {
		session.Broadcast(participant, &messages.EntityAddBroadcast{
			Type:            messages.MsgTypeEntityAddBroadcast,
			Timestamp:       now,
			OriginTimestamp: req.Timestamp,
			Entity:          entity.ToMessage(),
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleEntityDelete(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req messages.EntityDeleteRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	entity, ok := session.EntityByID(req.EntityID)
	if !ok {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeNotFound,
		})
		return nil
	}

	if !participant.HasEntity(entity.ID) {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
			Code:      messages.ErrorCodeUnauthorized,
		})
		return nil
	}

	now := time.Now()

	session.RemoveEntity(entity)
	participant.RemoveEntity(entity)

	respond.Send(&messages.EntityDeleteResponse{
		Type:      messages.MsgTypeEntityDeleteResponse,
		Timestamp: now,
		RequestID: req.RequestID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityDeleteBroadcast, func() {
		session.Broadcast(participant, &messages.EntityDeleteBroadcast{
			Type:            messages.MsgTypeEntityDeleteBroadcast,
			Timestamp:       now,
			OriginTimestamp: req.Timestamp,
			EntityID:        entity.ID,
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleEntityMove(ctx context.Context, msg wire.Msg) error {
	var move messages.EntityMove
	if err := msg.DataTo(&move); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	entity, ok := session.EntityByID(move.EntityID)
	if !ok {
		return nil
	}

	if !participant.HasEntity(entity.ID) {
		return nil
	}

	// Moves are fire and forget. A move to an occupied or out of domain
	// position is dropped, the entity stays where it was.
	if err := session.MoveEntity(entity, models.PoseFromMessage(move.Pose)); err != nil {
		return nil
	}

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityMoveBroadcast, func() {
		session.Broadcast(participant, &messages.EntityMoveBroadcast{
			Type:            messages.MsgTypeEntityMoveBroadcast,
			Timestamp:       time.Now(),
			OriginTimestamp: move.Timestamp,
			EntityID:        entity.ID,
			Pose:            entity.Pose().ToMessage(),
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleCustomMessage(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var customMessage messages.CustomMessage
	if err := msg.DataTo(&customMessage); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	if len(customMessage.Data) > customMessageMaxSize {
		respond.Send(&messages.ErrorResponse{
			Type:      messages.MsgTypeErrorResponse,
			Timestamp: time.Now(),
			Code:      messages.ErrorCodeTooLarge,
		})
		return nil
	}

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableCustomMessageBroadcast, func() {
		customMessageBroadcast := messages.CustomMessageBroadcast{
			Type:            messages.MsgTypeCustomMessageBroadcast,
			Timestamp:       time.Now(),
			OriginTimestamp: customMessage.Timestamp,
			ParticipantID:   participant.ID,
			Data:            customMessage.Data,
		}

		if len(customMessage.RecipientIDs) != 0 {
			session.BroadcastTo(participant, &customMessageBroadcast, customMessage.RecipientIDs...)
			return
		}

		session.Broadcast(participant, &customMessageBroadcast)
	})
	return nil
}

func (h *RealtimeHandler) HandleWithModule(ctx context.Context, m modules.Module, respond wire.ResponseSender, msg wire.Msg) error {
	if h.CurrentParticipant() == nil || h.CurrentSession() == nil {
		return nil
	}

	err := m.HandleMsg(ctx, respond, msg)
	if errors.IsType(err, wire.ErrTypeMsgSkip) {
		return nil
	}
	if err != nil {
		return errors.New("handling message with module failed").
			WithTag("module", m.Name()).
			Wrap(err)
	}
	return nil
}

func (h *RealtimeHandler) SendSyncClock(ctx context.Context, respond wire.ResponseSender) error {
	respond.Send(&messages.SyncClock{
		Type:      messages.MsgTypeSyncClock,
		Timestamp: time.Now(),
	})
	return nil
}

func (h *RealtimeHandler) Receiver() wire.Receiver {
	return func() (wire.Msg, int, error) {
		return wire.Receive(h.conn)
	}
}

func (h *RealtimeHandler) Sender() wire.Sender {
	return func(msg wire.Msg) (int, error) {
		return wire.Send(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) SyncClockInterval() time.Duration {
	return h.ClientSyncClockInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetSessions() *models.SessionStore {
	return h.Sessions
}

func (h *RealtimeHandler) GetModules() []modules.Module {
	return h.Modules
}

func (h *RealtimeHandler) CurrentSession() *models.Session {
	return h.currentSession
}

func (h *RealtimeHandler) CurrentParticipant() *models.Participant {
	return h.currentParticipant
}

func (h *RealtimeHandler) leaveSession() {
	session := h.currentSession
	participant := h.currentParticipant

	if participant == nil || session == nil {
		return
	}

	for _, m := range h.Modules {
		m.HandleDisconnect()
	}

	now := time.Now()

	for id := range participant.EntityIDs() {
		entity, ok := session.EntityByID(id)
		if !ok || entity.Persist {
			continue
		}

		session.RemoveEntity(entity)

		h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityDeleteBroadcast, func() {
			session.Broadcast(participant, &messages.EntityDeleteBroadcast{
				Type:            messages.MsgTypeEntityDeleteBroadcast,
				Timestamp:       now,
				OriginTimestamp: now,
				EntityID:        entity.ID,
			})
		})
	}

	if h.stopFrameHandling != nil {
		h.stopFrameHandling()
	}
	session.RemoveParticipant(participant)

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableParticipantLeaveBroadcast, func() {
		session.Broadcast(participant, &messages.ParticipantLeaveBroadcast{
			Type:            messages.MsgTypeParticipantLeaveBroadcast,
			Timestamp:       now,
			OriginTimestamp: now,
			ParticipantID:   participant.ID,
		})
	})

	if session.ParticipantCount() == 0 {
		h.FeatureFlags.IfNotSet(featureflag.FlagDisableSessionReports, func() {
			h.queueSessionReport(session)
		})

		// Here we use a context.Background to ensure the session to be
		// deleted even when the connection context is gone.
		h.Sessions.Remove(context.Background(), session)
		session.Close()
	}

	h.currentParticipant = nil
	h.currentSession = nil
}

// queueSessionReport hands the closing session's usage summary to the
// report handler goroutine. A full report channel drops the report
// rather than stall the disconnecting client.
func (h *RealtimeHandler) queueSessionReport(session *models.Session) {
	if h.ReportChan == nil {
		return
	}

	usage := session.Usage()

	select {
	case h.ReportChan <- report.SessionUsageReport{
		SessionID:        h.Sessions.GlobalSessionID(session.ID),
		SessionUUID:      usage.SessionUUID,
		AppKey:           usage.AppKey,
		StartedAt:        usage.StartedAt,
		EndedAt:          usage.StartedAt.Add(usage.Duration),
		PeakParticipants: usage.PeakParticipants,
		PeakEntities:     usage.PeakEntities,
		PeakIndexNodes:   usage.PeakNodes,
	}:
	default:
	}
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}
