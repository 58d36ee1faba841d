// Package messages defines the JSON message schema spoken between
// Ingwaz servers and their clients. Every message carries its MsgType
// and a timestamp; requests and responses are correlated by request id.
package messages

import "time"

// MsgType identifies a wire message. Core server messages live below
// 100; module messages use the ranges reserved by their module.
type MsgType uint32

const (
	MsgTypeUnspecified MsgType = iota
	MsgTypeErrorResponse
	MsgTypeSyncClock
	MsgTypePingRequest
	MsgTypePingResponse
	MsgTypeSessionState
	MsgTypeParticipantJoinRequest
	MsgTypeParticipantJoinResponse
	MsgTypeParticipantJoinBroadcast
	MsgTypeParticipantLeaveBroadcast
	MsgTypeEntityAddRequest
	MsgTypeEntityAddResponse
	MsgTypeEntityAddBroadcast
	MsgTypeEntityDeleteRequest
	MsgTypeEntityDeleteResponse
	MsgTypeEntityDeleteBroadcast
	MsgTypeEntityMove
	MsgTypeEntityMoveBroadcast
	MsgTypeCustomMessage
	MsgTypeCustomMessageBroadcast
	MsgTypeSignedLatencyRequest
	MsgTypeSignedLatencyResponse
)

var msgTypeNames = map[MsgType]string{
	MsgTypeUnspecified:               "UNSPECIFIED",
	MsgTypeErrorResponse:             "ERROR_RESPONSE",
	MsgTypeSyncClock:                 "SYNC_CLOCK",
	MsgTypePingRequest:               "PING_REQUEST",
	MsgTypePingResponse:              "PING_RESPONSE",
	MsgTypeSessionState:              "SESSION_STATE",
	MsgTypeParticipantJoinRequest:    "PARTICIPANT_JOIN_REQUEST",
	MsgTypeParticipantJoinResponse:   "PARTICIPANT_JOIN_RESPONSE",
	MsgTypeParticipantJoinBroadcast:  "PARTICIPANT_JOIN_BROADCAST",
	MsgTypeParticipantLeaveBroadcast: "PARTICIPANT_LEAVE_BROADCAST",
	MsgTypeEntityAddRequest:          "ENTITY_ADD_REQUEST",
	MsgTypeEntityAddResponse:         "ENTITY_ADD_RESPONSE",
	MsgTypeEntityAddBroadcast:        "ENTITY_ADD_BROADCAST",
	MsgTypeEntityDeleteRequest:       "ENTITY_DELETE_REQUEST",
	MsgTypeEntityDeleteResponse:      "ENTITY_DELETE_RESPONSE",
	MsgTypeEntityDeleteBroadcast:     "ENTITY_DELETE_BROADCAST",
	MsgTypeEntityMove:                "ENTITY_MOVE",
	MsgTypeEntityMoveBroadcast:       "ENTITY_MOVE_BROADCAST",
	MsgTypeCustomMessage:             "CUSTOM_MESSAGE",
	MsgTypeCustomMessageBroadcast:    "CUSTOM_MESSAGE_BROADCAST",
	MsgTypeSignedLatencyRequest:      "SIGNED_LATENCY_REQUEST",
	MsgTypeSignedLatencyResponse:     "SIGNED_LATENCY_RESPONSE",
}

func (t MsgType) String() string {
	if s, ok := msgTypeNames[t]; ok {
		return s
	}
	if s, ok := leitaMsgTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// ErrorCode qualifies an ErrorResponse.
type ErrorCode uint32

const (
	ErrorCodeUnspecified ErrorCode = iota
	ErrorCodeBadRequest
	ErrorCodeUnauthorized
	ErrorCodeNotFound
	ErrorCodeConflict
	ErrorCodeOutOfBounds
	ErrorCodeSessionAlreadyJoined
	ErrorCodeTooLarge
	ErrorCodeInternalServerError
	ErrorCodeServerTooBusy
)

type ErrorResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	Code      ErrorCode `json:"code"`
}

// SyncClock carries the server time, sent periodically so clients can
// offset their clocks.
type SyncClock struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type PingRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
}

type PingResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
}

// Pose is a 2D position with a heading in radians. The position is the
// entity's key in the session's spatial index.
type Pose struct {
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	Heading float32 `json:"heading"`
}

// Rect is the wire form of an axis-aligned rectangle, anchored top-left
// with exclusive right/bottom edges.
type Rect struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

type Participant struct {
	ID uint32 `json:"id"`
}

type Entity struct {
	ID            uint32 `json:"id"`
	ParticipantID uint32 `json:"participant_id"`
	Persist       bool   `json:"persist,omitempty"`
	Pose          Pose   `json:"pose"`
}

// SessionState snapshots a session for a joining participant. It is
// sent right after a successful join response.
type SessionState struct {
	Type         MsgType       `json:"type"`
	Timestamp    time.Time     `json:"timestamp"`
	Participants []Participant `json:"participants"`
	Entities     []Entity      `json:"entities"`
}

type ParticipantJoinRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	// SessionID selects the session to join; empty creates a new one.
	SessionID string `json:"session_id,omitempty"`
}

type ParticipantJoinResponse struct {
	Type          MsgType   `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     uint32    `json:"request_id"`
	SessionID     string    `json:"session_id"`
	SessionUUID   string    `json:"session_uuid"`
	ParticipantID uint32    `json:"participant_id"`
}

type ParticipantJoinBroadcast struct {
	Type            MsgType   `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	OriginTimestamp time.Time `json:"origin_timestamp"`
	ParticipantID   uint32    `json:"participant_id"`
}

type ParticipantLeaveBroadcast struct {
	Type            MsgType   `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	OriginTimestamp time.Time `json:"origin_timestamp"`
	ParticipantID   uint32    `json:"participant_id"`
}

type EntityAddRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	Pose      Pose      `json:"pose"`
	Persist   bool      `json:"persist,omitempty"`
}

type EntityAddResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	EntityID  uint32    `json:"entity_id"`
}

type EntityAddBroadcast struct {
	Type            MsgType   `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	OriginTimestamp time.Time `json:"origin_timestamp"`
	Entity          Entity    `json:"entity"`
}

type EntityDeleteRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	EntityID  uint32    `json:"entity_id"`
}

type EntityDeleteResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
}

type EntityDeleteBroadcast struct {
	Type            MsgType   `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	OriginTimestamp time.Time `json:"origin_timestamp"`
	EntityID        uint32    `json:"entity_id"`
}

// EntityMove is a fire-and-forget pose update; delivery is only
// acknowledged through the resulting broadcast.
type EntityMove struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	EntityID  uint32    `json:"entity_id"`
	Pose      Pose      `json:"pose"`
}

type EntityMoveBroadcast struct {
	Type            MsgType   `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	OriginTimestamp time.Time `json:"origin_timestamp"`
	EntityID        uint32    `json:"entity_id"`
	Pose            Pose      `json:"pose"`
}

type CustomMessage struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	// RecipientIDs limits delivery to the given participants; empty
	// reaches the whole session.
	RecipientIDs []uint32 `json:"recipient_ids,omitempty"`
	Data         []byte   `json:"data"`
}

type CustomMessageBroadcast struct {
	Type            MsgType   `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	OriginTimestamp time.Time `json:"origin_timestamp"`
	ParticipantID   uint32    `json:"participant_id"`
	Data            []byte    `json:"data"`
}

type SignedLatencyRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	// Iteration is the number of ping round trips to measure.
	Iteration     uint32 `json:"iteration"`
	WalletAddress string `json:"wallet_address"`
}

type SignedLatencyResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	// Data is the JSON-encoded LatencyStats covered by Signature.
	Data      []byte `json:"data"`
	Signature string `json:"signature"`
}

// LatencyStats is the signed payload of a SignedLatencyResponse.
type LatencyStats struct {
	CreatedAt     time.Time `json:"created_at"`
	Min           float64   `json:"min"`
	Max           float64   `json:"max"`
	Mean          float64   `json:"mean"`
	P95           float64   `json:"p95"`
	Last          float64   `json:"last"`
	Iteration     uint32    `json:"iteration"`
	SessionID     string    `json:"session_id"`
	ClientID      string    `json:"client_id"`
	WalletAddress string    `json:"wallet_address"`
}
