package websocket

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aukilabs/ingwaz/featureflag"
	"github.com/aukilabs/ingwaz/geo"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/models"
	"github.com/aukilabs/ingwaz/scenario"
	"github.com/aukilabs/ingwaz/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestHandlerSendSyncClock(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	err := scenario.NewScenario(clientA).
		Receive(scenario.FilterByType(messages.MsgTypeSyncClock), func(msg wire.Msg) error {
			var res messages.SyncClock
			err := msg.DataTo(&res)

			require.NoError(t, err)
			require.NotZero(t, msg.Time)
			return err
		}).
		Run(context.Background())
	require.NoError(t, err)
}

func TestHandlerHandlePing(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.PingRequest{
				Type:      messages.MsgTypePingRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypePingResponse),
			scenario.FilterByRequestID(1),
		).
		Run(context.Background())
	require.NoError(t, err)
}

func TestHandlerHandleSignedLatency(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
	defer cancel()

	var sessionID string
	var pingRequestID uint32

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse), func(msg wire.Msg) error {
			var res messages.ParticipantJoinResponse
			err := msg.DataTo(&res)
			require.NoError(t, err)

			sessionID = res.SessionID
			return err
		}).
		Send(func() any {
			return &messages.SignedLatencyRequest{
				Type:          messages.MsgTypeSignedLatencyRequest,
				Timestamp:     time.Now(),
				RequestID:     2,
				Iteration:     3,
				WalletAddress: "0x123456789",
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypePingRequest),
			func(msg wire.Msg) error {
				var res messages.PingRequest
				err := msg.DataTo(&res)
				require.NoError(t, err)
				pingRequestID = res.RequestID
				return err
			},
		).
		Send(func() any {
			time.Sleep(time.Millisecond * 3)
			return &messages.PingResponse{
				Type:      messages.MsgTypePingResponse,
				Timestamp: time.Now(),
				RequestID: pingRequestID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypePingRequest),
			func(msg wire.Msg) error {
				var res messages.PingRequest
				err := msg.DataTo(&res)
				require.NoError(t, err)
				pingRequestID = res.RequestID
				return err
			},
		).
		Send(func() any {
			time.Sleep(time.Millisecond)
			return &messages.PingResponse{
				Type:      messages.MsgTypePingResponse,
				Timestamp: time.Now(),
				RequestID: pingRequestID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypePingRequest),
			func(msg wire.Msg) error {
				var res messages.PingRequest
				err := msg.DataTo(&res)
				require.NoError(t, err)
				pingRequestID = res.RequestID
				return err
			},
		).
		Send(func() any {
			time.Sleep(time.Millisecond * 2)
			return &messages.PingResponse{
				Type:      messages.MsgTypePingResponse,
				Timestamp: time.Now(),
				RequestID: pingRequestID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeSignedLatencyResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.SignedLatencyResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				var stats messages.LatencyStats
				require.NoError(t, json.Unmarshal(res.Data, &stats))

				require.Equal(t, uint32(3), stats.Iteration)
				require.Equal(t, sessionID, stats.SessionID)
				require.NotEmpty(t, stats.ClientID)
				require.Equal(t, "0x123456789", stats.WalletAddress)

				require.Greater(t, stats.Min, float64(0))
				require.GreaterOrEqual(t, stats.Max, stats.Min)
				require.GreaterOrEqual(t, stats.Mean, stats.Min)
				require.LessOrEqual(t, stats.Mean, stats.Max)
				require.Greater(t, stats.Last, float64(0))

				publicKey, err := crypto.SigToPub(crypto.Keccak256Hash(res.Data).Bytes(), common.FromHex(res.Signature))
				require.NoError(t, err)

				addr := crypto.PubkeyToAddress(*publicKey).Hex()
				signerAddr := crypto.PubkeyToAddress(testPrivateKey.PublicKey).Hex()
				require.Equal(t, signerAddr, addr)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleSignedLatencyWithoutJoining(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.SignedLatencyRequest{
				Type:          messages.MsgTypeSignedLatencyRequest,
				Timestamp:     time.Now(),
				RequestID:     1,
				Iteration:     10,
				WalletAddress: "0x123456789",
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeUnauthorized, res.Code)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleSignedLatencyWithSmallIteration(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.SignedLatencyRequest{
				Type:          messages.MsgTypeSignedLatencyRequest,
				Timestamp:     time.Now(),
				RequestID:     2,
				Iteration:     1,
				WalletAddress: "0x123456789",
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeBadRequest, res.Code)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleSignedLatencyWithBigIteration(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.SignedLatencyRequest{
				Type:          messages.MsgTypeSignedLatencyRequest,
				Timestamp:     time.Now(),
				RequestID:     2,
				Iteration:     100,
				WalletAddress: "0x123456789",
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeBadRequest, res.Code)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleSignedLatencyWithoutWallet(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.SignedLatencyRequest{
				Type:      messages.MsgTypeSignedLatencyRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				Iteration: 10,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeBadRequest, res.Code)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleParticipantJoin(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string
	var participantAID uint32
	var participantBID uint32
	var entityAID uint32

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				require.NotEmpty(t, res.SessionID)
				require.NotEmpty(t, res.SessionUUID)
				require.NotZero(t, res.ParticipantID)

				sessionID = res.SessionID
				participantAID = res.ParticipantID
				return err
			}).
		Receive(
			scenario.FilterByType(messages.MsgTypeSessionState),
			func(msg wire.Msg) error {
				var res messages.SessionState
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				require.Len(t, res.Participants, 1)
				require.Equal(t, participantAID, res.Participants[0].ID)
				require.Empty(t, res.Entities)
				return err
			}).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				Pose:      messages.Pose{X: 7, Y: 7},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				entityAID = res.EntityID
				return err
			}).
		Run(ctx)
	require.NoError(t, err)

	joinBOriginTime := time.Now()

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: joinBOriginTime,
				RequestID: 3,
				SessionID: sessionID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(3),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, sessionID, res.SessionID)
				participantBID = res.ParticipantID
				return err
			}).
		Receive(
			scenario.FilterByType(messages.MsgTypeSessionState),
			func(msg wire.Msg) error {
				var res messages.SessionState
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				require.Len(t, res.Participants, 2)
				require.Len(t, res.Entities, 1)
				require.Equal(t, entityAID, res.Entities[0].ID)
				require.Equal(t, float32(7), res.Entities[0].Pose.X)
				require.Equal(t, float32(7), res.Entities[0].Pose.Y)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientA).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinBroadcast),
			func(msg wire.Msg) error {
				var bc messages.ParticipantJoinBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.NotZero(t, bc.Timestamp)
				require.True(t, joinBOriginTime.Equal(bc.OriginTimestamp))
				require.Equal(t, participantBID, bc.ParticipantID)
				return nil
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleParticipantJoinNotCreatedSession(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
				SessionID: "helloxsession",
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeNotFound, res.Code)
				return err
			},
		).
		Run(context.Background())
	require.NoError(t, err)
}

func TestHandlerHandleMultipleSameParticipantJoins(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string
	var participantBID uint32

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				sessionID = res.SessionID
				return err
			}).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
				SessionID: sessionID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.ParticipantID)
				require.Equal(t, sessionID, res.SessionID)

				participantBID = res.ParticipantID
				return err
			}).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 2,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotEqual(t, sessionID, res.SessionID)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientA).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantLeaveBroadcast),
			func(msg wire.Msg) error {
				var bc messages.ParticipantLeaveBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.Equal(t, participantBID, bc.ParticipantID)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleMultipleJoinWithSameSession(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				sessionID = res.SessionID
				return err
			}).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
				SessionID: sessionID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, sessionID, res.SessionID)
				return err
			}).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				SessionID: sessionID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeSessionAlreadyJoined, res.Code)
				return err
			}).
		Run(ctx)
	require.NoError(t, err)

	ctxTimeout, cancelTimeout := context.WithTimeout(ctx, time.Millisecond*100)
	defer cancelTimeout()

	err = scenario.NewScenario(clientA).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantLeaveBroadcast)).
		Run(ctxTimeout)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlerHandleParticipantDisconnect(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				sessionID = res.SessionID
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)

	var participantBID uint32
	var entityID uint32

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				SessionID: sessionID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				participantBID = res.ParticipantID
				return err
			},
		).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				Pose:      messages.Pose{X: 10, Y: 10},
			}
		}).
		Receive(
			scenario.FilterByRequestID(3),
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				entityID = res.EntityID
				return err
			},
		).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 4,
				Pose:      messages.Pose{X: 20, Y: 20},
				Persist:   true,
			}
		}).
		Receive(
			scenario.FilterByRequestID(4),
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
		).
		Run(ctx)
	require.NoError(t, err)

	clientB.Close()

	err = scenario.NewScenario(clientA).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityDeleteBroadcast),
			func(msg wire.Msg) error {
				var bc messages.EntityDeleteBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.NotZero(t, bc.Timestamp)
				require.NotZero(t, bc.OriginTimestamp)
				require.Equal(t, entityID, bc.EntityID)
				return err
			},
		).
		Receive(
			scenario.FilterByType(
				messages.MsgTypeEntityDeleteBroadcast,
				messages.MsgTypeParticipantLeaveBroadcast,
			),
			func(msg wire.Msg) error {
				require.NotEqual(t, messages.MsgTypeEntityDeleteBroadcast, msg.Type)

				var bc messages.ParticipantLeaveBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.NotZero(t, bc.Timestamp)
				require.NotZero(t, bc.OriginTimestamp)
				require.Equal(t, participantBID, bc.ParticipantID)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleEntityAdd(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse), func(msg wire.Msg) error {
			var res messages.ParticipantJoinResponse
			err := msg.DataTo(&res)
			require.NoError(t, err)

			sessionID = res.SessionID
			return err
		}).
		Run(ctx)
	require.NoError(t, err)

	pose := messages.Pose{X: 1, Y: 2, Heading: 0.5}

	var entityID uint32
	var participantBID uint32
	var entityAddBOriginTime time.Time

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				SessionID: sessionID,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse), func(msg wire.Msg) error {
			var res messages.ParticipantJoinResponse
			err := msg.DataTo(&res)
			require.NoError(t, err)

			participantBID = res.ParticipantID
			return err
		}).
		Send(func() any {
			entityAddBOriginTime = time.Now()

			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: entityAddBOriginTime,
				RequestID: 3,
				Pose:      pose,
				Persist:   true,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(3),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				require.NotZero(t, res.EntityID)

				entityID = res.EntityID
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientA).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddBroadcast),
			func(msg wire.Msg) error {
				var bc messages.EntityAddBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.NotZero(t, bc.Timestamp)
				require.True(t, entityAddBOriginTime.Equal(bc.OriginTimestamp))

				require.Equal(t, entityID, bc.Entity.ID)
				require.Equal(t, participantBID, bc.Entity.ParticipantID)
				require.True(t, bc.Entity.Persist)
				require.Equal(t, pose, bc.Entity.Pose)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleEntityAddSessionNotJoined(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 1,
				Pose:      messages.Pose{X: 1, Y: 1},
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeEntityAddResponse)).
		Run(context.Background())
	require.Error(t, err)
}

func TestHandlerHandleEntityAddOccupiedPosition(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				Pose:      messages.Pose{X: 5, Y: 5},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(2),
		).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				Pose:      messages.Pose{X: 5, Y: 5},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(3),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeConflict, res.Code)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleEntityAddOutOfBounds(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				Pose:      messages.Pose{X: 500, Y: 0},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.Equal(t, messages.ErrorCodeOutOfBounds, res.Code)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleEntityDelete(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse), func(msg wire.Msg) error {
			var res messages.ParticipantJoinResponse
			err := msg.DataTo(&res)
			require.NoError(t, err)

			sessionID = res.SessionID
			return err
		}).
		Run(ctx)
	require.NoError(t, err)

	var entityID uint32
	var entityDeleteBOriginTime time.Time

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				SessionID: sessionID,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				Pose:      messages.Pose{X: 4, Y: 4},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(3),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				entityID = res.EntityID
				return err
			},
		).
		Send(func() any {
			entityDeleteBOriginTime = time.Now()

			return &messages.EntityDeleteRequest{
				Type:      messages.MsgTypeEntityDeleteRequest,
				Timestamp: entityDeleteBOriginTime,
				RequestID: 4,
				EntityID:  entityID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityDeleteResponse),
			scenario.FilterByRequestID(4),
			func(msg wire.Msg) error {
				var res messages.EntityDeleteResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientA).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityDeleteBroadcast),
			func(msg wire.Msg) error {
				var bc messages.EntityDeleteBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.NotZero(t, bc.Timestamp)
				require.True(t, entityDeleteBOriginTime.Equal(bc.OriginTimestamp))
				require.Equal(t, entityID, bc.EntityID)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleEntityDeleteNotOwned(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string
	var entityID uint32

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				sessionID = res.SessionID
				return err
			},
		).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				Pose:      messages.Pose{X: 8, Y: 8},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				entityID = res.EntityID
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				SessionID: sessionID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(3),
		).
		Send(func() any {
			return &messages.EntityDeleteRequest{
				Type:      messages.MsgTypeEntityDeleteRequest,
				Timestamp: time.Now(),
				RequestID: 4,
				EntityID:  entityID,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(4),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				require.Equal(t, messages.ErrorCodeUnauthorized, res.Code)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleEntityDeleteNonexistent(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.EntityDeleteRequest{
				Type:      messages.MsgTypeEntityDeleteRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				EntityID:  42,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeErrorResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.ErrorResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				require.Equal(t, messages.ErrorCodeNotFound, res.Code)
				return err
			},
		).
		Run(context.Background())
	require.NoError(t, err)
}

func TestHandlerHandleEntityDeleteSessionNotJoined(t *testing.T) {
	clientA, _, close := NewTestingEnv(t, newTestHandler())
	defer close()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.EntityDeleteRequest{
				Type:      messages.MsgTypeEntityDeleteRequest,
				Timestamp: time.Now(),
				RequestID: 1,
				EntityID:  1,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeEntityDeleteResponse)).
		Run(context.Background())
	require.Error(t, err)
}

func TestHandlerHandleEntityMove(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				sessionID = res.SessionID
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)

	var entityID uint32
	var moveBOriginTime time.Time
	movedPose := messages.Pose{X: 3, Y: 4, Heading: 1.25}

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				SessionID: sessionID,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				Pose:      messages.Pose{X: 1, Y: 2},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				entityID = res.EntityID
				return err
			},
		).
		Send(func() any {
			moveBOriginTime = time.Now()

			return &messages.EntityMove{
				Type:      messages.MsgTypeEntityMove,
				Timestamp: moveBOriginTime,
				EntityID:  entityID,
				Pose:      movedPose,
			}
		}).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientA).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityMoveBroadcast),
			func(msg wire.Msg) error {
				var bc messages.EntityMoveBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.NotZero(t, bc.Timestamp)
				require.True(t, moveBOriginTime.Equal(bc.OriginTimestamp))
				require.Equal(t, entityID, bc.EntityID)
				require.Equal(t, movedPose, bc.Pose)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerHandleEntityMoveNotOwned(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string
	var entityID uint32

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				sessionID = res.SessionID
				return err
			},
		).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				Pose:      messages.Pose{X: 5, Y: 5},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				entityID = res.EntityID
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				SessionID: sessionID,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.EntityMove{
				Type:      messages.MsgTypeEntityMove,
				Timestamp: time.Now(),
				EntityID:  entityID,
				Pose:      messages.Pose{X: 6, Y: 6},
			}
		}).
		Run(ctx)
	require.NoError(t, err)

	ctxTimeout, cancelTimeout := context.WithTimeout(ctx, time.Millisecond*100)
	defer cancelTimeout()

	err = scenario.NewScenario(clientA).
		Receive(scenario.FilterByType(messages.MsgTypeEntityMoveBroadcast)).
		Run(ctxTimeout)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlerHandleEntityMoveOccupiedPosition(t *testing.T) {
	clientA, clientB, close := NewTestingEnv(t, newTestHandler())
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sessionID string

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				sessionID = res.SessionID
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)

	var entityID uint32

	err = scenario.NewScenario(clientB).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				SessionID: sessionID,
			}
		}).
		Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				Pose:      messages.Pose{X: 1, Y: 1},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(3),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				entityID = res.EntityID
				return err
			},
		).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 4,
				Pose:      messages.Pose{X: 2, Y: 2},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(4),
		).
		Send(func() any {
			// Target position is taken, the move is dropped.
			return &messages.EntityMove{
				Type:      messages.MsgTypeEntityMove,
				Timestamp: time.Now(),
				EntityID:  entityID,
				Pose:      messages.Pose{X: 2, Y: 2},
			}
		}).
		Send(func() any {
			return &messages.EntityMove{
				Type:      messages.MsgTypeEntityMove,
				Timestamp: time.Now(),
				EntityID:  entityID,
				Pose:      messages.Pose{X: 3, Y: 3},
			}
		}).
		Run(ctx)
	require.NoError(t, err)

	err = scenario.NewScenario(clientA).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityMoveBroadcast),
			func(msg wire.Msg) error {
				var bc messages.EntityMoveBroadcast
				err := msg.DataTo(&bc)
				require.NoError(t, err)

				require.Equal(t, entityID, bc.EntityID)
				require.Equal(t, float32(3), bc.Pose.X)
				require.Equal(t, float32(3), bc.Pose.Y)
				return err
			},
		).
		Run(ctx)
	require.NoError(t, err)
}

func TestHandlerDisconnectOnIdleTimeout(t *testing.T) {
	clientA, _, close := newTestingEnv(t, func() Handler {
		return &RealtimeHandler{
			ClientSyncClockInterval: time.Second,
			ClientIdleTimeout:       0,
			Sessions:                &models.SessionStore{},
		}
	})
	defer close()

	err := scenario.NewScenario(clientA).
		Receive(func(msg wire.Msg) error {
			return scenario.ErrScenarioMsgSkip
		}).
		Run(context.Background())
	require.Error(t, err)
}

func TestHandleCustomMessage(t *testing.T) {
	t.Run("custom message is broadcasted to everyone", func(t *testing.T) {
		clientA, clientB, close := NewTestingEnv(t, newTestHandler())
		defer close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		var sessionID string

		err := scenario.NewScenario(clientA).
			Send(func() any {
				return &messages.ParticipantJoinRequest{
					Type:      messages.MsgTypeParticipantJoinRequest,
					Timestamp: time.Now(),
					RequestID: 1,
				}
			}).
			Receive(
				scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
				func(msg wire.Msg) error {
					var res messages.ParticipantJoinResponse
					err := msg.DataTo(&res)
					require.NoError(t, err)

					sessionID = res.SessionID
					return err
				},
			).
			Run(ctx)
		require.NoError(t, err)

		data := []byte("hello")
		var participantBID uint32
		var customMsgTime time.Time

		err = scenario.NewScenario(clientB).
			Send(func() any {
				return &messages.ParticipantJoinRequest{
					Type:      messages.MsgTypeParticipantJoinRequest,
					Timestamp: time.Now(),
					RequestID: 2,
					SessionID: sessionID,
				}
			}).
			Receive(
				scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
				func(msg wire.Msg) error {
					var res messages.ParticipantJoinResponse
					err := msg.DataTo(&res)
					require.NoError(t, err)

					participantBID = res.ParticipantID
					return err
				},
			).
			Send(func() any {
				customMsgTime = time.Now()

				return &messages.CustomMessage{
					Type:      messages.MsgTypeCustomMessage,
					Timestamp: customMsgTime,
					Data:      data,
				}
			}).
			Run(ctx)
		require.NoError(t, err)

		err = scenario.NewScenario(clientA).
			Receive(
				scenario.FilterByType(messages.MsgTypeCustomMessageBroadcast),
				func(msg wire.Msg) error {
					var bc messages.CustomMessageBroadcast
					err := msg.DataTo(&bc)
					require.NoError(t, err)

					require.NotZero(t, bc.Timestamp)
					require.True(t, customMsgTime.Equal(bc.OriginTimestamp))
					require.Equal(t, participantBID, bc.ParticipantID)
					require.Equal(t, data, bc.Data)
					return err
				},
			).
			Run(ctx)
		require.NoError(t, err)
	})

	t.Run("custom message is sent to selected participant", func(t *testing.T) {
		clientA, clientB, close := NewTestingEnv(t, newTestHandler())
		defer close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		var sessionID string
		var participantAID uint32

		err := scenario.NewScenario(clientA).
			Send(func() any {
				return &messages.ParticipantJoinRequest{
					Type:      messages.MsgTypeParticipantJoinRequest,
					Timestamp: time.Now(),
					RequestID: 1,
				}
			}).
			Receive(
				scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
				func(msg wire.Msg) error {
					var res messages.ParticipantJoinResponse
					err := msg.DataTo(&res)
					require.NoError(t, err)

					sessionID = res.SessionID
					participantAID = res.ParticipantID
					return err
				},
			).
			Run(ctx)
		require.NoError(t, err)

		data := []byte("hello")
		var participantBID uint32

		err = scenario.NewScenario(clientB).
			Send(func() any {
				return &messages.ParticipantJoinRequest{
					Type:      messages.MsgTypeParticipantJoinRequest,
					Timestamp: time.Now(),
					RequestID: 2,
					SessionID: sessionID,
				}
			}).
			Receive(
				scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
				func(msg wire.Msg) error {
					var res messages.ParticipantJoinResponse
					err := msg.DataTo(&res)
					require.NoError(t, err)

					participantBID = res.ParticipantID
					return err
				},
			).
			Send(func() any {
				return &messages.CustomMessage{
					Type:         messages.MsgTypeCustomMessage,
					Timestamp:    time.Now(),
					RecipientIDs: []uint32{participantAID},
					Data:         data,
				}
			}).
			Run(ctx)
		require.NoError(t, err)

		err = scenario.NewScenario(clientA).
			Receive(
				scenario.FilterByType(messages.MsgTypeCustomMessageBroadcast),
				func(msg wire.Msg) error {
					var bc messages.CustomMessageBroadcast
					err := msg.DataTo(&bc)
					require.NoError(t, err)

					require.NotZero(t, bc.Timestamp)
					require.NotZero(t, bc.OriginTimestamp)
					require.Equal(t, data, bc.Data)
					require.Equal(t, participantBID, bc.ParticipantID)
					return err
				},
			).
			Run(ctx)
		require.NoError(t, err)
	})

	t.Run("custom message above the size limit is refused", func(t *testing.T) {
		clientA, _, close := NewTestingEnv(t, newTestHandler())
		defer close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := scenario.NewScenario(clientA).
			Send(func() any {
				return &messages.ParticipantJoinRequest{
					Type:      messages.MsgTypeParticipantJoinRequest,
					Timestamp: time.Now(),
					RequestID: 1,
				}
			}).
			Receive(scenario.FilterByType(messages.MsgTypeParticipantJoinResponse)).
			Send(func() any {
				return &messages.CustomMessage{
					Type:      messages.MsgTypeCustomMessage,
					Timestamp: time.Now(),
					Data:      bytes.Repeat([]byte("x"), customMessageMaxSize+1),
				}
			}).
			Receive(
				scenario.FilterByType(messages.MsgTypeErrorResponse),
				func(msg wire.Msg) error {
					var res messages.ErrorResponse
					err := msg.DataTo(&res)
					require.NoError(t, err)

					require.Equal(t, messages.ErrorCodeTooLarge, res.Code)
					return err
				},
			).
			Run(ctx)
		require.NoError(t, err)
	})

	t.Run("custom message before joining disconnects", func(t *testing.T) {
		clientA, _, close := NewTestingEnv(t, newTestHandler())
		defer close()

		err := scenario.NewScenario(clientA).
			Send(func() any {
				return &messages.CustomMessage{
					Type:      messages.MsgTypeCustomMessage,
					Timestamp: time.Now(),
					Data:      []byte("hello"),
				}
			}).
			Receive(scenario.FilterByType(messages.MsgTypeCustomMessageBroadcast)).
			Run(context.Background())
		require.Error(t, err)
	})
}

func TestHandlerFeatureFlagFilter(t *testing.T) {
	newHandler := func() Handler {
		sessionStore := &models.SessionStore{
			DiscoveryService: &testClient{},
		}

		filters := []string{string(featureflag.FlagDisableSessionState)}
		var h Handler = &RealtimeHandler{
			ClientSyncClockInterval: time.Millisecond * 250,
			ClientIdleTimeout:       time.Minute,
			FrameDuration:           time.Millisecond * 50,
			IndexDomain:             geo.CenteredRect(200),
			IndexCapacity:           4,
			Sessions:                sessionStore,
			FeatureFlags:            featureflag.New(filters),
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://ingwaz-test.com")
		return h
	}
	clientA, _, close := NewTestingEnv(t, newHandler)
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := scenario.NewScenario(clientA).
		Send(func() any {
			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				var res messages.ParticipantJoinResponse
				err := msg.DataTo(&res)
				require.NoError(t, err)

				require.NotZero(t, res.Timestamp)
				require.NotEmpty(t, res.SessionID)
				require.NotZero(t, res.ParticipantID)
				return err
			}).
		Receive(scenario.FilterByType(messages.MsgTypeSessionState)).
		Run(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
