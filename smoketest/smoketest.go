// Package smoketest implements the connectivity check the discovery
// registry triggers between servers. The tested server joins a session
// on the target, runs a short entity round trip and reports the
// outcome.
package smoketest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	ingwazhttp "github.com/aukilabs/ingwaz/http"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/scenario"
	"github.com/aukilabs/ingwaz/wire"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const defaultTimeout = time.Second * 10

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// SmokeTestRequest is the payload posted by the registry to trigger a
// smoke test against the given endpoint.
type SmokeTestRequest struct {
	Endpoint           string        `json:"endpoint"`
	Token              string        `json:"token"`
	Timeout            time.Duration `json:"timeout"`
	MaxSessionIDLength int           `json:"max_session_id_length"`
}

type SmokeTestResults struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	LatencyMilliSec float64 `json:"latency_milli_sec"`
	Status          Status  `json:"status"`
}

type Options struct {
	Endpoint  string
	UserAgent string

	// MakeUserToken mints an access token for the target endpoint when
	// the request does not carry one.
	MakeUserToken func() (string, error)

	SendResult func(context.Context, SmokeTestResults) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			ingwazhttp.InternalServerError(w, errors.New("reading body failed").Wrap(err))
			return
		}

		var req SmokeTestRequest
		if err := json.Unmarshal(b, &req); err != nil {
			ingwazhttp.BadRequest(w, ingwazhttp.ErrBadRequest)
			return
		}

		go func() {
			defer func() {
				// if context is of testContext
				// cancel context on exit to signal function exited
				// this is used for testing
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			token := req.Token
			if token == "" && opts.MakeUserToken != nil {
				t, err := opts.MakeUserToken()
				if err != nil {
					logs.Warn(errors.New("making smoke test token failed").Wrap(err))
				}
				token = t
			}

			res, err := RunSmokeTest(ctx, RunSmokeTestOptions{
				FromEndpoint:       opts.Endpoint,
				ToEndpoint:         req.Endpoint,
				ToEndpointToken:    token,
				UserAgent:          opts.UserAgent,
				Timeout:            req.Timeout,
				MaxSessionIDLength: req.MaxSessionIDLength,
			})
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

type RunSmokeTestOptions struct {
	FromEndpoint       string
	ToEndpoint         string
	ToEndpointToken    string
	UserAgent          string
	Timeout            time.Duration
	MaxSessionIDLength int
}

// RunSmokeTest joins a session on the target endpoint, adds and deletes
// an entity and reports the join round trip latency.
func RunSmokeTest(ctx context.Context, opts RunSmokeTestOptions) (SmokeTestResults, error) {
	res := SmokeTestResults{
		FromEndpoint: opts.FromEndpoint,
		ToEndpoint:   opts.ToEndpoint,
		Status:       StatusFailed,
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(opts)
	if err != nil {
		return res, errors.New("dialing endpoint failed").
			WithTag("endpoint", opts.ToEndpoint).
			Wrap(err)
	}
	defer conn.Close()

	var joinSentAt time.Time
	var latency time.Duration
	var entityID uint32

	entityPose := messages.Pose{X: 1, Y: 1}

	err = scenario.NewScenario(conn).
		Send(func() any {
			joinSentAt = time.Now()

			return &messages.ParticipantJoinRequest{
				Type:      messages.MsgTypeParticipantJoinRequest,
				Timestamp: joinSentAt,
				RequestID: 1,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeParticipantJoinResponse),
			scenario.FilterByRequestID(1),
			func(msg wire.Msg) error {
				latency = time.Since(joinSentAt)

				var res messages.ParticipantJoinResponse
				if err := msg.DataTo(&res); err != nil {
					return err
				}

				if opts.MaxSessionIDLength > 0 && len(res.SessionID) > opts.MaxSessionIDLength {
					return errors.New("session id exceeds length limit").
						WithTag("session_id", res.SessionID).
						WithTag("max_length", opts.MaxSessionIDLength)
				}
				return nil
			},
		).
		Send(func() any {
			return &messages.EntityAddRequest{
				Type:      messages.MsgTypeEntityAddRequest,
				Timestamp: time.Now(),
				RequestID: 2,
				Pose:      entityPose,
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeEntityAddResponse),
			scenario.FilterByRequestID(2),
			func(msg wire.Msg) error {
				var res messages.EntityAddResponse
				if err := msg.DataTo(&res); err != nil {
					return err
				}

				entityID = res.EntityID
				return nil
			},
		).
		Send(func() any {
			return &messages.LeitaRegionQueryRequest{
				Type:      messages.MsgTypeLeitaRegionQueryRequest,
				Timestamp: time.Now(),
				RequestID: 3,
				Region: messages.Rect{
					Left:   entityPose.X - 1,
					Top:    entityPose.Y - 1,
					Width:  2,
					Height: 2,
				},
			}
		}).
		Receive(
			scenario.FilterByType(messages.MsgTypeLeitaRegionQueryResponse),
			scenario.FilterByRequestID(3),
			func(msg wire.Msg) error {
				var res messages.LeitaRegionQueryResponse
				if err := msg.DataTo(&res); err != nil {
					return err
				}

				for _, e := range res.Entities {
					if e.ID == entityID {
						return nil
					}
				}
				return errors.New("added entity is missing from the region query result").
					WithTag("entity_id", entityID)
			},
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
			scenario.FilterByType(messages.MsgTypeEntityDeleteResponse),
			scenario.FilterByRequestID(4),
		).
		Run(ctx)
	if err != nil {
		return res, errors.New("smoke test scenario failed").
			WithTag("endpoint", opts.ToEndpoint).
			Wrap(err)
	}

	res.LatencyMilliSec = float64(latency) / float64(time.Millisecond)
	res.Status = StatusSuccess
	return res, nil
}

func dial(opts RunSmokeTestOptions) (*websocket.Conn, error) {
	endpoint := strings.ReplaceAll(opts.ToEndpoint, "https://", "wss://")
	endpoint = strings.ReplaceAll(endpoint, "http://", "ws://")

	config, err := websocket.NewConfig(endpoint, "http://localhost")
	if err != nil {
		return nil, errors.New("initializing websocket config failed").Wrap(err)
	}

	if opts.ToEndpointToken != "" {
		config.Header.Set("Authorization", "Bearer "+opts.ToEndpointToken)
	}
	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}
	config.Header.Set(ingwazhttp.HeaderClientID, uuid.NewString())

	return websocket.DialConfig(config)
}
