// Package scenario provides a small DSL to script message exchanges
// with a server over a websocket connection. It is used by handler and
// module tests and by the smoke test.
package scenario

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/wire"
	"golang.org/x/net/websocket"
)

const (
	// ErrTypeScenarioMsgSkip is the error type that reports a received
	// message that does not belong to the current receive step.
	ErrTypeScenarioMsgSkip = "scenario_msg_skip"
)

// ErrScenarioMsgSkip is returned by receive handlers to wait for the
// next message instead.
var ErrScenarioMsgSkip = errors.New("scenario msg skipped").
	WithType(ErrTypeScenarioMsgSkip)

// Scenario is an ordered sequence of send and receive steps executed
// against a single connection.
type Scenario struct {
	conn  *websocket.Conn
	steps []func(ctx context.Context) error
}

func NewScenario(conn *websocket.Conn) *Scenario {
	return &Scenario{conn: conn}
}

// Send appends a step that encodes and sends the message returned by
// the given function.
func (s *Scenario) Send(makeMsg func() any) *Scenario {
	s.steps = append(s.steps, func(ctx context.Context) error {
		msg, err := wire.MsgFromJSON(makeMsg())
		if err != nil {
			return errors.New("encoding scenario msg failed").Wrap(err)
		}

		if _, err := wire.Send(s.conn, msg); err != nil {
			return errors.New("sending scenario msg failed").Wrap(err)
		}
		return nil
	})
	return s
}

// Receive appends a step that reads messages until one passes every
// given handler. A handler returning ErrScenarioMsgSkip discards the
// current message and waits for the next one.
func (s *Scenario) Receive(handlers ...func(msg wire.Msg) error) *Scenario {
	s.steps = append(s.steps, func(ctx context.Context) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			if deadline, ok := ctx.Deadline(); ok {
				if err := s.conn.SetReadDeadline(deadline); err != nil {
					return errors.New("setting read deadline failed").Wrap(err)
				}
			}

			msg, _, err := wire.Receive(s.conn)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return errors.New("receiving scenario msg failed").Wrap(err)
			}

			if err := handleScenarioMsg(msg, handlers); err != nil {
				if errors.IsType(err, ErrTypeScenarioMsgSkip) {
					continue
				}
				return err
			}
			return nil
		}
	})
	return s
}

func handleScenarioMsg(msg wire.Msg, handlers []func(msg wire.Msg) error) error {
	for _, h := range handlers {
		if err := h(msg); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the scenario steps in order, stopping at the first
// failure.
func (s *Scenario) Run(ctx context.Context) error {
	for _, step := range s.steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FilterByType skips messages that are not of one of the given types.
func FilterByType(types ...messages.MsgType) func(msg wire.Msg) error {
	return func(msg wire.Msg) error {
		for _, t := range types {
			if msg.Type == t {
				return nil
			}
		}
		return ErrScenarioMsgSkip
	}
}

// FilterByRequestID skips messages that do not answer the given
// request.
func FilterByRequestID(id uint32) func(msg wire.Msg) error {
	return func(msg wire.Msg) error {
		var body struct {
			RequestID uint32 `json:"request_id"`
		}
		if err := msg.DataTo(&body); err != nil {
			return ErrScenarioMsgSkip
		}
		if body.RequestID != id {
			return ErrScenarioMsgSkip
		}
		return nil
	}
}
