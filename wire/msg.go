// Package wire implements the message plumbing shared by the websocket
// handler, the modules and the test clients: the encoded message
// envelope, the frame scheduler and the send and receive primitives.
package wire

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// MaxMsgSize is the size limit for a single encoded message.
const MaxMsgSize = 1 << 20

// Msg is an encoded wire message. The body stays encoded until a
// handler binds it to a concrete message type with DataTo.
type Msg struct {
	Type messages.MsgType
	Time time.Time
	Data []byte
}

// TypeString returns the message type name used in logs and metric
// labels.
func (m Msg) TypeString() string {
	return m.Type.String()
}

// DataTo decodes the message body into the given value.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding msg body failed").
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

type msgHeader struct {
	Type      messages.MsgType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
}

// MsgFromJSON encodes the given message and peeks its header so the
// scheduler and the instrumentation can route it without decoding the
// body again.
func MsgFromJSON(v any) (Msg, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Msg{}, errors.New("encoding msg failed").Wrap(err)
	}

	var h msgHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return Msg{}, errors.New("decoding msg header failed").Wrap(err)
	}

	return Msg{
		Type: h.Type,
		Time: h.Timestamp,
		Data: b,
	}, nil
}

// Receiver receives the next message from a connection.
type Receiver func() (Msg, int, error)

// Sender sends a message over a connection and returns its encoded
// size.
type Sender func(Msg) (int, error)

// Receive reads the next message from the given connection.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var b []byte
	if err := websocket.Message.Receive(conn, &b); err != nil {
		return Msg{}, 0, errors.New("receiving msg failed").Wrap(err)
	}

	if len(b) > MaxMsgSize {
		return Msg{}, len(b), errors.New("msg exceeds size limit").
			WithType(ErrTypeMsgTooLarge).
			WithTag("size", len(b))
	}

	var h msgHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return Msg{}, len(b), errors.New("decoding msg header failed").Wrap(err)
	}

	return Msg{
		Type: h.Type,
		Time: h.Timestamp,
		Data: b,
	}, len(b), nil
}

// Send writes the given message to the given connection as a single
// text frame.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	if err := websocket.Message.Send(conn, string(msg.Data)); err != nil {
		return 0, errors.New("sending msg failed").
			WithTag("msg_type", msg.Type).
			Wrap(err)
	}
	return len(msg.Data), nil
}

// ResponseSender queues messages for delivery to a connected client.
type ResponseSender interface {
	// Send encodes and queues the given message.
	Send(v any)

	// SendMsg queues an already encoded message.
	SendMsg(msg Msg)
}
