package websocket

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	ingwazhttp "github.com/aukilabs/ingwaz/http"
	"github.com/aukilabs/ingwaz/messages"
	"github.com/aukilabs/ingwaz/wire"
	"golang.org/x/net/websocket"
)

// HandlerWithLogs decorates the given handler to log connection
// lifecycle events and a periodic summary of inbound messages.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	userAgent     string
	xForwardedFor string
	appKey        string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	sessionID     string
	sessionUUID   string
	participantID uint32
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	h.userAgent = req.UserAgent()
	h.xForwardedFor = req.Header.Get(ingwazhttp.HeaderXForwardedFor)
	h.appKey = ingwazhttp.GetAppKeyFromUserToken(ingwazhttp.GetUserTokenFromHTTPRequest(req))

	logs.WithClientID(h.GetClientID()).
		WithTag("app_key", h.appKey).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleParticipantJoin(ctx context.Context, handleFrame func(), sender wire.ResponseSender, msg wire.Msg) error {
	if err := h.Handler.HandleParticipantJoin(ctx, handleFrame, sender, msg); err != nil {
		return err
	}

	if h.CurrentParticipant() == nil {
		var req messages.ParticipantJoinRequest
		// Parsing already succeeded in the decorated handler.
		msg.DataTo(&req)

		logs.WithClientID(h.GetClientID()).
			WithTag("app_key", h.appKey).
			WithTag("session_id", req.SessionID).
			WithTag("request_id", req.RequestID).
			WithTag("http_headers", struct {
				UserAgent     string `json:"user_agent,omitempty"`
				XForwardedFor string `json:"x_forwarded_for,omitempty"`
			}{
				UserAgent:     h.userAgent,
				XForwardedFor: h.xForwardedFor,
			}).
			Info("participant failed to join a session")
		return nil
	}

	h.sessionID = h.GetSessions().GlobalSessionID(h.CurrentSession().ID)
	h.sessionUUID = h.CurrentSession().SessionUUID
	h.participantID = h.CurrentParticipant().ID

	logs.WithClientID(h.GetClientID()).
		WithTag("app_key", h.appKey).
		WithTag("session_id", h.sessionID).
		WithTag("session_uuid", h.sessionUUID).
		WithTag("participant_id", h.participantID).
		WithTag("http_headers", struct {
			UserAgent     string `json:"user_agent,omitempty"`
			XForwardedFor string `json:"x_forwarded_for,omitempty"`
		}{
			UserAgent:     h.userAgent,
			XForwardedFor: h.xForwardedFor,
		}).
		Info("participant joined a session")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)
	logs.WithClientID(h.GetClientID()).
		WithTag("app_key", h.appKey).
		WithTag("session_id", h.sessionID).
		WithTag("participant_id", h.participantID).
		Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() wire.Receiver {
	receive := h.Handler.Receiver()

	return func() (wire.Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag("app_key", h.appKey).
				WithTag("session_id", h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag("participant_id", h.participantID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag("app_key", h.appKey).
				WithTag("session_id", h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag("participant_id", h.participantID).
				WithTag("msg_type", msg.TypeString()).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() wire.Sender {
	send := h.Handler.Sender()

	return func(msg wire.Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := send(msg)
		if err != nil && !stderrors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag("app_key", h.appKey).
				WithTag("session_id", h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag("participant_id", h.participantID).
				WithTag("msg_type", msgType).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag("app_key", h.appKey).
				WithTag("session_id", h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag("participant_id", h.participantID).
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithClientID(h.GetClientID()).
		WithTag("app_key", h.appKey).
		WithTag("participant_id", h.participantID).
		WithTag("session_id", h.sessionID).
		WithTag("session_uuid", h.sessionUUID).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
