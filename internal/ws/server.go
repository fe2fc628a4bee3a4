package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/auth"
	"github.com/talkwave/realtime/internal/calls"
	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/metrics"
	"github.com/talkwave/realtime/internal/presence"
	"github.com/talkwave/realtime/internal/receipts"
	"github.com/talkwave/realtime/internal/registry"
	"github.com/talkwave/realtime/internal/router"
	"github.com/talkwave/realtime/internal/wire"
)

type Options struct {
	PingInterval  time.Duration
	WriteDeadline time.Duration
	MaxFrameBytes int64
	SendBuffer    int
}

// Server upgrades connections and dispatches inbound frames to the core
// services.
type Server struct {
	jv       *auth.JWTValidator
	reg      *registry.Registry
	presence *presence.Service
	router   *router.Router
	receipts *receipts.Tracker
	calls    *calls.Service
	log      *zap.SugaredLogger
	opts     Options
}

func NewServer(jv *auth.JWTValidator, reg *registry.Registry, pres *presence.Service, rtr *router.Router,
	rt *receipts.Tracker, cs *calls.Service, log *zap.SugaredLogger, opts Options) *Server {
	if opts.PingInterval == 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteDeadline == 0 {
		opts.WriteDeadline = 10 * time.Second
	}
	if opts.MaxFrameBytes == 0 {
		opts.MaxFrameBytes = 65536
	}
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 256
	}
	return &Server{jv: jv, reg: reg, presence: pres, router: rtr, receipts: rt, calls: cs, log: log, opts: opts}
}

// HandleWS is the websocket entry point. Expected URL: /ws?token=<jwt>
func (s *Server) HandleWS() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		token := conn.Query("token")
		if token == "" {
			_ = conn.Close()
			return
		}
		userID, err := s.jv.Validate(token)
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, wire.Error("unauthorized", "invalid token"))
			_ = conn.Close()
			return
		}

		c := NewClient(uuid.NewString(), userID, conn, s.opts.SendBuffer, s.opts.PingInterval, s.opts.WriteDeadline)
		s.reg.Register(c)
		s.presence.HandleConnect(context.Background(), userID, c.ID())
		metrics.OpenConnections.Inc()
		go c.WritePump()

		defer func() {
			s.reg.Close(c.ID())
			c.Close()
			s.presence.HandleDisconnect(context.Background(), userID, c.ID())
			metrics.OpenConnections.Dec()
		}()

		conn.SetReadLimit(s.opts.MaxFrameBytes)
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingInterval))
		})

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			in, err := decodeInbound(data)
			if err != nil {
				c.PushError("bad_frame", err)
				continue
			}
			s.dispatch(c, in)
		}
	}
}

func (s *Server) dispatch(c *Client, in *wire.Inbound) {
	ctx := context.Background()
	switch in.Type {
	case wire.TypeSubscribe:
		if err := s.router.Subscribe(ctx, c, in.ChatID); err != nil {
			c.PushError(errorCode(err), err)
		}
	case wire.TypeUnsubscribe:
		s.reg.Unsubscribe(c.ID(), in.ChatID)
	case wire.TypeSend:
		if in.Payload == nil {
			c.PushError("payload_invalid", errs.ErrPayloadInvalid)
			return
		}
		if _, err := s.router.Send(ctx, c.UserID(), in.ChatID, *in.Payload, in.ReplyTo); err != nil {
			c.PushError(errorCode(err), err)
		}
	case wire.TypeAckDelivered:
		if _, err := s.receipts.AckDelivered(ctx, c.UserID(), in.MessageID); err != nil {
			c.PushError(errorCode(err), err)
		}
	case wire.TypeAckRead:
		if _, err := s.receipts.AckRead(ctx, c.UserID(), in.MessageID); err != nil {
			c.PushError(errorCode(err), err)
		}
	case wire.TypeTyping:
		if err := s.router.Typing(ctx, in.ChatID, c.UserID(), in.IsTyping); err != nil {
			c.PushError(errorCode(err), err)
		}
	case wire.TypeCallSignal:
		if err := s.calls.Relay(ctx, c.UserID(), in.CallID, in.Signal, in.Data); err != nil {
			c.PushError(errorCode(err), err)
		}
	default:
		c.PushError("unknown_type", nil)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errs.ErrChatNotFound):
		return "chat_not_found"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, errs.ErrPayloadInvalid):
		return "payload_invalid"
	case errors.Is(err, errs.ErrBlocked):
		return "blocked"
	case errors.Is(err, errs.ErrDeleteWindowExpired):
		return "delete_window_expired"
	case errors.Is(err, errs.ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
