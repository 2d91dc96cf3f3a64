package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat/internal/core"
	"github.com/vovakirdan/roomchat/internal/proto"
)

var (
	errSlowConsumer   = errors.New("slow consumer")
	errServerShutdown = errors.New("server shutting down")
)

// WSOptions tunes per-connection limits.
type WSOptions struct {
	MaxMessageBytes    int64
	RateLimitPerMinute int
	ClientBuffer       int
	WriteTimeout       time.Duration
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub  *core.Hub
	opts WSOptions
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &WSHandler{hub: hub, opts: opts, log: logger}
}

// Handle serves GET /ws for a caller already authenticated by AuthMiddleware.
func (h *WSHandler) Handle(c *gin.Context) {
	name, ok := identity(c)
	if !ok {
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	h.serve(c.Writer, c.Request, name)
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, name string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	client := core.NewClient(uuid.NewString(), name, h.opts.ClientBuffer)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	status, reason := closeStatus(err)
	if status != websocket.StatusNormalClosure {
		h.log.Warn().Err(err).Str("client_id", client.ID).Str("identity", name).Msg("ws connection closed")
	}
	// Close unblocks the other loop, so the peer sees our status code.
	_ = conn.Close(status, reason)
	cancel()
	<-errCh
}

func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, errSlowConsumer):
		return websocket.StatusPolicyViolation, errSlowConsumer.Error()
	case errors.Is(err, errServerShutdown):
		return websocket.StatusGoingAway, errServerShutdown.Error()
	}
	switch s := websocket.CloseStatus(err); s {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return websocket.StatusNormalClosure, "closing"
	case websocket.StatusMessageTooBig:
		return websocket.StatusMessageTooBig, "message too big"
	}
	return websocket.StatusInternalError, "internal error"
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.opts.RateLimitPerMinute)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		if typ != websocket.MessageText || json.Unmarshal(data, &inbound) != nil {
			h.reject(client, core.ErrCodeInvalidInput, "expected a JSON text message")
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			h.reject(client, protoErr.Code, protoErr.Msg)
			continue
		}

		if cmd.Kind == core.CommandSendRoomMessage && !limiter.allow() {
			h.reject(client, core.ErrCodeRateLimited, "too many messages")
			continue
		}

		if err := h.hub.Handle(ctx, client, *cmd); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Int64("room_id", cmd.RoomID).Msg("command rejected")
			client.Deliver(&core.Event{Kind: core.EventError, RoomID: cmd.RoomID, Error: core.ToCoreError(err)})
		}
	}
}

// reject queues an error event so it is ordered with the rest of the client's stream.
func (h *WSHandler) reject(client *core.Client, code, msg string) {
	client.Deliver(&core.Event{Kind: core.EventError, Error: &core.CoreError{Code: code, Message: msg}})
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if client.Stale(event) {
				continue
			}
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				return err
			}
		case <-client.Done():
			if client.Slow() {
				return errSlowConsumer
			}
			return errServerShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}
