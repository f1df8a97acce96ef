package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Archan-07/my-chat-app/internal/auth"
	"github.com/Archan-07/my-chat-app/internal/config"
	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/internal/hub"
	"github.com/Archan-07/my-chat-app/internal/service"
	"github.com/Archan-07/my-chat-app/pkg/log"
	"github.com/Archan-07/my-chat-app/pkg/response"
)

// WSHandler upgrades authenticated requests to websocket connections and
// dispatches their frames to the gateway.
type WSHandler struct {
	resolver *auth.Resolver
	gateway  service.ChatGateway
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket handler.
func NewWSHandler(resolver *auth.Resolver, gateway service.ChatGateway, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		resolver: resolver,
		gateway:  gateway,
		wsCfg:    wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: wsCfg.HandshakeTimeout,
			// Browser clients connect from a separately served frontend.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket authenticates the handshake, upgrades the connection and
// starts the client's pumps. Identity is resolved before the upgrade so an
// invalid token is refused with a plain 401 instead of a socket close.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := auth.TokenFromHeader(c.GetHeader(auth.AuthHeaderKey))
	if token == "" {
		token = c.Query("token")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.wsCfg.HandshakeTimeout)
	identity, err := h.resolver.Resolve(ctx, token)
	cancel()
	if err != nil {
		if auth.IsAuthError(err) {
			response.Unauthorized(c, err.Error())
		} else {
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("handshake identity resolution failed")
			response.InternalError(c, "failed to validate token")
		}
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), *identity, conn, h.wsCfg)

	// The request context dies with the handshake; connection-scoped work
	// uses a background context carrying the connection logger.
	connCtx := log.WithLogger(context.Background(), log.L().With().
		Str(log.FieldConnID, client.ID).
		Str(log.FieldUserID, identity.ID).
		Logger())

	if err := h.gateway.HandleConnect(connCtx, client); err != nil {
		log.Ctx(connCtx).Error().Err(err).Msg("connect handling failed")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(
		func(c *hub.Client, frame []byte) { h.dispatch(connCtx, c, frame) },
		func(c *hub.Client) {
			if err := h.gateway.HandleDisconnect(connCtx, c); err != nil {
				log.Ctx(connCtx).Error().Err(err).Msg("disconnect handling failed")
			}
		},
	)
}

// dispatch routes one inbound frame. A failing or panicking event handler
// logs and keeps the connection alive; only the read pump decides when the
// connection dies.
func (h *WSHandler) dispatch(ctx context.Context, c *hub.Client, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Interface("panic", r).Msg("event handler panicked")
			c.SendEvent(domain.NewErrorMessage(domain.ErrCodeInternalError, "internal error"))
		}
	}()

	var base domain.BaseMessage
	if err := json.Unmarshal(frame, &base); err != nil {
		c.SendEvent(domain.NewErrorMessage(domain.ErrCodeBadRequest, "malformed frame"))
		return
	}

	var err error
	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if err = json.Unmarshal(frame, &msg); err == nil {
			err = h.gateway.HandleJoinRoom(ctx, c, msg.RoomID)
		}

	case domain.MsgTypeTyping:
		var msg domain.TypingMessage
		if err = json.Unmarshal(frame, &msg); err == nil {
			err = h.gateway.HandleTyping(ctx, c, msg.RoomID)
		}

	case domain.MsgTypeStopTyping:
		var msg domain.TypingMessage
		if err = json.Unmarshal(frame, &msg); err == nil {
			err = h.gateway.HandleStopTyping(ctx, c, msg.RoomID)
		}

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageMessage
		if err = json.Unmarshal(frame, &msg); err == nil {
			err = h.gateway.HandleSendMessage(ctx, c, msg.RoomID, msg.Content)
		}

	case domain.MsgTypeMarkRead:
		var msg domain.MarkReadMessage
		if err = json.Unmarshal(frame, &msg); err == nil {
			err = h.gateway.HandleMarkRead(ctx, c, msg.RoomID)
		}

	case domain.MsgTypePing:
		c.SendEvent(&domain.BaseMessage{Type: domain.MsgTypePong})

	default:
		c.SendEvent(domain.NewErrorMessage(domain.ErrCodeBadRequest, "unknown message type: "+base.Type))
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldEventType, base.Type).Msg("event handling failed")
		c.SendEvent(domain.NewErrorMessage(domain.ErrCodeInternalError, "failed to process "+base.Type))
	}
}
