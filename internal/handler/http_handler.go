package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Archan-07/my-chat-app/internal/auth"
	"github.com/Archan-07/my-chat-app/internal/cache"
	"github.com/Archan-07/my-chat-app/internal/config"
	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/internal/linkpreview"
	"github.com/Archan-07/my-chat-app/internal/repository"
	"github.com/Archan-07/my-chat-app/internal/service"
	"github.com/Archan-07/my-chat-app/pkg/log"
	"github.com/Archan-07/my-chat-app/pkg/response"
)

const defaultMessageLimit = 50

// HTTPHandler serves the REST API. Mutations flow through the same gateway
// publish path as socket events, so every connected client sees them live.
type HTTPHandler struct {
	messages repository.MessageRepository
	rooms    repository.RoomRepository
	users    repository.UserRepository
	authz    cache.RoomAuthorizer
	gateway  service.ChatGateway
	previews *linkpreview.Fetcher
	lpCfg    config.LinkPreviewConfig
}

// NewHTTPHandler creates the REST handler.
func NewHTTPHandler(
	messages repository.MessageRepository,
	rooms repository.RoomRepository,
	users repository.UserRepository,
	authz cache.RoomAuthorizer,
	gateway service.ChatGateway,
	previews *linkpreview.Fetcher,
	lpCfg config.LinkPreviewConfig,
) *HTTPHandler {
	return &HTTPHandler{
		messages: messages,
		rooms:    rooms,
		users:    users,
		authz:    authz,
		gateway:  gateway,
		previews: previews,
		lpCfg:    lpCfg,
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine, resolver *auth.Resolver) {
	api := r.Group("/api/v1", auth.RequireAuth(resolver))

	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:room_id", h.GetRoom)
	api.GET("/rooms/:room_id/messages", h.ListMessages)
	api.POST("/rooms/:room_id/messages", h.SendMessage)
	api.DELETE("/rooms/:room_id/messages/:message_id", h.DeleteMessage)
	api.POST("/rooms/:room_id/read", h.MarkRead)
	api.GET("/users/:user_id/presence", h.GetPresence)
}

// requireParticipant resolves the caller's identity and verifies room
// membership, writing the error response itself on failure.
func (h *HTTPHandler) requireParticipant(c *gin.Context, roomID string) (domain.Identity, bool) {
	identity, ok := auth.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "missing identity")
		return domain.Identity{}, false
	}

	member, err := h.authz.IsParticipant(c.Request.Context(), roomID, identity.ID)
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("membership check failed")
		response.InternalError(c, "failed to verify room membership")
		return domain.Identity{}, false
	}
	if !member {
		response.Forbidden(c, "not a participant of this room")
		return domain.Identity{}, false
	}
	return identity, true
}

type roomSummary struct {
	domain.Room
	LastMessage *domain.Message `json:"last_message,omitempty"`
}

// ListRooms returns the rooms the caller participates in, each with its most
// recent message for conversation previews.
func (h *HTTPHandler) ListRooms(c *gin.Context) {
	identity, ok := auth.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "missing identity")
		return
	}

	ctx := c.Request.Context()
	rooms, err := h.rooms.ListForUser(ctx, identity.ID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("room listing failed")
		response.InternalError(c, "failed to list rooms")
		return
	}

	summaries := make([]roomSummary, 0, len(rooms))
	for _, room := range rooms {
		summary := roomSummary{Room: room}
		recent, err := h.messages.ListRecent(ctx, room.ID, 1)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, room.ID).Msg("last message lookup failed")
		} else if len(recent) > 0 {
			summary.LastMessage = &recent[0]
		}
		summaries = append(summaries, summary)
	}
	response.Success(c, gin.H{"rooms": summaries})
}

// GetRoom returns a room with its participant list.
func (h *HTTPHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	if _, ok := h.requireParticipant(c, roomID); !ok {
		return
	}

	room, err := h.rooms.GetByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			response.NotFound(c, "room not found")
		} else {
			log.Ctx(c.Request.Context()).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("room lookup failed")
			response.InternalError(c, "failed to load room")
		}
		return
	}

	participants, err := h.rooms.Participants(c.Request.Context(), roomID)
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("participant listing failed")
		response.InternalError(c, "failed to load participants")
		return
	}

	response.Success(c, gin.H{"room": room, "participants": participants})
}

// ListMessages returns the most recent messages in a room, oldest first.
func (h *HTTPHandler) ListMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if _, ok := h.requireParticipant(c, roomID); !ok {
		return
	}

	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	messages, err := h.messages.ListRecent(c.Request.Context(), roomID, limit)
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("message listing failed")
		response.InternalError(c, "failed to list messages")
		return
	}
	response.Success(c, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage persists a message posted over REST and broadcasts it to the
// room exactly like a socket-originated send.
func (h *HTTPHandler) SendMessage(c *gin.Context) {
	roomID := c.Param("room_id")
	identity, ok := h.requireParticipant(c, roomID)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		response.BadRequest(c, "content is required")
		return
	}

	ctx := c.Request.Context()
	msg := &domain.Message{
		Content:  req.Content,
		RoomID:   roomID,
		SenderID: identity.ID,
	}
	if h.lpCfg.Enabled {
		msg.URLPreview = h.previews.PreviewJSON(ctx, req.Content)
	}

	if err := h.messages.Create(ctx, msg); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("message persist failed")
		response.InternalError(c, "failed to save message")
		return
	}

	payload := domain.NewMessagePayload(msg, identity)
	if err := h.gateway.PublishToRoom(ctx, roomID, domain.EventReceiveMessage, payload); err != nil {
		// The message is durable; delivery catches up on the next reload.
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("message broadcast failed")
	}

	response.Created(c, gin.H{"message": payload})
}

// DeleteMessage removes a message. Only the author or the room admin may
// delete, and everyone in the room is told live.
func (h *HTTPHandler) DeleteMessage(c *gin.Context) {
	roomID := c.Param("room_id")
	messageID := c.Param("message_id")
	identity, ok := h.requireParticipant(c, roomID)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	msg, err := h.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			response.NotFound(c, "message not found")
		} else {
			log.Ctx(ctx).Error().Err(err).Str(log.FieldMessageID, messageID).Msg("message lookup failed")
			response.InternalError(c, "failed to load message")
		}
		return
	}
	if msg.RoomID != roomID {
		response.NotFound(c, "message not found")
		return
	}

	if msg.SenderID != identity.ID {
		room, err := h.rooms.GetByID(ctx, roomID)
		if err != nil || room.AdminID != identity.ID {
			response.Forbidden(c, "only the author or the room admin can delete a message")
			return
		}
	}

	if err := h.messages.Delete(ctx, messageID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldMessageID, messageID).Msg("message delete failed")
		response.InternalError(c, "failed to delete message")
		return
	}

	if err := h.gateway.PublishToRoom(ctx, roomID, domain.EventMessageDeleted, domain.MessageDeletedPayload{MessageID: messageID}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldMessageID, messageID).Msg("delete broadcast failed")
	}

	response.Success(c, gin.H{"deleted": messageID})
}

// MarkRead marks every unread message in the room read for the caller. When
// nothing is unread it writes nothing and broadcasts nothing.
func (h *HTTPHandler) MarkRead(c *gin.Context) {
	roomID := c.Param("room_id")
	identity, ok := h.requireParticipant(c, roomID)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ids, err := h.messages.UnreadMessageIDs(ctx, roomID, identity.ID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("unread lookup failed")
		response.InternalError(c, "failed to find unread messages")
		return
	}
	if len(ids) == 0 {
		response.Success(c, gin.H{"marked": 0})
		return
	}

	if err := h.messages.MarkRead(ctx, ids, identity.ID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldRoomID, roomID).Msg("read receipt insert failed")
		response.InternalError(c, "failed to mark messages read")
		return
	}

	if err := h.gateway.PublishToRoom(ctx, roomID, domain.EventMessagesRead, domain.MessagesReadPayload{
		RoomID:       roomID,
		ReadByUserID: identity.ID,
		MessageIDs:   ids,
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("read broadcast failed")
	}

	response.Success(c, gin.H{"marked": len(ids)})
}

// GetPresence returns the durable presence record for a user.
func (h *HTTPHandler) GetPresence(c *gin.Context) {
	userID := c.Param("user_id")

	record, err := h.users.GetPresence(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(c, "user not found")
		} else {
			log.Ctx(c.Request.Context()).Error().Err(err).Str(log.FieldUserID, userID).Msg("presence lookup failed")
			response.InternalError(c, "failed to load presence")
		}
		return
	}
	response.Success(c, record)
}
