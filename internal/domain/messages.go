package domain

import "time"

// WebSocket message types from client.
const (
	MsgTypeJoinRoom    = "join_room"
	MsgTypeTyping      = "typing"
	MsgTypeStopTyping  = "stop_typing"
	MsgTypeSendMessage = "send_message"
	MsgTypeMarkRead    = "mark_read"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeRoomJoined = "room_joined"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

// Event types fanned out through the bus. These double as the server->client
// envelope types for room and presence traffic.
const (
	EventReceiveMessage = "receive_message"
	EventMessageDeleted = "message_deleted"
	EventMessagesRead   = "messages_read"
	EventDisplayTyping  = "display_typing"
	EventHideTyping     = "hide_typing"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the envelope shared by all client frames.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type TypingMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type SendMessageMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

type MarkReadMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// Server -> Client messages

type RoomJoinedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Code: code, Message: message}
}

// Event payloads

// MessagePayload is the receive_message payload: the persisted message plus
// a denormalized sender summary.
type MessagePayload struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	RoomID        string    `json:"room_id"`
	SenderID      string    `json:"sender_id"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	URLPreview    string    `json:"url_preview,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Sender        Identity  `json:"sender"`
}

// NewMessagePayload builds the broadcast payload from a persisted message.
func NewMessagePayload(m *Message, sender Identity) *MessagePayload {
	return &MessagePayload{
		ID:            m.ID,
		Content:       m.Content,
		RoomID:        m.RoomID,
		SenderID:      m.SenderID,
		AttachmentURL: m.AttachmentURL,
		URLPreview:    m.URLPreview,
		CreatedAt:     m.CreatedAt,
		Sender:        sender,
	}
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
}

type MessagesReadPayload struct {
	RoomID       string   `json:"room_id"`
	ReadByUserID string   `json:"read_by_user_id"`
	MessageIDs   []string `json:"message_ids"`
}

type TypingPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type UserOnlinePayload struct {
	UserID string `json:"user_id"`
}

type UserOfflinePayload struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}
