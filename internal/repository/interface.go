package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Archan-07/my-chat-app/internal/domain"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
)

// UserRepository resolves users and owns the durable presence record.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	GetPresence(ctx context.Context, userID string) (*domain.PresenceRecord, error)
}

// MessageRepository is the durable message store: append-only per room plus
// the insert-once read-receipt side table.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// ListRecent returns up to limit most recent messages in the room,
	// oldest first, with the sender preloaded.
	ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	Delete(ctx context.Context, id string) error
	// UnreadMessageIDs returns ids of messages in the room authored by
	// someone other than userID that have no read receipt for userID.
	UnreadMessageIDs(ctx context.Context, roomID, userID string) ([]string, error)
	// MarkRead inserts one read receipt per message id in a single batch.
	MarkRead(ctx context.Context, messageIDs []string, userID string) error
}

// RoomRepository is the authoritative room-membership store.
type RoomRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Room, error)
	Participants(ctx context.Context, roomID string) ([]domain.Participant, error)
	ParticipantIDs(ctx context.Context, roomID string) ([]string, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
}
