package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create persists a new message. The id is generated here when the caller
// left it empty.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	result := r.db.WithContext(ctx).Create(msg)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldRoomID, msg.RoomID).Msg("failed to persist message")
		return result.Error
	}
	return nil
}

// GetByID retrieves a message by ID.
func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	result := r.db.WithContext(ctx).First(&msg, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, result.Error
	}
	return &msg, nil
}

// ListRecent returns the limit newest messages of the room in chronological
// order, each with its sender preloaded.
func (r *GormMessageRepository) ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	result := r.db.WithContext(ctx).
		Preload("Sender").
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages)
	if result.Error != nil {
		return nil, result.Error
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// Delete removes a message and its read receipts.
func (r *GormMessageRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&domain.ReadReceipt{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&domain.Message{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrMessageNotFound
		}
		return nil
	})
}

// UnreadMessageIDs returns ids of messages in the room not authored by
// userID and lacking a read receipt for userID.
func (r *GormMessageRepository) UnreadMessageIDs(ctx context.Context, roomID, userID string) ([]string, error) {
	var ids []string
	result := r.db.WithContext(ctx).
		Table("messages").
		Select("messages.id").
		Joins("LEFT JOIN read_receipts ON read_receipts.message_id = messages.id AND read_receipts.user_id = ?", userID).
		Where("messages.room_id = ? AND messages.sender_id <> ? AND read_receipts.message_id IS NULL", roomID, userID).
		Order("messages.created_at ASC").
		Pluck("messages.id", &ids)
	if result.Error != nil {
		return nil, result.Error
	}
	return ids, nil
}

// MarkRead inserts one receipt per message in a single batch. Receipts are
// insert-once; callers pass only ids from UnreadMessageIDs.
func (r *GormMessageRepository) MarkRead(ctx context.Context, messageIDs []string, userID string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	receipts := make([]domain.ReadReceipt, 0, len(messageIDs))
	for _, id := range messageIDs {
		receipts = append(receipts, domain.ReadReceipt{MessageID: id, UserID: userID})
	}
	return r.db.WithContext(ctx).Create(&receipts).Error
}
