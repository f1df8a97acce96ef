package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Archan-07/my-chat-app/internal/domain"
)

// GormRoomRepository implements RoomRepository using GORM.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a GORM-based room repository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

// GetByID retrieves a room by ID.
func (r *GormRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	result := r.db.WithContext(ctx).First(&room, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, result.Error
	}
	return &room, nil
}

// ListForUser returns the rooms the user participates in, newest first.
func (r *GormRoomRepository) ListForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	var rooms []domain.Room
	result := r.db.WithContext(ctx).
		Joins("JOIN participants ON participants.room_id = rooms.id").
		Where("participants.user_id = ?", userID).
		Order("rooms.updated_at DESC").
		Find(&rooms)
	if result.Error != nil {
		return nil, result.Error
	}
	return rooms, nil
}

// Participants returns the room's participants with users preloaded.
func (r *GormRoomRepository) Participants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var participants []domain.Participant
	result := r.db.WithContext(ctx).
		Preload("User").
		Where("room_id = ?", roomID).
		Find(&participants)
	if result.Error != nil {
		return nil, result.Error
	}
	return participants, nil
}

// ParticipantIDs returns the ids of the room's participants.
func (r *GormRoomRepository) ParticipantIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	result := r.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("room_id = ?", roomID).
		Pluck("user_id", &ids)
	if result.Error != nil {
		return nil, result.Error
	}
	return ids, nil
}

// IsParticipant reports whether the user is a member of the room.
func (r *GormRoomRepository) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}
