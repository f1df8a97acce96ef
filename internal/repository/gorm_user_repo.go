package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/pkg/log"
)

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// GetByID retrieves a user by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	result := r.db.WithContext(ctx).First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// SetOnline marks the user's presence record online.
func (r *GormUserRepository) SetOnline(ctx context.Context, userID string) error {
	result := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("is_online", true)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to mark user online")
		return result.Error
	}
	return nil
}

// SetOffline marks the user's presence record offline and stamps last_seen.
func (r *GormUserRepository) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": false, "last_seen": lastSeen})
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to mark user offline")
		return result.Error
	}
	return nil
}

// GetPresence returns the durable presence record for a user.
func (r *GormUserRepository) GetPresence(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.PresenceRecord{
		UserID:   user.ID,
		IsOnline: user.IsOnline,
		LastSeen: user.LastSeen,
	}, nil
}
