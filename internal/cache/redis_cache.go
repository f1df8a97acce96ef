package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Archan-07/my-chat-app/internal/config"
	"github.com/Archan-07/my-chat-app/internal/repository"
	"github.com/Archan-07/my-chat-app/pkg/log"
)

// RedisRoomCache caches room participant id sets in Redis in front of the
// room repository. Cache errors degrade to repository lookups; they never
// fail an authorization check by themselves.
type RedisRoomCache struct {
	client *redis.Client
	rooms  repository.RoomRepository
	prefix string
	ttl    time.Duration
}

// NewRedisRoomCache connects to Redis and returns the caching authorizer.
func NewRedisRoomCache(cfg config.CacheConfig, rooms repository.RoomRepository) (*RedisRoomCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRoomCache{
		client: client,
		rooms:  rooms,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

func (c *RedisRoomCache) participantsKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s:participants", c.prefix, roomID)
}

// IsParticipant checks the cached participant set, falling back to the
// repository and filling the cache on a miss.
func (c *RedisRoomCache) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	key := c.participantsKey(roomID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var ids []string
		if err := json.Unmarshal(data, &ids); err == nil {
			for _, id := range ids {
				if id == userID {
					return true, nil
				}
			}
			return false, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("participant cache read failed")
	}

	ids, err := c.rooms.ParticipantIDs(ctx, roomID)
	if err != nil {
		return false, err
	}

	if data, err := json.Marshal(ids); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("participant cache write failed")
		}
	}

	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cached participant set for a room.
func (c *RedisRoomCache) Invalidate(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, c.participantsKey(roomID)).Err()
}

// Close closes the Redis client.
func (c *RedisRoomCache) Close() error {
	return c.client.Close()
}

// RepoRoomAuthorizer answers membership checks straight from the room
// repository. Used when the cache Redis is not configured or unreachable.
type RepoRoomAuthorizer struct {
	rooms repository.RoomRepository
}

// NewRepoRoomAuthorizer creates a cache-less authorizer.
func NewRepoRoomAuthorizer(rooms repository.RoomRepository) *RepoRoomAuthorizer {
	return &RepoRoomAuthorizer{rooms: rooms}
}

func (a *RepoRoomAuthorizer) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	return a.rooms.IsParticipant(ctx, roomID, userID)
}

func (a *RepoRoomAuthorizer) Invalidate(context.Context, string) error { return nil }
