package cache

import "context"

// RoomAuthorizer answers room-membership questions for the gateway. The
// gateway only needs authorization answers; where they come from (cache,
// direct store) is this layer's business.
type RoomAuthorizer interface {
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	// Invalidate drops cached state for a room. Called by whatever mutates
	// membership so authorization answers do not go stale.
	Invalidate(ctx context.Context, roomID string) error
}
