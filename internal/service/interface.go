package service

import (
	"context"

	"github.com/Archan-07/my-chat-app/internal/hub"
)

// ChatGateway is the realtime core: it owns the connection lifecycle,
// validates and persists inbound events, and fans events out through the
// bus so every process (this one included) delivers them to its local
// connections.
type ChatGateway interface {
	// HandleConnect runs after a successful handshake: registers the
	// connection, marks the user online and broadcasts the presence event.
	HandleConnect(ctx context.Context, c *hub.Client) error
	HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error
	HandleTyping(ctx context.Context, c *hub.Client, roomID string) error
	HandleStopTyping(ctx context.Context, c *hub.Client, roomID string) error
	HandleSendMessage(ctx context.Context, c *hub.Client, roomID, content string) error
	HandleMarkRead(ctx context.Context, c *hub.Client, roomID string) error
	// HandleDisconnect tears the connection down. Safe to call more than
	// once; cleanup runs exactly once.
	HandleDisconnect(ctx context.Context, c *hub.Client) error

	// PublishToRoom is the internal publish API for actions taken outside a
	// live connection (the HTTP layer). Events flow through the same bus
	// channels as socket-originated ones.
	PublishToRoom(ctx context.Context, roomID, eventType string, payload interface{}) error

	Start(ctx context.Context) error
	Stop() error
}
