package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Archan-07/my-chat-app/internal/cache"
	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/internal/hub"
	"github.com/Archan-07/my-chat-app/internal/pubsub"
	"github.com/Archan-07/my-chat-app/internal/repository"
	"github.com/Archan-07/my-chat-app/pkg/log"
)

type chatGateway struct {
	registry *hub.Registry
	bus      pubsub.Bus
	messages repository.MessageRepository
	users    repository.UserRepository
	authz    cache.RoomAuthorizer

	// Room channel subscriptions held by this process. One per room with at
	// least one local connection; the registry's reference counts decide
	// when entries appear and disappear.
	subMu sync.Mutex
	subs  map[string]*pubsub.Subscription

	presenceSub *pubsub.Subscription
}

// NewChatGateway creates the gateway. All collaborators are injected; the
// gateway owns no globals and can be constructed per process (or per test).
func NewChatGateway(
	registry *hub.Registry,
	bus pubsub.Bus,
	messages repository.MessageRepository,
	users repository.UserRepository,
	authz cache.RoomAuthorizer,
) ChatGateway {
	return &chatGateway{
		registry: registry,
		bus:      bus,
		messages: messages,
		users:    users,
		authz:    authz,
		subs:     make(map[string]*pubsub.Subscription),
	}
}

// Start subscribes the process to the global presence channel.
func (g *chatGateway) Start(ctx context.Context) error {
	sub, err := g.bus.Subscribe(ctx, pubsub.ChannelPresence)
	if err != nil {
		return fmt.Errorf("failed to subscribe to presence channel: %w", err)
	}
	g.presenceSub = sub
	go g.pumpGlobal(sub)
	return nil
}

// Stop drops every bus subscription.
func (g *chatGateway) Stop() error {
	ctx := context.Background()

	g.subMu.Lock()
	for roomID, sub := range g.subs {
		g.bus.Unsubscribe(ctx, sub)
		delete(g.subs, roomID)
	}
	g.subMu.Unlock()

	if g.presenceSub != nil {
		g.bus.Unsubscribe(ctx, g.presenceSub)
		g.presenceSub = nil
	}
	return nil
}

func (g *chatGateway) HandleConnect(ctx context.Context, c *hub.Client) error {
	g.registry.Register(c)

	if err := g.users.SetOnline(ctx, c.Identity.ID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldUserID, c.Identity.ID).Msg("failed to persist online status")
	}

	g.publishPresence(ctx, domain.EventUserOnline, domain.UserOnlinePayload{UserID: c.Identity.ID})

	log.Ctx(ctx).Info().
		Str(log.FieldConnID, c.ID).
		Str(log.FieldUsername, c.Identity.Username).
		Msg("user connected")
	return nil
}

func (g *chatGateway) HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return c.SendEvent(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id is required"))
	}

	// Authorization is re-checked on every join, not just at handshake:
	// membership can change mid-session.
	member, err := g.authz.IsParticipant(ctx, roomID, c.Identity.ID)
	if err != nil {
		c.SendEvent(domain.NewErrorMessage(domain.ErrCodeInternalError, "failed to verify room membership"))
		return fmt.Errorf("membership check for room %s: %w", roomID, err)
	}
	if !member {
		log.Ctx(ctx).Warn().
			Str(log.FieldUserID, c.Identity.ID).
			Str(log.FieldRoomID, roomID).
			Msg("join rejected: not a participant")
		return c.SendEvent(domain.NewErrorMessage(domain.ErrCodeForbidden, "not a participant of this room"))
	}

	first, ok := g.registry.Join(c.ID, roomID)
	if !ok {
		// Connection disconnected while the membership check was in flight.
		return nil
	}
	if first {
		if err := g.subscribeRoom(ctx, roomID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room subscription failed, cross-process delivery degraded")
		}
	}

	log.Ctx(ctx).Info().
		Str(log.FieldUsername, c.Identity.Username).
		Str(log.FieldRoomID, roomID).
		Msg("user joined room")
	return c.SendEvent(&domain.RoomJoinedMessage{Type: domain.MsgTypeRoomJoined, RoomID: roomID})
}

func (g *chatGateway) HandleTyping(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return nil
	}
	return g.publishRoomExcluding(ctx, roomID, domain.EventDisplayTyping, domain.TypingPayload{
		UserID:   c.Identity.ID,
		Username: c.Identity.Username,
	}, c.ID)
}

func (g *chatGateway) HandleStopTyping(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return nil
	}
	return g.publishRoomExcluding(ctx, roomID, domain.EventHideTyping, domain.TypingPayload{
		UserID: c.Identity.ID,
	}, c.ID)
}

func (g *chatGateway) HandleSendMessage(ctx context.Context, c *hub.Client, roomID, content string) error {
	if roomID == "" || strings.TrimSpace(content) == "" {
		log.Ctx(ctx).Warn().Str(log.FieldConnID, c.ID).Msg("dropping send with empty room or content")
		return nil
	}

	msg := &domain.Message{
		Content:  content,
		RoomID:   roomID,
		SenderID: c.Identity.ID,
	}

	// The write must durably succeed before anything is broadcast: clients
	// must never see a message a reload would not show.
	if err := g.messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("message persist failed, broadcast aborted: %w", err)
	}

	return g.PublishToRoom(ctx, roomID, domain.EventReceiveMessage, domain.NewMessagePayload(msg, c.Identity))
}

func (g *chatGateway) HandleMarkRead(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return nil
	}

	ids, err := g.messages.UnreadMessageIDs(ctx, roomID, c.Identity.ID)
	if err != nil {
		return fmt.Errorf("unread lookup for room %s: %w", roomID, err)
	}
	if len(ids) == 0 {
		// Nothing new to mark: no write, no event.
		return nil
	}

	if err := g.messages.MarkRead(ctx, ids, c.Identity.ID); err != nil {
		return fmt.Errorf("read receipt insert for room %s: %w", roomID, err)
	}

	return g.PublishToRoom(ctx, roomID, domain.EventMessagesRead, domain.MessagesReadPayload{
		RoomID:       roomID,
		ReadByUserID: c.Identity.ID,
		MessageIDs:   ids,
	})
}

func (g *chatGateway) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	rooms, emptied, ok := g.registry.Unregister(c.ID)
	if !ok {
		// Already torn down by a concurrent disconnect signal.
		return nil
	}

	for _, roomID := range emptied {
		g.unsubscribeRoom(ctx, roomID)
	}

	lastSeen := time.Now().UTC()
	if err := g.users.SetOffline(ctx, c.Identity.ID, lastSeen); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldUserID, c.Identity.ID).Msg("failed to persist offline status")
	}

	g.publishPresence(ctx, domain.EventUserOffline, domain.UserOfflinePayload{
		UserID:   c.Identity.ID,
		LastSeen: lastSeen,
	})

	log.Ctx(ctx).Info().
		Str(log.FieldConnID, c.ID).
		Str(log.FieldUsername, c.Identity.Username).
		Int("rooms_left", len(rooms)).
		Msg("user disconnected")
	return nil
}

// PublishToRoom publishes an event on the room's bus channel. Local
// delivery happens when the event comes back through this process's
// subscription, same as for events published by other processes.
func (g *chatGateway) PublishToRoom(ctx context.Context, roomID, eventType string, payload interface{}) error {
	return g.publishRoomExcluding(ctx, roomID, eventType, payload, "")
}

func (g *chatGateway) publishRoomExcluding(ctx context.Context, roomID, eventType string, payload interface{}, excludeConn string) error {
	ev, err := pubsub.NewEvent(eventType, roomID, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	ev.ExcludeConn = excludeConn

	if err := g.bus.Publish(ctx, pubsub.RoomChannel(roomID), ev); err != nil {
		return fmt.Errorf("failed to publish %s to room %s: %w", eventType, roomID, err)
	}
	return nil
}

func (g *chatGateway) publishPresence(ctx context.Context, eventType string, payload interface{}) {
	ev, err := pubsub.NewEvent(eventType, "", payload)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldEventType, eventType).Msg("failed to build presence event")
		return
	}
	if err := g.bus.Publish(ctx, pubsub.ChannelPresence, ev); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldEventType, eventType).Msg("presence publish failed")
	}
}

func (g *chatGateway) subscribeRoom(ctx context.Context, roomID string) error {
	g.subMu.Lock()
	defer g.subMu.Unlock()

	if _, exists := g.subs[roomID]; exists {
		return nil
	}
	sub, err := g.bus.Subscribe(ctx, pubsub.RoomChannel(roomID))
	if err != nil {
		return err
	}
	g.subs[roomID] = sub
	go g.pumpRoom(roomID, sub)
	return nil
}

func (g *chatGateway) unsubscribeRoom(ctx context.Context, roomID string) {
	g.subMu.Lock()
	// The room may have been rejoined between its refcount dropping to zero
	// and this cleanup running. The join saw the still-present subscription
	// and reused it, so closing it now would strand that connection.
	if len(g.registry.ConnectionsInRoom(roomID)) > 0 {
		g.subMu.Unlock()
		return
	}
	sub, exists := g.subs[roomID]
	delete(g.subs, roomID)
	g.subMu.Unlock()

	if exists {
		if err := g.bus.Unsubscribe(ctx, sub); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room unsubscribe failed")
		}
	}
}

// pumpRoom delivers a room channel's events to local connections joined to
// that room. Exits when the subscription closes.
func (g *chatGateway) pumpRoom(roomID string, sub *pubsub.Subscription) {
	for ev := range sub.C {
		data, err := frameEvent(ev)
		if err != nil {
			log.L().Warn().Err(err).Str(log.FieldEventType, ev.Type).Msg("dropping unframeable event")
			continue
		}
		for _, c := range g.registry.ConnectionsInRoom(roomID) {
			if ev.ExcludeConn != "" && c.ID == ev.ExcludeConn {
				continue
			}
			c.SendRaw(data)
		}
	}
}

// pumpGlobal delivers presence events to every local connection.
func (g *chatGateway) pumpGlobal(sub *pubsub.Subscription) {
	for ev := range sub.C {
		data, err := frameEvent(ev)
		if err != nil {
			log.L().Warn().Err(err).Str(log.FieldEventType, ev.Type).Msg("dropping unframeable event")
			continue
		}
		for _, c := range g.registry.Connections() {
			c.SendRaw(data)
		}
	}
}

// frameEvent flattens a bus event into the client frame: the payload object
// with a "type" field injected.
func frameEvent(ev *pubsub.Event) ([]byte, error) {
	fields := make(map[string]interface{})
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &fields); err != nil {
			return nil, err
		}
	}
	fields["type"] = ev.Type
	return json.Marshal(fields)
}
