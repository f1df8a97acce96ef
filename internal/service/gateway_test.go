package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Archan-07/my-chat-app/internal/config"
	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/internal/hub"
	"github.com/Archan-07/my-chat-app/internal/pubsub"
	"github.com/Archan-07/my-chat-app/internal/repository"
)

// fakeMessageRepo is an in-memory MessageRepository. failCreate simulates a
// storage outage on the write path.
type fakeMessageRepo struct {
	mu         sync.Mutex
	messages   []*domain.Message
	receipts   map[string]map[string]bool // messageID -> userID -> read
	failCreate bool
	nextID     int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{receipts: make(map[string]map[string]bool)}
}

func (f *fakeMessageRepo) Create(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return errors.New("storage unavailable")
	}
	f.nextID++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m-%d", f.nextID)
	}
	msg.CreatedAt = time.Now().UTC()
	copied := *msg
	f.messages = append(f.messages, &copied)
	return nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			copied := *m
			return &copied, nil
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (f *fakeMessageRepo) ListRecent(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessageRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.messages {
		if m.ID == id {
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			delete(f.receipts, id)
			return nil
		}
	}
	return repository.ErrMessageNotFound
}

func (f *fakeMessageRepo) UnreadMessageIDs(_ context.Context, roomID, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, m := range f.messages {
		if m.RoomID != roomID || m.SenderID == userID {
			continue
		}
		if f.receipts[m.ID][userID] {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (f *fakeMessageRepo) MarkRead(_ context.Context, messageIDs []string, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range messageIDs {
		if f.receipts[id] == nil {
			f.receipts[id] = make(map[string]bool)
		}
		f.receipts[id][userID] = true
	}
	return nil
}

func (f *fakeMessageRepo) count(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.RoomID == roomID {
			n++
		}
	}
	return n
}

// fakeUserRepo records presence transitions.
type fakeUserRepo struct {
	mu       sync.Mutex
	online   map[string]bool
	lastSeen map[string]time.Time
	offlines int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{online: make(map[string]bool), lastSeen: make(map[string]time.Time)}
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Username: "u-" + id}, nil
}

func (f *fakeUserRepo) SetOnline(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
	return nil
}

func (f *fakeUserRepo) SetOffline(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = false
	f.lastSeen[userID] = lastSeen
	f.offlines++
	return nil
}

func (f *fakeUserRepo) GetPresence(_ context.Context, userID string) (*domain.PresenceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &domain.PresenceRecord{UserID: userID, IsOnline: f.online[userID]}
	if ls, ok := f.lastSeen[userID]; ok {
		rec.LastSeen = &ls
	}
	return rec, nil
}

func (f *fakeUserRepo) isOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeUserRepo) offlineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offlines
}

// fakeAuthz grants membership from a static map.
type fakeAuthz struct {
	members map[string][]string // roomID -> userIDs
}

func (f *fakeAuthz) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	for _, id := range f.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAuthz) Invalidate(context.Context, string) error { return nil }

// countingBus wraps a Bus and counts subscribe/unsubscribe calls per channel.
type countingBus struct {
	pubsub.Bus
	mu     sync.Mutex
	subs   map[string]int
	unsubs map[string]int
}

func newCountingBus(inner pubsub.Bus) *countingBus {
	return &countingBus{Bus: inner, subs: make(map[string]int), unsubs: make(map[string]int)}
}

func (b *countingBus) Subscribe(ctx context.Context, channel string) (*pubsub.Subscription, error) {
	b.mu.Lock()
	b.subs[channel]++
	b.mu.Unlock()
	return b.Bus.Subscribe(ctx, channel)
}

func (b *countingBus) Unsubscribe(ctx context.Context, sub *pubsub.Subscription) error {
	b.mu.Lock()
	b.unsubs[sub.Channel]++
	b.mu.Unlock()
	return b.Bus.Unsubscribe(ctx, sub)
}

func (b *countingBus) counts(channel string) (subs, unsubs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[channel], b.unsubs[channel]
}

type testEnv struct {
	gateway  ChatGateway
	registry *hub.Registry
	bus      *countingBus
	messages *fakeMessageRepo
	users    *fakeUserRepo
	authz    *fakeAuthz
}

func newTestEnv(t *testing.T, shared pubsub.Bus) *testEnv {
	t.Helper()
	if shared == nil {
		shared = pubsub.NewLocalBus()
	}
	env := &testEnv{
		registry: hub.NewRegistry(),
		bus:      newCountingBus(shared),
		messages: newFakeMessageRepo(),
		users:    newFakeUserRepo(),
		authz: &fakeAuthz{members: map[string][]string{
			"room-a": {"alice", "bob"},
			"room-b": {"alice"},
		}},
	}
	env.gateway = NewChatGateway(env.registry, env.bus, env.messages, env.users, env.authz)
	require.NoError(t, env.gateway.Start(context.Background()))
	t.Cleanup(func() { env.gateway.Stop() })
	return env
}

func newConn(id, userID string) *hub.Client {
	return hub.NewClient(id, domain.Identity{ID: userID, Username: "u-" + userID}, nil, config.WebSocketConfig{})
}

// readFrame pops the next frame sent to the connection.
func readFrame(t *testing.T, c *hub.Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// expectFrame reads frames until one of the wanted type arrives, skipping
// unrelated traffic such as presence events.
func expectFrame(t *testing.T, c *hub.Client, frameType string) map[string]interface{} {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.Send:
			var frame map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &frame))
			if frame["type"] == frameType {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", frameType)
			return nil
		}
	}
}

// expectNoFrame asserts no frame of the given type arrives within a grace
// window. Other frame types are drained and ignored.
func expectNoFrame(t *testing.T, c *hub.Client, frameType string) {
	t.Helper()
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case data := <-c.Send:
			var frame map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &frame))
			require.NotEqual(t, frameType, frame["type"], "unexpected %s frame: %v", frameType, frame)
		case <-deadline:
			return
		}
	}
}

func TestSendMessageReachesRoomMembers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleConnect(ctx, bob))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, bob, "room-a"))
	expectFrame(t, alice, domain.MsgTypeRoomJoined)
	expectFrame(t, bob, domain.MsgTypeRoomJoined)

	require.NoError(t, env.gateway.HandleSendMessage(ctx, alice, "room-a", "hello bob"))

	for _, c := range []*hub.Client{alice, bob} {
		frame := expectFrame(t, c, domain.EventReceiveMessage)
		require.Equal(t, "hello bob", frame["content"])
		require.Equal(t, "room-a", frame["room_id"])
		require.Equal(t, "alice", frame["sender_id"])
		require.NotEmpty(t, frame["id"], "broadcast carries the persisted id")
	}
	require.Equal(t, 1, env.messages.count("room-a"))
}

func TestSendMessageNotDeliveredOutsideRoom(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleConnect(ctx, bob))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	expectFrame(t, alice, domain.MsgTypeRoomJoined)

	// Bob is a room member but has not joined on this connection.
	require.NoError(t, env.gateway.HandleSendMessage(ctx, alice, "room-a", "hi"))

	expectFrame(t, alice, domain.EventReceiveMessage)
	expectNoFrame(t, bob, domain.EventReceiveMessage)
}

func TestJoinRoomRejectsNonParticipant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	mallory := newConn("c-mallory", "mallory")
	require.NoError(t, env.gateway.HandleConnect(ctx, mallory))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, mallory, "room-a"))

	frame := expectFrame(t, mallory, domain.MsgTypeError)
	require.Equal(t, domain.ErrCodeForbidden, frame["code"])
	require.Empty(t, env.registry.ConnectionsInRoom("room-a"))

	// Messages to the room never reach the rejected connection.
	alice := newConn("c-alice", "alice")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	require.NoError(t, env.gateway.HandleSendMessage(ctx, alice, "room-a", "secret"))
	expectNoFrame(t, mallory, domain.EventReceiveMessage)
}

func TestSendMessagePersistFailureSuppressesBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleConnect(ctx, bob))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, bob, "room-a"))

	env.messages.failCreate = true
	err := env.gateway.HandleSendMessage(ctx, alice, "room-a", "doomed")
	require.Error(t, err)

	expectNoFrame(t, bob, domain.EventReceiveMessage)
	require.Equal(t, 0, env.messages.count("room-a"))
}

func TestSendMessageEmptyContentDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))

	require.NoError(t, env.gateway.HandleSendMessage(ctx, alice, "room-a", "   "))
	require.Equal(t, 0, env.messages.count("room-a"))
	expectNoFrame(t, alice, domain.EventReceiveMessage)
}

func TestTypingExcludesSender(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleConnect(ctx, bob))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, bob, "room-a"))

	require.NoError(t, env.gateway.HandleTyping(ctx, alice, "room-a"))
	frame := expectFrame(t, bob, domain.EventDisplayTyping)
	require.Equal(t, "alice", frame["user_id"])
	expectNoFrame(t, alice, domain.EventDisplayTyping)

	require.NoError(t, env.gateway.HandleStopTyping(ctx, alice, "room-a"))
	expectFrame(t, bob, domain.EventHideTyping)
	expectNoFrame(t, alice, domain.EventHideTyping)
}

func TestMarkReadIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleConnect(ctx, bob))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, bob, "room-a"))

	require.NoError(t, env.gateway.HandleSendMessage(ctx, alice, "room-a", "unread me"))
	expectFrame(t, bob, domain.EventReceiveMessage)

	require.NoError(t, env.gateway.HandleMarkRead(ctx, bob, "room-a"))
	frame := expectFrame(t, alice, domain.EventMessagesRead)
	require.Equal(t, "bob", frame["read_by_user_id"])
	require.Len(t, frame["message_ids"], 1)
	// The broadcast reaches every room member, bob included.
	expectFrame(t, bob, domain.EventMessagesRead)

	// Everything is already read: the second call writes and emits nothing.
	require.NoError(t, env.gateway.HandleMarkRead(ctx, bob, "room-a"))
	expectNoFrame(t, alice, domain.EventMessagesRead)
	expectNoFrame(t, bob, domain.EventMessagesRead)

	// The sender's own messages never count as unread for the sender.
	require.NoError(t, env.gateway.HandleMarkRead(ctx, alice, "room-a"))
	expectNoFrame(t, bob, domain.EventMessagesRead)
}

func TestRoomSubscriptionRefcount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	channel := pubsub.RoomChannel("room-a")

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleConnect(ctx, bob))

	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	subs, unsubs := env.bus.counts(channel)
	require.Equal(t, 1, subs, "first join subscribes")
	require.Equal(t, 0, unsubs)

	require.NoError(t, env.gateway.HandleJoinRoom(ctx, bob, "room-a"))
	subs, _ = env.bus.counts(channel)
	require.Equal(t, 1, subs, "second join reuses the subscription")

	require.NoError(t, env.gateway.HandleDisconnect(ctx, alice))
	_, unsubs = env.bus.counts(channel)
	require.Equal(t, 0, unsubs, "room still has a local connection")

	require.NoError(t, env.gateway.HandleDisconnect(ctx, bob))
	_, unsubs = env.bus.counts(channel)
	require.Equal(t, 1, unsubs, "last leave unsubscribes")
}

func TestDisconnectCleanupRunsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	watcher := newConn("c-watch", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleConnect(ctx, watcher))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	require.True(t, env.users.isOnline("alice"))

	require.NoError(t, env.gateway.HandleDisconnect(ctx, alice))
	require.NoError(t, env.gateway.HandleDisconnect(ctx, alice))

	frame := expectFrame(t, watcher, domain.EventUserOffline)
	require.Equal(t, "alice", frame["user_id"])
	require.NotEmpty(t, frame["last_seen"])
	expectNoFrame(t, watcher, domain.EventUserOffline)

	require.False(t, env.users.isOnline("alice"))
	require.Equal(t, 1, env.users.offlineCount())
}

func TestPresenceBroadcastOnConnect(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	watcher := newConn("c-watch", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, watcher))
	// Presence goes to every local connection, so the watcher sees its own
	// online event first.
	frame := expectFrame(t, watcher, domain.EventUserOnline)
	require.Equal(t, "bob", frame["user_id"])

	alice := newConn("c-alice", "alice")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))

	frame = expectFrame(t, watcher, domain.EventUserOnline)
	require.Equal(t, "alice", frame["user_id"])
	require.True(t, env.users.isOnline("alice"))

	// Reconnect after a disconnect flips presence back on.
	require.NoError(t, env.gateway.HandleDisconnect(ctx, alice))
	expectFrame(t, watcher, domain.EventUserOffline)
	alice2 := newConn("c-alice-2", "alice")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice2))
	expectFrame(t, watcher, domain.EventUserOnline)
	require.True(t, env.users.isOnline("alice"))
}

func TestRejoinDuringDisconnectKeepsSubscription(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	g := env.gateway.(*chatGateway)
	channel := pubsub.RoomChannel("room-a")

	alice := newConn("c-alice", "alice")
	require.NoError(t, env.gateway.HandleConnect(ctx, alice))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, alice, "room-a"))

	// A disconnect starts: the registry empties the room, but the room
	// unsubscribe has not run yet.
	_, emptied, ok := env.registry.Unregister(alice.ID)
	require.True(t, ok)
	require.Equal(t, []string{"room-a"}, emptied)

	// Another connection joins in that window and reuses the still-present
	// subscription.
	bob := newConn("c-bob", "bob")
	require.NoError(t, env.gateway.HandleConnect(ctx, bob))
	require.NoError(t, env.gateway.HandleJoinRoom(ctx, bob, "room-a"))
	subs, _ := env.bus.counts(channel)
	require.Equal(t, 1, subs, "join reused the existing subscription")

	// The late cleanup must notice the room is occupied again and keep the
	// subscription alive.
	g.unsubscribeRoom(ctx, "room-a")
	_, unsubs := env.bus.counts(channel)
	require.Equal(t, 0, unsubs)

	require.NoError(t, env.gateway.HandleSendMessage(ctx, bob, "room-a", "still here"))
	frame := expectFrame(t, bob, domain.EventReceiveMessage)
	require.Equal(t, "still here", frame["content"])
}

func TestCrossGatewayDelivery(t *testing.T) {
	// Two gateways sharing one bus model two server processes.
	shared := pubsub.NewLocalBus()
	envA := newTestEnv(t, shared)
	envB := newTestEnv(t, shared)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	require.NoError(t, envA.gateway.HandleConnect(ctx, alice))
	require.NoError(t, envB.gateway.HandleConnect(ctx, bob))
	require.NoError(t, envA.gateway.HandleJoinRoom(ctx, alice, "room-a"))
	require.NoError(t, envB.gateway.HandleJoinRoom(ctx, bob, "room-a"))

	require.NoError(t, envA.gateway.HandleSendMessage(ctx, alice, "room-a", "across the wire"))

	frame := expectFrame(t, bob, domain.EventReceiveMessage)
	require.Equal(t, "across the wire", frame["content"])

	// Presence crosses processes too.
	require.NoError(t, envA.gateway.HandleDisconnect(ctx, alice))
	offline := expectFrame(t, bob, domain.EventUserOffline)
	require.Equal(t, "alice", offline["user_id"])
}
