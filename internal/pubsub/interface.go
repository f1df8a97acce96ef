package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is a message published on the fan-out bus. Events cross process
// boundaries, so everything a receiving gateway needs to route the event
// rides in the envelope.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`

	// ExcludeConn is a connection ID that must not receive the event during
	// local fan-out. Only meaningful on the publishing process for events
	// like typing, where the sender must not see its own echo; other
	// processes have no connection with that ID, so it is harmless there.
	ExcludeConn string `json:"exclude_conn,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(eventType, roomID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Subscription is a live subscription handle. Events arrive on C until the
// subscription is closed, after which C is closed.
type Subscription struct {
	Channel string
	C       <-chan *Event

	cancel func() error
}

// Bus is the publish/subscribe fan-out transport. Publishing is best-effort:
// a nil error means the event was handed to the transport, not that every
// subscriber received it. Events published to one channel from one process
// arrive in publish order; interleaving across processes is unordered.
type Bus interface {
	Publish(ctx context.Context, channel string, event *Event) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	Unsubscribe(ctx context.Context, sub *Subscription) error
	Close() error
}

func (s *Subscription) close() error {
	if s.cancel == nil {
		return nil
	}
	err := s.cancel()
	s.cancel = nil
	return err
}
