package pubsub

import (
	"context"
	"sync"
)

// LocalBus is an in-process Bus. It backs the degraded single-process mode
// used when the real bus is unreachable at startup, and it is the bus used
// in tests. Delivery is per-channel FIFO.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan *Event
	nextID int
	closed bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]chan *Event)}
}

// Publish delivers the event to every current subscriber of the channel.
func (b *LocalBus) Publish(_ context.Context, channel string, event *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- event:
		default:
			// Subscriber backlog full; best-effort delivery drops it.
		}
	}
	return nil
}

// Subscribe registers a subscriber on the channel.
func (b *LocalBus) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan *Event, 100)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan *Event)
	}
	b.subs[channel][id] = ch

	return &Subscription{
		Channel: channel,
		C:       ch,
		cancel: func() error {
			b.remove(channel, id, ch)
			return nil
		},
	}, nil
}

// Unsubscribe removes the subscription and closes its event channel.
func (b *LocalBus) Unsubscribe(_ context.Context, sub *Subscription) error {
	return sub.close()
}

// Close closes every subscription.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan *Event)
	return nil
}

func (b *LocalBus) remove(channel string, id int, ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if chans, ok := b.subs[channel]; ok {
		if _, ok := chans[id]; ok {
			delete(chans, id)
			close(ch)
			if len(chans) == 0 {
				delete(b.subs, channel)
			}
		}
	}
}
