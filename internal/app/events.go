package app

import (
	"sync"

	"github.com/dkeye/Signal/internal/domain"
)

// Notification is one of StateChanged, TrackAdded, TrackRemoved,
// NegotiationFailed or Disconnected.
type Notification interface {
	Kind() string
}

type StateChanged struct {
	Old domain.ConnectionState `json:"old"`
	New domain.ConnectionState `json:"new"`
}

type TrackAdded struct {
	Track domain.Track `json:"track"`
}

type TrackRemoved struct {
	TrackID string `json:"track_id"`
}

// NegotiationFailed reports a rejected description or offer/answer creation.
// The session stays up.
type NegotiationFailed struct {
	Stage string `json:"stage"`
	Err   error  `json:"-"`
}

type Disconnected struct {
	Reason string `json:"reason"`
}

func (StateChanged) Kind() string      { return "state_changed" }
func (TrackAdded) Kind() string        { return "track_added" }
func (TrackRemoved) Kind() string      { return "track_removed" }
func (NegotiationFailed) Kind() string { return "negotiation_failed" }
func (Disconnected) Kind() string      { return "disconnected" }

// Bus fans notifications out to observers, synchronously and in
// registration order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

type subscriber struct {
	id int
	fn func(Notification)
}

func (b *Bus) Subscribe(fn func(Notification)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) publish(n Notification) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(n)
	}
}
