package notify

import (
	"sync"
	"time"
)

// Type is the name of a UI notification
type Type string

const (
	AuthChanged Type = "auth-changed"
	CartChanged Type = "cart-changed"
)

// Kind says what caused a notification
type Kind string

const (
	KindLogin    Kind = "login"
	KindLogout   Kind = "logout"
	KindAdd      Kind = "add"
	KindRemove   Kind = "remove"
	KindQuantity Kind = "quantity"
	KindLoad     Kind = "load"
	KindClear    Kind = "clear"
	KindReplace  Kind = "replace"
	// KindExternal marks state re-read after another client wrote the shared tier
	KindExternal Kind = "external"
)

// Event is delivered to renderers. Payload is a cart snapshot for
// cart-changed and the migration report, if any, for auth-changed(login).
type Event struct {
	Type    Type      `json:"type"`
	Kind    Kind      `json:"kind"`
	Origin  string    `json:"origin"`
	UserID  string    `json:"userId,omitempty"`
	Email   string    `json:"email,omitempty"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher accepts notifications
type Publisher interface {
	Publish(ev Event)
}

// Bus fans events out to subscribers synchronously, in subscription order
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	next int
}

type subscription struct {
	id int
	fn func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a func that removes it
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, fn: fn})

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

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Discard drops every event
type Discard struct{}

func (Discard) Publish(Event) {}
