package events

import (
	"fmt"
	"log"
	"sync"
	"time"
)

type Kind string

const (
	KindItemAdded    Kind = "item.added"
	KindItemRemoved  Kind = "item.removed"
	KindItemsUpdated Kind = "items.updated"
	KindItemUsed     Kind = "item.used"
	KindDecaySweep   Kind = "decay.sweep"
)

// Event is one notification. Owner is the owner reference in "kind:key" form.
type Event struct {
	Kind    Kind      `json:"kind"`
	Owner   string    `json:"owner"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// ItemDelta is the payload of item.added / item.removed.
type ItemDelta struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// ItemUse is the payload of item.used.
type ItemUse struct {
	Event string `json:"event"`
	UID   string `json:"uid"`
}

type Listener func(Event) error

// Bus fans events out to listeners synchronously, in subscription order. A failing or
// panicking listener is logged and does not stop the others.
type Bus struct {
	log *log.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

type subscription struct {
	id   uint64
	kind Kind // "" receives every kind
	fn   Listener
}

func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{log: logger}
}

// Subscribe registers fn for kind ("" for all kinds) and returns its cancel func.
func (b *Bus) Subscribe(kind Kind, fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Emit(kind Kind, owner string, payload any) {
	ev := Event{Kind: kind, Owner: owner, Time: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == kind {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(s.fn, ev); err != nil {
			b.log.Printf("listener %d on %s: %v", s.id, kind, err)
		}
	}
}

func (b *Bus) deliver(fn Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ev)
}
