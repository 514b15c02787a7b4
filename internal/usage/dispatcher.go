// Package usage routes "use item" requests to handlers registered for an item's use event.
package usage

import (
	"sync"

	"itemmanager.ai/internal/inventory"
)

// Handler reacts to an item being used by owner.
type Handler[O any] func(owner O, uid string)

// Dispatcher maps a use event id to its handlers in registration order.
type Dispatcher[O any] struct {
	cat inventory.Catalog

	mu       sync.RWMutex
	handlers map[string][]Handler[O]
}

func NewDispatcher[O any](cat inventory.Catalog) *Dispatcher[O] {
	return &Dispatcher[O]{cat: cat, handlers: map[string][]Handler[O]{}}
}

// Register appends h to the handlers of event. Registrations live for the process lifetime.
func (d *Dispatcher[O]) Register(event string, h Handler[O]) {
	if event == "" || h == nil {
		return
	}
	d.mu.Lock()
	d.handlers[event] = append(d.handlers[event], h)
	d.mu.Unlock()
}

func (d *Dispatcher[O]) Handlers(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// Invoke calls every handler registered for the stack's use event.
func (d *Dispatcher[O]) Invoke(owner O, s inventory.Stack) error {
	def, ok := d.cat.Get(s.ID)
	if !ok {
		return &inventory.Error{Code: inventory.CodeUnknownItem, Message: "base item for event usage does not exist: " + s.ID}
	}
	if def.UseEvent == "" {
		return &inventory.Error{Code: inventory.CodeNoUsageDefined, Message: "base item does not have a usage callback: " + s.ID}
	}
	if s.Durability != nil && *s.Durability <= 0 {
		return &inventory.Error{Code: inventory.CodeItemBroken, Message: "item is broken: " + s.UID}
	}

	d.mu.RLock()
	hs := append([]Handler[O](nil), d.handlers[def.UseEvent]...)
	d.mu.RUnlock()
	if len(hs) == 0 {
		return &inventory.Error{Code: inventory.CodeNoHandlersRegistered, Message: "no handlers registered for " + def.UseEvent}
	}
	for _, h := range hs {
		h(owner, s.UID)
	}
	return nil
}
