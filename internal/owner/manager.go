package owner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"itemmanager.ai/internal/events"
	"itemmanager.ai/internal/inventory"
	"itemmanager.ai/internal/usage"
)

// Service binds the engine to persistence and notifications. It hands out one Manager per
// owner; managers for the same owner are not serialized against each other.
type Service struct {
	engine *inventory.Engine
	store  Store
	bus    *events.Bus
	usage  *usage.Dispatcher[Ref]

	storageSlots int
	now          func() time.Time
}

type Options struct {
	// StorageSlots is stamped on storage records created on first access.
	StorageSlots int
}

func NewService(engine *inventory.Engine, store Store, bus *events.Bus, dispatch *usage.Dispatcher[Ref], opts Options) *Service {
	return &Service{
		engine:       engine,
		store:        store,
		bus:          bus,
		usage:        dispatch,
		storageSlots: opts.StorageSlots,
		now:          time.Now,
	}
}

func (s *Service) For(ref Ref) *Manager {
	return &Manager{svc: s, ref: ref}
}

// Decay runs one decay tick on ref's container.
func (s *Service) Decay(ctx context.Context, ref Ref) error {
	return s.For(ref).InvokeDecay(ctx)
}

// Manager runs inventory operations against one owner's persisted container.
// Not safe for concurrent use: ErrorMessage reflects the latest call.
type Manager struct {
	svc     *Service
	ref     Ref
	lastErr string
}

func (m *Manager) Ref() Ref { return m.ref }

// ErrorMessage returns the message of the most recent failed operation, for display only.
func (m *Manager) ErrorMessage() string { return m.lastErr }

func (m *Manager) Get(ctx context.Context) ([]inventory.Stack, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return rec.Items, nil
}

func (m *Manager) Record(ctx context.Context) (Record, error) {
	return m.load(ctx)
}

func (m *Manager) GetByUID(ctx context.Context, uid string) (inventory.Stack, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return inventory.Stack{}, err
	}
	s, err := inventory.GetByUID(uid, rec.Items)
	return s, m.track(err)
}

func (m *Manager) GetData(ctx context.Context, uid string) (map[string]any, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	d, err := inventory.GetData(uid, rec.Items)
	return d, m.track(err)
}

func (m *Manager) Has(ctx context.Context, id string, quantity int) (bool, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return false, err
	}
	err = m.track(inventory.Check(id, quantity, rec.Items))
	return err == nil, nil
}

func (m *Manager) Add(ctx context.Context, id string, quantity int, opts inventory.AddOptions) error {
	rec, err := m.load(ctx)
	if err != nil {
		return err
	}
	if opts.MaxSlots == 0 {
		opts.MaxSlots = rec.MaxSlots
	}
	items, err := m.svc.engine.Add(id, quantity, rec.Items, opts)
	if err != nil {
		return m.track(err)
	}
	if err := m.save(ctx, rec, items); err != nil {
		return err
	}
	m.emit(events.KindItemAdded, events.ItemDelta{ItemID: id, Quantity: quantity})
	m.emit(events.KindItemsUpdated, items)
	return nil
}

func (m *Manager) Remove(ctx context.Context, id string, quantity int) error {
	rec, err := m.load(ctx)
	if err != nil {
		return err
	}
	items, err := m.svc.engine.Remove(id, quantity, rec.Items)
	if err != nil {
		return m.track(err)
	}
	if err := m.save(ctx, rec, items); err != nil {
		return err
	}
	m.emit(events.KindItemRemoved, events.ItemDelta{ItemID: id, Quantity: quantity})
	m.emit(events.KindItemsUpdated, items)
	return nil
}

func (m *Manager) RemoveAt(ctx context.Context, uid string) (inventory.Stack, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return inventory.Stack{}, err
	}
	items, removed, err := m.svc.engine.RemoveAt(uid, rec.Items)
	if err != nil {
		return inventory.Stack{}, m.track(err)
	}
	if err := m.save(ctx, rec, items); err != nil {
		return inventory.Stack{}, err
	}
	m.emit(events.KindItemRemoved, events.ItemDelta{ItemID: removed.ID, Quantity: removed.Quantity})
	m.emit(events.KindItemsUpdated, items)
	return removed, nil
}

func (m *Manager) RemoveQuantityFrom(ctx context.Context, uid string, quantity int) error {
	rec, err := m.load(ctx)
	if err != nil {
		return err
	}
	id := ""
	if s, err := inventory.GetByUID(uid, rec.Items); err == nil {
		id = s.ID
	}
	items, err := m.svc.engine.RemoveQuantityFrom(uid, quantity, rec.Items)
	if err != nil {
		return m.track(err)
	}
	if err := m.save(ctx, rec, items); err != nil {
		return err
	}
	m.emit(events.KindItemRemoved, events.ItemDelta{ItemID: id, Quantity: quantity})
	m.emit(events.KindItemsUpdated, items)
	return nil
}

func (m *Manager) Split(ctx context.Context, uid string, amount int, opts inventory.AddOptions) error {
	return m.mutate(ctx, func(rec Record) ([]inventory.Stack, error) {
		if opts.MaxSlots == 0 {
			opts.MaxSlots = rec.MaxSlots
		}
		return m.svc.engine.Split(uid, amount, rec.Items, opts)
	})
}

func (m *Manager) Stack(ctx context.Context, onto, from string) error {
	return m.mutate(ctx, func(rec Record) ([]inventory.Stack, error) {
		return m.svc.engine.Stack(onto, from, rec.Items)
	})
}

func (m *Manager) Update(ctx context.Context, uid string, p inventory.Patch) error {
	return m.mutate(ctx, func(rec Record) ([]inventory.Stack, error) {
		return m.svc.engine.Update(uid, p, rec.Items)
	})
}

// Replace overwrites the whole stack list, for migrations and admin edits. Limits are not
// re-checked; stacks must have a uid and a positive quantity.
func (m *Manager) Replace(ctx context.Context, items []inventory.Stack) error {
	return m.mutate(ctx, func(Record) ([]inventory.Stack, error) {
		for _, st := range items {
			if st.UID == "" || st.Quantity <= 0 {
				return nil, fmt.Errorf("replace %s: stack %q quantity %d: %w", m.ref, st.UID, st.Quantity, inventory.ErrInvalidQuantity)
			}
		}
		return inventory.Clone(items), nil
	})
}

// Clear empties the container.
func (m *Manager) Clear(ctx context.Context) error {
	return m.mutate(ctx, func(Record) ([]inventory.Stack, error) {
		return []inventory.Stack{}, nil
	})
}

// Use fires the item's use event without consuming it.
func (m *Manager) Use(ctx context.Context, uid string) error {
	s, err := m.GetByUID(ctx, uid)
	if err != nil {
		return err
	}
	return m.track(m.svc.usage.Invoke(m.ref, s))
}

// UseOne fires the use event and then consumes one unit of the stack.
func (m *Manager) UseOne(ctx context.Context, uid string) error {
	if err := m.Use(ctx, uid); err != nil {
		return err
	}
	return m.RemoveQuantityFrom(ctx, uid, 1)
}

// InvokeDecay ages the container by one tick. Storage flagged no-decay and empty
// containers are left untouched.
func (m *Manager) InvokeDecay(ctx context.Context) error {
	rec, err := m.load(ctx)
	if err != nil {
		return err
	}
	if rec.NoDecay || len(rec.Items) == 0 {
		return nil
	}
	items := m.svc.engine.InvokeDecay(rec.Items)
	if err := m.save(ctx, rec, items); err != nil {
		return err
	}
	if len(items) != len(rec.Items) {
		m.emit(events.KindItemsUpdated, items)
	}
	return nil
}

func (m *Manager) mutate(ctx context.Context, fn func(Record) ([]inventory.Stack, error)) error {
	rec, err := m.load(ctx)
	if err != nil {
		return err
	}
	items, err := fn(rec)
	if err != nil {
		return m.track(err)
	}
	if err := m.save(ctx, rec, items); err != nil {
		return err
	}
	m.emit(events.KindItemsUpdated, items)
	return nil
}

func (m *Manager) load(ctx context.Context) (Record, error) {
	m.lastErr = ""
	rec, err := m.svc.store.LoadContainer(ctx, m.ref)
	if errors.Is(err, ErrNotFound) {
		rec = Record{Ref: m.ref, Items: []inventory.Stack{}, LastAccessed: m.svc.now()}
		if m.ref.Kind == KindStorage {
			rec.MaxSlots = m.svc.storageSlots
			if err := m.svc.store.SaveContainer(ctx, rec); err != nil {
				return Record{}, m.track(fmt.Errorf("create %s: %w", m.ref, err))
			}
		}
		return rec, nil
	}
	if err != nil {
		return Record{}, m.track(fmt.Errorf("load %s: %w", m.ref, err))
	}
	rec.Ref = m.ref
	return rec, nil
}

func (m *Manager) save(ctx context.Context, rec Record, items []inventory.Stack) error {
	rec.Items = items
	rec.LastAccessed = m.svc.now()
	if err := m.svc.store.SaveContainer(ctx, rec); err != nil {
		return m.track(fmt.Errorf("save %s: %w", m.ref, err))
	}
	return nil
}

func (m *Manager) emit(kind events.Kind, payload any) {
	if m.svc.bus == nil {
		return
	}
	m.svc.bus.Emit(kind, m.ref.String(), payload)
}

func (m *Manager) track(err error) error {
	if err != nil {
		m.lastErr = err.Error()
	}
	return err
}
