package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

var ErrNotReady = errors.New("catalog not ready")

// Item is a base item definition. Stacks reference it by ID.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Desc     string  `json:"desc"`
	Icon     string  `json:"icon"`
	MaxStack int     `json:"max_stack"`
	Weight   float64 `json:"weight"` // per unit

	// Decay is the number of in-game hours before a stack expires. Nil never expires.
	Decay      *int   `json:"decay,omitempty"`
	Durability *int   `json:"durability,omitempty"`
	UseEvent   string `json:"use_event,omitempty"`
	Rules      *Rules `json:"rules,omitempty"`
}

// Rules are stored with the definition but not enforced here.
type Rules struct {
	NoTradingOrStorage bool `json:"no_trading_or_storage,omitempty"`
	NoDropping         bool `json:"no_dropping,omitempty"`
}

func (it Item) Stackable() bool { return it.MaxStack > 1 }

func (it Item) clone() Item {
	out := it
	if it.Decay != nil {
		d := *it.Decay
		out.Decay = &d
	}
	if it.Durability != nil {
		d := *it.Durability
		out.Durability = &d
	}
	if it.Rules != nil {
		r := *it.Rules
		out.Rules = &r
	}
	return out
}

func (it *Item) normalize() {
	if it.Weight < 0 {
		it.Weight = 0
	}
	if it.MaxStack <= 0 {
		it.MaxStack = 1
	}
}

// ExampleItem is inserted when the store holds no definitions at all.
func ExampleItem() Item {
	return Item{
		ID:       "example",
		Name:     "Example Item",
		Desc:     "Basic Example Item",
		MaxStack: 16,
		Weight:   0.01,
		Icon:     "whatever.png",
	}
}

// Store is the persistence side of the catalog.
type Store interface {
	LoadCatalog(ctx context.Context) ([]Item, error)
	CreateItem(ctx context.Context, it Item) error
	DeleteItem(ctx context.Context, id string) error
}

type Catalog struct {
	store Store
	log   *log.Logger

	// writeMu serializes Create and Remove across the store write.
	writeMu sync.Mutex

	mu     sync.RWMutex
	items  map[string]Item
	digest string

	ready     chan struct{}
	readyOnce sync.Once
}

func New(store Store, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = log.Default()
	}
	return &Catalog{
		store: store,
		log:   logger,
		items: map[string]Item{},
		ready: make(chan struct{}),
	}
}

// Load reads every definition from the store, seeding ExampleItem into an empty store,
// and releases WaitReady callers.
func (c *Catalog) Load(ctx context.Context) error {
	items, err := c.store.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if len(items) == 0 {
		if err := c.store.CreateItem(ctx, ExampleItem()); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		items, err = c.store.LoadCatalog(ctx)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}

	c.mu.Lock()
	c.items = make(map[string]Item, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		c.items[it.ID] = it
	}
	c.rehashLocked()
	n := len(c.items)
	c.mu.Unlock()

	c.log.Printf("total items - %d", n)
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

func (c *Catalog) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until Load has completed, the context ends, or timeout elapses.
func (c *Catalog) WaitReady(ctx context.Context, timeout time.Duration) error {
	if c.IsReady() {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.ready:
		return nil
	case <-t.C:
		return fmt.Errorf("%w after %s", ErrNotReady, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	}
}

func (c *Catalog) Get(id string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return Item{}, false
	}
	return it.clone(), true
}

func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[id]
	return ok
}

// List returns every definition sorted by id.
func (c *Catalog) List() []Item {
	c.mu.RLock()
	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Digest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.digest
}

// Create persists a new definition. An existing id is left untouched and returned as-is.
func (c *Catalog) Create(ctx context.Context, it Item, wait time.Duration) (Item, error) {
	if it.ID == "" {
		return Item{}, fmt.Errorf("create item: empty id")
	}
	it.normalize()
	if err := c.WaitReady(ctx, wait); err != nil {
		return Item{}, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if existing, ok := c.Get(it.ID); ok {
		return existing, nil
	}
	if err := c.store.CreateItem(ctx, it); err != nil {
		return Item{}, fmt.Errorf("create item %s: %w", it.ID, err)
	}
	c.mu.Lock()
	c.items[it.ID] = it.clone()
	c.rehashLocked()
	c.mu.Unlock()
	return it, nil
}

// Remove deletes a definition. It reports false when the id was unknown.
func (c *Catalog) Remove(ctx context.Context, id string) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.Has(id) {
		return false, nil
	}
	if err := c.store.DeleteItem(ctx, id); err != nil {
		return false, fmt.Errorf("remove item %s: %w", id, err)
	}
	c.mu.Lock()
	delete(c.items, id)
	c.rehashLocked()
	c.mu.Unlock()
	return true, nil
}

func (c *Catalog) rehashLocked() {
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	defs := make([]Item, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, c.items[id])
	}
	b, _ := json.Marshal(defs)
	sum := sha256.Sum256(b)
	c.digest = hex.EncodeToString(sum[:])
}
