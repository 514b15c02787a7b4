package inventory

import (
	"slices"

	"github.com/google/uuid"

	"itemmanager.ai/internal/catalog"
)

// Catalog resolves base item definitions.
type Catalog interface {
	Get(id string) (catalog.Item, bool)
}

// Policy is the capacity limit applied after add and split.
type Policy struct {
	SlotsEnabled  bool
	MaxSlots      int
	WeightEnabled bool
	MaxWeight     float64
}

// AddOptions overrides the policy limits for one call. Zero values fall back to the policy.
type AddOptions struct {
	MaxSlots  int
	MaxWeight float64
	Data      map[string]any
}

// Engine implements the container mutations. Every method takes a stack sequence and
// returns a fresh one; inputs are never modified, so an Engine is safe for concurrent use.
type Engine struct {
	cat    Catalog
	policy Policy
	newUID func() string
}

func NewEngine(cat Catalog, policy Policy) *Engine {
	return &Engine{cat: cat, policy: policy, newUID: uuid.NewString}
}

func (e *Engine) Policy() Policy { return e.policy }

// Add tops up existing stacks of id in sequence order, then appends new stacks for the
// remainder. Non-stackable items become a single new stack holding the full quantity.
func (e *Engine) Add(id string, quantity int, stacks []Stack, opts AddOptions) ([]Stack, error) {
	def, ok := e.cat.Get(id)
	if !ok {
		return nil, fail(ErrUnknownItem, "%s", id)
	}
	if quantity <= 0 {
		return nil, fail(ErrInvalidQuantity, "%d", quantity)
	}
	if len(opts.Data) > 0 && def.Stackable() {
		return nil, fail(ErrDataNotAllowed, "%s stacks to %d", id, def.MaxStack)
	}

	out := Clone(stacks)
	if !def.Stackable() {
		out = append(out, e.newStack(def, quantity, opts.Data))
		return e.verify(out, opts.MaxSlots, opts.MaxWeight)
	}

	for i := range out {
		if quantity <= 0 {
			break
		}
		if out[i].ID != id || out[i].Quantity >= def.MaxStack {
			continue
		}
		n := min(def.MaxStack-out[i].Quantity, quantity)
		out[i].Quantity += n
		quantity -= n
	}
	for quantity > 0 {
		n := min(quantity, def.MaxStack)
		out = append(out, e.newStack(def, n, nil))
		quantity -= n
	}
	return e.verify(out, opts.MaxSlots, opts.MaxWeight)
}

// Remove takes quantity of id out of the container, draining from the last stack backwards.
func (e *Engine) Remove(id string, quantity int, stacks []Stack) ([]Stack, error) {
	if quantity <= 0 {
		return nil, fail(ErrInvalidQuantity, "%d", quantity)
	}
	if err := Check(id, quantity, stacks); err != nil {
		return nil, err
	}

	out := Clone(stacks)
	for i := len(out) - 1; i >= 0 && quantity > 0; i-- {
		if out[i].ID != id {
			continue
		}
		if quantity >= out[i].Quantity {
			quantity -= out[i].Quantity
			out = slices.Delete(out, i, i+1)
			continue
		}
		out[i].Quantity -= quantity
		quantity = 0
	}
	return out, nil
}

// RemoveAt drops the stack with uid and returns it alongside the new sequence.
func (e *Engine) RemoveAt(uid string, stacks []Stack) ([]Stack, Stack, error) {
	i := indexOf(stacks, uid)
	if i < 0 {
		return nil, Stack{}, fail(ErrStackNotFound, "could not find item to remove")
	}
	out := Clone(stacks)
	removed := out[i]
	out = slices.Delete(out, i, i+1)
	return out, removed, nil
}

func (e *Engine) RemoveQuantityFrom(uid string, quantity int, stacks []Stack) ([]Stack, error) {
	if quantity <= 0 {
		return nil, fail(ErrInvalidQuantity, "%d", quantity)
	}
	i := indexOf(stacks, uid)
	if i < 0 {
		return nil, fail(ErrStackNotFound, "could not find item to remove")
	}
	if stacks[i].Quantity < quantity {
		return nil, fail(ErrInsufficientQuantity, "stack holds %d, requested %d", stacks[i].Quantity, quantity)
	}
	out := Clone(stacks)
	if out[i].Quantity == quantity {
		return slices.Delete(out, i, i+1), nil
	}
	out[i].Quantity -= quantity
	return out, nil
}

// Split moves amount out of the stack uid into a new stack appended at the end.
// Both halves must stay non-empty. opts.Data is ignored.
func (e *Engine) Split(uid string, amount int, stacks []Stack, opts AddOptions) ([]Stack, error) {
	i := indexOf(stacks, uid)
	if i < 0 {
		return nil, fail(ErrStackNotFound, "could not find given item during split")
	}
	if _, ok := e.cat.Get(stacks[i].ID); !ok {
		return nil, fail(ErrUnknownItem, "%s", stacks[i].ID)
	}
	if amount <= 0 || amount >= stacks[i].Quantity {
		return nil, fail(ErrInvalidSplit, "cannot split %d from a stack of %d", amount, stacks[i].Quantity)
	}

	out := Clone(stacks)
	out[i].Quantity -= amount
	split := out[i].Clone()
	split.UID = e.newUID()
	split.Quantity = amount
	out = append(out, split)
	return e.verify(out, opts.MaxSlots, opts.MaxWeight)
}

// Stack merges from onto onto, up to the definition's max stack. Whatever does not fit
// stays on from.
func (e *Engine) Stack(onto, from string, stacks []Stack) ([]Stack, error) {
	di := indexOf(stacks, onto)
	si := indexOf(stacks, from)
	if di < 0 || si < 0 {
		return nil, fail(ErrStackNotFound, "could not find both items")
	}
	if di == si {
		return nil, fail(ErrNotStackable, "cannot stack an item onto itself")
	}
	if stacks[di].ID != stacks[si].ID {
		return nil, fail(ErrMismatchedItem, "%s onto %s", stacks[si].ID, stacks[di].ID)
	}
	def, ok := e.cat.Get(stacks[di].ID)
	if !ok || !def.Stackable() {
		return nil, fail(ErrNotStackable, "%s", stacks[di].ID)
	}
	headroom := def.MaxStack - stacks[di].Quantity
	if headroom <= 0 {
		return nil, fail(ErrAlreadyFull, "%s holds %d", onto, stacks[di].Quantity)
	}

	out := Clone(stacks)
	n := min(headroom, out[si].Quantity)
	out[di].Quantity += n
	if n >= out[si].Quantity {
		return slices.Delete(out, si, si+1), nil
	}
	out[si].Quantity -= n
	return out, nil
}

// Update merges p onto the stack uid. A resulting decay or quantity at or below zero
// destroys the stack.
func (e *Engine) Update(uid string, p Patch, stacks []Stack) ([]Stack, error) {
	i := indexOf(stacks, uid)
	if i < 0 {
		return nil, fail(ErrStackNotFound, "unable to get item by uid")
	}
	if p.Quantity != nil && *p.Quantity > 0 {
		if def, ok := e.cat.Get(stacks[i].ID); ok && *p.Quantity > def.MaxStack {
			return nil, fail(ErrInvalidQuantity, "%d exceeds max stack %d", *p.Quantity, def.MaxStack)
		}
	}

	out := Clone(stacks)
	if (p.Decay != nil && *p.Decay <= 0) || (p.Quantity != nil && *p.Quantity <= 0) {
		return slices.Delete(out, i, i+1), nil
	}
	if p.Quantity != nil {
		out[i].Quantity = *p.Quantity
	}
	if p.Data != nil {
		out[i].Data = cloneMap(p.Data)
	}
	if p.Decay != nil {
		out[i].Decay = cloneInt(p.Decay)
	}
	if p.Durability != nil {
		out[i].Durability = cloneInt(p.Durability)
	}
	return out, nil
}

// InvokeDecay ages every decaying stack by one tick and drops the expired ones.
func (e *Engine) InvokeDecay(stacks []Stack) []Stack {
	out := make([]Stack, 0, len(stacks))
	for _, s := range stacks {
		s = s.Clone()
		if s.Decay != nil {
			*s.Decay--
			if *s.Decay <= 0 {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func (e *Engine) newStack(def catalog.Item, quantity int, data map[string]any) Stack {
	return Stack{
		UID:        e.newUID(),
		ID:         def.ID,
		Quantity:   quantity,
		Data:       cloneMap(data),
		Decay:      cloneInt(def.Decay),
		Durability: cloneInt(def.Durability),
	}
}

func (e *Engine) verify(stacks []Stack, maxSlots int, maxWeight float64) ([]Stack, error) {
	if maxSlots == 0 {
		maxSlots = e.policy.MaxSlots
	}
	if maxWeight == 0 {
		maxWeight = e.policy.MaxWeight
	}
	if e.policy.SlotsEnabled && (len(stacks) >= maxSlots || maxSlots <= 0) {
		return nil, fail(ErrSlotsExceeded, "%d stacks, limit %d", len(stacks), maxSlots)
	}
	if e.policy.WeightEnabled {
		if w := e.TotalWeight(stacks); w > maxWeight {
			return nil, fail(ErrWeightExceeded, "%.2f over %.2f", w, maxWeight)
		}
	}
	return stacks, nil
}
