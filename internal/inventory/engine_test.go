package inventory

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"itemmanager.ai/internal/catalog"
)

type fakeCatalog map[string]catalog.Item

func (c fakeCatalog) Get(id string) (catalog.Item, bool) {
	it, ok := c[id]
	return it, ok
}

func testCatalog() fakeCatalog {
	bread := 3
	durability := 10
	return fakeCatalog{
		"water":  {ID: "water", Name: "Water", MaxStack: 16, Weight: 0.1},
		"stone":  {ID: "stone", Name: "Stone", MaxStack: 8, Weight: 2},
		"bread":  {ID: "bread", Name: "Bread", MaxStack: 4, Weight: 0.2, Decay: &bread},
		"pistol": {ID: "pistol", Name: "Pistol", MaxStack: 1, Weight: 1.5, Durability: &durability, UseEvent: "equip"},
	}
}

func newTestEngine() *Engine {
	e := NewEngine(testCatalog(), Policy{SlotsEnabled: true, MaxSlots: 16, WeightEnabled: true, MaxWeight: 32})
	n := 0
	e.newUID = func() string {
		n++
		return fmt.Sprintf("uid-%d", n)
	}
	return e
}

func quantities(stacks []Stack) []int {
	out := make([]int, len(stacks))
	for i := range stacks {
		out[i] = stacks[i].Quantity
	}
	return out
}

func mustAdd(t *testing.T, e *Engine, id string, q int, stacks []Stack) []Stack {
	t.Helper()
	out, err := e.Add(id, q, stacks, AddOptions{})
	if err != nil {
		t.Fatalf("Add(%s,%d): %v", id, q, err)
	}
	return out
}

func TestAdd_WaterScenario(t *testing.T) {
	e := newTestEngine()
	out := mustAdd(t, e, "water", 20, nil)
	if got := quantities(out); !reflect.DeepEqual(got, []int{16, 4}) {
		t.Fatalf("quantities=%v want [16 4]", got)
	}
	if out[0].UID == out[1].UID {
		t.Fatalf("expected distinct uids")
	}
	if w := e.TotalWeight(out); math.Abs(w-2.0) > 1e-9 {
		t.Fatalf("weight=%v want 2.0", w)
	}
}

func TestAdd_TopsUpInSequenceOrder(t *testing.T) {
	e := newTestEngine()
	in := []Stack{
		{UID: "a", ID: "water", Quantity: 10},
		{UID: "b", ID: "stone", Quantity: 1},
		{UID: "c", ID: "water", Quantity: 12},
	}
	out := mustAdd(t, e, "water", 8, in)
	if got := quantities(out); !reflect.DeepEqual(got, []int{16, 1, 14}) {
		t.Fatalf("quantities=%v want [16 1 14]", got)
	}
	if len(out) != 3 {
		t.Fatalf("expected no new stack, got %d stacks", len(out))
	}
}

func TestAdd_NonStackableKeepsQuantityAndData(t *testing.T) {
	e := newTestEngine()
	out, err := e.Add("pistol", 2, nil, AddOptions{Data: map[string]any{"serial": "X1"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(out) != 1 || out[0].Quantity != 2 {
		t.Fatalf("expected one stack of 2, got %+v", out)
	}
	if out[0].Data["serial"] != "X1" {
		t.Fatalf("data not attached: %+v", out[0].Data)
	}
	if out[0].Durability == nil || *out[0].Durability != 10 {
		t.Fatalf("durability not inherited: %+v", out[0])
	}
}

func TestAdd_Failures(t *testing.T) {
	e := newTestEngine()
	cases := []struct {
		name string
		id   string
		q    int
		opts AddOptions
		want *Error
	}{
		{"unknown", "ghost", 1, AddOptions{}, ErrUnknownItem},
		{"zero", "water", 0, AddOptions{}, ErrInvalidQuantity},
		{"data on stackable", "water", 1, AddOptions{Data: map[string]any{"k": 1}}, ErrDataNotAllowed},
		{"weight", "stone", 17, AddOptions{}, ErrWeightExceeded},
		{"weight override", "water", 20, AddOptions{MaxWeight: 1}, ErrWeightExceeded},
		{"slots override", "water", 20, AddOptions{MaxSlots: 2}, ErrSlotsExceeded},
		{"negative slots", "water", 1, AddOptions{MaxSlots: -1}, ErrSlotsExceeded},
	}
	for _, tc := range cases {
		out, err := e.Add(tc.id, tc.q, nil, tc.opts)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
		if out != nil {
			t.Fatalf("%s: expected nil result on failure", tc.name)
		}
	}
}

func TestAdd_CapacityLeavesInputUnchanged(t *testing.T) {
	e := newTestEngine()
	var full []Stack
	for i := 0; i < 16; i++ {
		full = append(full, Stack{UID: fmt.Sprintf("p%d", i), ID: "pistol", Quantity: 1})
	}
	before := Clone(full)
	_, err := e.Add("water", 1, full, AddOptions{MaxWeight: 1000})
	if !errors.Is(err, ErrSlotsExceeded) {
		t.Fatalf("err=%v want SlotsExceeded", err)
	}
	if !reflect.DeepEqual(full, before) {
		t.Fatalf("input mutated")
	}

	heavy := []Stack{{UID: "s", ID: "stone", Quantity: 8}, {UID: "t", ID: "stone", Quantity: 8}}
	before = Clone(heavy)
	_, err = e.Add("water", 1, heavy, AddOptions{})
	if !errors.Is(err, ErrWeightExceeded) {
		t.Fatalf("err=%v want WeightExceeded", err)
	}
	if !reflect.DeepEqual(heavy, before) {
		t.Fatalf("input mutated")
	}
}

func TestAdd_DisabledLimits(t *testing.T) {
	e := NewEngine(testCatalog(), Policy{MaxSlots: 1, MaxWeight: 1})
	out, err := e.Add("stone", 64, nil, AddOptions{})
	if err != nil {
		t.Fatalf("Add with limits disabled: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("stacks=%d want 8", len(out))
	}

	// A zero limit only matters while its check is enabled.
	if _, err := NewEngine(testCatalog(), Policy{}).Add("stone", 1, nil, AddOptions{}); err != nil {
		t.Fatalf("Add with zero disabled limits: %v", err)
	}
}

func TestRemove_DrainsFromEnd(t *testing.T) {
	e := newTestEngine()
	in := []Stack{
		{UID: "a", ID: "water", Quantity: 16},
		{UID: "b", ID: "stone", Quantity: 2},
		{UID: "c", ID: "water", Quantity: 5},
		{UID: "d", ID: "water", Quantity: 3},
	}
	out, err := e.Remove("water", 10, in)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	want := []Stack{
		{UID: "a", ID: "water", Quantity: 14},
		{UID: "b", ID: "stone", Quantity: 2},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("out=%+v want %+v", out, want)
	}
	if in[3].Quantity != 3 || len(in) != 4 {
		t.Fatalf("input mutated: %+v", in)
	}
}

func TestRemove_InsufficientLeavesInput(t *testing.T) {
	e := newTestEngine()
	in := mustAdd(t, e, "water", 20, nil)
	before := Clone(in)
	out, err := e.Remove("water", 25, in)
	if !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("err=%v want InsufficientQuantity", err)
	}
	if out != nil || !reflect.DeepEqual(in, before) {
		t.Fatalf("unexpected mutation")
	}
}

func TestRemoveAt(t *testing.T) {
	e := newTestEngine()
	in := []Stack{{UID: "a", ID: "water", Quantity: 3}, {UID: "b", ID: "stone", Quantity: 2}}
	out, removed, err := e.RemoveAt("a", in)
	if err != nil {
		t.Fatalf("RemoveAt: %v", err)
	}
	if removed.UID != "a" || removed.Quantity != 3 {
		t.Fatalf("removed=%+v", removed)
	}
	if len(out) != 1 || out[0].UID != "b" {
		t.Fatalf("out=%+v", out)
	}
	if _, _, err := e.RemoveAt("zzz", in); !errors.Is(err, ErrStackNotFound) {
		t.Fatalf("err=%v want StackNotFound", err)
	}
}

func TestRemoveQuantityFrom(t *testing.T) {
	e := newTestEngine()
	in := []Stack{{UID: "a", ID: "water", Quantity: 5}}

	out, err := e.RemoveQuantityFrom("a", 2, in)
	if err != nil || len(out) != 1 || out[0].Quantity != 3 {
		t.Fatalf("partial: out=%+v err=%v", out, err)
	}
	out, err = e.RemoveQuantityFrom("a", 5, in)
	if err != nil || len(out) != 0 {
		t.Fatalf("exact: out=%+v err=%v", out, err)
	}
	if _, err := e.RemoveQuantityFrom("a", 6, in); !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("err=%v want InsufficientQuantity", err)
	}
	if _, err := e.RemoveQuantityFrom("b", 1, in); !errors.Is(err, ErrStackNotFound) {
		t.Fatalf("err=%v want StackNotFound", err)
	}
}

func TestHas_ShortCircuits(t *testing.T) {
	in := []Stack{
		{UID: "a", ID: "water", Quantity: 4},
		{UID: "b", ID: "water", Quantity: 4},
	}
	if !Has("water", 8, in) {
		t.Fatalf("expected enough water")
	}
	if Has("water", 9, in) {
		t.Fatalf("expected not enough water")
	}
	if err := Check("water", 9, in); !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("err=%v", err)
	}
	if Count("water", in) != 8 {
		t.Fatalf("count mismatch")
	}
}

func TestSplit(t *testing.T) {
	e := newTestEngine()
	in := []Stack{{UID: "a", ID: "water", Quantity: 10}}
	out, err := e.Split("a", 4, in, AddOptions{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := quantities(out); !reflect.DeepEqual(got, []int{6, 4}) {
		t.Fatalf("quantities=%v", got)
	}
	if out[1].UID == "a" || out[1].ID != "water" {
		t.Fatalf("split stack must get a fresh uid: %+v", out[1])
	}

	if _, err := e.Split("a", 10, in, AddOptions{}); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("whole split: err=%v want InvalidSplit", err)
	}
	if _, err := e.Split("a", 0, in, AddOptions{}); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("zero split: err=%v want InvalidSplit", err)
	}
	if _, err := e.Split("x", 1, in, AddOptions{}); !errors.Is(err, ErrStackNotFound) {
		t.Fatalf("err=%v want StackNotFound", err)
	}
	if _, err := e.Split("a", 4, in, AddOptions{MaxSlots: 2}); !errors.Is(err, ErrSlotsExceeded) {
		t.Fatalf("err=%v want SlotsExceeded", err)
	}
}

func TestStack(t *testing.T) {
	e := newTestEngine()
	in := []Stack{
		{UID: "a", ID: "water", Quantity: 10},
		{UID: "b", ID: "water", Quantity: 9},
		{UID: "c", ID: "water", Quantity: 2},
		{UID: "full", ID: "water", Quantity: 16},
		{UID: "s", ID: "stone", Quantity: 1},
		{UID: "p1", ID: "pistol", Quantity: 1},
		{UID: "p2", ID: "pistol", Quantity: 1},
	}

	out, err := e.Stack("a", "b", in)
	if err != nil {
		t.Fatalf("Stack partial: %v", err)
	}
	if out[0].Quantity != 16 || out[1].Quantity != 3 {
		t.Fatalf("partial transfer wrong: %+v", out[:2])
	}

	out, err = e.Stack("a", "c", in)
	if err != nil {
		t.Fatalf("Stack whole: %v", err)
	}
	if out[0].Quantity != 12 || indexOf(out, "c") >= 0 {
		t.Fatalf("whole transfer wrong: %+v", out)
	}

	cases := []struct {
		onto, from string
		want       *Error
	}{
		{"full", "a", ErrAlreadyFull},
		{"a", "s", ErrMismatchedItem},
		{"p1", "p2", ErrNotStackable},
		{"a", "missing", ErrStackNotFound},
		{"a", "a", ErrNotStackable},
	}
	for _, tc := range cases {
		if _, err := e.Stack(tc.onto, tc.from, in); !errors.Is(err, tc.want) {
			t.Fatalf("Stack(%s,%s): err=%v want %v", tc.onto, tc.from, err, tc.want)
		}
	}
}

func TestUpdate(t *testing.T) {
	e := newTestEngine()
	in := []Stack{
		{UID: "a", ID: "bread", Quantity: 2, Decay: Int(3)},
		{UID: "b", ID: "pistol", Quantity: 1, Durability: Int(10)},
	}

	out, err := e.Update("b", Patch{Durability: Int(4), Data: map[string]any{"ammo": 6.0}}, in)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if *out[1].Durability != 4 || out[1].Data["ammo"] != 6.0 {
		t.Fatalf("patch not applied: %+v", out[1])
	}
	if *in[1].Durability != 10 {
		t.Fatalf("input mutated")
	}

	out, err = e.Update("a", Patch{Decay: Int(0)}, in)
	if err != nil {
		t.Fatalf("Update decay: %v", err)
	}
	if len(out) != 1 || out[0].UID != "b" {
		t.Fatalf("decay<=0 must remove the stack: %+v", out)
	}

	out, err = e.Update("a", Patch{Quantity: Int(0)}, in)
	if err != nil || len(out) != 1 {
		t.Fatalf("quantity<=0 must remove the stack: out=%+v err=%v", out, err)
	}

	if _, err := e.Update("a", Patch{Quantity: Int(5)}, in); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("err=%v want InvalidQuantity", err)
	}
	if _, err := e.Update("zz", Patch{}, in); !errors.Is(err, ErrStackNotFound) {
		t.Fatalf("err=%v want StackNotFound", err)
	}
}

func TestInvokeDecay(t *testing.T) {
	e := newTestEngine()
	in := []Stack{
		{UID: "a", ID: "bread", Quantity: 2, Decay: Int(2)},
		{UID: "b", ID: "water", Quantity: 5},
		{UID: "c", ID: "bread", Quantity: 1, Decay: Int(1)},
	}
	out := e.InvokeDecay(in)
	if len(out) != 2 || out[0].UID != "a" || *out[0].Decay != 1 || out[1].UID != "b" {
		t.Fatalf("first pass wrong: %+v", out)
	}
	if *in[0].Decay != 2 || len(in) != 3 {
		t.Fatalf("input mutated")
	}
	out = e.InvokeDecay(out)
	if len(out) != 1 || out[0].UID != "b" {
		t.Fatalf("second pass wrong: %+v", out)
	}
	if again := e.InvokeDecay(out); !reflect.DeepEqual(again, out) {
		t.Fatalf("non-decaying stacks must be a fixed point")
	}
}

func TestAdd_NewStacksInheritDecay(t *testing.T) {
	e := newTestEngine()
	out := mustAdd(t, e, "bread", 5, nil)
	for _, s := range out {
		if s.Decay == nil || *s.Decay != 3 {
			t.Fatalf("decay not inherited: %+v", s)
		}
	}
	*out[0].Decay = 1
	if *out[1].Decay != 3 {
		t.Fatalf("stacks share decay counter")
	}
}

func TestSplitThenStackRestoresContent(t *testing.T) {
	e := newTestEngine()
	in := []Stack{{UID: "a", ID: "water", Quantity: 10}, {UID: "b", ID: "stone", Quantity: 3}}
	for k := 1; k < 10; k++ {
		split, err := e.Split("a", k, in, AddOptions{})
		if err != nil {
			t.Fatalf("Split k=%d: %v", k, err)
		}
		merged, err := e.Stack("a", split[len(split)-1].UID, split)
		if err != nil {
			t.Fatalf("Stack k=%d: %v", k, err)
		}
		if !reflect.DeepEqual(merged, in) {
			t.Fatalf("k=%d: merged=%+v want %+v", k, merged, in)
		}
	}
}

func TestRandomOps_ConserveQuantityAndNoEmptyStacks(t *testing.T) {
	e := NewEngine(testCatalog(), Policy{SlotsEnabled: true, MaxSlots: 64, WeightEnabled: true, MaxWeight: 500})
	rng := rand.New(rand.NewSource(7))
	ids := []string{"water", "stone"}

	var stacks []Stack
	for step := 0; step < 2000; step++ {
		id := ids[rng.Intn(len(ids))]
		before := Count(id, stacks)
		var (
			out   []Stack
			err   error
			delta int
		)
		switch rng.Intn(4) {
		case 0:
			q := 1 + rng.Intn(20)
			out, err = e.Add(id, q, stacks, AddOptions{})
			delta = q
		case 1:
			q := 1 + rng.Intn(20)
			out, err = e.Remove(id, q, stacks)
			delta = -q
		case 2:
			if len(stacks) == 0 {
				continue
			}
			s := stacks[rng.Intn(len(stacks))]
			id = s.ID
			before = Count(id, stacks)
			out, err = e.Split(s.UID, 1+rng.Intn(max(s.Quantity, 1)), stacks, AddOptions{})
		case 3:
			if len(stacks) < 2 {
				continue
			}
			a := stacks[rng.Intn(len(stacks))]
			b := stacks[rng.Intn(len(stacks))]
			id = a.ID
			before = Count(id, stacks)
			out, err = e.Stack(a.UID, b.UID, stacks)
		}
		if err != nil {
			if CodeOf(err) == "" {
				t.Fatalf("step %d: non-categorical error %v", step, err)
			}
			continue
		}
		if got := Count(id, out); got != before+delta {
			t.Fatalf("step %d: count(%s)=%d want %d", step, id, got, before+delta)
		}
		for _, s := range out {
			if s.Quantity <= 0 {
				t.Fatalf("step %d: empty stack %+v", step, s)
			}
		}
		stacks = out
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", fail(ErrAlreadyFull, "x"))
	if CodeOf(err) != CodeAlreadyFull {
		t.Fatalf("CodeOf=%q", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain error")
	}
}
