package events

import (
	"bytes"
	"errors"
	"log"
	"reflect"
	"strings"
	"testing"
)

func TestBus_DeliversInOrderAndFiltersByKind(t *testing.T) {
	b := NewBus(log.New(&bytes.Buffer{}, "", 0))
	var got []string
	b.Subscribe(KindItemAdded, func(ev Event) error { got = append(got, "added-1:"+ev.Owner); return nil })
	b.Subscribe("", func(ev Event) error { got = append(got, "all:"+string(ev.Kind)); return nil })
	b.Subscribe(KindItemAdded, func(ev Event) error { got = append(got, "added-2"); return nil })

	b.Emit(KindItemAdded, "player:1", ItemDelta{ItemID: "water", Quantity: 3})
	b.Emit(KindItemsUpdated, "player:1", nil)

	want := []string{"added-1:player:1", "all:item.added", "added-2", "all:items.updated"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want %v", got, want)
	}
}

func TestBus_IsolatesFailingListeners(t *testing.T) {
	var logs bytes.Buffer
	b := NewBus(log.New(&logs, "", 0))
	reached := 0
	b.Subscribe("", func(Event) error { panic("boom") })
	b.Subscribe("", func(Event) error { return errors.New("nope") })
	b.Subscribe("", func(Event) error { reached++; return nil })

	b.Emit(KindItemRemoved, "vehicle:7", nil)

	if reached != 1 {
		t.Fatalf("healthy listener reached %d times", reached)
	}
	out := logs.String()
	if !strings.Contains(out, "panic: boom") || !strings.Contains(out, "nope") {
		t.Fatalf("expected both failures logged, got %q", out)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(nil)
	n := 0
	cancel := b.Subscribe("", func(Event) error { n++; return nil })
	b.Emit(KindItemsUpdated, "storage:a", nil)
	cancel()
	cancel()
	b.Emit(KindItemsUpdated, "storage:a", nil)
	if n != 1 {
		t.Fatalf("n=%d want 1", n)
	}
}
