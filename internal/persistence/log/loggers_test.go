package log

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"itemmanager.ai/internal/events"
)

func TestJSONLZstdWriter_RotatesPerHour(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	cur := time.Date(2026, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return cur }

	first := cur
	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cur = cur.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	count := func(path string) []int {
		var out []int
		err := ReadLines(path, func(raw json.RawMessage) error {
			var v struct{ N int }
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out = append(out, v.N)
			return nil
		})
		if err != nil {
			t.Fatalf("ReadLines(%s): %v", path, err)
		}
		return out
	}

	if got := count(w.Path(first)); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("first hour=%v", got)
	}
	if got := count(w.Path(cur)); len(got) != 1 || got[0] != 3 {
		t.Fatalf("second hour=%v", got)
	}
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "x")
		w.now = func() time.Time { return at }
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	n := 0
	path := NewJSONLZstdWriter(dir, "x").Path(at)
	if err := ReadLines(path, func(json.RawMessage) error { n++; return nil }); err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if n != 2 {
		t.Fatalf("n=%d want 2", n)
	}
}

func TestEventLogger_Attach(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(nil)
	l := NewEventLogger(dir)
	cancel := l.Attach(bus)

	bus.Emit(events.KindItemAdded, "player:7", events.ItemDelta{ItemID: "water", Quantity: 2})
	cancel()
	bus.Emit(events.KindItemAdded, "player:7", events.ItemDelta{ItemID: "water", Quantity: 9})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir + "/events")
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir: %v %v", entries, err)
	}
	var got []events.Event
	err = ReadLines(dir+"/events/"+entries[0].Name(), func(raw json.RawMessage) error {
		var ev events.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(got) != 1 || got[0].Owner != "player:7" || got[0].Kind != events.KindItemAdded {
		t.Fatalf("got=%+v", got)
	}
}
