package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"itemmanager.ai/internal/catalog"
	"itemmanager.ai/internal/events"
	"itemmanager.ai/internal/inventory"
	"itemmanager.ai/internal/owner"
	"itemmanager.ai/internal/presence"
	"itemmanager.ai/internal/protocol"
	"itemmanager.ai/internal/usage"
)

type testCatalog map[string]catalog.Item

func (c testCatalog) Get(id string) (catalog.Item, bool) {
	it, ok := c[id]
	return it, ok
}
func (c testCatalog) Digest() string                                 { return "digest-1" }
func (c testCatalog) WaitReady(context.Context, time.Duration) error { return nil }

type memStore struct {
	mu   sync.Mutex
	recs map[owner.Ref]owner.Record
}

func (s *memStore) LoadContainer(_ context.Context, ref owner.Ref) (owner.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[ref]
	if !ok {
		return owner.Record{}, owner.ErrNotFound
	}
	rec.Items = inventory.Clone(rec.Items)
	return rec, nil
}

func (s *memStore) SaveContainer(_ context.Context, rec owner.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Items = inventory.Clone(rec.Items)
	s.recs[rec.Ref] = rec
	return nil
}

type fixture struct {
	srv  *httptest.Server
	live *presence.Registry
	bus  *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithQueue(t, 0)
}

func newFixtureWithQueue(t *testing.T, queue int) *fixture {
	t.Helper()
	cat := testCatalog{
		"water": {ID: "water", MaxStack: 16, Weight: 0.1},
		"apple": {ID: "apple", MaxStack: 8, Weight: 0.1, UseEvent: "eat"},
	}
	logger := log.New(io.Discard, "", 0)
	bus := events.NewBus(logger)
	policy := inventory.Policy{SlotsEnabled: true, MaxSlots: 16, WeightEnabled: true, MaxWeight: 32}
	dispatch := usage.NewDispatcher[owner.Ref](cat)
	dispatch.Register("eat", func(owner.Ref, string) {})
	svc := owner.NewService(inventory.NewEngine(cat, policy), &memStore{recs: map[owner.Ref]owner.Record{}}, bus, dispatch, owner.Options{StorageSlots: 20})
	live := presence.NewRegistry()

	s := NewServer(svc, cat, bus, live, logger, Options{Policy: policy, CatalogWait: time.Second, QueueSize: queue})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, live: live, bus: bus}
}

func (f *fixture) dial(t *testing.T, kind, key string) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, OwnerKind: kind, OwnerKey: key})
	var w protocol.WelcomeMsg
	read(t, conn, &w)
	if w.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %+v", w)
	}
	return conn, w
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

// readResult skips EVENT pushes until the RESULT for reqID arrives.
func readResult(t *testing.T, conn *websocket.Conn, reqID string) (protocol.ResultMsg, []protocol.EventMsg) {
	t.Helper()
	var evs []protocol.EventMsg
	for {
		var raw json.RawMessage
		read(t, conn, &raw)
		base, _ := protocol.DecodeBase(raw)
		switch base.Type {
		case protocol.TypeEvent:
			var ev protocol.EventMsg
			_ = json.Unmarshal(raw, &ev)
			evs = append(evs, ev)
		case protocol.TypeResult:
			var res protocol.ResultMsg
			_ = json.Unmarshal(raw, &res)
			if res.ReqID == reqID {
				return res, evs
			}
		}
	}
}

func act(reqID, op string) protocol.ActMsg {
	return protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ReqID: reqID, Op: op}
}

func TestServer_WelcomeAndPresence(t *testing.T) {
	f := newFixture(t)
	conn, w := f.dial(t, "player", "char-1")
	if w.Owner != "player:char-1" || w.CatalogDigest != "digest-1" || w.Limits.MaxSlots != 16 || w.Limits.MaxWeight != 32 {
		t.Fatalf("welcome=%+v", w)
	}
	if len(w.Items) != 0 {
		t.Fatalf("items=%+v", w.Items)
	}
	ref := owner.Ref{Kind: owner.KindPlayer, Key: "char-1"}
	if !f.live.IsLive(ref) {
		t.Fatalf("player should be live while connected")
	}

	_ = conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for f.live.IsLive(ref) {
		if time.Now().After(deadline) {
			t.Fatalf("player still live after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_StorageWelcomeUsesRecordSlots(t *testing.T) {
	f := newFixture(t)
	_, w := f.dial(t, "storage", "locker")
	if w.Limits.MaxSlots != 20 {
		t.Fatalf("limits=%+v", w.Limits)
	}
	if f.live.IsLive(owner.Ref{Kind: owner.KindStorage, Key: "locker"}) {
		t.Fatalf("storage is not tracked as live")
	}
}

func TestServer_ActRoundTrip(t *testing.T) {
	f := newFixture(t)
	conn, _ := f.dial(t, "vehicle", "truck")

	a := act("R1", protocol.OpAdd)
	a.ItemID, a.Quantity = "water", 20
	send(t, conn, a)
	res, evs := readResult(t, conn, "R1")
	if !res.OK {
		t.Fatalf("add failed: %+v", res)
	}
	if len(evs) != 2 || evs[0].Kind != "item.added" || evs[1].Kind != "items.updated" {
		t.Fatalf("events=%+v", evs)
	}

	send(t, conn, act("R2", protocol.OpGet))
	res, _ = readResult(t, conn, "R2")
	if len(res.Items) != 2 || res.Items[0].Quantity != 16 || res.Items[1].Quantity != 4 {
		t.Fatalf("items=%+v", res.Items)
	}

	st := act("R3", protocol.OpStack)
	st.UID, st.FromUID = res.Items[0].UID, res.Items[1].UID
	send(t, conn, st)
	res, _ = readResult(t, conn, "R3")
	if res.OK || res.Code != protocol.ErrAlreadyFull || res.Message == "" {
		t.Fatalf("stack onto full: %+v", res)
	}

	h := act("R4", protocol.OpHas)
	h.ItemID, h.Quantity = "water", 21
	send(t, conn, h)
	res, _ = readResult(t, conn, "R4")
	if !res.OK || res.Has == nil || *res.Has {
		t.Fatalf("has=%+v", res)
	}

	send(t, conn, act("R5", "DUPLICATE"))
	res, _ = readResult(t, conn, "R5")
	if res.Code != protocol.ErrBadOp {
		t.Fatalf("bad op: %+v", res)
	}
}

func TestServer_ResultsSurviveFullQueue(t *testing.T) {
	f := newFixtureWithQueue(t, 1)
	conn, _ := f.dial(t, "player", "burst")

	// Every ADD relays two EVENTs ahead of its RESULT through a one-slot queue.
	const n = 30
	for i := 1; i <= n; i++ {
		a := act(fmt.Sprintf("R%d", i), protocol.OpAdd)
		a.ItemID, a.Quantity = "water", 1
		send(t, conn, a)
	}
	for i := 1; i <= n; i++ {
		res, _ := readResult(t, conn, fmt.Sprintf("R%d", i))
		if !res.OK {
			t.Fatalf("R%d: %+v", i, res)
		}
	}
}

func TestPushWait(t *testing.T) {
	out := make(chan []byte, 1)
	if err := push(out, "a"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := push(out, "b"); err == nil {
		t.Fatalf("expected push to drop on a full queue")
	}

	done := make(chan error, 1)
	go func() { done <- pushWait(context.Background(), out, "c") }()
	select {
	case err := <-done:
		t.Fatalf("pushWait returned before room was made: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	if got := string(<-out); got != `"a"` {
		t.Fatalf("first=%s", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("pushWait: %v", err)
	}
	if got := string(<-out); got != `"c"` {
		t.Fatalf("second=%s", got)
	}

	out <- nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pushWait(ctx, out, "d"); err == nil {
		t.Fatalf("expected error after cancel")
	}
}

func TestServer_OnlyOwnEventsAreRelayed(t *testing.T) {
	f := newFixture(t)
	conn, _ := f.dial(t, "player", "a")

	f.bus.Emit(events.KindItemsUpdated, "player:b", nil)
	f.bus.Emit(events.KindItemsUpdated, "player:a", []inventory.Stack{})

	var ev protocol.EventMsg
	read(t, conn, &ev)
	if ev.Type != protocol.TypeEvent || ev.Owner != "player:a" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, OwnerKind: "boat", OwnerKey: "x"})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}
