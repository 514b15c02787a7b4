package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"itemmanager.ai/internal/events"
	"itemmanager.ai/internal/inventory"
	"itemmanager.ai/internal/owner"
	"itemmanager.ai/internal/presence"
	"itemmanager.ai/internal/protocol"
)

// Catalog is what a session needs from the item catalog.
type Catalog interface {
	Digest() string
	WaitReady(ctx context.Context, timeout time.Duration) error
}

type Options struct {
	Policy      inventory.Policy
	CatalogWait time.Duration
	// QueueSize bounds pending outbound messages per session. EVENT relays beyond it are
	// dropped; RESULTs wait for room.
	QueueSize int
}

// Server binds each websocket connection to one container owner, runs ACT requests against
// it and relays the owner's notifications as EVENT messages.
type Server struct {
	svc  *owner.Service
	cat  Catalog
	bus  *events.Bus
	live *presence.Registry
	log  *log.Logger
	opts Options

	upgrader websocket.Upgrader
	sessions atomic.Uint64
}

func NewServer(svc *owner.Service, cat Catalog, bus *events.Bus, live *presence.Registry, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Server{
		svc:  svc,
		cat:  cat,
		bus:  bus,
		live: live,
		log:  logger,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		m, welcome, ok := s.handshake(ctx, conn)
		if !ok {
			return
		}
		ref := m.Ref()
		if ref.Kind == owner.KindPlayer && s.live != nil {
			s.live.Join(ref)
			defer s.live.Leave(ref)
		}

		// Subscribe before WELCOME so the client sees every change after its snapshot.
		out := make(chan []byte, s.opts.QueueSize)
		if s.bus != nil {
			unsub := s.bus.Subscribe("", func(ev events.Event) error {
				if ev.Owner != ref.String() {
					return nil
				}
				return push(out, eventMsg(ev))
			})
			defer unsub()
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				if pushWait(ctx, out, result("", protocol.ErrProtoBadRequest, "expected ACT")) != nil {
					return
				}
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				if pushWait(ctx, out, result("", protocol.ErrProtoBadRequest, err.Error())) != nil {
					return
				}
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				if pushWait(ctx, out, result(act.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")) != nil {
					return
				}
				continue
			}
			res := s.exec(ctx, m, act)
			if err := pushWait(ctx, out, res); err != nil {
				s.log.Printf("%s: %v", ref, err)
				return
			}
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*owner.Manager, protocol.WelcomeMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, protocol.WelcomeMsg{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil, protocol.WelcomeMsg{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return nil, protocol.WelcomeMsg{}, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil, protocol.WelcomeMsg{}, false
	}
	ref := owner.Ref{Kind: owner.Kind(hello.OwnerKind), Key: strings.TrimSpace(hello.OwnerKey)}
	if !ref.Kind.Valid() || ref.Key == "" {
		closeWith(conn, "bad owner")
		return nil, protocol.WelcomeMsg{}, false
	}
	if err := s.cat.WaitReady(ctx, s.opts.CatalogWait); err != nil {
		closeWith(conn, "catalog not ready")
		return nil, protocol.WelcomeMsg{}, false
	}

	m := s.svc.For(ref)
	rec, err := m.Record(ctx)
	if err != nil {
		s.log.Printf("handshake %s: %v", ref, err)
		closeWith(conn, "load failed")
		return nil, protocol.WelcomeMsg{}, false
	}
	limits := protocol.Limits{MaxSlots: rec.MaxSlots}
	if limits.MaxSlots == 0 && s.opts.Policy.SlotsEnabled {
		limits.MaxSlots = s.opts.Policy.MaxSlots
	}
	if s.opts.Policy.WeightEnabled {
		limits.MaxWeight = s.opts.Policy.MaxWeight
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       fmt.Sprintf("S%d", s.sessions.Add(1)),
		Owner:           ref.String(),
		Items:           rec.Items,
		CatalogDigest:   s.cat.Digest(),
		Limits:          limits,
	}
	return m, welcome, true
}

func (s *Server) exec(ctx context.Context, m *owner.Manager, act protocol.ActMsg) protocol.ResultMsg {
	res := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ReqID: act.ReqID}
	var err error
	switch act.Op {
	case protocol.OpGet:
		res.Items, err = m.Get(ctx)
	case protocol.OpHas:
		var has bool
		has, err = m.Has(ctx, act.ItemID, act.Quantity)
		res.Has = &has
	case protocol.OpAdd:
		err = m.Add(ctx, act.ItemID, act.Quantity, inventory.AddOptions{Data: act.Data})
	case protocol.OpRemove:
		err = m.Remove(ctx, act.ItemID, act.Quantity)
	case protocol.OpRemoveAt:
		var st inventory.Stack
		if st, err = m.RemoveAt(ctx, act.UID); err == nil {
			res.Stack = &st
		}
	case protocol.OpRemoveQuantity:
		err = m.RemoveQuantityFrom(ctx, act.UID, act.Quantity)
	case protocol.OpSplit:
		err = m.Split(ctx, act.UID, act.Quantity, inventory.AddOptions{})
	case protocol.OpStack:
		err = m.Stack(ctx, act.UID, act.FromUID)
	case protocol.OpUpdate:
		if act.Patch == nil {
			return result(act.ReqID, protocol.ErrProtoBadRequest, "missing patch")
		}
		err = m.Update(ctx, act.UID, act.Patch.Patch())
	case protocol.OpUse:
		err = m.Use(ctx, act.UID)
	case protocol.OpUseOne:
		err = m.UseOne(ctx, act.UID)
	case protocol.OpClear:
		err = m.Clear(ctx)
	default:
		return result(act.ReqID, protocol.ErrBadOp, "unknown op "+act.Op)
	}
	if err != nil {
		res.Code = protocol.CodeFor(err)
		res.Message = m.ErrorMessage()
		if res.Code == protocol.ErrInternal {
			s.log.Printf("%s %s: %v", m.Ref(), act.Op, err)
			res.Message = "internal error"
		}
		return res
	}
	res.OK = true
	return res
}

func result(reqID, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
	}
}

func eventMsg(ev events.Event) protocol.EventMsg {
	msg := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Kind:            string(ev.Kind),
		Owner:           ev.Owner,
		Time:            ev.Time,
	}
	if ev.Payload != nil {
		if b, err := json.Marshal(ev.Payload); err == nil {
			msg.Payload = b
		}
	}
	return msg
}

// push queues v for the writer without blocking; a full queue drops the message.
func push(out chan<- []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case out <- b:
		return nil
	default:
		return fmt.Errorf("outbound queue full, dropped message")
	}
}

// pushWait queues v for the writer, blocking until there is room or ctx ends.
func pushWait(ctx context.Context, out chan<- []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case out <- b:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("result not queued: %w", ctx.Err())
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
