package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"itemmanager.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		kind     = flag.String("kind", "player", "owner kind (player|vehicle|storage)")
		key      = flag.String("key", "bot", "owner key")
		itemID   = flag.String("item", "example", "item id the bot adds and consumes")
		interval = flag.Duration("interval", 2*time.Second, "delay between actions")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		OwnerKind:       *kind,
		OwnerKey:        *key,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	// Reader.
	msgs := make(chan []byte, 64)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()

	b := &bot{conn: conn, log: logger, itemID: *itemID, r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.handle(msg)
		case <-ticker.C:
			b.act()
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	log    *log.Logger
	itemID string
	r      *rand.Rand

	seq   int
	items []string // stack uids from the latest GET
}

func (b *bot) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		b.log.Printf("WELCOME session=%s owner=%s stacks=%d max_slots=%d max_weight=%.2f", w.SessionID, w.Owner, len(w.Items), w.Limits.MaxSlots, w.Limits.MaxWeight)

	case protocol.TypeEvent:
		var ev protocol.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			return
		}
		b.log.Printf("EVENT %s %s", ev.Kind, ev.Payload)

	case protocol.TypeResult:
		var res protocol.ResultMsg
		if err := json.Unmarshal(msg, &res); err != nil {
			return
		}
		if !res.OK {
			b.log.Printf("RESULT %s %s: %s", res.ReqID, res.Code, res.Message)
			return
		}
		if res.Items != nil {
			b.items = b.items[:0]
			for _, s := range res.Items {
				b.items = append(b.items, s.UID)
			}
		}
	}
}

// act adds a few units, refreshes the container, or consumes one unit of a random stack.
func (b *bot) act() {
	b.seq++
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		ReqID:           fmt.Sprintf("R%d", b.seq),
	}
	switch n := b.r.Intn(3); {
	case n == 0 || len(b.items) == 0 && n == 2:
		act.Op, act.ItemID, act.Quantity = protocol.OpAdd, b.itemID, 1+b.r.Intn(4)
	case n == 1:
		act.Op = protocol.OpGet
	default:
		act.Op, act.UID, act.Quantity = protocol.OpRemoveQuantity, b.items[b.r.Intn(len(b.items))], 1
	}
	if err := b.conn.WriteJSON(act); err != nil {
		b.log.Printf("send ACT: %v", err)
	}
}
