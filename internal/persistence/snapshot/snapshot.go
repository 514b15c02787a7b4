package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"itemmanager.ai/internal/catalog"
	"itemmanager.ai/internal/inventory"
	"itemmanager.ai/internal/owner"
)

const Version = 1

type Header struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Items      int       `json:"items"`
	Containers int       `json:"containers"`
}

// SnapshotV1 is a full export of the catalog and every container.
type SnapshotV1 struct {
	Header     Header        `json:"header"`
	Catalog    []ItemV1      `json:"catalog"`
	Containers []ContainerV1 `json:"containers"`
}

type ItemV1 struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Desc     string  `json:"desc"`
	Icon     string  `json:"icon"`
	MaxStack int     `json:"max_stack"`
	Weight   float64 `json:"weight"`
	UseEvent string  `json:"use_event,omitempty"`

	Decay         int  `json:"decay,omitempty"`
	HasDecay      bool `json:"has_decay,omitempty"`
	Durability    int  `json:"durability,omitempty"`
	HasDurability bool `json:"has_durability,omitempty"`

	NoTradingOrStorage bool `json:"no_trading_or_storage,omitempty"`
	NoDropping         bool `json:"no_dropping,omitempty"`
}

type ContainerV1 struct {
	Kind         string    `json:"kind"`
	Key          string    `json:"key"`
	MaxSlots     int       `json:"max_slots,omitempty"`
	LastAccessed time.Time `json:"last_accessed"`
	NoDecay      bool      `json:"no_decay,omitempty"`
	Stacks       []StackV1 `json:"stacks"`
}

// StackV1 carries attached data as JSON since gob cannot encode arbitrary interface values.
// Optional counters are flattened to value+flag: gob does not transmit a pointer to zero.
type StackV1 struct {
	UID           string `json:"uid"`
	ID            string `json:"id"`
	Quantity      int    `json:"quantity"`
	DataJSON      []byte `json:"data,omitempty"`
	Decay         int    `json:"decay,omitempty"`
	HasDecay      bool   `json:"has_decay,omitempty"`
	Durability    int    `json:"durability,omitempty"`
	HasDurability bool   `json:"has_durability,omitempty"`
}

func flatten(p *int) (int, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func unflatten(v int, ok bool) *int {
	if !ok {
		return nil
	}
	return &v
}

// Build converts live state into a snapshot.
func Build(items []catalog.Item, recs []owner.Record, now time.Time) (SnapshotV1, error) {
	snap := SnapshotV1{
		Header: Header{Version: Version, CreatedAt: now.UTC(), Items: len(items), Containers: len(recs)},
	}
	for _, it := range items {
		v := ItemV1{
			ID: it.ID, Name: it.Name, Desc: it.Desc, Icon: it.Icon,
			MaxStack: it.MaxStack, Weight: it.Weight, UseEvent: it.UseEvent,
		}
		v.Decay, v.HasDecay = flatten(it.Decay)
		v.Durability, v.HasDurability = flatten(it.Durability)
		if it.Rules != nil {
			v.NoTradingOrStorage = it.Rules.NoTradingOrStorage
			v.NoDropping = it.Rules.NoDropping
		}
		snap.Catalog = append(snap.Catalog, v)
	}
	for _, rec := range recs {
		c := ContainerV1{
			Kind: string(rec.Ref.Kind), Key: rec.Ref.Key,
			MaxSlots: rec.MaxSlots, LastAccessed: rec.LastAccessed.UTC(), NoDecay: rec.NoDecay,
		}
		for _, s := range rec.Items {
			sv := StackV1{UID: s.UID, ID: s.ID, Quantity: s.Quantity}
			sv.Decay, sv.HasDecay = flatten(s.Decay)
			sv.Durability, sv.HasDurability = flatten(s.Durability)
			if s.Data != nil {
				b, err := json.Marshal(s.Data)
				if err != nil {
					return SnapshotV1{}, fmt.Errorf("%s stack %s data: %w", rec.Ref, s.UID, err)
				}
				sv.DataJSON = b
			}
			c.Stacks = append(c.Stacks, sv)
		}
		snap.Containers = append(snap.Containers, c)
	}
	return snap, nil
}

// Restore converts a snapshot back to catalog items and container records.
func (snap SnapshotV1) Restore() ([]catalog.Item, []owner.Record, error) {
	if snap.Header.Version != Version {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	items := make([]catalog.Item, 0, len(snap.Catalog))
	for _, v := range snap.Catalog {
		it := catalog.Item{
			ID: v.ID, Name: v.Name, Desc: v.Desc, Icon: v.Icon,
			MaxStack: v.MaxStack, Weight: v.Weight, UseEvent: v.UseEvent,
			Decay:      unflatten(v.Decay, v.HasDecay),
			Durability: unflatten(v.Durability, v.HasDurability),
		}
		if v.NoTradingOrStorage || v.NoDropping {
			it.Rules = &catalog.Rules{NoTradingOrStorage: v.NoTradingOrStorage, NoDropping: v.NoDropping}
		}
		items = append(items, it)
	}
	recs := make([]owner.Record, 0, len(snap.Containers))
	for _, c := range snap.Containers {
		ref := owner.Ref{Kind: owner.Kind(c.Kind), Key: c.Key}
		if !ref.Kind.Valid() || ref.Key == "" {
			return nil, nil, fmt.Errorf("bad container ref %q", ref)
		}
		rec := owner.Record{Ref: ref, MaxSlots: c.MaxSlots, LastAccessed: c.LastAccessed, NoDecay: c.NoDecay, Items: []inventory.Stack{}}
		for _, sv := range c.Stacks {
			s := inventory.Stack{
				UID: sv.UID, ID: sv.ID, Quantity: sv.Quantity,
				Decay:      unflatten(sv.Decay, sv.HasDecay),
				Durability: unflatten(sv.Durability, sv.HasDurability),
			}
			if len(sv.DataJSON) > 0 {
				if err := json.Unmarshal(sv.DataJSON, &s.Data); err != nil {
					return nil, nil, fmt.Errorf("%s stack %s data: %w", ref, sv.UID, err)
				}
			}
			rec.Items = append(rec.Items, s)
		}
		recs = append(recs, rec)
	}
	return items, recs, nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 128*1024)

	// Header line first so tools can peek without decoding the body.
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Source is the read side of a store for Export.
type Source interface {
	LoadCatalog(ctx context.Context) ([]catalog.Item, error)
	AllContainers(ctx context.Context) ([]owner.Record, error)
}

// Sink is the write side of a store for Import.
type Sink interface {
	CreateItem(ctx context.Context, it catalog.Item) error
	SaveContainer(ctx context.Context, rec owner.Record) error
}

func Export(ctx context.Context, src Source, path string) (Header, error) {
	items, err := src.LoadCatalog(ctx)
	if err != nil {
		return Header{}, fmt.Errorf("load catalog: %w", err)
	}
	recs, err := src.AllContainers(ctx)
	if err != nil {
		return Header{}, fmt.Errorf("load containers: %w", err)
	}
	snap, err := Build(items, recs, time.Now())
	if err != nil {
		return Header{}, err
	}
	return snap.Header, WriteSnapshot(path, snap)
}

// Import writes every catalog item and container of the snapshot into dst, replacing
// records with the same key.
func Import(ctx context.Context, dst Sink, path string) (Header, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return Header{}, err
	}
	items, recs, err := snap.Restore()
	if err != nil {
		return Header{}, err
	}
	for _, it := range items {
		if err := dst.CreateItem(ctx, it); err != nil {
			return Header{}, fmt.Errorf("item %s: %w", it.ID, err)
		}
	}
	for _, rec := range recs {
		if err := dst.SaveContainer(ctx, rec); err != nil {
			return Header{}, fmt.Errorf("container %s: %w", rec.Ref, err)
		}
	}
	return snap.Header, nil
}
