package owner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"itemmanager.ai/internal/inventory"
)

type Kind string

const (
	KindPlayer  Kind = "player"
	KindVehicle Kind = "vehicle"
	KindStorage Kind = "storage"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPlayer, KindVehicle, KindStorage:
		return true
	}
	return false
}

// Ref identifies the owner of one container.
type Ref struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"key"`
}

func (r Ref) String() string { return string(r.Kind) + ":" + r.Key }

func ParseRef(s string) (Ref, error) {
	kind, key, ok := strings.Cut(s, ":")
	r := Ref{Kind: Kind(kind), Key: key}
	if !ok || key == "" || !r.Kind.Valid() {
		return Ref{}, fmt.Errorf("bad owner ref %q", s)
	}
	return r, nil
}

// Record is the persisted container of one owner.
type Record struct {
	Ref          Ref               `json:"ref"`
	Items        []inventory.Stack `json:"items"`
	MaxSlots     int               `json:"max_slots,omitempty"`
	LastAccessed time.Time         `json:"last_accessed"`
	NoDecay      bool              `json:"no_decay,omitempty"`
}

var ErrNotFound = errors.New("container not found")

// Store loads and saves container records. LoadContainer returns ErrNotFound for owners
// with no record yet.
type Store interface {
	LoadContainer(ctx context.Context, ref Ref) (Record, error)
	SaveContainer(ctx context.Context, rec Record) error
}
