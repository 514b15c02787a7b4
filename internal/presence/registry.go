package presence

import (
	"iter"
	"slices"
	"sync"

	"itemmanager.ai/internal/owner"
)

// Registry tracks which players and vehicles currently exist in the world. A player may hold
// several sessions; it stays live until the last one leaves.
type Registry struct {
	mu       sync.Mutex
	players  map[string]int
	vehicles map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		players:  map[string]int{},
		vehicles: map[string]struct{}{},
	}
}

// Join marks ref live. Storage refs are ignored: storage is enumerated from the store.
func (r *Registry) Join(ref owner.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ref.Kind {
	case owner.KindPlayer:
		r.players[ref.Key]++
	case owner.KindVehicle:
		r.vehicles[ref.Key] = struct{}{}
	}
}

func (r *Registry) Leave(ref owner.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ref.Kind {
	case owner.KindPlayer:
		if n := r.players[ref.Key]; n > 1 {
			r.players[ref.Key] = n - 1
		} else {
			delete(r.players, ref.Key)
		}
	case owner.KindVehicle:
		delete(r.vehicles, ref.Key)
	}
}

func (r *Registry) IsLive(ref owner.Ref) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ref.Kind {
	case owner.KindPlayer:
		return r.players[ref.Key] > 0
	case owner.KindVehicle:
		_, ok := r.vehicles[ref.Key]
		return ok
	}
	return false
}

// LivePlayers yields the players live at call time, sorted by key.
func (r *Registry) LivePlayers() iter.Seq[owner.Ref] {
	r.mu.Lock()
	keys := make([]string, 0, len(r.players))
	for k := range r.players {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	return refs(owner.KindPlayer, keys)
}

// LiveVehicles yields the vehicles live at call time, sorted by key.
func (r *Registry) LiveVehicles() iter.Seq[owner.Ref] {
	r.mu.Lock()
	keys := make([]string, 0, len(r.vehicles))
	for k := range r.vehicles {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	return refs(owner.KindVehicle, keys)
}

func refs(kind owner.Kind, keys []string) iter.Seq[owner.Ref] {
	slices.Sort(keys)
	return func(yield func(owner.Ref) bool) {
		for _, k := range keys {
			if !yield(owner.Ref{Kind: kind, Key: k}) {
				return
			}
		}
	}
}
