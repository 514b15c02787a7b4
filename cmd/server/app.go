package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"itemmanager.ai/internal/catalog"
	"itemmanager.ai/internal/config"
	"itemmanager.ai/internal/decay"
	"itemmanager.ai/internal/events"
	"itemmanager.ai/internal/owner"
	"itemmanager.ai/internal/persistence/snapshot"
	"itemmanager.ai/internal/persistence/store"
	"itemmanager.ai/internal/presence"
	"itemmanager.ai/internal/transport/ws"
	"itemmanager.ai/internal/usage"
)

type app struct {
	cfg     config.Config
	cat     *catalog.Catalog
	svc     *owner.Service
	store   *store.SQLiteStore
	live    *presence.Registry
	sched   *decay.Scheduler
	bus     *events.Bus
	uses    *useEvents
	metrics *metrics
	dataDir string
	log     *log.Logger
}

func (a *app) routes(enableAdmin bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("GET /admin/v1/catalog", loopbackOnly(a.handleCatalogList))
		mux.HandleFunc("POST /admin/v1/catalog", loopbackOnly(a.handleCatalogCreate))
		mux.HandleFunc("DELETE /admin/v1/catalog/{id}", loopbackOnly(a.handleCatalogDelete))
		mux.HandleFunc("GET /admin/v1/containers/{kind}/{key}", loopbackOnly(a.handleContainer))
		mux.HandleFunc("POST /admin/v1/decay", loopbackOnly(a.handleDecay))
		mux.HandleFunc("POST /admin/v1/vehicles/{key}", loopbackOnly(a.handleVehicle(true)))
		mux.HandleFunc("DELETE /admin/v1/vehicles/{key}", loopbackOnly(a.handleVehicle(false)))
		mux.HandleFunc("POST /admin/v1/snapshot", loopbackOnly(a.handleSnapshot))
	}

	wsLog := log.New(a.log.Writer(), "[ws] ", a.log.Flags())
	mux.HandleFunc("/v1/ws", ws.NewServer(a.svc, a.cat, a.bus, a.live, wsLog, ws.Options{
		Policy:      a.cfg.Policy(),
		CatalogWait: a.cfg.Catalog.Wait,
	}).Handler())
	return mux
}

func (a *app) handleCatalogList(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"ready":  a.cat.IsReady(),
		"digest": a.cat.Digest(),
		"items":  a.cat.List(),
	})
}

func (a *app) handleCatalogCreate(rw http.ResponseWriter, r *http.Request) {
	var it catalog.Item
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&it); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	it.ID = strings.TrimSpace(it.ID)
	if it.ID == "" {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	created, err := a.cat.Create(r.Context(), it, a.cfg.Catalog.Wait)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrNotReady) {
			status = http.StatusServiceUnavailable
		}
		writeError(rw, status, err)
		return
	}
	a.uses.sync([]catalog.Item{created})
	writeJSON(rw, http.StatusOK, created)
}

func (a *app) handleCatalogDelete(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := a.cat.Remove(r.Context(), id)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(rw, http.StatusNotFound, fmt.Errorf("unknown item %q", id))
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (a *app) handleContainer(rw http.ResponseWriter, r *http.Request) {
	ref := owner.Ref{Kind: owner.Kind(r.PathValue("kind")), Key: r.PathValue("key")}
	if !ref.Kind.Valid() || ref.Key == "" {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("bad owner %s", ref))
		return
	}
	rec, err := a.svc.For(ref).Record(r.Context())
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, rec)
}

func (a *app) handleDecay(rw http.ResponseWriter, r *http.Request) {
	stats, ran := a.sched.Sweep(r.Context())
	if !ran {
		a.metrics.sweepsSkipped.Add(1)
		writeJSON(rw, http.StatusOK, map[string]any{"ran": false})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ran": true, "stats": stats})
}

func (a *app) handleVehicle(live bool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ref := owner.Ref{Kind: owner.KindVehicle, Key: strings.TrimSpace(r.PathValue("key"))}
		if ref.Key == "" {
			writeError(rw, http.StatusBadRequest, fmt.Errorf("vehicle key is required"))
			return
		}
		if live {
			a.live.Join(ref)
		} else {
			a.live.Leave(ref)
		}
		writeJSON(rw, http.StatusOK, map[string]any{"owner": ref.String(), "live": a.live.IsLive(ref)})
	}
}

func (a *app) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	now := time.Now().UTC()
	path := filepath.Join(a.dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", now.UnixNano()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	h, err := snapshot.Export(ctx, a.store, path)
	if err != nil {
		a.log.Printf("snapshot export: %v", err)
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path, "header": h})
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]any{"ok": false, "error": err.Error()})
}

// useEvents registers one handler per distinct use event found in the catalog. Each
// handler republishes the usage as an item.used notification for the owner.
type useEvents struct {
	dispatch *usage.Dispatcher[owner.Ref]
	bus      *events.Bus

	mu    sync.Mutex
	known map[string]bool
}

func newUseEvents(dispatch *usage.Dispatcher[owner.Ref], bus *events.Bus) *useEvents {
	return &useEvents{dispatch: dispatch, bus: bus, known: map[string]bool{}}
}

func (u *useEvents) sync(items []catalog.Item) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, it := range items {
		name := it.UseEvent
		if name == "" || u.known[name] {
			continue
		}
		u.known[name] = true
		u.dispatch.Register(name, func(ref owner.Ref, uid string) {
			u.bus.Emit(events.KindItemUsed, ref.String(), events.ItemUse{Event: name, UID: uid})
		})
	}
}

type metrics struct {
	sweeps        atomic.Uint64
	sweepsSkipped atomic.Uint64
	sweepFailures atomic.Uint64
	used          atomic.Uint64
}

func (m *metrics) attach(bus *events.Bus) func() {
	unsubSweep := bus.Subscribe(events.KindDecaySweep, func(ev events.Event) error {
		m.sweeps.Add(1)
		if st, ok := ev.Payload.(decay.Stats); ok {
			m.sweepFailures.Add(uint64(st.Failed))
		}
		return nil
	})
	unsubUsed := bus.Subscribe(events.KindItemUsed, func(events.Event) error {
		m.used.Add(1)
		return nil
	})
	return func() {
		unsubSweep()
		unsubUsed()
	}
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	players, vehicles := 0, 0
	for range a.live.LivePlayers() {
		players++
	}
	for range a.live.LiveVehicles() {
		vehicles++
	}
	ready := 0
	if a.cat.IsReady() {
		ready = 1
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP itemmanager_catalog_ready Whether the catalog finished loading.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_catalog_ready gauge\n")
	fmt.Fprintf(rw, "itemmanager_catalog_ready %d\n", ready)

	fmt.Fprintf(rw, "# HELP itemmanager_catalog_items Base item definitions loaded.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_catalog_items gauge\n")
	fmt.Fprintf(rw, "itemmanager_catalog_items %d\n", len(a.cat.List()))

	fmt.Fprintf(rw, "# HELP itemmanager_live_owners Owners currently live in the world.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_live_owners gauge\n")
	fmt.Fprintf(rw, "itemmanager_live_owners{kind=%q} %d\n", owner.KindPlayer, players)
	fmt.Fprintf(rw, "itemmanager_live_owners{kind=%q} %d\n", owner.KindVehicle, vehicles)

	fmt.Fprintf(rw, "# HELP itemmanager_decay_sweeps_total Completed decay sweeps.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_decay_sweeps_total counter\n")
	fmt.Fprintf(rw, "itemmanager_decay_sweeps_total %d\n", a.metrics.sweeps.Load())

	fmt.Fprintf(rw, "# HELP itemmanager_decay_sweeps_skipped_total Sweeps dropped because one was already running.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_decay_sweeps_skipped_total counter\n")
	fmt.Fprintf(rw, "itemmanager_decay_sweeps_skipped_total %d\n", a.metrics.sweepsSkipped.Load())

	fmt.Fprintf(rw, "# HELP itemmanager_decay_failures_total Owner decays that failed.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_decay_failures_total counter\n")
	fmt.Fprintf(rw, "itemmanager_decay_failures_total %d\n", a.metrics.sweepFailures.Load())

	fmt.Fprintf(rw, "# HELP itemmanager_items_used_total Item usages dispatched to handlers.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_items_used_total counter\n")
	fmt.Fprintf(rw, "itemmanager_items_used_total %d\n", a.metrics.used.Load())

	fmt.Fprintf(rw, "# HELP itemmanager_event_history_dropped_total Notifications dropped by the sqlite history writer.\n")
	fmt.Fprintf(rw, "# TYPE itemmanager_event_history_dropped_total counter\n")
	fmt.Fprintf(rw, "itemmanager_event_history_dropped_total %d\n", a.store.Dropped())
}
