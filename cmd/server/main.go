package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"itemmanager.ai/internal/catalog"
	"itemmanager.ai/internal/clock"
	"itemmanager.ai/internal/config"
	"itemmanager.ai/internal/decay"
	"itemmanager.ai/internal/events"
	"itemmanager.ai/internal/inventory"
	"itemmanager.ai/internal/owner"
	persistlog "itemmanager.ai/internal/persistence/log"
	"itemmanager.ai/internal/persistence/store"
	"itemmanager.ai/internal/presence"
	"itemmanager.ai/internal/usage"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/items.yaml", "inventory config (yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		dbPath     = flag.String("db", "", "sqlite path (default: <data>/items.sqlite)")
		seedFile   = flag.String("seed", "", "catalog seed file (overrides catalog.seed_file)")
		noEventLog = flag.Bool("disable_event_log", false, "do not write the compressed notification log")
	)
	flag.Parse()

	const logFlags = log.LstdFlags | log.Lmicroseconds
	logger := log.New(os.Stdout, "[server] ", logFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		cfg, _ = config.Load("")
	}
	seed := strings.TrimSpace(*seedFile)
	if seed == "" {
		seed = cfg.Catalog.SeedFile
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "items.sqlite")
	}
	st, err := store.OpenSQLite(path)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	bus := events.NewBus(log.New(os.Stdout, "[events] ", logFlags))
	cat := catalog.New(st, log.New(os.Stdout, "[catalog] ", logFlags))
	dispatch := usage.NewDispatcher[owner.Ref](cat)
	uses := newUseEvents(dispatch, bus)
	svc := owner.NewService(inventory.NewEngine(cat, cfg.Policy()), st, bus, dispatch, owner.Options{StorageSlots: cfg.Storage.MaxSlots})
	live := presence.NewRegistry()

	if !*noEventLog {
		evLog := persistlog.NewEventLogger(*dataDir)
		defer evLog.Close()
		defer evLog.Attach(bus)()
	}
	defer bus.Subscribe("", st.RecordEvent)()

	// Sessions wait on the catalog readiness barrier, so the listener can come up first.
	go func() {
		if err := cat.Load(ctx); err != nil {
			logger.Printf("catalog: %v", err)
			return
		}
		if seed != "" {
			items, err := catalog.LoadFile(seed)
			if err != nil {
				logger.Printf("catalog seed: %v", err)
			} else if n, err := cat.Seed(ctx, items, cfg.Catalog.Wait); err != nil {
				logger.Printf("catalog seed: %v", err)
			} else if n > 0 {
				logger.Printf("catalog seeded %d items from %s", n, seed)
			}
		}
		uses.sync(cat.List())
	}()

	m := &metrics{}
	defer m.attach(bus)()
	sched := decay.NewScheduler(live, st, svc, bus, log.New(os.Stdout, "[decay] ", logFlags), decay.Options{Concurrency: cfg.Decay.Concurrency})
	clk := clock.New(cfg.Decay.HourDuration, func(ctx context.Context, hour int64) {
		go func() {
			if _, ran := sched.Sweep(ctx); !ran {
				m.sweepsSkipped.Add(1)
				logger.Printf("hour %d: decay sweep still running, skipped", hour)
			}
		}()
	}, logger)
	go clk.Run(ctx)

	a := &app{
		cfg:     cfg,
		cat:     cat,
		svc:     svc,
		store:   st,
		live:    live,
		sched:   sched,
		bus:     bus,
		uses:    uses,
		metrics: m,
		dataDir: *dataDir,
		log:     logger,
	}
	enableAdminHTTP := envBool("IM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (IM_ENABLE_ADMIN_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           a.routes(enableAdminHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s db=%s", *addr, path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
