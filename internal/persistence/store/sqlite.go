package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"itemmanager.ai/internal/catalog"
	"itemmanager.ai/internal/events"
	"itemmanager.ai/internal/inventory"
	"itemmanager.ai/internal/owner"
)

// SQLiteStore persists the item catalog and every owner container. Catalog and container
// calls are synchronous; the notification history is written by a background goroutine.
type SQLiteStore struct {
	db *sql.DB

	ch   chan events.Event
	wg   sync.WaitGroup
	once sync.Once

	// sendMu orders RecordEvent sends against Close closing ch.
	sendMu  sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db: db,
		ch: make(chan events.Event, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS containers (
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			items_json TEXT NOT NULL,
			max_slots INTEGER NOT NULL DEFAULT 0,
			last_accessed TEXT NOT NULL,
			no_decay INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_containers_decay ON containers(kind, no_decay);`,
		`CREATE TABLE IF NOT EXISTS item_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			owner TEXT NOT NULL,
			item_id TEXT,
			quantity INTEGER,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_item_events_owner ON item_events(owner, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// DB exposes the handle for read-only inspection tools.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// ---- catalog ----

func (s *SQLiteStore) LoadCatalog(ctx context.Context) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Item
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var it catalog.Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateItem(ctx context.Context, it catalog.Item) error {
	b, err := json.Marshal(it)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO items(id,json,updated_at) VALUES(?,?,?)`,
		it.ID, string(b), now())
	return err
}

func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id=?`, id)
	return err
}

// ---- containers ----

func (s *SQLiteStore) LoadContainer(ctx context.Context, ref owner.Ref) (owner.Record, error) {
	var (
		raw      string
		maxSlots int
		accessed string
		noDecay  int
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT items_json,max_slots,last_accessed,no_decay FROM containers WHERE kind=? AND key=?`,
		string(ref.Kind), ref.Key)
	if err := row.Scan(&raw, &maxSlots, &accessed, &noDecay); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return owner.Record{}, owner.ErrNotFound
		}
		return owner.Record{}, err
	}
	return decodeRecord(ref, raw, maxSlots, accessed, noDecay)
}

func (s *SQLiteStore) SaveContainer(ctx context.Context, rec owner.Record) error {
	items := rec.Items
	if items == nil {
		items = []inventory.Stack{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	accessed := rec.LastAccessed
	if accessed.IsZero() {
		accessed = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO containers(kind,key,items_json,max_slots,last_accessed,no_decay) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(kind,key) DO UPDATE SET
			items_json=excluded.items_json,
			max_slots=excluded.max_slots,
			last_accessed=excluded.last_accessed,
			no_decay=excluded.no_decay`,
		string(rec.Ref.Kind), rec.Ref.Key, string(b), rec.MaxSlots,
		accessed.UTC().Format(time.RFC3339Nano), boolInt(rec.NoDecay))
	return err
}

// ListDecaying returns the refs of kind whose containers are not flagged no-decay.
func (s *SQLiteStore) ListDecaying(ctx context.Context, kind owner.Kind) ([]owner.Ref, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM containers WHERE kind=? AND no_decay=0 ORDER BY key`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []owner.Ref
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, owner.Ref{Kind: kind, Key: key})
	}
	return out, rows.Err()
}

// SetNoDecay flags a container as exempt from decay. The record is created when missing.
func (s *SQLiteStore) SetNoDecay(ctx context.Context, ref owner.Ref, v bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO containers(kind,key,items_json,max_slots,last_accessed,no_decay) VALUES(?,?,'[]',0,?,?)
		 ON CONFLICT(kind,key) DO UPDATE SET no_decay=excluded.no_decay`,
		string(ref.Kind), ref.Key, now(), boolInt(v))
	return err
}

// AllContainers returns every stored container, ordered by kind then key.
func (s *SQLiteStore) AllContainers(ctx context.Context) ([]owner.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind,key,items_json,max_slots,last_accessed,no_decay FROM containers ORDER BY kind,key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []owner.Record
	for rows.Next() {
		var (
			kind, key, raw, accessed string
			maxSlots, noDecay        int
		)
		if err := rows.Scan(&kind, &key, &raw, &maxSlots, &accessed, &noDecay); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(owner.Ref{Kind: owner.Kind(kind), Key: key}, raw, maxSlots, accessed, noDecay)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeRecord(ref owner.Ref, raw string, maxSlots int, accessed string, noDecay int) (owner.Record, error) {
	rec := owner.Record{Ref: ref, MaxSlots: maxSlots, NoDecay: noDecay != 0}
	if err := json.Unmarshal([]byte(raw), &rec.Items); err != nil {
		return owner.Record{}, fmt.Errorf("decode %s: %w", ref, err)
	}
	if rec.Items == nil {
		rec.Items = []inventory.Stack{}
	}
	if t, err := time.Parse(time.RFC3339Nano, accessed); err == nil {
		rec.LastAccessed = t
	}
	return rec, nil
}

// ---- notification history ----

// RecordEvent queues a bus notification for the item_events table. It never blocks: when
// the writer falls behind the event is dropped and counted.
func (s *SQLiteStore) RecordEvent(ev events.Event) error {
	if s == nil {
		return nil
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteStore) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteStore) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO item_events(at,kind,owner,item_id,quantity,raw_json) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for ev := range s.ch {
		if insertEvent == nil {
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		var (
			itemID   sql.NullString
			quantity sql.NullInt64
		)
		if d, ok := ev.Payload.(events.ItemDelta); ok {
			itemID = sql.NullString{String: d.ItemID, Valid: true}
			quantity = sql.NullInt64{Int64: int64(d.Quantity), Valid: true}
		}
		raw, _ := json.Marshal(ev)
		if _, err := tx.Stmt(insertEvent).Exec(
			ev.Time.UTC().Format(time.RFC3339Nano),
			string(ev.Kind),
			ev.Owner,
			itemID,
			quantity,
			string(raw),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		// Commit eagerly once the queue drains so readers see recent history.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
