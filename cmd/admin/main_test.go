package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSeedCatalog(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "items.json")
	body := `[
  {"id": "water", "name": "Water", "max_stack": 16, "weight": 0.1},
  {"id": "bread", "name": "Bread", "max_stack": 4, "weight": 0.2, "decay": 24, "use_event": "eat"}
]`
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	db := filepath.Join(dir, "items.sqlite")

	n, err := seedCatalog(context.Background(), db, file)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("created=%d want 2", n)
	}
	// Known ids are skipped on a second run.
	n, err = seedCatalog(context.Background(), db, file)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if n != 0 {
		t.Fatalf("created=%d want 0", n)
	}
}

func TestSeedCatalog_RejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "items.json")
	if err := os.WriteFile(file, []byte(`[{"id": "water", "max_stack": "lots"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := seedCatalog(context.Background(), filepath.Join(dir, "items.sqlite"), file); err == nil {
		t.Fatalf("expected schema error")
	}
	if _, err := os.Stat(filepath.Join(dir, "items.sqlite")); !os.IsNotExist(err) {
		t.Fatalf("db should not be created for an invalid seed file")
	}
}

func TestDataFiles(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"snapshots/2.snap.zst", "snapshots/1.snap.zst", "events/events-2026-01-01-00.jsonl.zst"} {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := dataFiles(dir)
	if err != nil {
		t.Fatalf("dataFiles: %v", err)
	}
	want := []string{
		filepath.Join("events", "events-2026-01-01-00.jsonl.zst"),
		filepath.Join("snapshots", "1.snap.zst"),
		filepath.Join("snapshots", "2.snap.zst"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	if got, err := dataFiles(filepath.Join(dir, "missing")); err != nil || len(got) != 0 {
		t.Fatalf("missing dir: %v %v", got, err)
	}
}
