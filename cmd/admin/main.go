package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"itemmanager.ai/internal/catalog"
	persistlog "itemmanager.ai/internal/persistence/log"
	"itemmanager.ai/internal/persistence/snapshot"
	"itemmanager.ai/internal/persistence/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "nodecay":
			noDecayCmd(os.Args[2:])
			return
		case "seed":
			seedCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "catalog":
			catalogCmd(os.Args[2:])
			return
		case "decay":
			decayCmd(os.Args[2:])
			return
		case "vehicle":
			vehicleCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := dataFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Println(f)
	}
}

// dataFiles lists snapshots and event logs under dataDir, relative to it.
func dataFiles(dataDir string) ([]string, error) {
	var out []string
	for _, sub := range []string{"snapshots", "events"} {
		ents, err := os.ReadDir(filepath.Join(dataDir, sub))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			if e.IsDir() {
				continue
			}
			out = append(out, filepath.Join(sub, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func seedCmd(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	dbPath := fs.String("db", "./data/items.sqlite", "sqlite db path")
	file := fs.String("file", "", "items.json seed file (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(2)
	}
	n, err := seedCatalog(context.Background(), *dbPath, *file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
	fmt.Printf("seed ok: created=%d file=%s\n", n, *file)
}

func seedCatalog(ctx context.Context, dbPath, file string) (int, error) {
	items, err := catalog.LoadFile(file)
	if err != nil {
		return 0, err
	}
	st, err := store.OpenSQLite(dbPath)
	if err != nil {
		return 0, err
	}
	defer st.Close()
	cat := catalog.New(st, nil)
	if err := cat.Load(ctx); err != nil {
		return 0, err
	}
	return cat.Seed(ctx, items, 0)
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "./data/items.sqlite", "sqlite db path")
	outPath := fs.String("out", "", "output snapshot path (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*outPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}
	st, err := store.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	h, err := snapshot.Export(context.Background(), st, *outPath)
	_ = st.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
	fmt.Printf("export ok: items=%d containers=%d out=%s\n", h.Items, h.Containers, *outPath)
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", "./data/items.sqlite", "sqlite db path")
	inPath := fs.String("in", "", "snapshot path (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*inPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	st, err := store.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	h, err := snapshot.Import(context.Background(), st, *inPath)
	_ = st.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "import:", err)
		os.Exit(1)
	}
	fmt.Printf("import ok: items=%d containers=%d created_at=%s\n", h.Items, h.Containers, h.CreatedAt)
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	owner := fs.String("owner", "", "owner filter (kind:key)")
	kind := fs.String("kind", "", "event kind filter")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin events [-owner kind:key] [-kind k] <file.jsonl.zst>...")
		os.Exit(2)
	}
	for _, path := range fs.Args() {
		err := persistlog.ReadLines(path, func(line json.RawMessage) error {
			if *owner != "" || *kind != "" {
				var ev struct {
					Kind  string `json:"kind"`
					Owner string `json:"owner"`
				}
				if err := json.Unmarshal(line, &ev); err != nil {
					return err
				}
				if (*owner != "" && ev.Owner != *owner) || (*kind != "" && ev.Kind != *kind) {
					return nil
				}
			}
			fmt.Println(string(line))
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
}
