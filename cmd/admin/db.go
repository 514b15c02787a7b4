package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"itemmanager.ai/internal/owner"
	"itemmanager.ai/internal/persistence/store"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "./data/items.sqlite", "sqlite db path")
	ownerRef := fs.String("owner", "", "owner filter (kind:key)")
	limit := fs.Int("limit", 50, "result limit (events)")
	_ = fs.Parse(args)

	q := "containers"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	st, err := openExisting(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer st.Close()
	ctx := context.Background()

	switch q {
	case "catalog":
		items, err := st.LoadCatalog(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, it := range items {
			printJSON(it)
		}

	case "containers":
		recs, err := st.AllContainers(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, rec := range recs {
			var r struct {
				Owner        string `json:"owner"`
				Stacks       int    `json:"stacks"`
				MaxSlots     int    `json:"max_slots,omitempty"`
				NoDecay      bool   `json:"no_decay,omitempty"`
				LastAccessed string `json:"last_accessed"`
			}
			r.Owner = rec.Ref.String()
			r.Stacks = len(rec.Items)
			r.MaxSlots = rec.MaxSlots
			r.NoDecay = rec.NoDecay
			r.LastAccessed = rec.LastAccessed.UTC().Format("2006-01-02T15:04:05Z")
			printJSON(r)
		}

	case "container":
		ref, err := owner.ParseRef(*ownerRef)
		if err != nil {
			fmt.Fprintln(os.Stderr, "missing or bad -owner:", err)
			os.Exit(2)
		}
		rec, err := st.LoadContainer(ctx, ref)
		if errors.Is(err, owner.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "no container for", ref)
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(rec)

	case "events":
		if *limit <= 0 {
			*limit = 50
		}
		query := `SELECT seq,at,kind,owner,COALESCE(item_id,''),COALESCE(quantity,0),raw_json FROM item_events ORDER BY seq DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*ownerRef) != "" {
			query = `SELECT seq,at,kind,owner,COALESCE(item_id,''),COALESCE(quantity,0),raw_json FROM item_events WHERE owner=? ORDER BY seq DESC LIMIT ?`
			qargs = []any{strings.TrimSpace(*ownerRef), *limit}
		}
		rows, err := st.DB().Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq      int64           `json:"seq"`
				At       string          `json:"at"`
				Kind     string          `json:"kind"`
				Owner    string          `json:"owner"`
				ItemID   string          `json:"item_id,omitempty"`
				Quantity int             `json:"quantity,omitempty"`
				Raw      json.RawMessage `json:"event"`
			}
			var raw string
			if err := rows.Scan(&r.Seq, &r.At, &r.Kind, &r.Owner, &r.ItemID, &r.Quantity, &raw); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Raw = json.RawMessage(raw)
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-db PATH] [-owner kind:key] [-limit N] catalog|containers|container|events")
		os.Exit(2)
	}
}

func noDecayCmd(args []string) {
	fs := flag.NewFlagSet("nodecay", flag.ExitOnError)
	dbPath := fs.String("db", "./data/items.sqlite", "sqlite db path")
	ownerRef := fs.String("owner", "", "storage owner (storage:key)")
	on := fs.Bool("on", true, "exclude the container from decay sweeps")
	_ = fs.Parse(args)

	ref, err := owner.ParseRef(*ownerRef)
	if err != nil || ref.Kind != owner.KindStorage {
		fmt.Fprintln(os.Stderr, "-owner must be storage:<key>")
		os.Exit(2)
	}
	st, err := openExisting(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.SetNoDecay(context.Background(), ref, *on); err != nil {
		fmt.Fprintln(os.Stderr, "update:", err)
		os.Exit(1)
	}
	fmt.Printf("nodecay ok: owner=%s no_decay=%v\n", ref, *on)
}

// openExisting refuses to create a fresh database for an inspection command.
func openExisting(path string) (*store.SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return store.OpenSQLite(path)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
