package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const itemsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "name", "max_stack", "weight"],
    "properties": {
      "id":         {"type": "string", "minLength": 1},
      "name":       {"type": "string"},
      "desc":       {"type": "string"},
      "icon":       {"type": "string"},
      "max_stack":  {"type": "integer"},
      "weight":     {"type": "number"},
      "decay":      {"type": "integer", "minimum": 1},
      "durability": {"type": "integer", "minimum": 0},
      "use_event":  {"type": "string"},
      "rules": {
        "type": "object",
        "properties": {
          "no_trading_or_storage": {"type": "boolean"},
          "no_dropping":           {"type": "boolean"}
        },
        "additionalProperties": false
      }
    },
    "additionalProperties": false
  }
}`

var itemsSchemaCompiled = jsonschema.MustCompileString("items.schema.json", itemsSchema)

// LoadFile reads an items.json seed file and validates it before decoding.
func LoadFile(path string) ([]Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := itemsSchemaCompiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	seen := map[string]struct{}{}
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate id %q", name, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return items, nil
}

// Seed creates every item not already known. It returns how many were created.
func (c *Catalog) Seed(ctx context.Context, items []Item, wait time.Duration) (int, error) {
	n := 0
	for _, it := range items {
		if c.Has(it.ID) {
			continue
		}
		if _, err := c.Create(ctx, it, wait); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
