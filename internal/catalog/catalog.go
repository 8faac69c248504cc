// Package catalog loads the static historical-event dataset. The data
// is embedded at build time and read-only after Load.
package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

//go:embed categories.json
var fs embed.FS

// Catalog is the immutable set of categories keyed by category key.
type Catalog struct {
	categories map[string]chronoquiz.Category
	keys       []string
}

// Load parses the embedded dataset. Called once at process start.
func Load() (*Catalog, error) {
	raw, err := fs.ReadFile("categories.json")
	if err != nil {
		return nil, fmt.Errorf("reading embedded dataset: %w", err)
	}

	var categories map[string]chronoquiz.Category
	if err := json.Unmarshal(raw, &categories); err != nil {
		return nil, fmt.Errorf("parsing embedded dataset: %w", err)
	}

	keys := make([]string, 0, len(categories))
	for key, c := range categories {
		if len(c.Events) == 0 {
			return nil, fmt.Errorf("category %q has no events", key)
		}
		c.Key = key
		categories[key] = c
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Catalog{categories: categories, keys: keys}, nil
}

// Get returns the category for key, or false if it does not exist.
func (c *Catalog) Get(key string) (chronoquiz.Category, bool) {
	cat, ok := c.categories[key]
	return cat, ok
}

// Keys returns all category keys in sorted order.
func (c *Catalog) Keys() []string {
	return c.keys
}
