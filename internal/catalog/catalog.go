// Package catalog resolves model identifiers to their context window, output
// cap and per-1K-token prices.
//
// Source priority (highest to lowest):
//  1. Overrides passed to Resolve (CLI flags)
//  2. Entries registered from the user config
//  3. ~/.config/cg/models.yaml
//  4. the embedded models_default.yaml
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apexion-ai/cg/internal/paths"
)

//go:embed models_default.yaml
var defaultModelsYAML []byte

// Price is USD per 1K tokens.
type Price struct {
	Prompt     float64 `yaml:"prompt"`
	Completion float64 `yaml:"completion"`
}

// Entry is a catalog record. Zero fields are unknown.
type Entry struct {
	Provider        string `yaml:"provider"`
	ContextWindow   int    `yaml:"context_window"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	Price           *Price `yaml:"price"`
	// SystemAsUser marks families that reject the system role.
	SystemAsUser bool `yaml:"system_as_user"`
}

type file struct {
	DefaultModel string           `yaml:"default_model"`
	Models       map[string]Entry `yaml:"models"`
}

// Profile is a resolved model. It does not change for the rest of a session.
type Profile struct {
	ID                  string
	Provider            string
	ContextWindow       int
	MaxOutputTokens     int
	PromptPricePerK     float64
	CompletionPricePerK float64
	SystemAsUser        bool
}

// Overrides are caller-supplied values. Window and output caps are clamped to
// the catalog maxima; Price replaces the catalog price.
type Overrides struct {
	ContextWindow   int
	MaxOutputTokens int
	Price           *Price
}

// UnknownModelError is returned when a model has no usable catalog entry and
// the caller did not supply the missing values.
type UnknownModelError struct {
	Model   string
	Missing string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %s: no %s registered; add it to the config or pass it explicitly", e.Model, e.Missing)
}

// Catalog is the set of known models.
type Catalog struct {
	defaultModel string
	entries      map[string]Entry
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(defaultModelsYAML, &f); err != nil {
		return nil, fmt.Errorf("parse embedded model catalog: %w", err)
	}
	c := &Catalog{defaultModel: f.DefaultModel, entries: make(map[string]Entry, len(f.Models))}
	for id, e := range f.Models {
		c.entries[id] = e
	}
	return c, nil
}

// DefaultUserPath returns models.yaml in the config directory, or "" when
// there is no home directory.
func DefaultUserPath() string {
	dir, err := paths.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "models.yaml")
}

// Load returns the embedded catalog merged with the user file at path. A
// missing file is not an error.
func Load(path string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read model catalog %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid model catalog %s: %w", path, err)
	}
	if f.DefaultModel != "" {
		c.defaultModel = f.DefaultModel
	}
	for id, e := range f.Models {
		c.Register(id, e)
	}
	return c, nil
}

// DefaultModel returns the model used when none is configured.
func (c *Catalog) DefaultModel() string { return c.defaultModel }

// Register merges e into the entry for id; zero fields keep the existing value.
func (c *Catalog) Register(id string, e Entry) {
	cur := c.entries[id]
	if e.Provider != "" {
		cur.Provider = e.Provider
	}
	if e.ContextWindow > 0 {
		cur.ContextWindow = e.ContextWindow
	}
	if e.MaxOutputTokens > 0 {
		cur.MaxOutputTokens = e.MaxOutputTokens
	}
	if e.Price != nil {
		p := *e.Price
		cur.Price = &p
	}
	if e.SystemAsUser {
		cur.SystemAsUser = true
	}
	c.entries[id] = cur
}

// Models returns the registered ids in sorted order.
func (c *Catalog) Models() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup finds the entry for id, falling back to the longest registered
// prefix so that dated ids ("gpt-4o-2024-08-06") match their family entry.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	if e, ok := c.entries[id]; ok {
		return e, true
	}
	best := ""
	for name := range c.entries {
		if strings.HasPrefix(id, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Entry{}, false
	}
	return c.entries[best], true
}

// Resolve returns the profile for id with o applied.
func (c *Catalog) Resolve(id string, o Overrides) (Profile, error) {
	e, _ := c.Lookup(id)

	window := e.ContextWindow
	switch {
	case window == 0 && o.ContextWindow > 0:
		window = o.ContextWindow
	case window == 0:
		return Profile{}, &UnknownModelError{Model: id, Missing: "context window"}
	case o.ContextWindow > 0:
		window = clamp(o.ContextWindow, 1, window)
	}

	price := e.Price
	if o.Price != nil {
		price = o.Price
	}
	if price == nil {
		return Profile{}, &UnknownModelError{Model: id, Missing: "price"}
	}

	maxOut := e.MaxOutputTokens
	if maxOut == 0 || maxOut > window {
		maxOut = window
	}
	if o.MaxOutputTokens > 0 {
		maxOut = clamp(o.MaxOutputTokens, 1, maxOut)
	}

	return Profile{
		ID:                  id,
		Provider:            e.Provider,
		ContextWindow:       window,
		MaxOutputTokens:     maxOut,
		PromptPricePerK:     price.Prompt,
		CompletionPricePerK: price.Completion,
		SystemAsUser:        e.SystemAsUser,
	}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
