// Package config loads the cg configuration.
//
// The file is TOML. An optional [global] table holds defaults; every other
// top-level table defines a subcommand. Source priority (highest to lowest):
//  1. Command-line flags (applied by the caller)
//  2. The command's table
//  3. The [global] table, then CG_MODEL for the model
//  4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/apexion-ai/cg/internal/catalog"
	"github.com/apexion-ai/cg/internal/paths"
	"github.com/apexion-ai/cg/internal/provider"
)

// GlobalTable is the table holding defaults for every command.
const GlobalTable = "global"

// Command is one table of the config file. Pointer fields are unset when nil
// so that a command can override [global] with a zero value.
type Command struct {
	Description string `toml:"description"`

	// Model and provider
	Model           string `toml:"model"`
	Provider        string `toml:"provider"`
	ContextWindow   *int   `toml:"context_window"`
	MaxOutputTokens *int   `toml:"max_output_tokens"`
	MinOutputTokens *int   `toml:"min_output_tokens"`
	// TokenPolicy is "fallback" (default) or "strict" for models outside the
	// known tokenizer families.
	TokenPolicy string `toml:"token_policy"`

	// Sampling
	Temperature      *float64 `toml:"temperature"`
	TopP             *float64 `toml:"top_p"`
	PresencePenalty  *float64 `toml:"presence_penalty"`
	FrequencyPenalty *float64 `toml:"frequency_penalty"`

	// Mode: "ask" (default), "chat" or "discuss". Chat = true is the same as mode = "chat".
	Mode        string   `toml:"mode"`
	Chat        *bool    `toml:"chat"`
	Show        *bool    `toml:"show"`
	Hide        *bool    `toml:"hide"`
	Multiline   *bool    `toml:"multiline"`
	NoMultiline *bool    `toml:"no_multiline"`
	ShowCost    *bool    `toml:"show_cost"`
	ChatExitCmd []string `toml:"chat_exit_cmd"`

	// Display
	Colors map[string]string `toml:"colors"`
	Alias  map[string]string `toml:"alias"`
	Names  map[string]string `toml:"names"`

	Messages []provider.Message `toml:"messages"`

	// Model catalog additions, read from [global] only.
	Prices                 map[string][2]float64 `toml:"prices"`
	ContextWindows         map[string]int        `toml:"context_windows"`
	MaxOutputTokensByModel map[string]int        `toml:"max_output_tokens_by_model"`
}

// Config is a loaded config file.
type Config struct {
	Path     string
	Global   Command
	Commands map[string]Command
	// Order lists the command tables in file order.
	Order []string
}

// DefaultPath returns $XDG_CONFIG_HOME/cg/config.toml (default ~/.config/cg).
func DefaultPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at path. A missing file yields an empty config
// with Exists reporting false. Environment overrides are applied.
func Load(path string) (*Config, error) {
	cfg := &Config{Path: path, Commands: map[string]Command{}}

	raw := map[string]Command{}
	md, err := toml.DecodeFile(path, &raw)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	default:
		for _, key := range md.Undecoded() {
			slog.Warn("unknown config key", slog.String("file", path), slog.String("key", key.String()))
		}
		cfg.Global = raw[GlobalTable]
		for _, key := range md.Keys() {
			name := key[0]
			if _, seen := cfg.Commands[name]; seen || name == GlobalTable {
				continue
			}
			if cmd, ok := raw[name]; ok {
				cfg.Commands[name] = cmd
				cfg.Order = append(cfg.Order, name)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Exists reports whether the config file is present.
func (c *Config) Exists() bool {
	_, err := os.Stat(c.Path)
	return err == nil
}

// Command returns the named table merged over [global].
func (c *Config) Command(name string) (Command, bool) {
	cmd, ok := c.Commands[name]
	if !ok {
		return c.Global, false
	}
	return Merge(c.Global, cmd), true
}

// Merge returns base with every field set in over replaced. Messages and
// descriptions are never inherited.
func Merge(base, over Command) Command {
	out := base
	out.Description = over.Description
	out.Messages = over.Messages

	setString(&out.Model, over.Model)
	setString(&out.Provider, over.Provider)
	setString(&out.Mode, over.Mode)
	setString(&out.TokenPolicy, over.TokenPolicy)
	setPtr(&out.ContextWindow, over.ContextWindow)
	setPtr(&out.MaxOutputTokens, over.MaxOutputTokens)
	setPtr(&out.MinOutputTokens, over.MinOutputTokens)
	setPtr(&out.Temperature, over.Temperature)
	setPtr(&out.TopP, over.TopP)
	setPtr(&out.PresencePenalty, over.PresencePenalty)
	setPtr(&out.FrequencyPenalty, over.FrequencyPenalty)
	setPtr(&out.Chat, over.Chat)
	setPtr(&out.Show, over.Show)
	setPtr(&out.Hide, over.Hide)
	setPtr(&out.Multiline, over.Multiline)
	setPtr(&out.NoMultiline, over.NoMultiline)
	setPtr(&out.ShowCost, over.ShowCost)
	if over.ChatExitCmd != nil {
		out.ChatExitCmd = over.ChatExitCmd
	}
	out.Colors = mergeMap(base.Colors, over.Colors)
	out.Alias = mergeMap(base.Alias, over.Alias)
	out.Names = mergeMap(base.Names, over.Names)
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

func mergeMap(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// ShowPrompt resolves show/hide. show wins when both are set.
func (c Command) ShowPrompt() bool {
	if c.Show != nil {
		return *c.Show
	}
	if c.Hide != nil {
		return !*c.Hide
	}
	return false
}

// MultilineInput resolves multiline/no_multiline.
func (c Command) MultilineInput() bool {
	if c.Multiline != nil {
		return *c.Multiline
	}
	if c.NoMultiline != nil {
		return !*c.NoMultiline
	}
	return false
}

// ModeName returns the session mode of the command.
func (c Command) ModeName() string {
	if c.Mode != "" {
		return c.Mode
	}
	if c.Chat != nil && *c.Chat {
		return "chat"
	}
	return "ask"
}

// RegisterModels adds the [global] price and window tables to cat.
func (c *Config) RegisterModels(cat *catalog.Catalog) {
	g := c.Global
	for id, p := range g.Prices {
		cat.Register(id, catalog.Entry{Price: &catalog.Price{Prompt: p[0], Completion: p[1]}})
	}
	for id, w := range g.ContextWindows {
		cat.Register(id, catalog.Entry{ContextWindow: w})
	}
	for id, n := range g.MaxOutputTokensByModel {
		cat.Register(id, catalog.Entry{MaxOutputTokens: n})
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CG_MODEL"); v != "" && cfg.Global.Model == "" {
		cfg.Global.Model = v
	}
}

// Env holds the credentials read from the environment.
type Env struct {
	OpenAIKey     string
	OpenAIBaseURL string
	AnthropicKey  string
}

// LoadEnv reads OPENAI_API_KEY, OPENAI_API_BASE_URL and ANTHROPIC_API_KEY.
func LoadEnv() Env {
	return Env{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_API_BASE_URL"),
		AnthropicKey:  os.Getenv("ANTHROPIC_API_KEY"),
	}
}
