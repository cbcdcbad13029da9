package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/apexion-ai/cg/internal/agent"
	"github.com/apexion-ai/cg/internal/catalog"
	"github.com/apexion-ai/cg/internal/config"
	"github.com/apexion-ai/cg/internal/ledger"
	"github.com/apexion-ai/cg/internal/provider"
	"github.com/apexion-ai/cg/internal/session"
	"github.com/apexion-ai/cg/internal/tokens"
	"github.com/apexion-ai/cg/internal/tui"
)

// errNoMessage is returned when an ask-mode command has nothing to send.
var errNoMessage = errors.New("this subcommand (ask mode) has no predefined prompt and needs an input message")

// applyFlags overrides table values with the flags the user set.
func applyFlags(t config.Command, f flagValues, changed func(string) bool) config.Command {
	if changed("model") {
		t.Model = f.model
	}
	if changed("provider") {
		t.Provider = f.provider
	}
	setInt := func(name string, dst **int, v int) {
		if changed(name) {
			*dst = &v
		}
	}
	setInt("context-window", &t.ContextWindow, f.contextWindow)
	setInt("max-output-tokens", &t.MaxOutputTokens, f.maxOutputTokens)
	setInt("min-output-tokens", &t.MinOutputTokens, f.minOutputTokens)

	setFloat := func(name string, dst **float64, v float64) {
		if changed(name) {
			*dst = &v
		}
	}
	setFloat("temperature", &t.Temperature, f.temperature)
	setFloat("top-p", &t.TopP, f.topP)
	setFloat("presence-penalty", &t.PresencePenalty, f.presencePenalty)
	setFloat("frequency-penalty", &t.FrequencyPenalty, f.frequencyPenalty)

	yes, no := true, false
	switch {
	case f.show:
		t.Show = &yes
	case f.hide:
		t.Show = &no
	}
	switch {
	case f.multiline:
		t.Multiline = &yes
	case f.noMultiline:
		t.Multiline = &no
	}
	if f.showCost {
		t.ShowCost = &yes
	}
	return t
}

// sessionMessages returns the table messages plus the command-line words as
// one user message.
func sessionMessages(t config.Command, words []string) []provider.Message {
	msgs := append([]provider.Message(nil), t.Messages...)
	if len(words) > 0 {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: strings.Join(words, " ")})
	}
	return msgs
}

func buildMode(name string, t config.Command) (agent.Mode, error) {
	switch name {
	case "ask":
		return &agent.Ask{Show: t.ShowPrompt()}, nil
	case "chat":
		return &agent.Chat{ExitCommands: t.ChatExitCmd}, nil
	case "discuss":
		return &agent.Discuss{Names: t.Names}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q (want ask, chat or discuss)", name)
	}
}

func sampling(t config.Command) provider.Sampling {
	s := provider.Sampling{Temperature: 1, TopP: 1}
	if t.Temperature != nil {
		s.Temperature = *t.Temperature
	}
	if t.TopP != nil {
		s.TopP = *t.TopP
	}
	if t.PresencePenalty != nil {
		s.PresencePenalty = *t.PresencePenalty
	}
	if t.FrequencyPenalty != nil {
		s.FrequencyPenalty = *t.FrequencyPenalty
	}
	return s
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// resolveProfile picks the model (table, then catalog default) and applies
// the window and output overrides.
func resolveProfile(cfg *config.Config, t config.Command) (catalog.Profile, error) {
	cat, err := catalog.Load(catalog.DefaultUserPath())
	if err != nil {
		return catalog.Profile{}, err
	}
	cfg.RegisterModels(cat)

	model := t.Model
	if model == "" {
		model = cat.DefaultModel()
	}
	return cat.Resolve(model, catalog.Overrides{
		ContextWindow:   intValue(t.ContextWindow),
		MaxOutputTokens: intValue(t.MaxOutputTokens),
	})
}

// newCounter uses the model's BPE encoding, or estimates when the encoding
// tables cannot be loaded.
func newCounter(model, policyName string) (*tokens.Counter, error) {
	policy, err := tokens.ParsePolicy(policyName)
	if err != nil {
		return nil, err
	}
	var enc tokens.Encoding
	tk, err := tokens.NewTiktokenEncoding(model)
	if err != nil {
		slog.Warn("tokenizer unavailable, estimating token counts", slog.Any("error", err))
		enc = tokens.NewEstimatingEncoding()
	} else {
		slog.Debug("tokenizer", slog.String("encoding", tk.Name()))
		enc = tk
	}
	return tokens.NewCounter(model, enc, policy)
}

// buildProvider creates the provider for the profile. The provider flag or
// table value wins over the catalog.
func buildProvider(profile catalog.Profile, t config.Command, env config.Env) (provider.Provider, error) {
	name := t.Provider
	if name == "" {
		name = profile.Provider
	}
	switch name {
	case "anthropic":
		key := flags.key
		if key == "" {
			key = env.AnthropicKey
		}
		if key == "" {
			return nil, errors.New("set ANTHROPIC_API_KEY environment variable or give it by -k (--key) argument")
		}
		return provider.NewAnthropicProvider(key, flags.baseURL), nil
	case "", "openai":
		key := flags.key
		if key == "" {
			key = env.OpenAIKey
		}
		if key == "" {
			return nil, errors.New("set OPENAI_API_KEY environment variable or give it by -k (--key) argument")
		}
		baseURL := flags.baseURL
		if baseURL == "" {
			baseURL = env.OpenAIBaseURL
		}
		return provider.NewOpenAIProvider(key, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want openai or anthropic)", name)
	}
}

// openUsage opens the usage history. Failures only disable the history.
func openUsage() *ledger.UsageStore {
	path, err := ledger.DefaultUsagePath()
	if err == nil {
		var store *ledger.UsageStore
		if store, err = ledger.OpenUsageStore(path); err == nil {
			return store
		}
	}
	slog.Warn("usage history disabled", slog.Any("error", err))
	return nil
}

// runSession runs one command. mode overrides the table's mode when set.
func runSession(cmd *cobra.Command, cfg *config.Config, table config.Command, mode string, words []string) error {
	t := applyFlags(table, flags, cmd.Flags().Changed)
	if mode == "" {
		mode = t.ModeName()
	}
	msgs := sessionMessages(t, words)
	if mode == "ask" && len(msgs) == 0 {
		return errNoMessage
	}
	m, err := buildMode(mode, t)
	if err != nil {
		return err
	}

	profile, err := resolveProfile(cfg, t)
	if err != nil {
		return err
	}
	p, err := buildProvider(profile, t, config.LoadEnv())
	if err != nil {
		return err
	}
	counter, err := newCounter(profile.ID, t.TokenPolicy)
	if err != nil {
		return err
	}
	override := 0
	if intValue(t.MaxOutputTokens) > 0 {
		override = profile.MaxOutputTokens
	}
	guard := session.NewGuard(profile.ContextWindow, profile.MaxOutputTokens, intValue(t.MinOutputTokens), override)

	slog.Debug("session", slog.String("mode", mode), slog.String("model", profile.ID),
		slog.String("provider", p.Name()), slog.Int("context_window", profile.ContextWindow),
		slog.Int("max_output_tokens", profile.MaxOutputTokens), slog.Int("min_output_tokens", guard.MinOutputTokens()))

	colors := tui.DefaultColors()
	for k, v := range t.Colors {
		colors[k] = v
	}
	// Discussion names take the color of their participant.
	for k, name := range t.Names {
		if _, ok := colors[name]; !ok && colors[k] != "" {
			colors[name] = colors[k]
		}
	}
	ui := tui.NewPlainIO(tui.Options{
		Colors:    colors,
		Alias:     t.Alias,
		Color:     term.IsTerminal(int(os.Stdout.Fd())),
		Multiline: t.MultilineInput(),
		Input:     m.Interactive(),
		Pipe:      !term.IsTerminal(int(os.Stdin.Fd())),
	})
	defer ui.Close()

	opts := agent.Options{Sampling: sampling(t), Alias: t.Alias}
	if store := openUsage(); store != nil {
		defer store.Close()
		opts.Usage = store
	}
	runner := agent.New(p, counter, guard, profile, ui, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cost, runErr := runner.Run(ctx, m, msgs)
	if runErr == nil || cost > 0 {
		if err := recordCost(cost, t.ShowCost != nil && *t.ShowCost); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

// recordCost adds cost to the month total in cost.json.
func recordCost(cost float64, show bool) error {
	if show {
		fmt.Printf("\nEstimated cost: $%.6f\n", cost)
	}
	path, err := ledger.DefaultPath()
	if err != nil {
		return err
	}
	_, err = ledger.New(path).Add(cost)
	return err
}
