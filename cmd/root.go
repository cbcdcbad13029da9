package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/apexion-ai/cg/internal/config"
)

// flagValues holds the global flags. Table values are only overridden by
// flags the user actually set.
type flagValues struct {
	conf             string
	key              string
	baseURL          string
	provider         string
	model            string
	contextWindow    int
	maxOutputTokens  int
	minOutputTokens  int
	temperature      float64
	topP             float64
	presencePenalty  float64
	frequencyPenalty float64
	show             bool
	hide             bool
	multiline        bool
	noMultiline      bool
	showCost         bool
	verbose          bool
}

var (
	flags flagValues

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cg <command> [message...]",
		Short: "Prompt wrapper for chat-completion APIs",
		Long: "cg runs the commands defined in the config file against a chat-completion API.\n" +
			"A command sends its predefined messages plus the words given on the command line,\n" +
			"either once (ask), as an interactive chat, or as a discussion between two models.",
		Args: cobra.ArbitraryArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runUserCommand(cmd, args[0], args[1:])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.conf, "conf", "c", "", "config file path (default ~/.config/cg/config.toml)")
	pf.StringVarP(&flags.key, "key", "k", "", "API key (default $OPENAI_API_KEY or $ANTHROPIC_API_KEY)")
	pf.StringVarP(&flags.baseURL, "base-url", "b", "", "API base URL (default $OPENAI_API_BASE_URL)")
	pf.StringVarP(&flags.provider, "provider", "p", "", "provider: openai or anthropic (default from the model)")
	pf.StringVarP(&flags.model, "model", "m", "", "model id")
	pf.IntVarP(&flags.contextWindow, "context-window", "w", 0, "context window; capped at the model's window")
	pf.IntVarP(&flags.maxOutputTokens, "max-output-tokens", "o", 0, "max tokens for the completion (0: as many as fit)")
	pf.IntVarP(&flags.minOutputTokens, "min-output-tokens", "O", 0, "minimum room kept for the completion")
	pf.Float64VarP(&flags.temperature, "temperature", "t", 1, "sampling temperature (0 ~ 2)")
	pf.Float64Var(&flags.topP, "top-p", 1, "nucleus sampling probability (0 ~ 1)")
	pf.Float64Var(&flags.presencePenalty, "presence-penalty", 0, "presence penalty (-2 ~ 2)")
	pf.Float64Var(&flags.frequencyPenalty, "frequency-penalty", 0, "frequency penalty (-2 ~ 2)")
	pf.BoolVarP(&flags.show, "show", "s", false, "show the prompt (ask mode)")
	pf.BoolVarP(&flags.hide, "hide", "H", false, "hide the prompt (ask mode)")
	pf.BoolVarP(&flags.multiline, "multiline", "M", false, "multiline input; an empty line sends")
	pf.BoolVar(&flags.noMultiline, "no-multiline", false, "single line input")
	pf.BoolVar(&flags.showCost, "show-cost", false, "print the estimated cost at the end")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging to stderr")
	rootCmd.MarkFlagsMutuallyExclusive("show", "hide")
	rootCmd.MarkFlagsMutuallyExclusive("multiline", "no-multiline")

	rootCmd.AddCommand(
		newModeCmd("ask", "Ask w/o predefined prompt."),
		newModeCmd("chat", "Start chat w/o predefined prompt."),
		newModeCmd("discuss", "Start a discussion between GPTs. Give a theme as a message."),
		newInitCmd(),
		newCostCmd(),
		newCommandsCmd(),
		newModelsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// configPath returns --conf or the default config location.
func configPath() (string, error) {
	if flags.conf != "" {
		return flags.conf, nil
	}
	return config.DefaultPath()
}

// loadConfig reads the config file; a missing file is an empty config.
func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// runUserCommand runs a command table of the config file.
func runUserCommand(cmd *cobra.Command, name string, message []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Exists() {
		return fmt.Errorf("config file %s does not exist; create one with \"cg init\"", cfg.Path)
	}
	table, ok := cfg.Command(name)
	if !ok {
		return fmt.Errorf("subcommand: %s is not defined", name)
	}
	return runSession(cmd, cfg, table, "", message)
}

// newModeCmd builds a reserved command that runs its mode with the optional
// [ask]/[chat]/[discuss] table.
func newModeCmd(mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode + " [message...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			table, _ := cfg.Command(mode)
			return runSession(cmd, cfg, table, mode, args)
		},
	}
}
