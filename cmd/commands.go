package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/apexion-ai/cg/internal/config"
)

// reservedCommands are listed before the user commands, in this order.
var reservedCommands = [][2]string{
	{"ask", "Ask w/o predefined prompt."},
	{"chat", "Start chat w/o predefined prompt."},
	{"discuss", "Start a discussion between GPTs. Give a theme as a message."},
	{"init", "Initialize config file with an example command."},
	{"cost", "Show estimated cost used until now."},
	{"commands", "List up subcommands (show this)."},
	{"models", "List known models with their limits and prices."},
	{"version", "Show version."},
	{"help", "Show help."},
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List up subcommands (show this).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printCommands(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printCommands(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Available subcommands:")
	fmt.Fprintln(w, "  Reserved commands:")
	for _, c := range reservedCommands {
		fmt.Fprintf(w, "    %-10s: %s\n", c[0], c[1])
	}
	fmt.Fprintln(w, "  User commands:")
	for _, name := range cfg.Order {
		switch name {
		case "ask", "chat", "discuss":
			continue
		}
		fmt.Fprintf(w, "    %-10s: %s\n", name, cfg.Commands[name].Description)
	}
}
