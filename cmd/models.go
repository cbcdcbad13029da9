package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/apexion-ai/cg/internal/catalog"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known models with their limits and prices.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cat, err := catalog.Load(catalog.DefaultUserPath())
			if err != nil {
				return err
			}
			cfg.RegisterModels(cat)
			printModels(cmd.OutOrStdout(), cat)
			return nil
		},
	}
}

// printModels lists the catalog; unknown values print as "-".
func printModels(w io.Writer, cat *catalog.Catalog) {
	fmt.Fprintln(w, "Model, Provider, ContextWindow, MaxOutputTokens, Prompt(USD/1K), Completion(USD/1K)")
	for _, id := range cat.Models() {
		e, _ := cat.Lookup(id)
		prompt, completion := "-", "-"
		if e.Price != nil {
			prompt = fmt.Sprintf("%g", e.Price.Prompt)
			completion = fmt.Sprintf("%g", e.Price.Completion)
		}
		provider := e.Provider
		if provider == "" {
			provider = "-"
		}
		fmt.Fprintf(w, "%s, %s, %s, %s, %s, %s\n", id, provider,
			orDash(e.ContextWindow), orDash(e.MaxOutputTokens), prompt, completion)
	}
}

func orDash(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
