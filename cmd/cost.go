package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/apexion-ai/cg/internal/ledger"
)

func newCostCmd() *cobra.Command {
	var (
		history int
		byModel bool
	)
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show estimated cost used until now.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ledger.DefaultPath()
			if err != nil {
				return err
			}
			if err := printMonthlyCost(cmd.OutOrStdout(), ledger.New(path)); err != nil {
				return err
			}
			if history <= 0 && !byModel {
				return nil
			}

			dbPath, err := ledger.DefaultUsagePath()
			if err != nil {
				return err
			}
			store, err := ledger.OpenUsageStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if history > 0 {
				if err := printHistory(cmd, store, history); err != nil {
					return err
				}
			}
			if byModel {
				return printByModel(cmd, store)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "also list the last N requests")
	cmd.Flags().BoolVar(&byModel, "by-model", false, "also show totals per model")
	return cmd
}

func printMonthlyCost(w io.Writer, l *ledger.Ledger) error {
	if !l.Exists() {
		fmt.Fprintln(w, "No cost data.")
		return nil
	}
	totals, err := l.Totals()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Month, EstimatedCost(USD)")
	for _, t := range totals {
		fmt.Fprintf(w, "%s, %.6f\n", t.Month, t.Cost)
	}
	return nil
}

func printHistory(cmd *cobra.Command, store *ledger.UsageStore, n int) error {
	recs, err := store.Recent(cmd.Context(), n)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "\nTime, Session, Mode, Model, PromptTokens, CompletionTokens, EstimatedCost(USD), FinishReason")
	for _, r := range recs {
		session := r.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		fmt.Fprintf(w, "%s, %s, %s, %s, %d, %d, %.6f, %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), session, r.Mode, r.Model,
			r.PromptTokens, r.CompletionTokens, r.Cost, r.FinishReason)
	}
	return nil
}

func printByModel(cmd *cobra.Command, store *ledger.UsageStore) error {
	totals, err := store.ByModel(cmd.Context())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "\nModel, Requests, PromptTokens, CompletionTokens, EstimatedCost(USD)")
	for _, t := range totals {
		fmt.Fprintf(w, "%s, %d, %d, %d, %.6f\n", t.Model, t.Requests, t.PromptTokens, t.CompletionTokens, t.Cost)
	}
	return nil
}
