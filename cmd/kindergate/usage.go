package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kindergate-ai/kindergate/pkg/config"
	"github.com/kindergate-ai/kindergate/pkg/tracker"
)

func newUsageCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect and export per-user usage",
	}

	var (
		userID string
		period string
	)
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show one user's usage over a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			tr, err := tracker.New(cfg.DBPath, cfg.Pricing)
			if err != nil {
				return err
			}
			defer tr.Close()

			summary, err := tr.UserUsage(context.Background(), userID, tracker.Period(period))
			if err != nil {
				return err
			}

			if summary.RequestCount == 0 {
				fmt.Printf("No usage for %s in the last %s.\n", userID, period)
				return nil
			}

			fmt.Printf("User:     %s\n", summary.UserID)
			fmt.Printf("Requests: %d\n", summary.RequestCount)
			fmt.Printf("Tokens:   %d\n", summary.TotalTokens)
			fmt.Printf("Cost:     $%.4f\n\n", summary.TotalCost)

			models := make([]string, 0, len(summary.ByModel))
			for m := range summary.ByModel {
				models = append(models, m)
			}
			sort.Strings(models)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tREQUESTS\tTOKENS\tCOST")
			for _, m := range models {
				mu := summary.ByModel[m]
				fmt.Fprintf(w, "%s\t%d\t%d\t$%.4f\n", m, mu.Requests, mu.Tokens, mu.Cost)
			}
			return w.Flush()
		},
	}
	showCmd.Flags().StringVar(&userID, "user", "", "user to inspect")
	showCmd.Flags().StringVar(&period, "period", "day", "reporting window: hour, day, week or month")

	var (
		exportUser   string
		exportFormat string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export raw usage records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			tr, err := tracker.New(cfg.DBPath, cfg.Pricing)
			if err != nil {
				return err
			}
			defer tr.Close()

			out, err := tr.Export(context.Background(), exportUser, exportFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportUser, "user", "", "filter by user")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or csv")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kindergate.yaml", "path to config file")
	cmd.AddCommand(showCmd, exportCmd)
	return cmd
}
