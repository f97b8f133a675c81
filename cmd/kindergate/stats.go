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

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregated usage and cost statistics",
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

			stats, err := tr.Stats(context.Background())
			if err != nil {
				return err
			}

			if stats.TotalRequests == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			fmt.Printf("Requests:     %d\n", stats.TotalRequests)
			fmt.Printf("Tokens:       %d\n", stats.TotalTokens)
			fmt.Printf("Total cost:   $%.4f\n", stats.TotalCost)
			fmt.Printf("Avg/request:  $%.4f\n", stats.AverageCostPerRequest)
			fmt.Printf("Success rate: %.1f%%\n", stats.SuccessRate)

			if len(stats.CostByModel) > 0 {
				models := make([]string, 0, len(stats.CostByModel))
				for m := range stats.CostByModel {
					models = append(models, m)
				}
				sort.Strings(models)

				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tCOST")
				for _, m := range models {
					fmt.Fprintf(w, "%s\t$%.4f\n", m, stats.CostByModel[m])
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			if len(stats.TopUsers) > 0 {
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tREQUESTS\tCOST")
				for _, u := range stats.TopUsers {
					fmt.Fprintf(w, "%s\t%d\t$%.4f\n", u.UserID, u.Requests, u.Cost)
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "kindergate.yaml", "path to config file")
	return cmd
}
