package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kindergate-ai/kindergate/pkg/cache"
)

func newCacheCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the response cache of a running server",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats struct {
				Cache cache.Stats `json:"cache"`
			}
			if err := newAdminClient(serverURL).do(http.MethodGet, "/admin/stats", nil, &stats); err != nil {
				return err
			}

			fmt.Printf("Entries:   %d\n", stats.Cache.Size)
			fmt.Printf("Hits:      %d\n", stats.Cache.Hits)
			fmt.Printf("Misses:    %d\n", stats.Cache.Misses)
			fmt.Printf("Hit rate:  %.2f%%\n", stats.Cache.HitRate)
			fmt.Printf("Evictions: %d\n", stats.Cache.Evictions)

			if len(stats.Cache.TopEntries) > 0 {
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tHITS\tAGE")
				for _, e := range stats.Cache.TopEntries {
					fmt.Fprintf(w, "%s\t%d\t%s\n", e.Key, e.Hits, e.Age)
				}
				return w.Flush()
			}
			return nil
		},
	}

	var pattern string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/admin/cache/clear"
			if pattern != "" {
				path += "?pattern=" + url.QueryEscape(pattern)
			}

			var result struct {
				Cleared     bool `json:"cleared"`
				Invalidated int  `json:"invalidated"`
			}
			if err := newAdminClient(serverURL).do(http.MethodPost, path, nil, &result); err != nil {
				return err
			}

			if pattern != "" {
				fmt.Printf("Invalidated %d entries.\n", result.Invalidated)
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().StringVar(&pattern, "pattern", "", "only invalidate keys containing this substring")

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the running server")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
