package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
)

func newLimitsCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Inspect and adjust rate limits on a running server",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show limiter state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats struct {
				Limiter ratelimit.Stats `json:"limiter"`
			}
			if err := newAdminClient(serverURL).do(http.MethodGet, "/admin/stats", nil, &stats); err != nil {
				return err
			}

			fmt.Printf("Active users: %d\n", stats.Limiter.ActiveUsers)

			if len(stats.Limiter.UsageByTier) > 0 {
				tiers := make([]string, 0, len(stats.Limiter.UsageByTier))
				for tier := range stats.Limiter.UsageByTier {
					tiers = append(tiers, string(tier))
				}
				sort.Strings(tiers)

				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIER\tHOURLY USAGE")
				for _, tier := range tiers {
					fmt.Fprintf(w, "%s\t%d\n", tier, stats.Limiter.UsageByTier[ratelimit.Tier(tier)])
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			if len(stats.Limiter.TopUsers) > 0 {
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tHOURLY USAGE")
				for _, u := range stats.Limiter.TopUsers {
					fmt.Fprintf(w, "%s\t%d\n", u.UserID, u.Usage)
				}
				return w.Flush()
			}
			return nil
		},
	}

	var quotaUser, quotaTier string
	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Show a user's remaining quota for a tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if quotaUser == "" || quotaTier == "" {
				return fmt.Errorf("--user and --tier are required")
			}

			path := "/v1/quota?user_id=" + url.QueryEscape(quotaUser) + "&tier=" + url.QueryEscape(quotaTier)
			var q ratelimit.Quota
			if err := newAdminClient(serverURL).do(http.MethodGet, path, nil, &q); err != nil {
				return err
			}

			fmt.Printf("Minute: %d remaining, resets %s\n", q.Minute, q.ResetMinute.Local().Format(time.Kitchen))
			fmt.Printf("Hour:   %d remaining, resets %s\n", q.Hourly, q.ResetHour.Local().Format(time.Kitchen))
			return nil
		},
	}
	quotaCmd.Flags().StringVar(&quotaUser, "user", "", "user to inspect")
	quotaCmd.Flags().StringVar(&quotaTier, "tier", "", "tier to inspect")

	var resetUser, resetTier string
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear a user's rate limit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resetUser == "" {
				return fmt.Errorf("--user is required")
			}

			body := map[string]string{"user_id": resetUser}
			if resetTier != "" {
				body["tier"] = resetTier
			}
			if err := newAdminClient(serverURL).do(http.MethodPost, "/admin/limits/reset", body, nil); err != nil {
				return err
			}

			if resetTier != "" {
				fmt.Printf("Reset %s limits for %s.\n", resetTier, resetUser)
			} else {
				fmt.Printf("Reset all limits for %s.\n", resetUser)
			}
			return nil
		},
	}
	resetCmd.Flags().StringVar(&resetUser, "user", "", "user to reset")
	resetCmd.Flags().StringVar(&resetTier, "tier", "", "tier to reset (omit for all tiers)")

	var setMinute, setHour int
	setCmd := &cobra.Command{
		Use:   "set <tier>",
		Short: "Update a tier's limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("per-minute") {
				body["max_per_minute"] = setMinute
			}
			if cmd.Flags().Changed("per-hour") {
				body["max_per_hour"] = setHour
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to update: pass --per-minute and/or --per-hour")
			}

			var result struct {
				Limits ratelimit.Limit `json:"limits"`
			}
			if err := newAdminClient(serverURL).do(http.MethodPut, "/admin/limits/"+url.PathEscape(args[0]), body, &result); err != nil {
				return err
			}

			fmt.Printf("%s: %d/minute, %d/hour\n", args[0], result.Limits.MaxPerMinute, result.Limits.MaxPerHour)
			return nil
		},
	}
	setCmd.Flags().IntVar(&setMinute, "per-minute", 0, "max requests per minute")
	setCmd.Flags().IntVar(&setHour, "per-hour", 0, "max requests per hour")

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the running server")
	cmd.AddCommand(showCmd, quotaCmd, resetCmd, setCmd)
	return cmd
}
