package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kindergate-ai/kindergate/pkg/cache"
	"github.com/kindergate-ai/kindergate/pkg/models"
	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
	"github.com/kindergate-ai/kindergate/pkg/tracker"
)

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats cache.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache Statistics\n"+
		"  Entries:   %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Hit Rate:  %.2f%%\n"+
		"  Evictions: %d\n",
		stats.Size, stats.Hits, stats.Misses, stats.HitRate, stats.Evictions)
	if len(stats.TopEntries) > 0 {
		b.WriteString("\nMost-hit entries:\n")
		fmt.Fprintf(&b, "  %-14s %8s %8s\n", "Key", "Hits", "Age")
		for _, e := range stats.TopEntries {
			fmt.Fprintf(&b, "  %-14s %8d %8s\n", e.Key, e.Hits, e.Age)
		}
	}
	return b.String()
}

// formatLimitStats formats configured limits and limiter state as a text table.
func formatLimitStats(limits map[ratelimit.Tier]ratelimit.Limit, stats ratelimit.Stats) string {
	tiers := make([]ratelimit.Tier, 0, len(limits))
	for tier := range limits {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %10s %10s %12s\n", "Tier", "Per Min", "Per Hour", "Hourly Used")
	b.WriteString(strings.Repeat("-", 47) + "\n")
	for _, tier := range tiers {
		l := limits[tier]
		fmt.Fprintf(&b, "%-12s %10d %10d %12d\n", tier, l.MaxPerMinute, l.MaxPerHour, stats.UsageByTier[tier])
	}
	fmt.Fprintf(&b, "\nActive users: %d\n", stats.ActiveUsers)

	if len(stats.TopUsers) > 0 {
		b.WriteString("\nTop users by hourly usage:\n")
		for _, u := range stats.TopUsers {
			fmt.Fprintf(&b, "  %-24s %6d\n", u.UserID, u.Usage)
		}
	}
	return b.String()
}

// formatQuota formats one user's remaining quota as text.
func formatQuota(userID string, tier ratelimit.Tier, q ratelimit.Quota) string {
	return fmt.Sprintf("Quota for %s (%s tier)\n"+
		"  Minute: %d remaining, resets %s\n"+
		"  Hour:   %d remaining, resets %s\n",
		userID, tier,
		q.Minute, q.ResetMinute.UTC().Format("15:04:05"),
		q.Hourly, q.ResetHour.UTC().Format("15:04:05"))
}

// formatUserUsage formats a user's usage summary as a text table.
func formatUserUsage(summary models.UserUsageSummary, period tracker.Period) string {
	if summary.RequestCount == 0 {
		return fmt.Sprintf("No usage for %s in the last %s.", summary.UserID, period)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Usage for %s (last %s)\n", summary.UserID, period)
	fmt.Fprintf(&b, "  Requests: %d\n  Tokens:   %d\n  Cost:     $%.4f\n\n",
		summary.RequestCount, summary.TotalTokens, summary.TotalCost)

	names := make([]string, 0, len(summary.ByModel))
	for name := range summary.ByModel {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(&b, "%-25s %10s %10s %12s\n", "Model", "Requests", "Tokens", "Cost")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, name := range names {
		m := summary.ByModel[name]
		fmt.Fprintf(&b, "%-25s %10d %10d %11.4f\n", name, m.Requests, m.Tokens, m.Cost)
	}
	return b.String()
}

// formatCostReport formats aggregated tracker stats as text.
func formatCostReport(stats models.TrackerStats) string {
	if stats.TotalRequests == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Cost Report\n"+
		"  Requests:     %d\n"+
		"  Tokens:       %d\n"+
		"  Total Cost:   $%.4f\n"+
		"  Avg/Request:  $%.4f\n"+
		"  Success Rate: %.1f%%\n",
		stats.TotalRequests, stats.TotalTokens, stats.TotalCost,
		stats.AverageCostPerRequest, stats.SuccessRate)

	if len(stats.CostByModel) > 0 {
		names := make([]string, 0, len(stats.CostByModel))
		for name := range stats.CostByModel {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nSpend by model:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  %-25s $%.4f\n", name, stats.CostByModel[name])
		}
	}

	if len(stats.TopUsers) > 0 {
		b.WriteString("\nTop spenders:\n")
		fmt.Fprintf(&b, "  %-24s %10s %12s\n", "User", "Requests", "Cost")
		for _, u := range stats.TopUsers {
			fmt.Fprintf(&b, "  %-24s %10d %11.4f\n", u.UserID, u.Requests, u.Cost)
		}
	}
	return b.String()
}
