package mcp

import (
	"context"
	"encoding/json"

	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
	"github.com/kindergate-ai/kindergate/pkg/tracker"
)

// Tool argument structs.

type userArgs struct {
	UserID string `json:"user_id"`
}

type quotaArgs struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

type usageArgs struct {
	UserID string `json:"user_id"`
	Period string `json:"period"`
}

type resetArgs struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

type exportArgs struct {
	UserID string `json:"user_id"`
	Format string `json:"format"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"kindergate_cache_stats":  handleCacheStats,
	"kindergate_limit_stats":  handleLimitStats,
	"kindergate_quota":        handleQuota,
	"kindergate_usage":        handleUsage,
	"kindergate_cost_report":  handleCostReport,
	"kindergate_reset_limits": handleResetLimits,
	"kindergate_export":       handleExport,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "kindergate_cache_stats",
		Description: "Show response cache statistics (entries, hits, misses, hit rate, evictions, most-hit entries).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "kindergate_limit_stats",
		Description: "Show rate limiter state: configured limits per tier, active users, hourly usage per tier, and top users.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "kindergate_quota",
		Description: "Show a user's remaining request quota for a tier, with window reset times.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"user_id", "tier"},
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "The user to inspect",
				},
				"tier": map[string]any{
					"type":        "string",
					"description": "Request tier (quick, analysis or report)",
				},
			},
		},
	},
	{
		Name:        "kindergate_usage",
		Description: "Show one user's token usage and spend over a reporting period, broken down by model.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"user_id"},
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "The user to inspect",
				},
				"period": map[string]any{
					"type":        "string",
					"description": "Reporting window: hour, day, week or month (default day)",
				},
			},
		},
	},
	{
		Name:        "kindergate_cost_report",
		Description: "Show aggregated cost across all users: totals, success rate, spend per model, and top spenders.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "kindergate_reset_limits",
		Description: "Clear a user's rate limit counters, for one tier or all tiers.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"user_id"},
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "The user to reset",
				},
				"tier": map[string]any{
					"type":        "string",
					"description": "Tier to reset (optional, omit for all tiers)",
				},
			},
		},
	},
	{
		Name:        "kindergate_export",
		Description: "Export raw usage records as JSON or CSV, optionally filtered by user.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id": map[string]any{
					"type":        "string",
					"description": "Filter by user (optional, omit for all users)",
				},
				"format": map[string]any{
					"type":        "string",
					"description": "Output format: json or csv (default json)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.cache.Stats()))
}

func handleLimitStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.limiter == nil {
		return textResult("Rate limiter is not configured.")
	}
	return textResult(formatLimitStats(s.limiter.Limits(), s.limiter.Stats()))
}

func handleQuota(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.limiter == nil {
		return textResult("Rate limiter is not configured.")
	}
	var args quotaArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.UserID == "" || args.Tier == "" {
		return errorResult("user_id and tier are required")
	}
	q, err := s.limiter.Remaining(args.UserID, ratelimit.Tier(args.Tier))
	if err != nil {
		return errorResult("Error fetching quota: " + err.Error())
	}
	return textResult(formatQuota(args.UserID, ratelimit.Tier(args.Tier), q))
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args usageArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.UserID == "" {
		return errorResult("user_id is required")
	}
	period := tracker.PeriodDay
	if args.Period != "" {
		period = tracker.Period(args.Period)
	}
	summary, err := s.tracker.UserUsage(ctx, args.UserID, period)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUserUsage(summary, period))
}

func handleCostReport(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.tracker.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cost report: " + err.Error())
	}
	return textResult(formatCostReport(stats))
}

func handleResetLimits(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.limiter == nil {
		return textResult("Rate limiter is not configured.")
	}
	var args resetArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.UserID == "" {
		return errorResult("user_id is required")
	}
	if args.Tier != "" {
		s.limiter.Reset(args.UserID, ratelimit.Tier(args.Tier))
		return textResult("Reset " + args.Tier + " limits for " + args.UserID + ".")
	}
	s.limiter.Reset(args.UserID)
	return textResult("Reset all limits for " + args.UserID + ".")
}

func handleExport(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args exportArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	format := args.Format
	if format == "" {
		format = "json"
	}
	out, err := s.tracker.Export(ctx, args.UserID, format)
	if err != nil {
		return errorResult("Error exporting usage: " + err.Error())
	}
	return textResult(out)
}
