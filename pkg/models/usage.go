package models

import "time"

// TokenUsage represents token counts from an LLM response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord is one accepted request's token and cost accounting entry.
// Cost is derived from the pricing table at record time.
type UsageRecord struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	Model            string    `json:"model"`
	Tier             string    `json:"tier"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	Success          bool      `json:"success"`
	CreatedAt        time.Time `json:"created_at"`
}

// ModelUsage aggregates usage for a single model within a summary.
type ModelUsage struct {
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
	Requests int64   `json:"requests"`
}

// UserUsageSummary aggregates one user's usage over a reporting period.
type UserUsageSummary struct {
	UserID       string                `json:"user_id"`
	TotalCost    float64               `json:"total_cost"`
	TotalTokens  int64                 `json:"total_tokens"`
	RequestCount int64                 `json:"request_count"`
	ByModel      map[string]ModelUsage `json:"by_model"`
}

// UserCost ranks a user by total spend.
type UserCost struct {
	UserID   string  `json:"user_id"`
	Cost     float64 `json:"cost"`
	Requests int64   `json:"requests"`
}

// TrackerStats aggregates usage across all users.
type TrackerStats struct {
	TotalCost             float64            `json:"total_cost"`
	TotalRequests         int64              `json:"total_requests"`
	TotalTokens           int64              `json:"total_tokens"`
	AverageCostPerRequest float64            `json:"average_cost_per_request"`
	SuccessRate           float64            `json:"success_rate"`
	CostByModel           map[string]float64 `json:"cost_by_model"`
	TopUsers              []UserCost         `json:"top_users"`
}
