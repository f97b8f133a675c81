// Package tracker records and aggregates token/cost accounting for
// accepted provider requests.
package tracker

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kindergate-ai/kindergate/pkg/models"
)

// Period is a reporting window for usage summaries.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

func (p Period) duration() time.Duration {
	switch p {
	case PeriodHour:
		return time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default: // day
		return 24 * time.Hour
	}
}

// Tracker records and queries usage.
type Tracker interface {
	// Record stores a usage record, deriving its cost from the pricing table.
	Record(ctx context.Context, rec models.UsageRecord) error
	// UserUsage aggregates one user's usage over the given period.
	UserUsage(ctx context.Context, userID string, period Period) (models.UserUsageSummary, error)
	// Stats aggregates usage across all users.
	Stats(ctx context.Context) (models.TrackerStats, error)
	// Export serializes usage records, optionally filtered by user, as
	// "json" or "csv".
	Export(ctx context.Context, userID, format string) (string, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db      *sql.DB
	pricing map[string]float64
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	model TEXT NOT NULL,
	tier TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	success INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_records(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
`

// New creates a SQLiteTracker and runs auto-migration. pricing maps model
// name to price per thousand tokens; unknown models cost zero.
func New(dbPath string, pricing map[string]float64) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	p := make(map[string]float64, len(pricing))
	for m, v := range pricing {
		p[m] = v
	}
	return &SQLiteTracker{db: db, pricing: p}, nil
}

// CostFor returns the derived cost for a model and token count.
func (t *SQLiteTracker) CostFor(model string, tokens int) float64 {
	return float64(tokens) / 1000 * t.pricing[model]
}

// Record stores a usage record. The cost is always derived from the
// pricing table, overriding any caller-supplied value.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Cost = t.CostFor(rec.Model, rec.TotalTokens)

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (user_id, model, tier, prompt_tokens, completion_tokens, total_tokens, cost, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Model, rec.Tier, rec.PromptTokens, rec.CompletionTokens,
		rec.TotalTokens, rec.Cost, rec.Success, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UserUsage aggregates one user's usage over the given period.
func (t *SQLiteTracker) UserUsage(ctx context.Context, userID string, period Period) (models.UserUsageSummary, error) {
	since := time.Now().UTC().Add(-period.duration())

	rows, err := t.db.QueryContext(ctx,
		`SELECT model, COUNT(*), SUM(total_tokens), SUM(cost)
		 FROM usage_records WHERE user_id = ? AND created_at >= ?
		 GROUP BY model`,
		userID, since,
	)
	if err != nil {
		return models.UserUsageSummary{}, fmt.Errorf("user usage: %w", err)
	}
	defer rows.Close()

	summary := models.UserUsageSummary{
		UserID:  userID,
		ByModel: make(map[string]models.ModelUsage),
	}
	for rows.Next() {
		var model string
		var mu models.ModelUsage
		if err := rows.Scan(&model, &mu.Requests, &mu.Tokens, &mu.Cost); err != nil {
			return models.UserUsageSummary{}, fmt.Errorf("scan user usage: %w", err)
		}
		summary.ByModel[model] = mu
		summary.RequestCount += mu.Requests
		summary.TotalTokens += mu.Tokens
		summary.TotalCost += mu.Cost
	}
	return summary, rows.Err()
}

// Stats aggregates usage across all users. SuccessRate is a percentage and
// reports 100 when no requests have been recorded.
func (t *SQLiteTracker) Stats(ctx context.Context) (models.TrackerStats, error) {
	stats := models.TrackerStats{
		SuccessRate: 100,
		CostByModel: make(map[string]float64),
	}

	var successCount int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost), 0), COALESCE(SUM(success), 0)
		 FROM usage_records`,
	).Scan(&stats.TotalRequests, &stats.TotalTokens, &stats.TotalCost, &successCount)
	if err != nil {
		return stats, fmt.Errorf("tracker stats: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.AverageCostPerRequest = stats.TotalCost / float64(stats.TotalRequests)
		stats.SuccessRate = float64(successCount) / float64(stats.TotalRequests) * 100
	}

	rows, err := t.db.QueryContext(ctx,
		`SELECT model, SUM(cost) FROM usage_records GROUP BY model`)
	if err != nil {
		return stats, fmt.Errorf("cost by model: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		var cost float64
		if err := rows.Scan(&model, &cost); err != nil {
			return stats, fmt.Errorf("scan cost by model: %w", err)
		}
		stats.CostByModel[model] = cost
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	userRows, err := t.db.QueryContext(ctx,
		`SELECT user_id, SUM(cost), COUNT(*)
		 FROM usage_records GROUP BY user_id
		 ORDER BY SUM(cost) DESC, user_id LIMIT 10`)
	if err != nil {
		return stats, fmt.Errorf("top users: %w", err)
	}
	defer userRows.Close()
	for userRows.Next() {
		var uc models.UserCost
		if err := userRows.Scan(&uc.UserID, &uc.Cost, &uc.Requests); err != nil {
			return stats, fmt.Errorf("scan top user: %w", err)
		}
		stats.TopUsers = append(stats.TopUsers, uc)
	}
	return stats, userRows.Err()
}

// Export serializes usage records as JSON or CSV, newest first.
func (t *SQLiteTracker) Export(ctx context.Context, userID, format string) (string, error) {
	query := `SELECT id, user_id, model, tier, prompt_tokens, completion_tokens, total_tokens, cost, success, created_at
		FROM usage_records`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("export usage: %w", err)
	}
	defer rows.Close()

	records := []models.UsageRecord{}
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Model, &r.Tier,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.Cost, &r.Success, &r.CreatedAt); err != nil {
			return "", fmt.Errorf("scan export row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch format {
	case "", "json":
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal export: %w", err)
		}
		return string(data), nil
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"created_at", "user_id", "model", "tier", "prompt_tokens", "completion_tokens", "total_tokens", "cost", "success"})
		for _, r := range records {
			_ = w.Write([]string{
				r.CreatedAt.UTC().Format(time.RFC3339),
				r.UserID, r.Model, r.Tier,
				strconv.Itoa(r.PromptTokens),
				strconv.Itoa(r.CompletionTokens),
				strconv.Itoa(r.TotalTokens),
				strconv.FormatFloat(r.Cost, 'f', 4, 64),
				strconv.FormatBool(r.Success),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", fmt.Errorf("write csv: %w", err)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("export: unknown format %q", format)
	}
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
