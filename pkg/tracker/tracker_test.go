package tracker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kindergate-ai/kindergate/pkg/models"
)

func newTestTracker(t *testing.T) (*SQLiteTracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracker_test.db")
	tr, err := New(dbPath, map[string]float64{
		"gpt-3.5-turbo": 0.002,
		"gpt-4":         0.03,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, context.Background()
}

func TestCostDerivation(t *testing.T) {
	tr, ctx := newTestTracker(t)

	if got := tr.CostFor("gpt-4", 2000); got != 0.06 {
		t.Errorf("expected 0.06, got %v", got)
	}
	if got := tr.CostFor("unknown-model", 2000); got != 0 {
		t.Errorf("unknown model should cost 0, got %v", got)
	}

	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "u1", Model: "gpt-4", Tier: "analysis",
		PromptTokens: 800, CompletionTokens: 200, TotalTokens: 1000,
		Success: true,
	})

	stats, err := tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCost != 0.03 {
		t.Errorf("expected total cost 0.03, got %v", stats.TotalCost)
	}
}

func TestUserUsage(t *testing.T) {
	tr, ctx := newTestTracker(t)

	recs := []models.UsageRecord{
		{UserID: "u1", Model: "gpt-4", Tier: "analysis", TotalTokens: 1000, Success: true},
		{UserID: "u1", Model: "gpt-3.5-turbo", Tier: "quick", TotalTokens: 500, Success: true},
		{UserID: "u2", Model: "gpt-4", Tier: "report", TotalTokens: 2000, Success: true},
	}
	for _, r := range recs {
		if err := tr.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := tr.UserUsage(ctx, "u1", PeriodDay)
	if err != nil {
		t.Fatal(err)
	}
	if sum.RequestCount != 2 {
		t.Errorf("expected 2 requests, got %d", sum.RequestCount)
	}
	if sum.TotalTokens != 1500 {
		t.Errorf("expected 1500 tokens, got %d", sum.TotalTokens)
	}
	if len(sum.ByModel) != 2 {
		t.Errorf("expected 2 models, got %d", len(sum.ByModel))
	}
	if mu := sum.ByModel["gpt-4"]; mu.Tokens != 1000 || mu.Cost != 0.03 {
		t.Errorf("unexpected gpt-4 usage: %+v", mu)
	}
}

func TestUserUsagePeriodCutoff(t *testing.T) {
	tr, ctx := newTestTracker(t)

	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "u1", Model: "gpt-4", Tier: "analysis", TotalTokens: 1000,
		Success: true, CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	})
	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "u1", Model: "gpt-4", Tier: "analysis", TotalTokens: 500,
		Success: true, CreatedAt: time.Now().UTC(),
	})

	sum, err := tr.UserUsage(ctx, "u1", PeriodHour)
	if err != nil {
		t.Fatal(err)
	}
	if sum.RequestCount != 1 || sum.TotalTokens != 500 {
		t.Errorf("expected only the recent record, got %+v", sum)
	}

	sum, err = tr.UserUsage(ctx, "u1", PeriodDay)
	if err != nil {
		t.Fatal(err)
	}
	if sum.RequestCount != 2 {
		t.Errorf("expected both records within a day, got %d", sum.RequestCount)
	}
}

func TestStats(t *testing.T) {
	tr, ctx := newTestTracker(t)

	stats, err := tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SuccessRate != 100 {
		t.Errorf("empty tracker should report 100%% success rate, got %v", stats.SuccessRate)
	}

	_ = tr.Record(ctx, models.UsageRecord{UserID: "u1", Model: "gpt-4", Tier: "report", TotalTokens: 1000, Success: true})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "u2", Model: "gpt-3.5-turbo", Tier: "quick", TotalTokens: 1000, Success: true})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "u2", Model: "gpt-3.5-turbo", Tier: "quick", TotalTokens: 0, Success: false})

	stats, err = tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("expected 3 requests, got %d", stats.TotalRequests)
	}
	if stats.TotalTokens != 2000 {
		t.Errorf("expected 2000 tokens, got %d", stats.TotalTokens)
	}
	want := 2.0 / 3.0 * 100
	if diff := stats.SuccessRate - want; diff > 0.01 || diff < -0.01 {
		t.Errorf("expected success rate ~%.2f, got %v", want, stats.SuccessRate)
	}
	if stats.CostByModel["gpt-4"] != 0.03 {
		t.Errorf("unexpected cost by model: %+v", stats.CostByModel)
	}
	if len(stats.TopUsers) != 2 || stats.TopUsers[0].UserID != "u1" {
		t.Errorf("expected u1 as top spender, got %+v", stats.TopUsers)
	}
}

func TestExport(t *testing.T) {
	tr, ctx := newTestTracker(t)

	_ = tr.Record(ctx, models.UsageRecord{UserID: "u1", Model: "gpt-4", Tier: "report", TotalTokens: 1000, Success: true})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "u2", Model: "gpt-4", Tier: "report", TotalTokens: 500, Success: true})

	out, err := tr.Export(ctx, "", "json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"user_id": "u1"`) || !strings.Contains(out, `"user_id": "u2"`) {
		t.Errorf("expected both users in JSON export:\n%s", out)
	}

	out, err = tr.Export(ctx, "u1", "csv")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "created_at,user_id,model") {
		t.Errorf("unexpected csv header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "u1,gpt-4") {
		t.Errorf("unexpected csv row: %s", lines[1])
	}

	if _, err := tr.Export(ctx, "", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
