package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func newTestLimiter(limits map[Tier]Limit) (*Limiter, *time.Time) {
	l := New(limits)
	now := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func fill(t *testing.T, l *Limiter, userID string, tier Tier, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := l.Check(userID, tier); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		l.Increment(userID, tier)
	}
}

func TestMinuteLimitDenied(t *testing.T) {
	l, now := newTestLimiter(map[Tier]Limit{TierQuick: {MaxPerMinute: 2, MaxPerHour: 100}})

	fill(t, l, "u1", TierQuick, 2)

	err := l.Check("u1", TierQuick)
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if le.Tier != TierQuick {
		t.Errorf("expected tier quick, got %s", le.Tier)
	}
	wantReset := time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC)
	if !le.ResetTime.Equal(wantReset) {
		t.Errorf("expected reset at %v, got %v", wantReset, le.ResetTime)
	}
	_ = now
}

func TestMinuteWindowRollover(t *testing.T) {
	l, now := newTestLimiter(map[Tier]Limit{TierQuick: {MaxPerMinute: 2, MaxPerHour: 100}})

	fill(t, l, "u1", TierQuick, 2)
	if err := l.Check("u1", TierQuick); err == nil {
		t.Fatal("expected denial within the same minute")
	}

	// Cross into the next minute window.
	*now = now.Add(time.Minute)

	if err := l.Check("u1", TierQuick); err != nil {
		t.Fatalf("expected admission after window rollover, got %v", err)
	}

	q, err := l.Remaining("u1", TierQuick)
	if err != nil {
		t.Fatal(err)
	}
	if q.Minute != 2 {
		t.Errorf("minute count should reset to 0, remaining=%d", q.Minute)
	}
}

func TestHourlyLimit(t *testing.T) {
	l, now := newTestLimiter(map[Tier]Limit{TierReport: {MaxPerMinute: 10, MaxPerHour: 3}})

	// Spread across minutes so only the hourly cap binds.
	for i := 0; i < 3; i++ {
		fill(t, l, "u1", TierReport, 1)
		*now = now.Add(time.Minute)
	}

	err := l.Check("u1", TierReport)
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if le.Window != "hour" {
		t.Errorf("expected hour window denial, got %s", le.Window)
	}
	wantReset := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !le.ResetTime.Equal(wantReset) {
		t.Errorf("expected reset at %v, got %v", wantReset, le.ResetTime)
	}
}

func TestTierIsolation(t *testing.T) {
	l, _ := newTestLimiter(map[Tier]Limit{
		TierQuick:    {MaxPerMinute: 1, MaxPerHour: 10},
		TierAnalysis: {MaxPerMinute: 5, MaxPerHour: 10},
	})

	fill(t, l, "u1", TierQuick, 1)
	if err := l.Check("u1", TierQuick); err == nil {
		t.Fatal("quick tier should be exhausted")
	}

	if err := l.Check("u1", TierAnalysis); err != nil {
		t.Errorf("analysis tier must be unaffected, got %v", err)
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(map[Tier]Limit{TierQuick: {MaxPerMinute: 1, MaxPerHour: 10}})

	for i := 0; i < 5; i++ {
		if err := l.Check("u1", TierQuick); err != nil {
			t.Fatalf("check alone must not consume quota: %v", err)
		}
	}
}

func TestRemainingWithoutState(t *testing.T) {
	l, now := newTestLimiter(map[Tier]Limit{TierQuick: {MaxPerMinute: 10, MaxPerHour: 100}})

	q, err := l.Remaining("new-user", TierQuick)
	if err != nil {
		t.Fatal(err)
	}
	if q.Minute != 10 || q.Hourly != 100 {
		t.Errorf("expected full limits, got %+v", q)
	}
	if !q.ResetMinute.Equal(now.Add(time.Minute)) {
		t.Errorf("expected reset one minute ahead, got %v", q.ResetMinute)
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(map[Tier]Limit{
		TierQuick:    {MaxPerMinute: 1, MaxPerHour: 10},
		TierAnalysis: {MaxPerMinute: 1, MaxPerHour: 10},
	})

	fill(t, l, "u1", TierQuick, 1)
	fill(t, l, "u1", TierAnalysis, 1)

	l.Reset("u1", TierQuick)
	if err := l.Check("u1", TierQuick); err != nil {
		t.Errorf("quick should be admitted after reset, got %v", err)
	}
	if err := l.Check("u1", TierAnalysis); err == nil {
		t.Error("analysis should still be exhausted")
	}

	// Omitting the tier resets every configured tier.
	l.Reset("u1")
	if err := l.Check("u1", TierAnalysis); err != nil {
		t.Errorf("analysis should be admitted after full reset, got %v", err)
	}
}

func TestSetLimit(t *testing.T) {
	l, _ := newTestLimiter(map[Tier]Limit{TierQuick: {MaxPerMinute: 1, MaxPerHour: 10}})

	fill(t, l, "u1", TierQuick, 1)
	if err := l.Check("u1", TierQuick); err == nil {
		t.Fatal("expected denial at old limit")
	}

	three := 3
	if err := l.SetLimit(TierQuick, LimitUpdate{MaxPerMinute: &three}); err != nil {
		t.Fatal(err)
	}

	// Takes effect on the next check; consumed counts are kept.
	if err := l.Check("u1", TierQuick); err != nil {
		t.Errorf("expected admission under raised limit, got %v", err)
	}
	if got := l.Limits()[TierQuick]; got.MaxPerMinute != 3 || got.MaxPerHour != 10 {
		t.Errorf("unexpected merged limit: %+v", got)
	}
}

func TestUnknownTier(t *testing.T) {
	l, _ := newTestLimiter(DefaultLimits())

	if err := l.Check("u1", Tier("premium")); err == nil {
		t.Error("expected error for unconfigured tier")
	}
	if _, err := l.Remaining("u1", Tier("premium")); err == nil {
		t.Error("expected error for unconfigured tier")
	}
}

func TestIncrementWithoutCheckInitializes(t *testing.T) {
	l, _ := newTestLimiter(map[Tier]Limit{TierQuick: {MaxPerMinute: 5, MaxPerHour: 10}})

	// Contract violation: logged, state initialized, accounting continues.
	l.Increment("u1", TierQuick)

	q, err := l.Remaining("u1", TierQuick)
	if err != nil {
		t.Fatal(err)
	}
	if q.Minute != 4 {
		t.Errorf("expected 4 remaining after bug-guard increment, got %d", q.Minute)
	}
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(map[Tier]Limit{
		TierQuick:    {MaxPerMinute: 100, MaxPerHour: 1000},
		TierAnalysis: {MaxPerMinute: 100, MaxPerHour: 1000},
	})

	fill(t, l, "u1", TierQuick, 3)
	fill(t, l, "u1", TierAnalysis, 2)
	fill(t, l, "u2", TierQuick, 1)

	stats := l.Stats()
	if stats.ActiveUsers != 2 {
		t.Errorf("expected 2 active users, got %d", stats.ActiveUsers)
	}
	if stats.UsageByTier[TierQuick] != 4 || stats.UsageByTier[TierAnalysis] != 2 {
		t.Errorf("unexpected usage by tier: %+v", stats.UsageByTier)
	}
	if len(stats.TopUsers) != 2 || stats.TopUsers[0].UserID != "u1" || stats.TopUsers[0].Usage != 5 {
		t.Errorf("unexpected top users: %+v", stats.TopUsers)
	}
}

func TestCleanup(t *testing.T) {
	l, now := newTestLimiter(map[Tier]Limit{TierQuick: {MaxPerMinute: 10, MaxPerHour: 100}})

	fill(t, l, "old-user", TierQuick, 1)

	*now = now.Add(2 * time.Hour)
	fill(t, l, "fresh-user", TierQuick, 1)

	if removed := l.Cleanup(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if stats := l.Stats(); stats.ActiveUsers != 1 {
		t.Errorf("expected 1 active user after cleanup, got %d", stats.ActiveUsers)
	}

	// Entries only one window old are kept.
	if removed := l.Cleanup(); removed != 0 {
		t.Errorf("expected nothing else removed, got %d", removed)
	}
}
