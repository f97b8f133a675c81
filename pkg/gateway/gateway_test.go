package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kindergate-ai/kindergate/pkg/cache"
	"github.com/kindergate-ai/kindergate/pkg/models"
	"github.com/kindergate-ai/kindergate/pkg/provider"
	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
	"github.com/kindergate-ai/kindergate/pkg/tracker"
)

// fakeProvider counts calls and returns a canned completion or error.
type fakeProvider struct {
	calls int
	err   error
}

func (f *fakeProvider) Name() string    { return "fake" }
func (f *fakeProvider) Available() bool { return true }

func (f *fakeProvider) Call(ctx context.Context, messages []models.ChatMessage, opts provider.Options) (*provider.Completion, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Completion{
		Content: `{"summary":"developing well"}`,
		Model:   "gpt-4",
		Usage:   models.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func newTestGateway(t *testing.T, limits map[ratelimit.Tier]ratelimit.Limit, prov provider.Provider) (*Gateway, tracker.Tracker) {
	t.Helper()
	tr, err := tracker.New(filepath.Join(t.TempDir(), "gw_test.db"), map[string]float64{"gpt-4": 0.03})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	g := New(
		cache.New(100),
		ratelimit.New(limits),
		tr,
		prov,
		map[ratelimit.Tier]time.Duration{ratelimit.TierQuick: time.Minute},
	)
	return g, tr
}

func TestRateLimitAfterTwoRequests(t *testing.T) {
	prov := &fakeProvider{}
	g, _ := newTestGateway(t, map[ratelimit.Tier]ratelimit.Limit{
		ratelimit.TierQuick: {MaxPerMinute: 2, MaxPerHour: 100},
	}, prov)
	ctx := context.Background()

	for i, prompt := range []string{"observation one", "observation two"} {
		resp, err := g.Handle(ctx, Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: prompt})
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if resp.Cached {
			t.Errorf("request %d should not be cached", i+1)
		}
	}
	if prov.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", prov.calls)
	}

	_, err := g.Handle(ctx, Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: "observation three"})
	var le *ratelimit.LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitError on third request, got %v", err)
	}
	if le.Tier != ratelimit.TierQuick {
		t.Errorf("expected tier quick, got %s", le.Tier)
	}
	if le.ResetTime.IsZero() {
		t.Error("expected reset time on denial")
	}
	if prov.calls != 2 {
		t.Errorf("denied request must not reach the provider, calls=%d", prov.calls)
	}
}

func TestRepeatRequestServedFromCache(t *testing.T) {
	prov := &fakeProvider{}
	g, tr := newTestGateway(t, map[ratelimit.Tier]ratelimit.Limit{
		ratelimit.TierQuick: {MaxPerMinute: 10, MaxPerHour: 100},
	}, prov)
	ctx := context.Background()

	req := Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: "same observation"}

	first, err := g.Handle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Handle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if prov.calls != 1 {
		t.Errorf("expected a single provider call, got %d", prov.calls)
	}
	if !second.Cached || second.Content != first.Content {
		t.Errorf("second response should be the cached first: %+v", second)
	}

	// Cache hits consume no quota and record no usage.
	q, err := g.Limiter().Remaining("u1", ratelimit.TierQuick)
	if err != nil {
		t.Fatal(err)
	}
	if q.Minute != 9 {
		t.Errorf("expected 9 remaining after one upstream call, got %d", q.Minute)
	}
	stats, err := tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("expected 1 usage record, got %d", stats.TotalRequests)
	}
}

func TestCachedResultBypassesExhaustedLimit(t *testing.T) {
	prov := &fakeProvider{}
	g, _ := newTestGateway(t, map[ratelimit.Tier]ratelimit.Limit{
		ratelimit.TierQuick: {MaxPerMinute: 1, MaxPerHour: 100},
	}, prov)
	ctx := context.Background()

	req := Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: "cached observation"}

	if _, err := g.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}

	// The limit is now exhausted, but the cached key must still resolve.
	if err := g.Limiter().Check("u1", ratelimit.TierQuick); err == nil {
		t.Fatal("precondition: limit should be exhausted")
	}

	resp, err := g.Handle(ctx, req)
	if err != nil {
		t.Fatalf("cached request must not be rate limited: %v", err)
	}
	if !resp.Cached {
		t.Error("expected cached response")
	}
	if prov.calls != 1 {
		t.Errorf("cached request must not call the provider, calls=%d", prov.calls)
	}

	// A distinct prompt is still denied.
	if _, err := g.Handle(ctx, Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: "new observation"}); err == nil {
		t.Error("uncached request should be denied")
	}
}

func TestProviderFailure(t *testing.T) {
	provErr := &provider.Error{Code: provider.CodeRateLimit, Message: "upstream throttled", Status: 429}
	prov := &fakeProvider{err: provErr}
	g, tr := newTestGateway(t, map[ratelimit.Tier]ratelimit.Limit{
		ratelimit.TierQuick: {MaxPerMinute: 10, MaxPerHour: 100},
	}, prov)
	ctx := context.Background()

	req := Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: "failing observation"}

	_, err := g.Handle(ctx, req)
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Code != provider.CodeRateLimit {
		t.Fatalf("provider error should propagate unchanged, got %v", err)
	}

	// Nothing cached: a retry reaches the provider again.
	prov.err = nil
	resp, err := g.Handle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Cached {
		t.Error("failed attempt must not populate the cache")
	}
	if prov.calls != 2 {
		t.Errorf("expected 2 provider calls, got %d", prov.calls)
	}

	// The failed attempt is still accounted.
	stats, err := tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 2 {
		t.Errorf("expected 2 usage records, got %d", stats.TotalRequests)
	}
	if stats.SuccessRate != 50 {
		t.Errorf("expected 50%% success rate, got %v", stats.SuccessRate)
	}
}

func TestDistinctOptionsMissCache(t *testing.T) {
	prov := &fakeProvider{}
	g, _ := newTestGateway(t, map[ratelimit.Tier]ratelimit.Limit{
		ratelimit.TierQuick: {MaxPerMinute: 10, MaxPerHour: 100},
	}, prov)
	ctx := context.Background()

	base := Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: "same prompt"}
	if _, err := g.Handle(ctx, base); err != nil {
		t.Fatal(err)
	}

	other := base
	other.Options = provider.Options{Temperature: 0.2}
	if _, err := g.Handle(ctx, other); err != nil {
		t.Fatal(err)
	}

	if prov.calls != 2 {
		t.Errorf("different options must produce a different key, calls=%d", prov.calls)
	}
}

func TestAbandonedCallerStillPopulatesCache(t *testing.T) {
	prov := &fakeProvider{}
	g, _ := newTestGateway(t, map[ratelimit.Tier]ratelimit.Limit{
		ratelimit.TierQuick: {MaxPerMinute: 10, MaxPerHour: 100},
	}, prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := Request{UserID: "u1", Tier: ratelimit.TierQuick, Prompt: "abandoned observation"}
	if _, err := g.Handle(ctx, req); err != nil {
		t.Fatalf("cancelled caller context must not abort the provider call: %v", err)
	}

	resp, err := g.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cached {
		t.Error("expected the abandoned call's result to be cached")
	}
}
