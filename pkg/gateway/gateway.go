// Package gateway sequences the response cache, rate limiter, provider
// adapter, and usage tracker into one request/response cycle.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/kindergate-ai/kindergate/pkg/cache"
	"github.com/kindergate-ai/kindergate/pkg/models"
	"github.com/kindergate-ai/kindergate/pkg/provider"
	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
	"github.com/kindergate-ai/kindergate/pkg/tracker"
)

// Request is one observation-analysis request.
type Request struct {
	UserID  string
	Tier    ratelimit.Tier
	Prompt  string
	Options provider.Options
}

// Response is the analysis result returned to the caller.
type Response struct {
	Content string            `json:"content"`
	Model   string            `json:"model"`
	Usage   models.TokenUsage `json:"usage"`
	Cached  bool              `json:"cached"`
}

// Gateway owns the cache, limiter, tracker, and provider as explicit
// instance state; it is constructed once at process start and passed by
// reference to all request handlers.
type Gateway struct {
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	tracker tracker.Tracker
	prov    provider.Provider
	ttls    map[ratelimit.Tier]time.Duration
}

// DefaultTTL applies to tiers without a configured cache TTL.
const DefaultTTL = time.Hour

// New wires a Gateway. ttls maps each tier to the cache TTL applied to its
// responses.
func New(c *cache.Cache, l *ratelimit.Limiter, t tracker.Tracker, p provider.Provider, ttls map[ratelimit.Tier]time.Duration) *Gateway {
	copied := make(map[ratelimit.Tier]time.Duration, len(ttls))
	for tier, ttl := range ttls {
		copied[tier] = ttl
	}
	return &Gateway{cache: c, limiter: l, tracker: t, prov: p, ttls: copied}
}

// Handle runs one request through the cache, the rate limiter, and the
// provider. Cached results bypass admission control and usage accounting
// entirely; only requests that reach the provider consume quota.
func (g *Gateway) Handle(ctx context.Context, req Request) (*Response, error) {
	key := cache.Key(req.Prompt, keyParams(req.Options))

	if raw, ok := g.cache.Get(key); ok {
		var comp provider.Completion
		if err := json.Unmarshal(raw, &comp); err == nil {
			return &Response{
				Content: comp.Content,
				Model:   comp.Model,
				Usage:   comp.Usage,
				Cached:  true,
			}, nil
		}
		// Undecodable entry: drop it and fall through to the provider.
		g.cache.InvalidatePattern(key)
	}

	if err := g.limiter.Check(req.UserID, req.Tier); err != nil {
		return nil, err
	}
	g.limiter.Increment(req.UserID, req.Tier)

	messages := []models.ChatMessage{{Role: "user", Content: req.Prompt}}

	// The provider call outlives caller cancellation so an abandoned
	// request still populates the cache for identical followers. The
	// adapter applies its own timeout.
	comp, err := g.prov.Call(context.WithoutCancel(ctx), messages, req.Options)
	if err != nil {
		g.record(req.UserID, req.Tier, req.Options.Model, models.TokenUsage{}, false)
		return nil, err
	}

	if raw, merr := json.Marshal(comp); merr == nil {
		g.cache.Set(key, raw, g.ttl(req.Tier))
	}
	g.record(req.UserID, req.Tier, comp.Model, comp.Usage, true)

	return &Response{
		Content: comp.Content,
		Model:   comp.Model,
		Usage:   comp.Usage,
	}, nil
}

// record stores usage accounting. Failures are logged and never block the
// response path.
func (g *Gateway) record(userID string, tier ratelimit.Tier, model string, usage models.TokenUsage, success bool) {
	if model == "" {
		model = "unknown"
	}
	err := g.tracker.Record(context.Background(), models.UsageRecord{
		UserID:           userID,
		Model:            model,
		Tier:             string(tier),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Success:          success,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		log.Printf("gateway: usage record failed: %v", err)
	}
}

func (g *Gateway) ttl(tier ratelimit.Tier) time.Duration {
	if ttl, ok := g.ttls[tier]; ok {
		return ttl
	}
	return DefaultTTL
}

// keyParams selects the request parameters that affect the provider
// result; they join the prompt in the cache key.
func keyParams(opts provider.Options) map[string]any {
	params := make(map[string]any)
	if opts.Model != "" {
		params["model"] = opts.Model
	}
	if opts.Temperature != 0 {
		params["temperature"] = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		params["max_tokens"] = opts.MaxTokens
	}
	return params
}

// RunMaintenance invokes cache and limiter cleanup on the given cadence
// until ctx is cancelled. It is safe to run alongside request handling.
func (g *Gateway) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.cache.Cleanup(); n > 0 {
				log.Printf("gateway: cache cleanup removed %d entries", n)
			}
			if n := g.limiter.Cleanup(); n > 0 {
				log.Printf("gateway: limiter cleanup removed %d entries", n)
			}
		}
	}
}

// Cache exposes the cache for administrative callers.
func (g *Gateway) Cache() *cache.Cache { return g.cache }

// Limiter exposes the rate limiter for administrative callers.
func (g *Gateway) Limiter() *ratelimit.Limiter { return g.limiter }

// Tracker exposes the usage tracker for administrative callers.
func (g *Gateway) Tracker() tracker.Tracker { return g.tracker }
