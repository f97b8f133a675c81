// Package ratelimit provides per-user, per-tier admission control using
// fixed minute and hour windows keyed by truncated timestamps.
package ratelimit

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Tier is a named rate-limit policy bucket.
type Tier string

// The configured tiers form a closed set established at startup.
const (
	TierQuick    Tier = "quick"
	TierAnalysis Tier = "analysis"
	TierReport   Tier = "report"
)

// Limit is one tier's per-minute and per-hour caps.
type Limit struct {
	MaxPerMinute int
	MaxPerHour   int
}

// LimitUpdate is a partial change to a tier's limits. Nil fields keep the
// current value.
type LimitUpdate struct {
	MaxPerMinute *int
	MaxPerHour   *int
}

// LimitError reports a denied request. ResetTime is the wall-clock start of
// the next window, suitable for surfacing to the end user.
type LimitError struct {
	Tier      Tier
	Limit     int
	Window    string
	ResetTime time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s for %s tier", e.Limit, e.Window, e.Tier)
}

// state tracks one (user, tier) pair's window counters. A counter is valid
// only while the clock maps to the stored window identifier.
type state struct {
	userID      string
	tier        Tier
	minuteCount int
	hourlyCount int
	minuteStart int64
	hourStart   int64
}

// Limiter is the in-memory fixed-window admission controller.
type Limiter struct {
	mu     sync.Mutex
	limits map[Tier]Limit
	usage  map[string]*state
	now    func() time.Time
}

// DefaultLimits returns the tier caps the observation-analysis endpoints
// were tuned for.
func DefaultLimits() map[Tier]Limit {
	return map[Tier]Limit{
		TierQuick:    {MaxPerMinute: 10, MaxPerHour: 100},
		TierAnalysis: {MaxPerMinute: 2, MaxPerHour: 20},
		TierReport:   {MaxPerMinute: 1, MaxPerHour: 5},
	}
}

// New creates a Limiter with the given tier configuration.
func New(limits map[Tier]Limit) *Limiter {
	copied := make(map[Tier]Limit, len(limits))
	for t, l := range limits {
		copied[t] = l
	}
	return &Limiter{
		limits: copied,
		usage:  make(map[string]*state),
		now:    time.Now,
	}
}

func stateKey(userID string, tier Tier) string {
	return userID + ":" + string(tier)
}

// Check decides whether userID may issue a request under tier. It rolls
// stale windows before checking, and does NOT consume quota: callers that
// proceed to the upstream provider must follow up with Increment. The
// check/increment split exists so cache hits never consume quota.
func (l *Limiter) Check(userID string, tier Tier) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[tier]
	if !ok {
		return fmt.Errorf("ratelimit: unknown tier %q", tier)
	}

	st := l.stateFor(userID, tier)
	l.rollWindows(st)

	if st.minuteCount >= limit.MaxPerMinute {
		return &LimitError{
			Tier:      tier,
			Limit:     limit.MaxPerMinute,
			Window:    "minute",
			ResetTime: time.Unix((st.minuteStart+1)*60, 0),
		}
	}
	if st.hourlyCount >= limit.MaxPerHour {
		return &LimitError{
			Tier:      tier,
			Limit:     limit.MaxPerHour,
			Window:    "hour",
			ResetTime: time.Unix((st.hourStart+1)*3600, 0),
		}
	}
	return nil
}

// Increment consumes one unit of minute and hour quota. It must follow a
// successful Check for the same pair within the same logical request.
// Calling it without prior state is a contract violation: it is logged and
// the state is initialized so accounting continues.
func (l *Limiter) Increment(userID string, tier Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := stateKey(userID, tier)
	st, ok := l.usage[key]
	if !ok {
		log.Printf("ratelimit: Increment without prior Check for %s (initializing)", key)
		st = l.stateFor(userID, tier)
	}
	l.rollWindows(st)
	st.minuteCount++
	st.hourlyCount++
}

// Quota reports remaining allowance and the next window boundaries.
type Quota struct {
	Hourly      int       `json:"hourly"`
	Minute      int       `json:"minute"`
	ResetMinute time.Time `json:"reset_minute"`
	ResetHour   time.Time `json:"reset_hour"`
}

// Remaining reports quota without mutating state. When no state exists the
// full configured limits are reported with boundaries one window ahead.
func (l *Limiter) Remaining(userID string, tier Tier) (Quota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[tier]
	if !ok {
		return Quota{}, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}

	now := l.now()
	st, ok := l.usage[stateKey(userID, tier)]
	if !ok {
		return Quota{
			Hourly:      limit.MaxPerHour,
			Minute:      limit.MaxPerMinute,
			ResetMinute: now.Add(time.Minute),
			ResetHour:   now.Add(time.Hour),
		}, nil
	}

	minuteCount, hourlyCount := st.minuteCount, st.hourlyCount
	minuteStart, hourStart := st.minuteStart, st.hourStart
	if m := now.Unix() / 60; m != minuteStart {
		minuteCount, minuteStart = 0, m
	}
	if h := now.Unix() / 3600; h != hourStart {
		hourlyCount, hourStart = 0, h
	}

	return Quota{
		Hourly:      max(0, limit.MaxPerHour-hourlyCount),
		Minute:      max(0, limit.MaxPerMinute-minuteCount),
		ResetMinute: time.Unix((minuteStart+1)*60, 0),
		ResetHour:   time.Unix((hourStart+1)*3600, 0),
	}, nil
}

// Reset clears state for the given tiers, or for every configured tier
// when none are named.
func (l *Limiter) Reset(userID string, tiers ...Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(tiers) == 0 {
		for t := range l.limits {
			delete(l.usage, stateKey(userID, t))
		}
		return
	}
	for _, t := range tiers {
		delete(l.usage, stateKey(userID, t))
	}
}

// SetLimit merges upd into a tier's configuration. The change takes effect
// on the next Check; already-consumed counts are not adjusted.
func (l *Limiter) SetLimit(tier Tier, upd LimitUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[tier]
	if !ok {
		return fmt.Errorf("ratelimit: unknown tier %q", tier)
	}
	if upd.MaxPerMinute != nil {
		limit.MaxPerMinute = *upd.MaxPerMinute
	}
	if upd.MaxPerHour != nil {
		limit.MaxPerHour = *upd.MaxPerHour
	}
	l.limits[tier] = limit
	return nil
}

// Limits returns a copy of the current tier configuration.
func (l *Limiter) Limits() map[Tier]Limit {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[Tier]Limit, len(l.limits))
	for t, lim := range l.limits {
		out[t] = lim
	}
	return out
}

// UserUsage ranks a user by summed hourly usage across tiers.
type UserUsage struct {
	UserID string `json:"user_id"`
	Usage  int    `json:"usage"`
}

// Stats aggregates tracked limiter state.
type Stats struct {
	ActiveUsers int          `json:"active_users"`
	UsageByTier map[Tier]int `json:"usage_by_tier"`
	TopUsers    []UserUsage  `json:"top_users"`
}

// Stats reports distinct tracked users, hourly usage summed per tier, and
// the top 10 users by summed hourly usage.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	byTier := make(map[Tier]int, len(l.limits))
	for t := range l.limits {
		byTier[t] = 0
	}
	byUser := make(map[string]int)
	for _, st := range l.usage {
		byTier[st.tier] += st.hourlyCount
		byUser[st.userID] += st.hourlyCount
	}

	top := make([]UserUsage, 0, len(byUser))
	for u, n := range byUser {
		top = append(top, UserUsage{UserID: u, Usage: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Usage != top[j].Usage {
			return top[i].Usage > top[j].Usage
		}
		return top[i].UserID < top[j].UserID
	})
	if len(top) > 10 {
		top = top[:10]
	}

	return Stats{
		ActiveUsers: len(byUser),
		UsageByTier: byTier,
		TopUsers:    top,
	}
}

// Cleanup removes state whose hour window is more than one window old,
// bounding memory growth. Returns the number of entries removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	currentHour := l.now().Unix() / 3600
	removed := 0
	for key, st := range l.usage {
		if currentHour-st.hourStart > 1 {
			delete(l.usage, key)
			removed++
		}
	}
	return removed
}

// stateFor returns the tracked state for a pair, creating it lazily.
// Must be called with l.mu held.
func (l *Limiter) stateFor(userID string, tier Tier) *state {
	key := stateKey(userID, tier)
	st, ok := l.usage[key]
	if !ok {
		now := l.now()
		st = &state{
			userID:      userID,
			tier:        tier,
			minuteStart: now.Unix() / 60,
			hourStart:   now.Unix() / 3600,
		}
		l.usage[key] = st
	}
	return st
}

// rollWindows resets counters whose window identifier has moved on. The
// reset happens before any admission check. Must be called with l.mu held.
func (l *Limiter) rollWindows(st *state) {
	now := l.now()
	if h := now.Unix() / 3600; h != st.hourStart {
		st.hourlyCount = 0
		st.hourStart = h
	}
	if m := now.Unix() / 60; m != st.minuteStart {
		st.minuteCount = 0
		st.minuteStart = m
	}
}
