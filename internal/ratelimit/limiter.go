// Package ratelimit provides per-key token bucket rate limiting for MCP tools.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit       // tokens per second
	burst   int              // max burst size (also initial token count)
	nowFunc func() time.Time // injectable clock for testing
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		nowFunc: time.Now,
	}
}

// PerMinute creates a limiter allowing n calls per minute.
func PerMinute(n, burst int) *Limiter {
	return NewLimiter(float64(n)/60.0, burst)
}

// Allow checks if a request for the given key should be allowed.
// Returns true if allowed, false if rate limited.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[key] = b
	}
	now := l.nowFunc()
	l.mu.Unlock()

	return b.AllowN(now, 1)
}

// Tool names guarded by ToolLimiters.
const (
	ToolValidate   = "tracegraph_validate"
	ToolGraph      = "tracegraph_graph"
	ToolHistory    = "tracegraph_history"
	ToolSuspects   = "tracegraph_suspects"
	ToolResolve    = "tracegraph_resolve"
	ToolSweep      = "tracegraph_sweep"
	ToolUpsertNode = "tracegraph_upsert_node"
	ToolUpsertEdge = "tracegraph_upsert_edge"

	ToolComment        = "tracegraph_comment"
	ToolComments       = "tracegraph_comments"
	ToolResolveComment = "tracegraph_resolve_comment"
	ToolReviews        = "tracegraph_reviews"
	ToolReviewVerdict  = "tracegraph_review_verdict"
)

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates per-tool limiters allowing perMinute calls a
// minute with the given burst. Sweeps touch every requirement and get a
// quarter of the rate. perMinute <= 0 disables limiting.
func NewToolLimiters(perMinute, burst int) ToolLimiters {
	if perMinute <= 0 {
		return ToolLimiters{}
	}
	sweepRate := perMinute / 4
	if sweepRate < 1 {
		sweepRate = 1
	}
	return ToolLimiters{
		ToolValidate:   PerMinute(perMinute, burst),
		ToolGraph:      PerMinute(perMinute, burst),
		ToolHistory:    PerMinute(perMinute, burst),
		ToolSuspects:   PerMinute(perMinute, burst),
		ToolResolve:    PerMinute(perMinute, burst),
		ToolSweep:      PerMinute(sweepRate, 1),
		ToolUpsertNode: PerMinute(perMinute, burst),
		ToolUpsertEdge: PerMinute(perMinute, burst),

		ToolComment:        PerMinute(perMinute, burst),
		ToolComments:       PerMinute(perMinute, burst),
		ToolResolveComment: PerMinute(perMinute, burst),
		ToolReviews:        PerMinute(perMinute, burst),
		ToolReviewVerdict:  PerMinute(perMinute, burst),
	}
}

// CheckLimit checks the rate limit for a given tool name.
// Returns nil if allowed, or an error if rate limited.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil // No limiter configured = no limit
	}

	if !limiter.Allow(toolName) {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", toolName)
	}

	return nil
}
