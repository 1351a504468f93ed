package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// Rate-limit bucket defaults. The lease TTL must exceed every tier timeout so
// a bucket never expires mid-fetch.
const (
	DefaultBucketCapacity  = 5.0
	DefaultRefillPerSecond = 0.5
	DefaultBucketLeaseTTL  = 5 * time.Minute
)

// TokenDecision is the result of one token acquisition attempt.
type TokenDecision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// bucketState is the serialized bucket stored in the shared cache.
type bucketState struct {
	Tokens    float64   `json:"tokens"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RateLimiter is a token bucket keyed by (domain, provider) held in the
// shared cache. State is advisory: the scheduler's atomic claim is the real
// coordination mechanism, so lost updates between concurrent workers only
// cost accuracy, not correctness.
type RateLimiter struct {
	cache    core.CacheRepository
	capacity float64
	refill   float64
	leaseTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// RateLimiterOptions configures a RateLimiter.
type RateLimiterOptions struct {
	Cache           core.CacheRepository
	Capacity        float64
	RefillPerSecond float64
	LeaseTTL        time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// NewRateLimiter creates a RateLimiter with defaulted options.
func NewRateLimiter(opts RateLimiterOptions) *RateLimiter {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultBucketCapacity
	}
	if opts.RefillPerSecond <= 0 {
		opts.RefillPerSecond = DefaultRefillPerSecond
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultBucketLeaseTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RateLimiter{
		cache:    opts.Cache,
		capacity: opts.Capacity,
		refill:   opts.RefillPerSecond,
		leaseTTL: opts.LeaseTTL,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

func bucketKey(domain string, provider model.ProviderKind) string {
	return fmt.Sprintf("ratelimit:%s:%s", domain, provider)
}

// Consume takes one token from the (domain, provider) bucket. When the bucket
// is empty the decision suggests waiting ceil(1/R) seconds. Cache failures
// fail open so a degraded cache never stalls fetching.
func (l *RateLimiter) Consume(ctx context.Context, domain string, provider model.ProviderKind) (TokenDecision, error) {
	if l == nil || l.cache == nil {
		return TokenDecision{Allowed: true}, nil
	}
	key := bucketKey(domain, provider)
	now := l.now().UTC()

	state := bucketState{Tokens: l.capacity, UpdatedAt: now}
	raw, err := l.cache.Get(ctx, key)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit bucket read failed, allowing request",
			"key", key, "error", err)
		return TokenDecision{Allowed: true, Remaining: l.capacity - 1}, nil
	}
	if raw != nil {
		if uerr := json.Unmarshal(raw, &state); uerr != nil {
			state = bucketState{Tokens: l.capacity, UpdatedAt: now}
		}
	}

	// Refill for the elapsed interval, capped at capacity.
	elapsed := now.Sub(state.UpdatedAt).Seconds()
	if elapsed > 0 {
		state.Tokens = math.Min(l.capacity, state.Tokens+elapsed*l.refill)
	}
	state.UpdatedAt = now

	if state.Tokens < 1 {
		retryAfter := time.Duration(math.Ceil(1/l.refill)) * time.Second
		l.writeBack(ctx, key, state)
		return TokenDecision{Allowed: false, Remaining: state.Tokens, RetryAfter: retryAfter}, nil
	}

	state.Tokens--
	l.writeBack(ctx, key, state)
	return TokenDecision{Allowed: true, Remaining: state.Tokens}, nil
}

func (l *RateLimiter) writeBack(ctx context.Context, key string, state bucketState) {
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, key, raw, l.leaseTTL); err != nil {
		l.logger.WarnContext(ctx, "rate limit bucket write failed", "key", key, "error", err)
	}
}
