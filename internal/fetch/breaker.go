package fetch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// Circuit breaker defaults per (domain, provider).
const (
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCooldown         = 60 * time.Second
)

// BreakerRegistry lazily creates one circuit breaker per (domain, provider)
// pair. A breaker opens after FailureThreshold consecutive failures, stays
// open for Cooldown, then allows a single half-open probe.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	failureThreshold uint32
	cooldown         time.Duration
	logger           *slog.Logger
}

// BreakerRegistryOptions configures a BreakerRegistry.
type BreakerRegistryOptions struct {
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *slog.Logger
}

// NewBreakerRegistry creates a registry with defaulted options.
func NewBreakerRegistry(opts BreakerRegistryOptions) *BreakerRegistry {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerCooldown
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &BreakerRegistry{
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
		failureThreshold: uint32(opts.FailureThreshold), // #nosec G115 -- threshold is a small positive config value.
		cooldown:         opts.Cooldown,
		logger:           opts.Logger,
	}
}

// For returns the breaker guarding one (domain, provider) pair, creating it
// on first use.
func (r *BreakerRegistry) For(domain string, provider model.ProviderKind) *gobreaker.CircuitBreaker {
	name := fmt.Sprintf("%s:%s", domain, provider)

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.failureThreshold
	logger := r.logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("fetch circuit state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[name] = cb
	return cb
}
