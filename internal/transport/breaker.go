package transport

import (
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig configures the per-server circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of requests allowed through while half-open.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state after which counts
	// are cleared. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used by the tools.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
	}
}

// newBreaker creates a breaker that trips after at least 3 requests with a
// failure ratio of 60%. Errors that leave the connection usable, such as key
// errors, do not count as failures, and neither do batches ended by the
// caller's context.
func newBreaker(addr string, cfg *BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[[]Reply] {
	settings := gobreaker.Settings{
		Name:        addr,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			if isContextDone(err) {
				return true
			}
			return !ShouldCloseConnection(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("addr", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	}
	return gobreaker.NewCircuitBreaker[[]Reply](settings)
}
