package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/metrics"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
)

// ErrUnavailable is the failure recorded while the breaker is open.
var ErrUnavailable = errors.New("report executor unavailable")

// BreakerConfig configures BreakerExecutor.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled"`
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32 `yaml:"max_requests"`
	// Interval resets the closed-state counts. Zero never resets.
	Interval time.Duration `yaml:"interval"`
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		ConsecutiveFailures: 5,
		Timeout:             5 * time.Minute,
		MaxRequests:         1,
	}
}

// BreakerExecutor stops calling a failing executor for a while, so a dead
// SMTP relay or data source fails every due schedule fast.
type BreakerExecutor struct {
	next  Executor
	cb    *gobreaker.CircuitBreaker
	clock clock.Clock
}

// errFailedResult carries a failed result through the breaker.
type errFailedResult struct {
	result models.DueJobResult
}

func (e *errFailedResult) Error() string { return e.result.ErrorMessage }

// NewBreakerExecutor wraps next with a circuit breaker named name.
func NewBreakerExecutor(name string, next Executor, cfg BreakerConfig, clk clock.Clock, logger zerolog.Logger, m *metrics.Metrics) *BreakerExecutor {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	log := logger.With().Str("component", "breaker").Str("breaker", name).Logger()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			m.SetBreakerState(name, int(to))
		},
	}
	m.SetBreakerState(name, int(gobreaker.StateClosed))

	return &BreakerExecutor{
		next:  next,
		cb:    gobreaker.NewCircuitBreaker(settings),
		clock: clk,
	}
}

// Execute runs next through the breaker.
func (b *BreakerExecutor) Execute(ctx context.Context, sched *models.Schedule) models.DueJobResult {
	out, err := b.cb.Execute(func() (interface{}, error) {
		result := b.next.Execute(ctx, sched)
		if !result.Success {
			return nil, &errFailedResult{result: result}
		}
		return result, nil
	})

	var failed *errFailedResult
	switch {
	case err == nil:
		return out.(models.DueJobResult)
	case errors.As(err, &failed):
		return failed.result
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return models.Failed(b.clock.Now(), ErrUnavailable)
	default:
		return models.Failed(b.clock.Now(), err)
	}
}

// State returns the breaker state.
func (b *BreakerExecutor) State() gobreaker.State {
	return b.cb.State()
}
