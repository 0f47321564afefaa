package dispatcher

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryMode selects how a failed attempt moves nextRun.
type RetryMode string

const (
	// RetryBackoff reschedules the failed instant after an exponential delay.
	RetryBackoff RetryMode = "backoff"
	// RetryHold keeps nextRun so the next poll retries immediately.
	RetryHold RetryMode = "hold"
)

// Actions reported for a failed attempt.
const (
	ActionRetry   = "retry"
	ActionHold    = "hold"
	ActionAbandon = "abandon"
)

// RetryPolicy bounds how often a failing due instant is retried before it is
// abandoned in favour of the next natural instant.
type RetryPolicy struct {
	Mode            RetryMode     `yaml:"mode"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	// MaxRetries is the number of retries after the first failure. Zero
	// means no limit.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultRetryPolicy returns 1m, 2m, 4m, 8m, 16m then abandon.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Mode:            RetryBackoff,
		InitialInterval: time.Minute,
		MaxInterval:     30 * time.Minute,
		Multiplier:      2,
		MaxRetries:      5,
	}
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	switch p.Mode {
	case RetryBackoff:
		if p.InitialInterval <= 0 {
			return fmt.Errorf("retry initial_interval must be positive")
		}
		if p.MaxInterval < p.InitialInterval {
			return fmt.Errorf("retry max_interval must be at least initial_interval")
		}
		if p.Multiplier < 1 {
			return fmt.Errorf("retry multiplier must be at least 1")
		}
	case RetryHold:
	default:
		return fmt.Errorf("unknown retry mode %q", p.Mode)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	return nil
}

// Delay returns the wait before retry number attempt (1-based), or false
// when the policy has no retry left.
func (p RetryPolicy) Delay(attempt int) (time.Duration, bool) {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	var b backoff.BackOff = exp
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(exp, uint64(p.MaxRetries))
	}

	var d time.Duration
	for i := 0; i < attempt; i++ {
		if d = b.NextBackOff(); d == backoff.Stop {
			return 0, false
		}
	}
	return d, true
}

// Decision is the state a failed attempt commits.
type Decision struct {
	Action string
	// NextRun is zero when the stored nextRun must be kept.
	NextRun      time.Time
	FailureCount int
}

// Decide picks the next run after the failures-th consecutive failure at
// failedAt. natural is the next regular instant; a zero natural disables the
// cap. A retry that would land at or after natural abandons the failed
// instant.
func (p RetryPolicy) Decide(failures int, failedAt, natural time.Time) Decision {
	abandon := Decision{Action: ActionAbandon, NextRun: natural}

	if p.MaxRetries > 0 && failures > p.MaxRetries {
		return abandon
	}
	if p.Mode == RetryHold {
		return Decision{Action: ActionHold, FailureCount: failures}
	}

	delay, ok := p.Delay(failures)
	if !ok {
		return abandon
	}
	retryAt := failedAt.Add(delay)
	if !natural.IsZero() && !retryAt.Before(natural) {
		return abandon
	}
	return Decision{Action: ActionRetry, NextRun: retryAt, FailureCount: failures}
}
