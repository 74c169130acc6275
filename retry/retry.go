// Package retry runs chain calls with capped exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/types"
)

// Policy bounds the retries of a single call within one poll cycle.
type Policy struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`

	// Retryable decides which errors are worth another attempt. Defaults to types.IsTransient.
	Retryable func(error) bool `mapstructure:"-"`
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, delay time.Duration, err error) `mapstructure:"-"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the wait before the given attempt (1 based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}
	return time.Duration(delay)
}

// Do calls op until it succeeds, returns an error that is not retryable, exhausts
// MaxAttempts or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = types.IsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(err, "retry interrupted: %v", ctx.Err())
		case <-timer.C:
		}
	}
	return errors.Wrapf(err, "gave up after %d attempts", attempts)
}
