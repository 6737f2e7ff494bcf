package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/clock"
)

// ErrMaxRetries is returned when every connect attempt failed.
var ErrMaxRetries = errors.New("subjectlink: max connect retries exceeded")

// ReconnectConfig bounds the exponential connect backoff.
type ReconnectConfig struct {
	MaxRetries    int           // retries after the first attempt (default: 5)
	RetryDelay    time.Duration // first delay (default: 1 second)
	MaxRetryDelay time.Duration // delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns the default schedule: 1s, 2s, 4s, 8s,
// 16s, then give up.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ConnectFunc makes one connection attempt.
type ConnectFunc func(ctx context.Context) error

// ConnectWithRetry calls connectFn until it succeeds, the retries are
// exhausted or ctx ends. Delays are measured on clk.
func ConnectWithRetry(ctx context.Context, clk clock.Clock, cfg ReconnectConfig, connectFn ConnectFunc) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.RetryDelay
	eb.MaxInterval = cfg.MaxRetryDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Clock = clk
	eb.Reset()

	attempts := 0
	op := func() error {
		attempts++
		return connectFn(ctx)
	}
	notify := func(err error, delay time.Duration) {
		slog.Warn("source: connect failed, retrying",
			"error", err,
			"attempt", attempts,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxRetries)), ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: clk})
	switch {
	case err == nil:
		if attempts > 1 {
			slog.Info("source: connected after retries", "attempts", attempts)
		}
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w (%d attempts): %w", ErrMaxRetries, attempts, err)
	}
}

// clockTimer drives backoff waits from a juju clock.
type clockTimer struct {
	clock clock.Clock
	timer clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
