package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("broker down")

func failing(n int, attempts *int) ConnectFunc {
	return func(context.Context) error {
		*attempts++
		if *attempts <= n {
			return errDown
		}
		return nil
	}
}

// TestConnectWithRetry_Schedule fails twice and expects waits of 1s and
// 2s on the clock before the third attempt succeeds.
func TestConnectWithRetry_Schedule(t *testing.T) {
	clk := testclock.NewClock(epoch)
	attempts := 0
	errc := make(chan error, 1)
	go func() {
		errc <- ConnectWithRetry(context.Background(), clk, DefaultReconnectConfig(), failing(2, &attempts))
	}()

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(2*time.Second, time.Second, 1))
	require.NoError(t, <-errc)
	assert.Equal(t, 3, attempts)
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	clk := testclock.NewClock(epoch)
	cfg := ReconnectConfig{MaxRetries: 2, RetryDelay: time.Second, MaxRetryDelay: time.Second}
	attempts := 0
	errc := make(chan error, 1)
	go func() {
		errc <- ConnectWithRetry(context.Background(), clk, cfg, failing(10, &attempts))
	}()

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	err := <-errc
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 3, attempts)
}

func TestConnectWithRetry_Cancelled(t *testing.T) {
	clk := testclock.NewClock(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	errc := make(chan error, 1)
	go func() {
		errc <- ConnectWithRetry(ctx, clk, DefaultReconnectConfig(), failing(10, &attempts))
	}()

	require.NoError(t, clk.WaitAdvance(0, time.Second, 1))
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 1, attempts)
}
