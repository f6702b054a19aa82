package websocket

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrReconnectExhausted is returned once MaxAttempts dials in a row have failed.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Backoff is a capped exponential delay schedule with proportional jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // up to this fraction of the delay is added, 0.2 = 20%
}

// Delay returns the wait before the zero-based attempt, without jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if math.IsInf(d, 0) || d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

func (b Backoff) jittered(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*b.Jitter*float64(d))
}

// ReconnectManager redials a dropped stream on a Backoff schedule.
type ReconnectManager struct {
	backoff     Backoff
	maxAttempts int // 0 retries until the context ends
	logger      *zap.Logger
	attempts    atomic.Int64
}

// NewReconnectManager creates a reconnect manager. maxAttempts <= 0 never gives up.
func NewReconnectManager(b Backoff, maxAttempts int, logger *zap.Logger) *ReconnectManager {
	return &ReconnectManager{
		backoff:     b,
		maxAttempts: max(maxAttempts, 0),
		logger:      logger,
	}
}

// Reconnect waits out the backoff and calls dial until it succeeds, ctx is
// done, or maxAttempts consecutive dials have failed.
func (rm *ReconnectManager) Reconnect(ctx context.Context, dial func(context.Context) error) error {
	for {
		attempt := rm.Attempts()
		if rm.maxAttempts > 0 && attempt >= rm.maxAttempts {
			return fmt.Errorf("%w: %d dials failed", ErrReconnectExhausted, attempt)
		}

		wait := rm.backoff.jittered(rm.backoff.Delay(attempt))
		rm.logger.Info("stream-reconnect-scheduled",
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt+1))
		ReconnectAttemptsTotal.Inc()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		rm.attempts.Add(1)

		err := dial(ctx)
		if err == nil {
			rm.logger.Info("stream-reconnected", zap.Int("attempts", rm.Attempts()))
			rm.attempts.Store(0)
			return nil
		}

		ReconnectFailuresTotal.Inc()
		rm.logger.Warn("stream-reconnect-failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
}

// Attempts returns the dials made since the last success.
func (rm *ReconnectManager) Attempts() int {
	return int(rm.attempts.Load())
}
