// Package retry holds the explicit polling policy used while waiting for broker fills.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// ErrExhausted is returned by Do when every attempt ran without the operation finishing.
var ErrExhausted = errors.New("retry attempts exhausted")

// Sleeper pauses between attempts. Tests inject a recorder so no real time passes.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TimerSleeper sleeps on a real timer and returns early when the context ends.
var TimerSleeper Sleeper = timerSleeper{}

// Policy describes a bounded polling loop: MaxAttempts checks, each preceded by a wait.
// With Factor <= 1 the wait is a fixed Delay; otherwise it grows up to MaxDelay.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Factor      float64
	// Retryable classifies an operation error. Nil means every error is retryable.
	Retryable func(error) bool
}

// Fixed returns a policy of n attempts with a constant delay.
func Fixed(n int, delay time.Duration) Policy {
	return Policy{MaxAttempts: n, Delay: delay}
}

// Wait returns the pause taken before the given zero-based attempt.
func (p Policy) Wait(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if p.Factor <= 1 {
		return p.Delay
	}
	maxDelay := p.MaxDelay
	if maxDelay < p.Delay {
		maxDelay = p.Delay
	}
	b := &backoff.Backoff{Min: p.Delay, Max: maxDelay, Factor: p.Factor}
	return b.ForAttempt(float64(attempt))
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Op is one polling attempt. done=true stops the loop; a non-nil error is retried
// while attempts remain and the policy considers it retryable.
type Op func(ctx context.Context, attempt int) (done bool, err error)

// Do runs op under the policy and reports how many attempts were made. It returns nil
// once op reports done, the op error when it is not retryable, and ErrExhausted
// (wrapping the last op error, if any) when the budget runs out.
func (p Policy) Do(ctx context.Context, s Sleeper, op Op) (int, error) {
	if s == nil {
		s = TimerSleeper
	}
	var lastErr error
	n := p.attempts()
	for attempt := 0; attempt < n; attempt++ {
		if err := s.Sleep(ctx, p.Wait(attempt)); err != nil {
			return attempt, err
		}
		done, err := op(ctx, attempt)
		if err != nil {
			if !p.retryable(err) {
				return attempt + 1, err
			}
			lastErr = err
			continue
		}
		lastErr = nil
		if done {
			return attempt + 1, nil
		}
	}
	if lastErr != nil {
		return n, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, n, lastErr)
	}
	return n, ErrExhausted
}
