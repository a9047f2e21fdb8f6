// Package poll waits for a condition to hold within a bounded time.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// ErrTimedOut is returned when the deadline passes before the predicate holds.
var ErrTimedOut = errors.New("timed out waiting for condition")

// Result is the outcome of a wait.
type Result string

const (
	// Ready means the predicate returned true before the deadline.
	Ready Result = "ready"
	// TimedOut means the deadline passed first.
	TimedOut Result = "timed_out"
)

// Predicate is one readiness check.
type Predicate func(ctx context.Context) bool

// Poller evaluates predicates on a fixed interval against a clock.
type Poller struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// New returns a Poller. A nil clock uses the wall clock.
func New(c clock.Clock, logger zerolog.Logger) *Poller {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Poller{
		clock:  c,
		logger: logger.With().Str("component", "poller").Logger(),
	}
}

// WaitFor calls predicate immediately and then once per interval until it
// returns true or timeout elapses.
//
// A check that starts before the deadline is honoured even if it completes
// after it. No new check starts once the next attempt would land at or past
// the deadline. Cancelling ctx ends the wait before the next attempt.
func (p *Poller) WaitFor(ctx context.Context, desc string, timeout, interval time.Duration, predicate Predicate) (Result, error) {
	if interval <= 0 {
		return TimedOut, fmt.Errorf("invalid poll interval %s for %s", interval, desc)
	}

	start := p.clock.Now()
	deadline := start.Add(timeout)
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return TimedOut, fmt.Errorf("wait for %s cancelled: %w", desc, err)
		}

		attempts++
		if predicate(ctx) {
			p.logger.Debug().
				Str("condition", desc).
				Int("attempts", attempts).
				Dur("elapsed", p.clock.Since(start)).
				Msg("condition met")
			return Ready, nil
		}

		if !p.clock.Now().Add(interval).Before(deadline) {
			p.logger.Warn().
				Str("condition", desc).
				Int("attempts", attempts).
				Dur("timeout", timeout).
				Msg("condition not met before deadline")
			return TimedOut, fmt.Errorf("%s after %s: %w", desc, timeout, ErrTimedOut)
		}

		p.logger.Trace().
			Str("condition", desc).
			Int("attempt", attempts).
			Msg("condition not met, retrying")
		p.clock.Sleep(interval)
	}
}
