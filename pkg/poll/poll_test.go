package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	testingclock "k8s.io/utils/clock/testing"
)

// slowCheck returns a predicate that takes checkCost of fake time per call and
// reports true once readyAt has elapsed since the clock's start.
func slowCheck(clk *testingclock.FakeClock, checkCost, readyAt time.Duration, calls *int) Predicate {
	start := clk.Now()
	return func(ctx context.Context) bool {
		*calls++
		clk.Step(checkCost)
		return clk.Since(start) >= readyAt
	}
}

func TestWaitForReadyOnFirstCall(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	p := New(clk, zerolog.Nop())

	calls := 0
	res, err := p.WaitFor(context.Background(), "ready", 10*time.Second, 5*time.Second, func(ctx context.Context) bool {
		calls++
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Ready {
		t.Errorf("expected Ready, got %s", res)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWaitForSlowCheckCompletingAfterDeadline(t *testing.T) {
	// Checks take 2s, interval 5s, timeout 10s. The second check starts at
	// t=7 and finishes at t=9 where the condition holds.
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	p := New(clk, zerolog.Nop())

	calls := 0
	res, err := p.WaitFor(context.Background(), "slow", 10*time.Second, 5*time.Second,
		slowCheck(clk, 2*time.Second, 9*time.Second, &calls))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Ready {
		t.Errorf("expected Ready, got %s", res)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestWaitForTimesOut(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	p := New(clk, zerolog.Nop())

	calls := 0
	res, err := p.WaitFor(context.Background(), "never", 10*time.Second, 5*time.Second,
		slowCheck(clk, 2*time.Second, 11*time.Second, &calls))
	if res != TimedOut {
		t.Errorf("expected TimedOut, got %s", res)
	}
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("expected ErrTimedOut, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestWaitForDeadlineBoundary(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		expected Result
	}{
		{name: "third attempt lands on deadline", timeout: 10 * time.Second, expected: TimedOut},
		{name: "third attempt before deadline", timeout: 11 * time.Second, expected: Ready},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(time.Unix(0, 0))
			p := New(clk, zerolog.Nop())

			calls := 0
			res, _ := p.WaitFor(context.Background(), "boundary", tt.timeout, 5*time.Second, func(ctx context.Context) bool {
				calls++
				return calls == 3
			})
			if res != tt.expected {
				t.Errorf("expected %s, got %s after %d calls", tt.expected, res, calls)
			}
		})
	}
}

func TestWaitForCancelledContext(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	p := New(clk, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res, err := p.WaitFor(ctx, "cancel", time.Minute, time.Second, func(ctx context.Context) bool {
		calls++
		cancel()
		return false
	})
	if res != TimedOut {
		t.Errorf("expected TimedOut, got %s", res)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWaitForRejectsZeroInterval(t *testing.T) {
	p := New(nil, zerolog.Nop())

	_, err := p.WaitFor(context.Background(), "bad", time.Second, 0, func(ctx context.Context) bool {
		return false
	})
	if err == nil {
		t.Fatal("expected error for zero interval")
	}
}
