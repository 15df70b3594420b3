package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// noSleep replaces the policy's sleeper so tests never wait on real delays.
func noSleep(p *RetryPolicy) {
	p.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
}

func TestRetryPolicy_SucceedsFirstTry(t *testing.T) {
	p := NewRetryPolicy(3, nil, nil)
	noSleep(&p)

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_TransientThenSuccess(t *testing.T) {
	p := NewRetryPolicy(3, ExponentialBackoff(time.Second), nil)
	noSleep(&p)

	calls := 0
	var delays []time.Duration
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTest
		}
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Two failures, thus exactly two recorded retry delays: 2^1 and 2^2 seconds.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	p := NewRetryPolicy(3, nil, nil)
	noSleep(&p)

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errTest
	}, nil)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("exhaustion error should wrap the last attempt error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	p := NewRetryPolicy(5, nil, func(err error) bool {
		return !errors.Is(err, fatal)
	})
	noSleep(&p)

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return fatal
	}, nil)
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		t.Error("non-retryable error must not be reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	p := NewRetryPolicy(5, ScheduleBackoff(time.Hour), nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(ctx context.Context) error {
			calls++
			return errTest
		}, nil)
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestScheduleBackoff(t *testing.T) {
	b := ScheduleBackoff(0, 5*time.Second, 15*time.Second)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 5 * time.Second},
		{3, 15 * time.Second},
		{4, 15 * time.Second}, // beyond schedule reuses last entry
	}
	for _, c := range cases {
		if got := b(c.attempt); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestDoWithResult(t *testing.T) {
	p := NewRetryPolicy(2, nil, nil)
	noSleep(&p)

	calls := 0
	got, err := DoWithResult(context.Background(), p, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errTest
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}
