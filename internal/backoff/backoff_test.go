package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowth(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayClampsToMax(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 2 * time.Second, Factor: 10, Jitter: 0}
	if got := p.Delay(5); got != 2*time.Second {
		t.Errorf("Delay(5) = %s, want clamp to 2s", got)
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.5}
	if got := p.delayWithRand(1, 0); got != 100*time.Millisecond {
		t.Errorf("zero random = %s, want base", got)
	}
	if got := p.delayWithRand(1, 1); got != 150*time.Millisecond {
		t.Errorf("full random = %s, want base*1.5", got)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Factor: 2}

	calls := 0
	got, err := Retry(context.Background(), p, 5, nil, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}

	wrapped := errors.New("still broken")
	_, err := Retry(context.Background(), p, 3, nil, func(int) (int, error) {
		return 0, wrapped
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, wrapped) {
		t.Errorf("err = %v, want to wrap last error", err)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
	fatal := errors.New("bad credentials")

	calls := 0
	_, err := Retry(context.Background(), p, 5, func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(int) (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want the non-retryable error itself", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	p := Policy{Initial: time.Hour, Max: time.Hour, Factor: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Retry(ctx, p, 3, nil, func(int) (int, error) {
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context deadline", err)
	}
}
