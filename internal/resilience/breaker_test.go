package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend error")

func TestNewBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.trip != 5 {
		t.Errorf("trip = %d, want 5", b.trip)
	}
	if b.retryAfter != 30*time.Second {
		t.Errorf("retryAfter = %v, want 30s", b.retryAfter)
	}
	if b.probes != 3 {
		t.Errorf("probes = %d, want 3", b.probes)
	}
	if b.State() != Closed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreakerClosedForwardsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", Trip: 3})
	called := false
	if err := b.Do(func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:       "test",
		Trip:       3,
		RetryAfter: time.Hour,
	})

	for range 3 {
		_ = b.Do(func() error { return errBackend })
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	err := b.Do(func() error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", Trip: 3})

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return nil })

	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after success", b.State())
	}
}

func TestBreakerHalfOpenClosesAfterProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:       "test",
		Trip:       1,
		RetryAfter: time.Nanosecond,
		Probes:     2,
	})

	_ = b.Do(func() error { return errBackend })
	time.Sleep(time.Millisecond)

	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open after retry delay", b.State())
	}

	for range 2 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe rejected: %v", err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after successful probes", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:       "test",
		Trip:       1,
		RetryAfter: time.Nanosecond,
		Probes:     2,
	})

	_ = b.Do(func() error { return errBackend })
	time.Sleep(time.Millisecond)

	_ = b.Do(func() error { return errBackend })
	if b.State() == Closed {
		t.Fatal("breaker closed after failed probe")
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", Trip: 1, RetryAfter: time.Hour})
	_ = b.Do(func() error { return errBackend })
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("state = %v after Reset, want closed", b.State())
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
