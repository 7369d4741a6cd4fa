package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFallbackGroupPrimarySucceeds(t *testing.T) {
	g := NewFallbackGroup("primary", 1, BreakerConfig{})
	g.Add("standby", 2)

	var used int
	err := g.Do(func(v int) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != 1 {
		t.Errorf("used backend %d, want primary (1)", used)
	}
}

func TestFallbackGroupFallsThrough(t *testing.T) {
	g := NewFallbackGroup("primary", 1, BreakerConfig{})
	g.Add("standby", 2)

	var used int
	err := g.Do(func(v int) error {
		if v == 1 {
			return errBackend
		}
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != 2 {
		t.Errorf("used backend %d, want standby (2)", used)
	}
}

func TestFallbackGroupAllFail(t *testing.T) {
	g := NewFallbackGroup("primary", 1, BreakerConfig{})
	g.Add("standby", 2)

	err := g.Do(func(int) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	g := NewFallbackGroup("primary", 1, BreakerConfig{
		Trip:       1,
		RetryAfter: time.Hour,
	})
	g.Add("standby", 2)

	// Trip the primary's breaker.
	_ = g.Do(func(v int) error {
		if v == 1 {
			return errBackend
		}
		return nil
	})

	// The primary must not be called again while its breaker is open.
	calls := make(map[int]int)
	err := g.Do(func(v int) error {
		calls[v]++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls[1] != 0 {
		t.Errorf("primary called %d times with open breaker, want 0", calls[1])
	}
	if calls[2] != 1 {
		t.Errorf("standby called %d times, want 1", calls[2])
	}
}

func TestDoWithResult(t *testing.T) {
	g := NewFallbackGroup("primary", "a", BreakerConfig{})
	g.Add("standby", "b")

	got, err := DoWithResult(g, func(v string) (string, error) {
		if v == "a" {
			return "", errBackend
		}
		return v + "!", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "b!" {
		t.Errorf("result = %q, want %q", got, "b!")
	}
}

func TestDoWithResultAllFail(t *testing.T) {
	g := NewFallbackGroup("only", "a", BreakerConfig{})

	_, err := DoWithResult(g, func(string) (string, error) {
		return "", errBackend
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupHealthy(t *testing.T) {
	g := NewFallbackGroup("primary", 1, BreakerConfig{
		Trip:       1,
		RetryAfter: time.Hour,
	})
	g.Add("standby", 2)

	if !g.Healthy() {
		t.Fatal("fresh group reported unhealthy")
	}

	// Trip both breakers.
	_ = g.Do(func(int) error { return errBackend })
	if g.Healthy() {
		t.Fatal("group with all breakers open reported healthy")
	}
}
