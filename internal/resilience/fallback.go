package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or had
// an open breaker.
var ErrAllFailed = errors.New("all backends failed")

// entry pairs a backend with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup chains a primary backend and any number of standbys of the
// same type. Calls go to the first entry whose breaker admits them; a failure
// moves on to the next entry in registration order.
//
// FallbackGroup is safe for concurrent use after the last Add.
type FallbackGroup[T any] struct {
	entries []entry[T]
	breaker BreakerConfig
}

// NewFallbackGroup creates a group with primary as its first entry. Each entry
// gets its own [Breaker] built from cfg.
func NewFallbackGroup[T any](name string, primary T, cfg BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{breaker: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a standby backend. Standbys are tried in the order added.
func (g *FallbackGroup[T]) Add(name string, backend T) {
	cfg := g.breaker
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   backend,
		breaker: NewBreaker(cfg),
	})
}

// Len reports how many backends are registered.
func (g *FallbackGroup[T]) Len() int { return len(g.entries) }

// Healthy reports whether at least one backend's breaker admits calls.
func (g *FallbackGroup[T]) Healthy() bool {
	for i := range g.entries {
		if g.entries[i].breaker.State() != Open {
			return true
		}
	}
	return false
}

// Do tries fn against each backend until one succeeds. Entries with an open
// breaker are skipped. If every entry fails the last error is wrapped in
// [ErrAllFailed].
func (g *FallbackGroup[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Do(func() error { return fn(e.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// DoWithResult tries fn against each backend in the group until one succeeds
// and returns its result. Package-level because Go methods cannot introduce
// type parameters.
func DoWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var inner error
			result, inner = fn(e.value)
			return inner
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
