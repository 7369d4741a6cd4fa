// Package resilience contains the failure-handling primitives shared by the
// synthesis and playback paths.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) used to
// stop hammering an output device or TTS backend that keeps failing.
// [FallbackGroup] chains several instances of the same backend type behind
// per-entry breakers so a dead primary is skipped in favour of a healthy
// standby.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the retry
// delay has not yet elapsed.
var ErrOpen = errors.New("breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until RetryAfter elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through to decide whether
	// the backend has recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// Trip is the number of consecutive failures that opens the breaker.
	// Default: 5.
	Trip int

	// RetryAfter is how long the breaker stays open before allowing probes.
	// Default: 30s.
	RetryAfter time.Duration

	// Probes is how many half-open calls must succeed before the breaker
	// closes again. Default: 3.
	Probes int
}

// Breaker is a three-state circuit breaker. A run of Trip consecutive
// failures opens it; after RetryAfter it admits up to Probes calls and closes
// only if all of them succeed.
type Breaker struct {
	name       string
	trip       int
	retryAfter time.Duration
	probes     int

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probeCalls int
	probeFails int
}

// NewBreaker creates a [Breaker], filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	return &Breaker{
		name:       cfg.Name,
		trip:       cfg.Trip,
		retryAfter: cfg.RetryAfter,
		probes:     cfg.Probes,
		state:      Closed,
	}
}

// Do runs fn unless the breaker is open, in which case it returns [ErrOpen]
// without calling fn. In the half-open state only the probe budget worth of
// calls is admitted.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.retryAfter {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("breaker half-open", "name", b.name)

	case HalfOpen:
		if b.probeCalls >= b.probes {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.pass(probing)
	}
	return err
}

// fail updates counters after a failed call. Caller holds b.mu.
func (b *Breaker) fail(probing bool) {
	b.openedAt = time.Now()

	if probing {
		b.probeFails++
		// One failed probe re-opens immediately.
		b.state = Open
		b.failures = b.trip
		slog.Warn("breaker re-opened", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.trip {
		b.state = Open
		slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}

// pass updates counters after a successful call. Caller holds b.mu.
func (b *Breaker) pass(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probes {
			b.state = Closed
			b.failures = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose retry delay has
// elapsed reports [HalfOpen]; the real transition happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.retryAfter {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}
