package dispatch

import (
	"sync/atomic"
	"time"
)

// Mode is the scheduler's audible state.
type Mode int

const (
	// ModeIdle means no active job and a silent output device.
	ModeIdle Mode = iota

	// ModeSpeaking means one job is active and the device is playing.
	ModeSpeaking

	// ModeCooldown is the short refractory period after normal playback
	// before the next job may start.
	ModeCooldown

	// ModeMuted means the queue accepts jobs but never activates them.
	ModeMuted
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSpeaking:
		return "speaking"
	case ModeCooldown:
		return "cooldown"
	case ModeMuted:
		return "muted"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the scheduler's mode.
type Snapshot struct {
	Mode  Mode
	Since time.Time
}

// Counters are monotonic job totals since startup.
type Counters struct {
	Enqueued  int64
	Completed int64
	Preempted int64
	Dropped   int64
	Depth     int64 // current queue depth, not monotonic
}

// Store holds the mode state machine with a single-writer discipline: only
// the scheduler loop calls setMode, everything else takes lock-free snapshot
// reads. This is how the picker's idle gate and the health/metrics surfaces
// observe the scheduler without touching its internals.
type Store struct {
	snap atomic.Pointer[Snapshot]

	enqueued  atomic.Int64
	completed atomic.Int64
	preempted atomic.Int64
	dropped   atomic.Int64
	depth     atomic.Int64
}

// NewStore creates a [Store] starting in [ModeIdle].
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(&Snapshot{Mode: ModeIdle, Since: time.Now()})
	return s
}

// setMode records a transition. Scheduler loop only. Setting the current
// mode again is a no-op and does not reset Since.
func (s *Store) setMode(m Mode) {
	if s.snap.Load().Mode == m {
		return
	}
	s.snap.Store(&Snapshot{Mode: m, Since: time.Now()})
}

// Snapshot returns the current mode view.
func (s *Store) Snapshot() Snapshot { return *s.snap.Load() }

// Mode returns the current mode.
func (s *Store) Mode() Mode { return s.snap.Load().Mode }

// IdleFor returns how long the scheduler has been idle, or zero when it is
// in any other mode.
func (s *Store) IdleFor() time.Duration {
	snap := s.snap.Load()
	if snap.Mode != ModeIdle {
		return 0
	}
	return time.Since(snap.Since)
}

// Counters returns the job totals and current queue depth.
func (s *Store) Counters() Counters {
	return Counters{
		Enqueued:  s.enqueued.Load(),
		Completed: s.completed.Load(),
		Preempted: s.preempted.Load(),
		Dropped:   s.dropped.Load(),
		Depth:     s.depth.Load(),
	}
}
