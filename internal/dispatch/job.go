package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagecue/stagecue/internal/response"
	"github.com/stagecue/stagecue/internal/trigger"
)

// JobState is the lifecycle position of a [Job].
type JobState int

const (
	// JobWaiting means the job sits in the queue.
	JobWaiting JobState = iota

	// JobActive means the job is being rendered or played. At most one job
	// is active at any instant.
	JobActive

	// JobCompleted means playback finished normally.
	JobCompleted

	// JobPreempted means a higher-priority job cut this one off mid-play.
	JobPreempted

	// JobDropped means the job was discarded without finishing: replaced in
	// the queue, stale, failed, skipped, or muted away.
	JobDropped
)

func (s JobState) String() string {
	switch s {
	case JobWaiting:
		return "waiting"
	case JobActive:
		return "active"
	case JobCompleted:
		return "completed"
	case JobPreempted:
		return "preempted"
	case JobDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Job is the unit the scheduler orders and executes: one trigger's path from
// enqueue to completion.
type Job struct {
	ID         uuid.UUID
	Trigger    trigger.Trigger
	EnqueuedAt time.Time

	// Spec is filled in at activation by the picker, except for resumed
	// jobs, which keep the spec they were preempted with.
	Spec response.ResponseSpec
}

// Drop and preemption reasons reported in status events.
const (
	ReasonReplaced    = "replaced"
	ReasonStale       = "stale"
	ReasonIdleGate    = "idle_gate"
	ReasonNoCandidate = "no_candidates"
	ReasonMissingClip = "missing_asset"
	ReasonSynthesis   = "synthesis"
	ReasonPlayback    = "playback"
	ReasonPreempted   = "preempt"
	ReasonMuted       = "mute"
	ReasonSkipped     = "skip"
	ReasonShutdown    = "shutdown"
)

// StatusEvent describes one job lifecycle transition. Events are delivered to
// the registered status callback from scheduler and producer goroutines; the
// callback must not block.
type StatusEvent struct {
	JobID  uuid.UUID
	Kind   trigger.Kind
	State  JobState
	Reason string
	Mode   Mode
	At     time.Time

	// StopLatency is how long the hard stop took, set on preempted events.
	StopLatency time.Duration
}

// StatusFunc receives job lifecycle events.
type StatusFunc func(StatusEvent)
