// Package source accepts viewer chat events and operator commands over a
// WebSocket ingest endpoint and turns them into triggers for the dispatch
// queue. It also pushes job lifecycle status frames back to every connected
// client.
package source

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagecue/stagecue/internal/dispatch"
	"github.com/stagecue/stagecue/internal/trigger"
)

// Envelope message types.
const (
	TypeChat    = "chat"
	TypeCommand = "command"
	TypeStatus  = "status"
)

// Operator command codes. Codes outside this set name a manual response
// group: the group key is the envelope group field, or the decimal code
// itself when no group is given.
const (
	// CodeUnmute resumes playback and prunes stale queued jobs.
	CodeUnmute = 10001

	// CodeMute stops the active job and holds the queue.
	CodeMute = 10002

	// CodeReport schedules a one-shot announcement from the envelope's
	// group after delay_seconds.
	CodeReport = 10003

	// CodeSkip abandons the active job without touching the queue.
	CodeSkip = 10004

	// CodeFollow and CodeLike play a rate-limited acknowledgement at
	// broadcast priority, never interrupting the active job.
	CodeFollow = -2
	CodeLike   = -3
)

// Envelope is one inbound client frame. Type selects which fields apply.
type Envelope struct {
	Type string `json:"type"`

	// Chat fields.
	Platform string `json:"platform,omitempty"`
	Sender   string `json:"sender,omitempty"`

	// Text carries the chat message, or the manual line to synthesize.
	Text string `json:"text,omitempty"`

	// Command fields.
	Code         int    `json:"code,omitempty"`
	Group        string `json:"group,omitempty"`
	Clip         string `json:"clip,omitempty"`
	DelaySeconds int    `json:"delay_seconds,omitempty"`
}

// StatusMessage is one outbound job lifecycle frame.
type StatusMessage struct {
	Type   string    `json:"type"`
	JobID  string    `json:"job_id"`
	Kind   string    `json:"kind"`
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Mode   string    `json:"mode"`
	At     time.Time `json:"at"`

	// StopLatencyMS reports preemption hard-stop time in milliseconds.
	StopLatencyMS int64 `json:"stop_latency_ms,omitempty"`
}

func statusMessage(ev dispatch.StatusEvent) StatusMessage {
	return StatusMessage{
		Type:          TypeStatus,
		JobID:         ev.JobID.String(),
		Kind:          ev.Kind.String(),
		State:         ev.State.String(),
		Reason:        ev.Reason,
		Mode:          ev.Mode.String(),
		At:            ev.At,
		StopLatencyMS: ev.StopLatency.Milliseconds(),
	}
}

// Control is the slice of the scheduler the ingest layer drives.
type Control interface {
	Submit(trigger.Trigger) uuid.UUID
	Mute()
	Unmute()
	ForceSkip()
}

// Classifier turns chat events into keyword triggers.
type Classifier interface {
	Submit(trigger.ChatEvent) (trigger.Trigger, bool)
}
