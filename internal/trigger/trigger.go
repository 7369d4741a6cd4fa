// Package trigger defines the internal trigger representation and the chat
// classifier that produces keyword triggers from raw viewer messages.
//
// A Trigger is the classified cause for a potential audio response. Chat
// events become KeywordMatch triggers when the classifier finds a matching
// rule; timer ticks arrive as ScheduledBroadcast or IdleFiller triggers; and
// operator commands produce ManualCommand triggers. The classifier owns no
// queueing or playback logic — it only converts events into triggers.
package trigger

import "time"

// Kind enumerates the trigger causes, ordered here from lowest to highest
// scheduling priority.
type Kind int

const (
	// KindIdleFiller is low-priority idle-time chatter.
	KindIdleFiller Kind = iota

	// KindScheduledBroadcast is a timed announcement from the broadcast
	// rotation.
	KindScheduledBroadcast

	// KindKeywordMatch is a reply to a viewer chat message that matched a
	// keyword rule.
	KindKeywordMatch

	// KindManualCommand is an operator-initiated response. It outranks
	// everything else.
	KindManualCommand
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindIdleFiller:
		return "idle_filler"
	case KindScheduledBroadcast:
		return "scheduled_broadcast"
	case KindKeywordMatch:
		return "keyword_match"
	case KindManualCommand:
		return "manual_command"
	default:
		return "unknown"
	}
}

// Priority returns the scheduling priority for the kind. Higher values are
// dequeued first: ManualCommand > KeywordMatch > ScheduledBroadcast >
// IdleFiller.
func (k Kind) Priority() int { return int(k) }

// Preemptible reports whether a job of this kind may be interrupted by a
// higher-priority arrival. Only filler and broadcast audio are preemptible;
// keyword replies and manual plays run to completion unless force-skipped.
func (k Kind) Preemptible() bool {
	return k == KindIdleFiller || k == KindScheduledBroadcast
}

// ChatEvent is a single normalized viewer chat message, as delivered by the
// external chat-scraper collaborator. Events are immutable and consumed
// exactly once by the classifier.
type ChatEvent struct {
	// Platform tags the originating live-streaming platform (e.g. "douyin").
	Platform string

	// Text is the raw message content.
	Text string

	// SenderID identifies the viewer, when the platform exposes one.
	SenderID string

	// ArrivedAt is the time the event reached this process.
	ArrivedAt time.Time
}

// Trigger is a classified cause for a potential audio response. Triggers are
// created by classification (or by timers/commands) and owned by the dispatch
// queue until consumed.
type Trigger struct {
	Kind Kind

	// Keyword is the matched rule key for KindKeywordMatch triggers.
	Keyword string

	// Text carries the original chat text (keyword triggers) or the operator
	// supplied text (manual triggers).
	Text string

	// BroadcastID names the broadcast template for KindScheduledBroadcast.
	BroadcastID string

	// Clip is an operator-chosen prerecorded file for manual plays.
	Clip string

	// SenderID is the viewer that caused the trigger, when known.
	SenderID string

	CreatedAt time.Time
}
