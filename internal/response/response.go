// Package response defines the ResponseSpec and Artifact types shared by the
// picker, the synthesis layer, and the dispatch scheduler.
//
// A ResponseSpec describes one concrete audio response: either a prerecorded
// clip on disk or a piece of text to be synthesized with a specific voice.
// Specs are immutable once produced by the picker. An Artifact is the fully
// rendered result — WAV bytes ready for the audio player.
package response

import "strings"

// Category identifies which response class a spec belongs to. It mirrors the
// trigger kind that produced the spec and is used for per-category queue
// bounds in the scheduler.
type Category string

const (
	CategoryKeyword   Category = "keyword"
	CategoryBroadcast Category = "broadcast"
	CategoryFiller    Category = "filler"
	CategoryManual    Category = "manual"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryKeyword, CategoryBroadcast, CategoryFiller, CategoryManual:
		return true
	}
	return false
}

// ResponseSpec is one selectable audio response. Exactly one of Clip or Text
// is set: Clip points at a prerecorded file, Text is synthesized with VoiceID.
type ResponseSpec struct {
	// Category records the response class this spec was selected for.
	Category Category

	// Key is the keyword or broadcast template the spec was registered under.
	// Empty for filler responses.
	Key string

	// Clip is the path of a prerecorded audio file. Empty for synthesized
	// responses.
	Clip string

	// Text is the text to synthesize. Empty for prerecorded responses.
	Text string

	// VoiceID selects the synthesis voice. Only meaningful when Text is set.
	VoiceID string

	// Weight biases random selection among sibling specs. Zero means 1.
	Weight int
}

// Synthesized reports whether the spec requires speech synthesis.
func (s ResponseSpec) Synthesized() bool { return s.Text != "" }

// IsNoOp reports whether s is the sentinel "nothing to play" spec returned by
// the picker when a filler trigger arrives outside the idle window. Callers
// must drop the trigger instead of enqueueing a job.
func (s ResponseSpec) IsNoOp() bool { return s.Clip == "" && s.Text == "" }

// EffectiveWeight returns the selection weight, treating zero or negative
// configured weights as 1.
func (s ResponseSpec) EffectiveWeight() int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

// Artifact is a fully rendered audio response. Data holds a complete RIFF/WAVE
// container; the player strips the header before handing PCM to the device.
type Artifact struct {
	// Data is the WAV file content.
	Data []byte

	// Origin describes where the artifact came from ("clip:<path>" or
	// "synth:<voice>"). Used in logs and status notifications only.
	Origin string
}

// NormalizeText canonicalises text for synthesis-cache keying: lower-cased
// with runs of whitespace collapsed to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
