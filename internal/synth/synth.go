// Package synth turns response text into WAV artifacts.
//
// A [Renderer] owns a small worker pool, a bounded audio cache and a failover
// chain of [Provider] backends. Rendering is asynchronous: callers receive a
// result channel they are free to abandon, which is how the dispatcher drops
// jobs that became stale while synthesis was still running.
package synth

import (
	"context"
	"fmt"
)

// Provider is a single speech-synthesis backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Synthesize converts text to a complete WAV file using the given voice.
	// It blocks until the audio is ready or ctx is done.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)

	// Name identifies the backend in logs and error messages.
	Name() string
}

// SynthesisError reports a failed synthesis attempt.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: %s: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// MissingAssetError reports a response clip that does not exist on disk.
type MissingAssetError struct {
	Path string
	Err  error
}

func (e *MissingAssetError) Error() string {
	return fmt.Sprintf("synth: missing clip %s: %v", e.Path, e.Err)
}

func (e *MissingAssetError) Unwrap() error { return e.Err }
