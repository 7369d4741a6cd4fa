package health

import (
	"context"
	"errors"
)

// breakerBacked is anything guarded by circuit breakers that can say whether
// it still admits calls.
type breakerBacked interface {
	Healthy() bool
}

// AudioDevice reports readiness of the audio output device. The service
// cannot do its job when the device breaker is open, so this gates /readyz.
func AudioDevice(p breakerBacked) Checker {
	return Checker{
		Name: "audio",
		Check: func(context.Context) error {
			if !p.Healthy() {
				return errors.New("output device breaker open")
			}
			return nil
		},
	}
}

// Synthesis reports readiness of the speech-synthesis fallback chain. It
// fails only when every provider's breaker is open; prerecorded clips still
// play in that state, so callers may choose to treat this as a warning by
// not registering it.
func Synthesis(g breakerBacked) Checker {
	return Checker{
		Name: "tts",
		Check: func(context.Context) error {
			if !g.Healthy() {
				return errors.New("all synthesis breakers open")
			}
			return nil
		},
	}
}
