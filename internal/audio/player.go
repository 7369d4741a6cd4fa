// Package audio owns the speaker. A single [Player] turns synthesized WAV
// artifacts into sound through the system audio device and guarantees that at
// most one clip is audible at a time.
//
// Playback is blocking and interruptible: [Player.Play] returns when the clip
// finishes, the context is cancelled, or another goroutine calls
// [Player.Stop]. Repeated device failures trip a breaker and surface as
// [ErrUnavailable] so callers can report the device as gone instead of
// retrying forever.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stagecue/stagecue/internal/resilience"
	"github.com/stagecue/stagecue/internal/response"
)

// ErrUnavailable reports that the output device has failed repeatedly and
// playback is suspended until it recovers.
var ErrUnavailable = errors.New("audio: playback unavailable")

// DeviceError wraps a failure of the underlying output device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Stream is one in-flight playback on the output device.
type Stream interface {
	Play()
	IsPlaying() bool
	Pause()
	Close() error
}

// Device abstracts the system audio output so the player can be exercised
// without real hardware.
type Device interface {
	NewStream(r io.Reader) (Stream, error)
}

const pollInterval = 10 * time.Millisecond

// Player plays WAV artifacts serially on a [Device]. It is safe for
// concurrent use, though in practice one goroutine plays while others only
// call [Player.Stop].
type Player struct {
	device  Device
	breaker *resilience.Breaker
	poll    time.Duration

	mu     sync.Mutex
	active Stream
}

// Option configures a [Player].
type Option func(*Player)

// WithBreaker replaces the default device breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(p *Player) { p.breaker = b }
}

// WithPollInterval overrides how often playback completion is checked.
func WithPollInterval(d time.Duration) Option {
	return func(p *Player) { p.poll = d }
}

// NewPlayer creates a [Player] on top of dev.
func NewPlayer(dev Device, opts ...Option) *Player {
	p := &Player{
		device: dev,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name: "audio-device",
		}),
		poll: pollInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play renders art on the output device and blocks until the clip finishes,
// ctx is cancelled, or [Player.Stop] interrupts it. Interruption and
// cancellation are not errors: Play returns ctx.Err() on cancellation and nil
// when stopped. If the device breaker is open Play fails fast with
// [ErrUnavailable].
func (p *Player) Play(ctx context.Context, art *response.Artifact) error {
	pcm, err := ExtractPCM(art.Data)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	// Cancellation is routine preemption, not a device fault: it must not
	// count toward opening the breaker, so it travels beside the error.
	var interrupted bool
	err = p.breaker.Do(func() error {
		var playErr error
		interrupted, playErr = p.playPCM(ctx, pcm)
		return playErr
	})
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		return err
	case interrupted:
		return ctx.Err()
	}
	return nil
}

// playPCM reports interrupted=true when ctx cancellation ended playback. Only
// the returned error counts against the device breaker.
func (p *Player) playPCM(ctx context.Context, pcm []byte) (interrupted bool, _ error) {
	stream, err := p.device.NewStream(bytes.NewReader(pcm))
	if err != nil {
		return false, &DeviceError{Op: "open", Err: err}
	}

	p.mu.Lock()
	p.active = stream
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active = nil
		p.mu.Unlock()
	}()

	stream.Play()
	slog.Debug("playback started", "pcm_bytes", len(pcm))

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for stream.IsPlaying() {
		select {
		case <-ctx.Done():
			stream.Pause()
			if err := stream.Close(); err != nil {
				return true, &DeviceError{Op: "close", Err: err}
			}
			return true, nil
		case <-ticker.C:
		}
	}

	if err := stream.Close(); err != nil {
		return false, &DeviceError{Op: "close", Err: err}
	}
	return false, nil
}

// Stop interrupts the clip currently playing, if any. It returns immediately;
// the blocked Play call observes the paused stream and returns. Safe to call
// at any time, including when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()

	if active != nil {
		active.Pause()
		slog.Debug("playback interrupted")
	}
}

// Playing reports whether a clip is currently audible.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && p.active.IsPlaying()
}

// Healthy reports whether the device breaker currently admits playback.
func (p *Player) Healthy() bool {
	return p.breaker.State() != resilience.Open
}
