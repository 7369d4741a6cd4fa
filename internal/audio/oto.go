package audio

import (
	"fmt"
	"io"

	"github.com/ebitengine/oto/v3"
)

// otoDevice adapts an oto context to the [Device] interface.
type otoDevice struct {
	ctx *oto.Context
}

// OpenDevice initializes the system audio output for 16-bit little-endian PCM
// at the given rate and channel count. It blocks until the device is ready.
func OpenDevice(sampleRate, channels int) (Device, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: open device: %w", err)
	}
	<-ready
	return &otoDevice{ctx: ctx}, nil
}

func (d *otoDevice) NewStream(r io.Reader) (Stream, error) {
	return d.ctx.NewPlayer(r), nil
}
