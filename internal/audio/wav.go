package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const riffHeaderLen = 44

// ExtractPCM walks the RIFF chunk list of a WAV file and returns the raw PCM
// payload of its data chunk.
func ExtractPCM(wav []byte) ([]byte, error) {
	if len(wav) < riffHeaderLen {
		return nil, errors.New("audio: wav data too short")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("audio: not a wav file")
	}

	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		if id == "data" {
			start := pos + 8
			end := start + size
			if end > len(wav) {
				end = len(wav)
			}
			return wav[start:end], nil
		}
		pos += 8 + size
		// Chunks are word-aligned.
		if size%2 != 0 {
			pos++
		}
	}
	return nil, errors.New("audio: wav data chunk not found")
}

// Format reads the fmt chunk of a WAV file and returns its sample rate and
// channel count.
func Format(wav []byte) (sampleRate, channels int, err error) {
	if len(wav) < riffHeaderLen {
		return 0, 0, errors.New("audio: wav data too short")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, 0, errors.New("audio: not a wav file")
	}

	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		if id == "fmt " {
			if size < 16 || pos+8+16 > len(wav) {
				return 0, 0, fmt.Errorf("audio: fmt chunk truncated (%d bytes)", size)
			}
			channels = int(binary.LittleEndian.Uint16(wav[pos+10 : pos+12]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[pos+12 : pos+16]))
			return sampleRate, channels, nil
		}
		pos += 8 + size
		if size%2 != 0 {
			pos++
		}
	}
	return 0, 0, errors.New("audio: wav fmt chunk not found")
}
