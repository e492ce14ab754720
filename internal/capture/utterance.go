package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Utterance is a finalized, accepted span of speech audio. Immutable
// after creation: at most one lives in the Store at a time, and a new
// one atomically supersedes its predecessor.
type Utterance struct {
	sampleRate int
	channels   int
	bitDepth   int
	samples    []int16
	capturedAt time.Time
}

func newUtterance(samples []int16, sampleRate int, capturedAt time.Time) *Utterance {
	return &Utterance{
		sampleRate: sampleRate,
		channels:   1,
		bitDepth:   16,
		samples:    samples,
		capturedAt: capturedAt,
	}
}

func (u *Utterance) SampleRate() int       { return u.sampleRate }
func (u *Utterance) Channels() int         { return u.channels }
func (u *Utterance) BitDepth() int         { return u.bitDepth }
func (u *Utterance) CapturedAt() time.Time { return u.capturedAt }

// Samples exposes the raw PCM. The slice is owned by the utterance;
// callers must not modify it.
func (u *Utterance) Samples() []int16 { return u.samples }

// Duration is derived from the payload length and sample rate.
func (u *Utterance) Duration() time.Duration {
	if u.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.samples)) * time.Second / time.Duration(u.sampleRate)
}

// PCMBytes returns the payload as little-endian 16-bit PCM.
func (u *Utterance) PCMBytes() []byte {
	out := make([]byte, len(u.samples)*2)
	for i, s := range u.samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// WriteWAV encodes the utterance as a mono 16-bit WAV container for
// collaborators that want a file rather than raw PCM.
func (u *Utterance) WriteWAV(ws io.WriteSeeker) error {
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: u.channels, SampleRate: u.sampleRate},
		Data:   make([]int, len(u.samples)),
	}
	for i, s := range u.samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(ws, u.sampleRate, u.bitDepth, u.channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
