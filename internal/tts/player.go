package tts

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Player renders synthesized PCM to an output device. Play blocks until
// the chunk has been handed to the device.
type Player interface {
	Play(ctx context.Context, chunk SynthChunk) error
	Close() error
}

const playbackFrames = 1024

type portaudioPlayer struct {
	stream     *portaudio.Stream
	buf        []int16
	sampleRate int
	channels   int
}

// NewPortaudioPlayer opens the default output device. The stream stays
// open for the life of the player so back-to-back utterances do not pay
// device setup cost.
func NewPortaudioPlayer(sampleRate, channels int) (Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buf := make([]int16, playbackFrames*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), playbackFrames, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return &portaudioPlayer{stream: stream, buf: buf, sampleRate: sampleRate, channels: channels}, nil
}

func (p *portaudioPlayer) Play(ctx context.Context, chunk SynthChunk) error {
	if len(chunk.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int16, len(chunk.PCM)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(chunk.PCM[i*2:]))
	}
	for offset := 0; offset < len(samples); offset += len(p.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(p.buf, samples[offset:])
		for i := n; i < len(p.buf); i++ {
			p.buf[i] = 0
		}
		if err := p.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

func (p *portaudioPlayer) Close() error {
	_ = p.stream.Stop()
	err := p.stream.Close()
	portaudio.Terminate()
	return err
}

type discardPlayer struct{}

// NewDiscardPlayer drops audio on the floor. Useful on headless hosts
// and in tests.
func NewDiscardPlayer() Player { return discardPlayer{} }

func (discardPlayer) Play(ctx context.Context, _ SynthChunk) error { return ctx.Err() }

func (discardPlayer) Close() error { return nil }
