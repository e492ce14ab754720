package capture

import (
	"fmt"

	"github.com/ambiware-labs/hark/internal/config"
	"github.com/gordonklaus/portaudio"
)

type portaudioDevice struct {
	stream *portaudio.Stream
	buf    []int16
}

// OpenInputDevice opens the default input stream as a mono 16-bit
// device at the configured sample rate and chunk size.
func OpenInputDevice(cfg config.CaptureConfig) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	buf := make([]int16, cfg.ChunkSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.ChunkSize, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &portaudioDevice{stream: stream, buf: buf}, nil
}

// Read blocks until the device delivers one chunk. Input overflow is
// reported by portaudio when the host buffer wrapped; the data read is
// still valid, so it is treated as a successful (possibly truncated)
// read rather than an error.
func (d *portaudioDevice) Read(out []int16) (int, error) {
	if err := d.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return 0, err
	}
	return copy(out, d.buf), nil
}

func (d *portaudioDevice) Close() error {
	_ = d.stream.Stop()
	err := d.stream.Close()
	portaudio.Terminate()
	return err
}
