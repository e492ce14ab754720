package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ambiware-labs/hark/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Device abstracts the audio input stream. Read blocks for up to one
// chunk's worth of time and fills buf with up to len(buf) samples; a
// truncated read is reported through n, not an error.
type Device interface {
	Read(buf []int16) (n int, err error)
	Close() error
}

// DeviceOpener opens the input device at driver start.
type DeviceOpener func(cfg config.CaptureConfig) (Device, error)

// Driver owns the audio input device and runs the pull loop on a
// dedicated goroutine. The segmenter is touched only from that
// goroutine; the Store is the sole boundary to readers.
type Driver struct {
	cfg   config.CaptureConfig
	open  DeviceOpener
	store *Store
	log   *slog.Logger

	mu      sync.Mutex
	running bool
	device  Device
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastErr error

	chunksRead metric.Int64Counter
	readErrors metric.Int64Counter
	committed  metric.Int64Counter
}

func NewDriver(cfg config.CaptureConfig, open DeviceOpener, store *Store, log *slog.Logger) *Driver {
	d := &Driver{
		cfg:   cfg,
		open:  open,
		store: store,
		log:   log.With(slog.String("component", "capture-driver")),
	}
	d.initMetrics()
	return d
}

func (d *Driver) initMetrics() {
	meter := otel.Meter("github.com/ambiware-labs/hark/capture")
	var err error
	if d.chunksRead, err = meter.Int64Counter("hark.capture.chunks_read"); err != nil {
		d.log.Warn("failed to create chunk counter", slog.String("error", err.Error()))
	}
	if d.readErrors, err = meter.Int64Counter("hark.capture.read_errors"); err != nil {
		d.log.Warn("failed to create error counter", slog.String("error", err.Error()))
	}
	if d.committed, err = meter.Int64Counter("hark.capture.utterances_committed"); err != nil {
		d.log.Warn("failed to create utterance counter", slog.String("error", err.Error()))
	}
}

// Start opens the device and spawns the pull loop. Idempotent: calling
// it while running is a no-op. Returns immediately.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	// A loop that died on a fatal read error leaves the device handle
	// set; release it before opening a fresh one.
	if d.device != nil {
		if cerr := d.device.Close(); cerr != nil {
			d.log.Warn("failed to close stale capture device", slog.String("error", cerr.Error()))
		}
		d.device = nil
	}

	device, err := d.open(d.cfg)
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}

	seg := NewSegmenter(d.cfg, d.log, func(u *Utterance) {
		d.store.Publish(u)
		if d.committed != nil {
			d.committed.Add(context.Background(), 1)
		}
	})

	d.device = device
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.lastErr = nil
	d.running = true

	go d.pullLoop(device, seg, d.stopCh, d.doneCh)
	d.log.Info("capture started",
		slog.Int("sample_rate", d.cfg.SampleRate),
		slog.Int("chunk_size", d.cfg.ChunkSize))
	return nil
}

// Stop signals the pull loop to exit and waits up to the configured
// timeout for it to finish. Idempotent. On timeout the loop is
// abandoned; Shutdown still releases the device, which unblocks a
// pending read.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	stopCh, doneCh := d.stopCh, d.doneCh
	d.running = false
	d.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(time.Duration(d.cfg.StopTimeoutMS) * time.Millisecond):
		d.log.Warn("capture loop did not stop within timeout")
	}
	return d.Err()
}

// Shutdown stops the loop and releases the device. Safe to call
// multiple times.
func (d *Driver) Shutdown() error {
	err := d.Stop()

	d.mu.Lock()
	device := d.device
	d.device = nil
	d.mu.Unlock()

	if device != nil {
		if cerr := device.Close(); cerr != nil {
			d.log.Warn("failed to close capture device", slog.String("error", cerr.Error()))
		}
	}
	return err
}

// Latest returns the most recent finalized utterance without consuming
// it, or nil.
func (d *Driver) Latest() *Utterance { return d.store.Peek() }

// TakeLatest atomically consumes the most recent utterance, or nil.
func (d *Driver) TakeLatest() *Utterance { return d.store.Take() }

// ClearLatest drops the most recent utterance. Idempotent.
func (d *Driver) ClearLatest() { d.store.Clear() }

// Store exposes the utterance slot for consumers that wait on its
// notify channel.
func (d *Driver) Store() *Store { return d.store }

// Running reports whether the pull loop is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Err returns the fatal error that terminated the pull loop, if any.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Driver) setErr(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.running = false
	d.mu.Unlock()
}

// pullLoop reads one chunk at a time and feeds the segmenter. Transient
// read failures skip the chunk; a run of consecutive failures is
// treated as a dead device and terminates the loop.
func (d *Driver) pullLoop(device Device, seg *Segmenter, stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)
	defer seg.Reset()

	buf := make([]int16, d.cfg.ChunkSize)
	consecutive := 0

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := device.Read(buf)
		if err != nil {
			if d.readErrors != nil {
				d.readErrors.Add(context.Background(), 1)
			}
			consecutive++
			if consecutive >= d.cfg.MaxConsecutiveErrs {
				d.setErr(fmt.Errorf("capture device failed: %w", err))
				d.log.Error("capture loop terminated",
					slog.String("error", err.Error()),
					slog.Int("consecutive_failures", consecutive))
				return
			}
			d.log.Warn("chunk read failed, skipping", slog.String("error", err.Error()))
			continue
		}
		consecutive = 0
		if n == 0 {
			continue
		}

		// Copy so the device buffer is never aliased by the segmenter.
		chunk := make([]int16, n)
		copy(chunk, buf[:n])
		seg.Process(chunk)
		if d.chunksRead != nil {
			d.chunksRead.Add(context.Background(), 1)
		}
	}
}
