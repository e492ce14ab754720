package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ambiware-labs/hark/internal/config"
)

// scriptedDevice replays a fixed chunk sequence, then serves silence
// (or a terminal error) forever.
type scriptedDevice struct {
	mu       sync.Mutex
	script   [][]int16
	after    []int16
	afterErr error
	reads    int
	closed   atomic.Bool
}

func (d *scriptedDevice) Read(buf []int16) (int, error) {
	if d.closed.Load() {
		return 0, errors.New("device closed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if len(d.script) > 0 {
		chunk := d.script[0]
		d.script = d.script[1:]
		return copy(buf, chunk), nil
	}
	if d.afterErr != nil {
		return 0, d.afterErr
	}
	// Pace trailing silence roughly like a real device so the loop
	// does not spin.
	time.Sleep(time.Millisecond)
	return copy(buf, d.after), nil
}

func (d *scriptedDevice) Close() error {
	d.closed.Store(true)
	return nil
}

func newTestDriver(t *testing.T, device Device) *Driver {
	t.Helper()
	cfg := captureDefaults()
	cfg.StopTimeoutMS = 500
	d := NewDriver(cfg, func(config.CaptureConfig) (Device, error) {
		return device, nil
	}, NewStore(), testLogger())
	t.Cleanup(func() { _ = d.Shutdown() })
	return d
}

func waitForUtterance(t *testing.T, d *Driver) *Utterance {
	t.Helper()
	select {
	case <-d.Store().Notify():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an utterance")
	}
	u := d.Latest()
	if u == nil {
		t.Fatal("notify fired but store is empty")
	}
	return u
}

func speechScript() [][]int16 {
	var script [][]int16
	for i := 0; i < 20; i++ {
		script = append(script, speechChunk())
	}
	for i := 0; i < 20; i++ {
		script = append(script, silenceChunk())
	}
	return script
}

func TestDriverPublishesUtterance(t *testing.T) {
	device := &scriptedDevice{script: speechScript(), after: silenceChunk()}
	d := newTestDriver(t, device)

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	utt := waitForUtterance(t, d)
	if utt.SampleRate() != 16000 || utt.Channels() != 1 || utt.BitDepth() != 16 {
		t.Fatalf("unexpected metadata: %d/%d/%d", utt.SampleRate(), utt.Channels(), utt.BitDepth())
	}
	if d := utt.Duration(); d < 1270*time.Millisecond || d > 1290*time.Millisecond {
		t.Fatalf("expected ~1.28s utterance, got %v", d)
	}

	d.ClearLatest()
	if d.Latest() != nil {
		t.Fatal("expected cleared slot")
	}
	d.ClearLatest() // idempotent
}

func TestDriverStartIdempotent(t *testing.T) {
	device := &scriptedDevice{after: silenceChunk()}
	cfg := captureDefaults()
	cfg.StopTimeoutMS = 500
	var opens atomic.Int32
	d := NewDriver(cfg, func(config.CaptureConfig) (Device, error) {
		opens.Add(1)
		return device, nil
	}, NewStore(), testLogger())
	t.Cleanup(func() { _ = d.Shutdown() })

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if opens.Load() != 1 {
		t.Fatalf("expected one device open, got %d", opens.Load())
	}
	if !d.Running() {
		t.Fatal("expected running driver")
	}
}

func TestDriverStopIdempotent(t *testing.T) {
	device := &scriptedDevice{after: silenceChunk()}
	d := newTestDriver(t, device)

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.Running() {
		t.Fatal("expected stopped driver")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !device.closed.Load() {
		t.Fatal("expected device released on shutdown")
	}
}

func TestDriverSkipsTransientReadErrors(t *testing.T) {
	// A few failed reads interleaved before the speech script: the loop
	// must skip them and still produce the utterance.
	device := &scriptedDevice{script: speechScript(), after: silenceChunk()}
	failing := &flakyDevice{inner: device, failures: 3}
	d := newTestDriver(t, failing)

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForUtterance(t, d)
	if err := d.Err(); err != nil {
		t.Fatalf("transient errors must not be fatal: %v", err)
	}
}

type flakyDevice struct {
	inner    *scriptedDevice
	failures int
}

func (d *flakyDevice) Read(buf []int16) (int, error) {
	if d.failures > 0 {
		d.failures--
		return 0, errors.New("transient overrun")
	}
	return d.inner.Read(buf)
}

func (d *flakyDevice) Close() error { return d.inner.Close() }

func TestDriverTerminatesOnPersistentFailure(t *testing.T) {
	device := &scriptedDevice{afterErr: errors.New("device disconnected")}
	d := newTestDriver(t, device)

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.Err() != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if d.Err() == nil {
		t.Fatal("expected a fatal driver error")
	}
	if d.Running() {
		t.Fatal("expected loop terminated")
	}
}

func TestDriverRestartAfterFatalErrorReleasesDevice(t *testing.T) {
	first := &scriptedDevice{afterErr: errors.New("device disconnected")}
	second := &scriptedDevice{after: silenceChunk()}
	cfg := captureDefaults()
	cfg.StopTimeoutMS = 500
	devices := []*scriptedDevice{first, second}
	d := NewDriver(cfg, func(config.CaptureConfig) (Device, error) {
		dev := devices[0]
		devices = devices[1:]
		return dev, nil
	}, NewStore(), testLogger())
	t.Cleanup(func() { _ = d.Shutdown() })

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && d.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
	if d.Err() == nil {
		t.Fatal("expected a fatal driver error")
	}

	if err := d.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !first.closed.Load() {
		t.Fatal("expected the dead device released on restart")
	}
	if !d.Running() {
		t.Fatal("expected running driver after restart")
	}
	if err := d.Err(); err != nil {
		t.Fatalf("restart must clear the previous error, got %v", err)
	}
}

func TestDriverOpenFailureSurfaces(t *testing.T) {
	cfg := captureDefaults()
	d := NewDriver(cfg, func(config.CaptureConfig) (Device, error) {
		return nil, errors.New("no input device")
	}, NewStore(), testLogger())

	if err := d.Start(); err == nil {
		t.Fatal("expected start to fail when the device cannot open")
	}
	if d.Running() {
		t.Fatal("driver must not report running after failed start")
	}
}
