package capture

import (
	"math"
	"testing"

	"github.com/ambiware-labs/hark/internal/config"
)

// tone builds a square wave that flips sign every halfPeriod samples.
// RMS equals amp, dynamic range 2*amp, zero-crossing rate 1/halfPeriod.
func tone(amp int16, halfPeriod, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if (i/halfPeriod)%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func captureDefaults() config.CaptureConfig {
	return config.Default().Capture
}

func TestChunkVolumeEmpty(t *testing.T) {
	if v := ChunkVolume(nil); v != 0 {
		t.Fatalf("expected 0 for empty chunk, got %v", v)
	}
	if v := ChunkVolume([]int16{}); v != 0 {
		t.Fatalf("expected 0 for empty chunk, got %v", v)
	}
}

func TestChunkVolumeRMS(t *testing.T) {
	v := ChunkVolume(tone(500, 10, 1024))
	if math.Abs(v-500) > 0.5 {
		t.Fatalf("expected RMS 500, got %v", v)
	}

	v = ChunkVolume([]int16{10, 10, 10, 10})
	if math.Abs(v-10) > 1e-9 {
		t.Fatalf("expected RMS 10, got %v", v)
	}
}

func TestChunkVolumeLargeAmplitudeNoOverflow(t *testing.T) {
	samples := make([]int16, 65536)
	for i := range samples {
		samples[i] = math.MaxInt16
	}
	v := ChunkVolume(samples)
	if math.Abs(v-float64(math.MaxInt16)) > 0.5 {
		t.Fatalf("expected RMS %d, got %v", math.MaxInt16, v)
	}
}

func TestDynamicRange(t *testing.T) {
	if dr := DynamicRange(tone(2000, 10, 100)); dr != 4000 {
		t.Fatalf("expected dynamic range 4000, got %d", dr)
	}
	if dr := DynamicRange([]int16{5, 5, 5}); dr != 0 {
		t.Fatalf("expected dynamic range 0 for constant signal, got %d", dr)
	}
	if dr := DynamicRange(nil); dr != 0 {
		t.Fatalf("expected dynamic range 0 for empty input, got %d", dr)
	}
}

func TestZeroCrossingRate(t *testing.T) {
	zcr := ZeroCrossingRate(tone(1000, 10, 1000))
	if math.Abs(zcr-0.1) > 0.01 {
		t.Fatalf("expected zcr near 0.1, got %v", zcr)
	}
	if zcr := ZeroCrossingRate([]int16{7, 7, 7, 7}); zcr != 0 {
		t.Fatalf("expected zcr 0 for constant signal, got %v", zcr)
	}
	if zcr := ZeroCrossingRate([]int16{1}); zcr != 0 {
		t.Fatalf("expected zcr 0 for single sample, got %v", zcr)
	}
}

func TestSpeechLike(t *testing.T) {
	cfg := captureDefaults()

	if !SpeechLike(tone(2000, 10, 16000), cfg) {
		t.Fatal("loud moderate-zcr tone should pass the speech test")
	}
	if SpeechLike(tone(120, 10, 16000), cfg) {
		t.Fatal("volume below speech threshold must fail")
	}
	// Loud but flat: hum with no crossings.
	flat := make([]int16, 16000)
	for i := range flat {
		flat[i] = 2000
	}
	if SpeechLike(flat, cfg) {
		t.Fatal("zero-crossing rate of 0 must fail")
	}
	// Loud but crossing every sample: white-noise-like.
	if SpeechLike(tone(2000, 1, 16000), cfg) {
		t.Fatal("zcr of 1.0 is outside the speech band and must fail")
	}
	if SpeechLike(nil, cfg) {
		t.Fatal("empty buffer must fail")
	}
}

func TestClassifyGate(t *testing.T) {
	cfg := captureDefaults()

	v := Classify(tone(500, 10, 1024), cfg)
	if !v.Active {
		t.Fatalf("volume %v should be above the silence gate", v.Volume)
	}
	v = Classify(tone(50, 10, 1024), cfg)
	if v.Active {
		t.Fatalf("volume %v should be below the silence gate", v.Volume)
	}
}
