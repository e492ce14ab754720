package capture

import (
	"math"

	"github.com/ambiware-labs/hark/internal/config"
)

// Verdict is the per-chunk classification result. It is a plain value,
// discarded after each segmentation decision.
type Verdict struct {
	Volume float64
	Active bool
}

// Classify computes the fast per-chunk gate: RMS volume against the
// silence threshold. The stricter whole-buffer speech test lives in
// SpeechLike.
func Classify(samples []int16, cfg config.CaptureConfig) Verdict {
	volume := ChunkVolume(samples)
	return Verdict{Volume: volume, Active: volume > cfg.SilenceThreshold}
}

// ChunkVolume returns the root-mean-square amplitude of the samples,
// accumulated in float64 so large chunks cannot overflow. Empty input
// and non-finite results yield 0 so one malformed chunk cannot corrupt
// a segmentation decision.
func ChunkVolume(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	volume := math.Sqrt(sum / float64(len(samples)))
	if math.IsNaN(volume) || math.IsInf(volume, 0) {
		return 0
	}
	return volume
}

// DynamicRange returns max sample minus min sample across the buffer.
func DynamicRange(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}
	min, max := samples[0], samples[0]
	for _, s := range samples[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return int(max) - int(min)
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose
// sign differs. Speech sits in a moderate band: pure noise crosses far
// more often, hum and rumble far less.
func ZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	prev := sign(samples[0])
	for _, s := range samples[1:] {
		cur := sign(s)
		if cur != prev {
			crossings++
		}
		prev = cur
	}
	return float64(crossings) / float64(len(samples))
}

// SpeechLike decides whether a finalized buffer holds actual speech
// rather than background noise. Applied to whole utterances only:
// dynamic range and zero-crossing rate are not meaningful over a single
// chunk, and running the full test per chunk would flag short noise
// bursts.
func SpeechLike(samples []int16, cfg config.CaptureConfig) bool {
	if len(samples) == 0 {
		return false
	}
	volume := ChunkVolume(samples)
	if volume <= cfg.SpeechThreshold {
		return false
	}
	if DynamicRange(samples) <= cfg.MinDynamicRange {
		return false
	}
	zcr := ZeroCrossingRate(samples)
	return zcr > cfg.ZCRMin && zcr < cfg.ZCRMax
}

func sign(s int16) int {
	switch {
	case s > 0:
		return 1
	case s < 0:
		return -1
	default:
		return 0
	}
}
