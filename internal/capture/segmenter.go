package capture

import (
	"log/slog"
	"time"

	"github.com/ambiware-labs/hark/internal/config"
)

type segState int

const (
	stateIdle segState = iota
	stateActiveSpeech
	stateTrailingSilence
)

func (s segState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActiveSpeech:
		return "active-speech"
	case stateTrailingSilence:
		return "trailing-silence"
	default:
		return "unknown"
	}
}

// Segmenter turns a continuous chunk stream into discrete utterances
// using time-based hysteresis. Time is derived from the sample stream
// itself (chunk length over sample rate), so decisions are deterministic
// and independent of scheduling jitter.
//
// Not safe for concurrent use: the capture goroutine owns it
// exclusively.
type Segmenter struct {
	cfg  config.CaptureConfig
	log  *slog.Logger
	sink func(*Utterance)

	state          segState
	buffer         []int16
	pos            time.Duration // stream position after the current chunk
	recordingStart time.Duration
	silenceStart   time.Duration
	activeLen      int // buffer length when trailing silence began
}

// NewSegmenter builds a segmenter that hands finalized utterances to
// sink. The sink runs on the capture goroutine and must not block.
func NewSegmenter(cfg config.CaptureConfig, log *slog.Logger, sink func(*Utterance)) *Segmenter {
	return &Segmenter{
		cfg:   cfg,
		log:   log.With(slog.String("component", "segmenter")),
		sink:  sink,
		state: stateIdle,
	}
}

// Process classifies one chunk and advances the state machine. Short
// chunks are classified as-is; their duration still advances the stream
// clock proportionally.
func (s *Segmenter) Process(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	s.pos += time.Duration(len(chunk)) * time.Second / time.Duration(s.cfg.SampleRate)
	verdict := Classify(chunk, s.cfg)

	switch s.state {
	case stateIdle:
		if !verdict.Active {
			return // discard silence
		}
		s.buffer = append(s.buffer[:0], chunk...)
		s.recordingStart = s.pos
		s.state = stateActiveSpeech
		s.log.Debug("voice detected",
			slog.Float64("volume", verdict.Volume),
			slog.Duration("stream_pos", s.pos))

	case stateActiveSpeech:
		s.buffer = append(s.buffer, chunk...)
		if !verdict.Active {
			s.silenceStart = s.pos
			s.activeLen = len(s.buffer) - len(chunk)
			s.state = stateTrailingSilence
		}

	case stateTrailingSilence:
		s.buffer = append(s.buffer, chunk...)
		if verdict.Active {
			// Speech resumed; the silence gap stays in the buffer.
			s.state = stateActiveSpeech
			return
		}
		if s.pos-s.silenceStart >= s.silenceDuration() {
			s.finalize()
		}
	}
}

// finalize commits the active span as an utterance when it is long
// enough and passes the whole-buffer speech test; otherwise the segment
// is discarded silently. Either way the buffer and timers reset.
func (s *Segmenter) finalize() {
	active := s.buffer[:s.activeLen]
	activeDur := s.silenceStart - s.recordingStart

	if activeDur >= s.minRecording() && SpeechLike(active, s.cfg) {
		committed := make([]int16, len(active))
		copy(committed, active)
		utt := newUtterance(committed, s.cfg.SampleRate, time.Now().UTC())
		s.log.Info("utterance committed",
			slog.Duration("duration", utt.Duration()),
			slog.Int("samples", len(committed)))
		s.sink(utt)
	} else {
		s.log.Debug("segment discarded",
			slog.Duration("active", activeDur),
			slog.Int("samples", len(active)))
	}
	s.reset()
}

// Reset discards any in-progress buffer, e.g. when the driver stops.
func (s *Segmenter) Reset() {
	s.reset()
}

func (s *Segmenter) reset() {
	s.buffer = s.buffer[:0]
	s.activeLen = 0
	s.recordingStart = 0
	s.silenceStart = 0
	s.state = stateIdle
}

func (s *Segmenter) silenceDuration() time.Duration {
	return time.Duration(s.cfg.SilenceDurationMS) * time.Millisecond
}

func (s *Segmenter) minRecording() time.Duration {
	return time.Duration(s.cfg.MinRecordingMS) * time.Millisecond
}
