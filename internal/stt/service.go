package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ambiware-labs/hark/internal/bus"
	"github.com/ambiware-labs/hark/internal/config"
	"github.com/ambiware-labs/hark/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service transcribes finalized utterances from the bus and publishes
// final transcripts. One transcription per utterance; there is no
// partial/streaming path.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	logger     *slog.Logger
	ready      bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With(slog.String("component", "stt-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectUtterance, s.handleUtterance)
	if err != nil {
		return fmt.Errorf("subscribe utterances: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleUtterance(msg *nats.Msg) {
	var event protocol.UtteranceEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.Warn("failed to decode utterance event", slogError(err))
		return
	}
	if len(event.PCM) == 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		start := time.Now()
		result, err := s.recognizer.Transcribe(ctx, event.PCM, event.SampleRate, event.Channels)
		if err != nil {
			s.logger.Warn("transcription failed", slogError(err))
			return
		}
		if result.Text == "" {
			s.logger.Debug("utterance produced no transcript",
				slog.String("utterance_id", event.UtteranceID))
			return
		}
		s.logger.Info("utterance transcribed",
			slog.String("utterance_id", event.UtteranceID),
			slog.Duration("latency", time.Since(start)))
		s.publishTranscript(event, result)
	}()
}

func (s *Service) publishTranscript(event protocol.UtteranceEvent, result TranscriptResult) {
	msg := protocol.Transcript{
		SessionID:   event.SessionID,
		UtteranceID: event.UtteranceID,
		Text:        result.Text,
		Timestamp:   time.Now().UTC(),
		Confidence:  result.Confidence,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscriptFinal, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
