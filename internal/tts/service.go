package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ambiware-labs/hark/internal/bus"
	"github.com/ambiware-labs/hark/internal/config"
	"github.com/ambiware-labs/hark/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service turns speech requests from the bus into audible output. A
// single worker drains a bounded queue so utterances play in order and
// never overlap. Every request gets exactly one completion status on
// the done subject, success or not.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	synth  Synthesizer
	player Player
	sub    *nats.Subscription
	queue  chan protocol.SpeechRequest
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, player Player, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		player: player,
		queue:  make(chan protocol.SpeechRequest, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechSay, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe speech requests: %w", err)
	}
	s.sub = sub
	s.wg.Add(1)
	go s.worker()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	if s.player != nil {
		if err := s.player.Close(); err != nil {
			s.logger.Warn("failed to close player", slogError(err))
		}
	}
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeechRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speech request", slogError(err))
		return
	}
	select {
	case s.queue <- req:
	default:
		s.logger.Warn("speech queue full, rejecting request",
			slog.String("request_id", req.RequestID))
		s.publishDone(req, errors.New("speech queue full"))
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.queue:
			err := s.speak(req)
			if err != nil {
				s.logger.Warn("speech request failed",
					slog.String("request_id", req.RequestID), slogError(err))
			}
			s.publishDone(req, err)
		}
	}
}

func (s *Service) speak(req protocol.SpeechRequest) error {
	ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
	defer cancel()

	start := time.Now()
	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
	})
	// Drain both channels to completion even after a playback failure,
	// so the synthesizer goroutine is never left blocked on a send.
	var synthErr, playErr error
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if playErr == nil && len(chunk.PCM) > 0 {
				if err := s.player.Play(ctx, chunk); err != nil {
					playErr = err
				}
			}
		case err, ok := <-errs:
			if ok && err != nil {
				synthErr = err
			}
			errs = nil
		case <-ctx.Done():
			return ctx.Err()
		}
		if chunks == nil && errs == nil {
			break
		}
	}
	if synthErr != nil {
		return synthErr
	}
	if playErr != nil {
		return playErr
	}
	s.logger.Info("speech request played",
		slog.String("request_id", req.RequestID),
		slog.Duration("latency", time.Since(start)))
	return nil
}

func (s *Service) publishDone(req protocol.SpeechRequest, speakErr error) {
	status := protocol.SpeechStatus{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Completed: speakErr == nil,
		Timestamp: time.Now().UTC(),
	}
	if speakErr != nil {
		status.Error = speakErr.Error()
	}
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal speech status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeechDone, data); err != nil {
		s.logger.Warn("failed to publish speech status", slogError(err))
	}
}

// Speak publishes a speech request and blocks until the matching status
// arrives on the done subject or ctx expires.
func Speak(ctx context.Context, busClient *bus.Client, req protocol.SpeechRequest) error {
	statusCh := make(chan *nats.Msg, 16)
	sub, err := busClient.Conn().ChanSubscribe(protocol.SubjectSpeechDone, statusCh)
	if err != nil {
		return fmt.Errorf("subscribe speech status: %w", err)
	}
	defer sub.Unsubscribe()

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal speech request: %w", err)
	}
	if err := busClient.Conn().Publish(protocol.SubjectSpeechSay, data); err != nil {
		return fmt.Errorf("publish speech request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-statusCh:
			var status protocol.SpeechStatus
			if err := json.Unmarshal(msg.Data, &status); err != nil {
				continue
			}
			if status.RequestID != req.RequestID {
				continue
			}
			if status.Error != "" {
				return errors.New(status.Error)
			}
			return nil
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
