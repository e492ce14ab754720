package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ambiware-labs/hark/internal/bus"
	"github.com/ambiware-labs/hark/internal/config"
	"github.com/ambiware-labs/hark/internal/eventstore"
	"github.com/ambiware-labs/hark/internal/protocol"
	"github.com/google/uuid"
)

// Service bridges the capture driver to the rest of the runtime: it
// consumes finalized utterances from the store's notify channel and
// broadcasts them on the bus, recording each one in the event store.
type Service struct {
	cfg       config.CaptureConfig
	driver    *Driver
	bus       *bus.Client
	events    *eventstore.Store
	logger    *slog.Logger
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewService(parent context.Context, cfg config.CaptureConfig, driver *Driver, busClient *bus.Client, events *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		driver:    driver,
		bus:       busClient,
		events:    events,
		logger:    log.With(slog.String("component", "capture-service")),
		sessionID: uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SessionID identifies this capture session; every utterance and
// downstream event carries it.
func (s *Service) SessionID() string { return s.sessionID }

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.events.BeginSession(s.ctx, s.sessionID); err != nil {
		s.logger.Warn("failed to begin session", slogError(err))
	}
	if err := s.driver.Start(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.watch()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if err := s.driver.Shutdown(); err != nil {
		s.logger.Warn("capture driver shutdown", slogError(err))
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.driver.Running() && s.driver.Err() == nil)
}

// watch waits on the store's notify channel, so utterances are handed
// off without polling the slot.
func (s *Service) watch() {
	defer s.wg.Done()
	notify := s.driver.Store().Notify()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-notify:
			utt := s.driver.TakeLatest()
			if utt == nil {
				continue
			}
			s.publish(utt)
		}
	}
}

func (s *Service) publish(utt *Utterance) {
	event := protocol.UtteranceEvent{
		SessionID:   s.sessionID,
		UtteranceID: uuid.NewString(),
		SampleRate:  utt.SampleRate(),
		Channels:    utt.Channels(),
		BitDepth:    utt.BitDepth(),
		DurationMS:  utt.Duration().Milliseconds(),
		PCM:         utt.PCMBytes(),
		CapturedAt:  utt.CapturedAt(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal utterance event", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectUtterance, data); err != nil {
		s.logger.Warn("failed to publish utterance", slogError(err))
		return
	}
	s.logger.Info("utterance published",
		slog.String("utterance_id", event.UtteranceID),
		slog.Int64("duration_ms", event.DurationMS))

	meta, _ := json.Marshal(map[string]any{
		"duration_ms": event.DurationMS,
		"sample_rate": event.SampleRate,
		"captured_at": event.CapturedAt.Format(time.RFC3339Nano),
	})
	if err := s.events.Append(s.ctx, eventstore.Event{
		SessionID:   s.sessionID,
		UtteranceID: event.UtteranceID,
		Type:        eventstore.TypeUtteranceCaptured,
		Payload:     meta,
	}); err != nil {
		s.logger.Warn("failed to record utterance event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
