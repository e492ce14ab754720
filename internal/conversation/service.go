package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ambiware-labs/hark/internal/bus"
	"github.com/ambiware-labs/hark/internal/config"
	"github.com/ambiware-labs/hark/internal/eventstore"
	"github.com/ambiware-labs/hark/internal/protocol"
	"github.com/ambiware-labs/hark/internal/tts"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Service ties the voice loop together: final transcripts become model
// prompts carrying the rolling conversation window, and model replies
// are spoken aloud before the exchange is recorded. Speech is awaited
// per reply so the assistant never talks over itself.
type Service struct {
	cfg            config.ConversationConfig
	bus            *bus.Client
	events         *eventstore.Store
	logger         *slog.Logger
	subTranscripts *nats.Subscription
	subLLM         *nats.Subscription
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	histories map[string]*History
	pending   map[string]string
}

func NewService(parent context.Context, cfg config.ConversationConfig, busClient *bus.Client, events *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		events:    events,
		logger:    logger.With(slog.String("component", "conversation")),
		ctx:       ctx,
		cancel:    cancel,
		histories: make(map[string]*History),
		pending:   make(map[string]string),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return fmt.Errorf("subscribe transcripts: %w", err)
	}
	s.subTranscripts = sub

	subLLM, err := s.bus.Conn().Subscribe(protocol.SubjectLLMResponseFinal, s.handleLLMResponse)
	if err != nil {
		s.subTranscripts.Drain()
		return fmt.Errorf("subscribe llm responses: %w", err)
	}
	s.subLLM = subLLM
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subTranscripts != nil {
		_ = s.subTranscripts.Drain()
	}
	if s.subLLM != nil {
		_ = s.subLLM.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subTranscripts != nil && s.subLLM != nil)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	if transcript.Text == "" {
		return
	}

	s.mu.Lock()
	history := s.histories[transcript.SessionID]
	if history == nil {
		history = NewHistory(s.cfg.MaxHistory)
		s.histories[transcript.SessionID] = history
	}
	prompt := history.Prompt(transcript.Text)
	s.pending[transcript.SessionID] = transcript.Text
	s.mu.Unlock()

	s.appendEvent(transcript.SessionID, transcript.UtteranceID, eventstore.TypeTranscriptFinal, msg.Data)

	req := protocol.LLMRequest{
		SessionID: transcript.SessionID,
		Prompt:    prompt,
		System:    s.cfg.SystemPrompt,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		s.logger.Warn("failed to marshal llm request", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectLLMRequest, data); err != nil {
		s.logger.Warn("failed to publish llm request", slogError(err))
	}
}

func (s *Service) handleLLMResponse(msg *nats.Msg) {
	var resp protocol.LLMResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		s.logger.Warn("failed to decode llm response", slogError(err))
		return
	}
	if resp.Content == "" {
		return
	}

	s.mu.Lock()
	userText, ok := s.pending[resp.SessionID]
	if ok {
		delete(s.pending, resp.SessionID)
	}
	s.mu.Unlock()
	if !ok {
		// Reply for a prompt this router did not issue.
		return
	}

	s.appendEvent(resp.SessionID, "", eventstore.TypeLLMResponse, msg.Data)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer cancel()

		req := protocol.SpeechRequest{
			SessionID: resp.SessionID,
			RequestID: uuid.NewString(),
			Text:      resp.Content,
			Voice:     s.cfg.DefaultVoice,
			Timestamp: time.Now().UTC(),
		}
		if err := tts.Speak(ctx, s.bus, req); err != nil {
			s.logger.Warn("failed to speak reply",
				slog.String("session_id", resp.SessionID), slogError(err))
		} else {
			s.appendEvent(resp.SessionID, "", eventstore.TypeSpeechPlayed, nil)
		}

		s.mu.Lock()
		if history := s.histories[resp.SessionID]; history != nil {
			history.Record(userText, resp.Content)
		}
		s.mu.Unlock()
	}()
}

func (s *Service) appendEvent(sessionID, utteranceID, eventType string, payload []byte) {
	if s.events == nil {
		return
	}
	evt := eventstore.Event{
		SessionID:   sessionID,
		UtteranceID: utteranceID,
		Type:        eventType,
		Payload:     payload,
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.events.BeginSession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to begin session", slogError(err))
		return
	}
	if err := s.events.Append(ctx, evt); err != nil {
		s.logger.Warn("failed to append event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
