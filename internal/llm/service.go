package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ambiware-labs/hark/internal/bus"
	"github.com/ambiware-labs/hark/internal/config"
	"github.com/ambiware-labs/hark/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers prompts from the bus. Backend output is streamed
// internally but aggregated into a single final response; downstream
// consumers only ever see complete replies.
type Service struct {
	cfg       config.LLMConfig
	bus       *bus.Client
	generator Generator
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     bool
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.LLMConfig, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "llm-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectLLMRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe LLM requests: %w", err)
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

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.LLMRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode llm request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer cancel()

		options := Request{
			SessionID:   req.SessionID,
			Prompt:      req.Prompt,
			System:      req.System,
			MaxTokens:   coalesceInt(req.MaxTokens, s.cfg.MaxTokens),
			Temperature: s.cfg.Temperature,
			TraceID:     req.TraceID,
		}
		if req.Temperature != 0 {
			options.Temperature = req.Temperature
		}

		start := time.Now()
		var content strings.Builder
		var last Chunk
		err := s.generator.Generate(ctx, options, func(chunk Chunk) error {
			content.WriteString(chunk.Content)
			last = chunk
			return nil
		})
		if err != nil {
			s.logger.Warn("llm generation failed", slogError(err))
			return
		}
		s.logger.Info("llm generation complete",
			slog.String("session_id", req.SessionID),
			slog.Duration("latency", time.Since(start)))
		s.publishResponse(req, content.String(), last, time.Since(start))
	}()
}

func (s *Service) publishResponse(req protocol.LLMRequest, content string, last Chunk, latency time.Duration) {
	if content == "" {
		return
	}
	msg := protocol.LLMResponse{
		SessionID:        req.SessionID,
		Content:          content,
		TraceID:          req.TraceID,
		PromptTokens:     last.PromptTokens,
		CompletionTokens: last.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal llm response", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectLLMResponseFinal, data); err != nil {
		s.logger.Warn("failed to publish llm response", slogError(err))
	}
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
