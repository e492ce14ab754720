package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ambiware-labs/hark/internal/bus"
	"github.com/ambiware-labs/hark/internal/capability"
	"github.com/ambiware-labs/hark/internal/capture"
	"github.com/ambiware-labs/hark/internal/config"
	"github.com/ambiware-labs/hark/internal/conversation"
	"github.com/ambiware-labs/hark/internal/eventstore"
	"github.com/ambiware-labs/hark/internal/llm"
	"github.com/ambiware-labs/hark/internal/natsserver"
	"github.com/ambiware-labs/hark/internal/stt"
	"github.com/ambiware-labs/hark/internal/tts"
)

// Runtime assembles the full voice loop: embedded broker, bus client,
// event store, capture driver, and the pipeline services. Start blocks
// until the context is cancelled, then tears everything down in reverse
// order.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	natsServer   *natsserver.EmbeddedServer
	busClient    *bus.Client
	events       *eventstore.Store
	captureSvc   *capture.Service
	sttSvc       *stt.Service
	llmSvc       *llm.Service
	ttsSvc       *tts.Service
	convSvc      *conversation.Service
	registry     *capability.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.natsServer = ns

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		r.shutdownInfra()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		r.shutdownInfra()
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.events = events

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		r.shutdownInfra()
		return err
	}

	if err := r.startHTTP(metricsHandler); err != nil {
		r.stopServices()
		r.shutdownInfra()
		return err
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.httpServer.Addr),
		slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slogError(err))
		}
	}
	r.stopServices()
	r.shutdownInfra()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}

	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	store := capture.NewStore()
	driver := capture.NewDriver(r.cfg.Capture, capture.OpenInputDevice, store, r.logger)
	r.captureSvc = capture.NewService(ctx, r.cfg.Capture, driver, r.busClient, r.events, r.logger)
	if err := r.captureSvc.Start(); err != nil {
		return fmt.Errorf("failed to start capture service: %w", err)
	}

	recognizer, err := buildRecognizer(r.cfg.STT)
	if err != nil {
		return err
	}
	r.sttSvc = stt.NewService(ctx, r.cfg.STT, r.busClient, recognizer, r.logger)
	if err := r.sttSvc.Start(); err != nil {
		return fmt.Errorf("failed to start stt service: %w", err)
	}

	generator := buildGenerator(r.cfg.LLM)
	r.llmSvc = llm.NewService(ctx, r.cfg.LLM, r.busClient, generator, r.logger)
	if err := r.llmSvc.Start(); err != nil {
		return fmt.Errorf("failed to start llm service: %w", err)
	}

	synth, player, err := buildSpeech(r.cfg.TTS)
	if err != nil {
		return err
	}
	r.ttsSvc = tts.NewService(ctx, r.cfg.TTS, r.busClient, synth, player, r.logger)
	if err := r.ttsSvc.Start(); err != nil {
		return fmt.Errorf("failed to start tts service: %w", err)
	}

	r.convSvc = conversation.NewService(ctx, r.cfg.Conversation, r.busClient, r.events, r.logger)
	if err := r.convSvc.Start(); err != nil {
		return fmt.Errorf("failed to start conversation service: %w", err)
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, r.busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	r.registry = registry

	return nil
}

func (r *Runtime) stopServices() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.convSvc != nil {
		r.convSvc.Close()
	}
	if r.ttsSvc != nil {
		r.ttsSvc.Close()
	}
	if r.llmSvc != nil {
		r.llmSvc.Close()
	}
	if r.sttSvc != nil {
		r.sttSvc.Close()
	}
	if r.captureSvc != nil {
		r.captureSvc.Close()
	}
}

func (r *Runtime) shutdownInfra() {
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Warn("event store close error", slogError(err))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	r.natsServer.Shutdown()
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slogError(err))
			}
		}()
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.servicesHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleNodes(w http.ResponseWriter, _ *http.Request) {
	if r.registry == nil {
		http.Error(w, "registry not started", http.StatusServiceUnavailable)
		return
	}
	nodes := r.registry.Query(nil)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		r.logger.Warn("failed to encode nodes", slogError(err))
	}
}

func (r *Runtime) servicesHealthy() bool {
	if !r.busClient.Healthy() {
		return false
	}
	checks := []interface{ Healthy() bool }{
		r.captureSvc, r.sttSvc, r.llmSvc, r.ttsSvc, r.convSvc,
	}
	for _, c := range checks {
		if !c.Healthy() {
			return false
		}
	}
	return true
}

func buildRecognizer(cfg config.STTConfig) (stt.Recognizer, error) {
	if !cfg.Enabled || cfg.Mode == "mock" {
		return stt.NewMockRecognizer(), nil
	}
	recognizer, err := stt.NewExecRecognizer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build stt backend: %w", err)
	}
	return recognizer, nil
}

func buildGenerator(cfg config.LLMConfig) llm.Generator {
	if !cfg.Enabled || cfg.Mode == "mock" {
		return llm.NewMockGenerator()
	}
	return llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model)
}

func buildSpeech(cfg config.TTSConfig) (tts.Synthesizer, tts.Player, error) {
	if !cfg.Enabled {
		return tts.NewMockSynth(cfg.SampleRate, cfg.Channels), tts.NewDiscardPlayer(), nil
	}
	var synth tts.Synthesizer
	if cfg.Mode == "mock" {
		synth = tts.NewMockSynth(cfg.SampleRate, cfg.Channels)
	} else {
		var err error
		synth, err = tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build tts backend: %w", err)
		}
	}
	if cfg.Playback == "portaudio" {
		player, err := tts.NewPortaudioPlayer(cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open playback device: %w", err)
		}
		return synth, player, nil
	}
	return synth, tts.NewDiscardPlayer(), nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
