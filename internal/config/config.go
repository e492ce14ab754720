package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Node         NodeConfig         `yaml:"node"`
	EventStore   EventStoreConfig   `yaml:"event_store"`
	Capture      CaptureConfig      `yaml:"capture"`
	STT          STTConfig          `yaml:"stt"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Conversation ConversationConfig `yaml:"conversation"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// CaptureConfig carries every tunable of the microphone capture and
// segmentation core. The two volume thresholds are deliberately
// independent: the silence threshold gates fast segmentation, the speech
// threshold is the stricter keep-or-discard bound applied when a buffer
// finalizes.
type CaptureConfig struct {
	Enabled            bool    `yaml:"enabled"`
	SampleRate         int     `yaml:"sample_rate"`
	ChunkSize          int     `yaml:"chunk_size"`
	SilenceThreshold   float64 `yaml:"silence_threshold"`
	SilenceDurationMS  int     `yaml:"silence_duration_ms"`
	MinRecordingMS     int     `yaml:"min_recording_ms"`
	SpeechThreshold    float64 `yaml:"speech_threshold"`
	MinDynamicRange    int     `yaml:"min_dynamic_range"`
	ZCRMin             float64 `yaml:"zcr_min"`
	ZCRMax             float64 `yaml:"zcr_max"`
	StopTimeoutMS      int     `yaml:"stop_timeout_ms"`
	MaxConsecutiveErrs int     `yaml:"max_consecutive_errors"`
}

type STTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type LLMConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Playback   string `yaml:"playback"` // portaudio, discard
	QueueSize  int    `yaml:"queue_size"`
}

type ConversationConfig struct {
	Enabled      bool   `yaml:"enabled"`
	MaxHistory   int    `yaml:"max_history"`
	DefaultVoice string `yaml:"default_voice"`
	SystemPrompt string `yaml:"system_prompt"`
}

func Default() Config {
	return Config{
		RuntimeName: "hark-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "hark-node-1",
			Role:              "voice-loop",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "audio.capture", Tier: "local"},
			},
		},
		EventStore: EventStoreConfig{
			Path:          "./data/hark-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Capture: CaptureConfig{
			Enabled:            true,
			SampleRate:         16000,
			ChunkSize:          1024,
			SilenceThreshold:   100,
			SilenceDurationMS:  1000,
			MinRecordingMS:     500,
			SpeechThreshold:    150,
			MinDynamicRange:    1000,
			ZCRMin:             0.01,
			ZCRMax:             0.3,
			StopTimeoutMS:      2000,
			MaxConsecutiveErrs: 10,
		},
		STT: STTConfig{
			Enabled:    false,
			Mode:       "mock",
			SampleRate: 16000,
			Channels:   1,
		},
		LLM: LLMConfig{
			Enabled:     false,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.7,
		},
		TTS: TTSConfig{
			Enabled:    false,
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
			Playback:   "discard",
			QueueSize:  8,
		},
		Conversation: ConversationConfig{
			Enabled:      true,
			MaxHistory:   10,
			DefaultVoice: "en-US",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "HARK_RUNTIME_NAME")
	overrideString(&cfg.Environment, "HARK_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "HARK_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HARK_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "HARK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HARK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HARK_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "HARK_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "HARK_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "HARK_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "HARK_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "HARK_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "HARK_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "HARK_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "HARK_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "HARK_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "HARK_NODE_ID")
	overrideString(&cfg.Node.Role, "HARK_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "HARK_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "HARK_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "HARK_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "HARK_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "HARK_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "HARK_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "HARK_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Capture.Enabled, "HARK_CAPTURE_ENABLED")
	overrideInt(&cfg.Capture.SampleRate, "HARK_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.ChunkSize, "HARK_CAPTURE_CHUNK_SIZE")
	overrideFloat(&cfg.Capture.SilenceThreshold, "HARK_CAPTURE_SILENCE_THRESHOLD")
	overrideInt(&cfg.Capture.SilenceDurationMS, "HARK_CAPTURE_SILENCE_DURATION_MS")
	overrideInt(&cfg.Capture.MinRecordingMS, "HARK_CAPTURE_MIN_RECORDING_MS")
	overrideFloat(&cfg.Capture.SpeechThreshold, "HARK_CAPTURE_SPEECH_THRESHOLD")
	overrideInt(&cfg.Capture.MinDynamicRange, "HARK_CAPTURE_MIN_DYNAMIC_RANGE")
	overrideFloat(&cfg.Capture.ZCRMin, "HARK_CAPTURE_ZCR_MIN")
	overrideFloat(&cfg.Capture.ZCRMax, "HARK_CAPTURE_ZCR_MAX")
	overrideInt(&cfg.Capture.StopTimeoutMS, "HARK_CAPTURE_STOP_TIMEOUT_MS")
	overrideInt(&cfg.Capture.MaxConsecutiveErrs, "HARK_CAPTURE_MAX_CONSECUTIVE_ERRORS")
	overrideBool(&cfg.STT.Enabled, "HARK_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "HARK_STT_MODE")
	overrideString(&cfg.STT.Command, "HARK_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "HARK_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "HARK_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "HARK_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "HARK_STT_CHANNELS")
	overrideBool(&cfg.LLM.Enabled, "HARK_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "HARK_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "HARK_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Model, "HARK_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "HARK_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "HARK_LLM_TEMPERATURE")
	overrideBool(&cfg.TTS.Enabled, "HARK_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "HARK_TTS_MODE")
	overrideString(&cfg.TTS.Command, "HARK_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "HARK_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "HARK_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "HARK_TTS_CHANNELS")
	overrideString(&cfg.TTS.Playback, "HARK_TTS_PLAYBACK")
	overrideInt(&cfg.TTS.QueueSize, "HARK_TTS_QUEUE_SIZE")
	overrideBool(&cfg.Conversation.Enabled, "HARK_CONVERSATION_ENABLED")
	overrideInt(&cfg.Conversation.MaxHistory, "HARK_CONVERSATION_MAX_HISTORY")
	overrideString(&cfg.Conversation.DefaultVoice, "HARK_CONVERSATION_DEFAULT_VOICE")
	overrideString(&cfg.Conversation.SystemPrompt, "HARK_CONVERSATION_SYSTEM_PROMPT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Capture.Enabled {
		if cfg.Capture.SampleRate <= 0 {
			return errors.New("capture.sample_rate must be positive")
		}
		if cfg.Capture.ChunkSize <= 0 {
			return errors.New("capture.chunk_size must be positive")
		}
		if cfg.Capture.SilenceThreshold < 0 {
			return errors.New("capture.silence_threshold must be >= 0")
		}
		if cfg.Capture.SpeechThreshold < cfg.Capture.SilenceThreshold {
			return errors.New("capture.speech_threshold must not be below capture.silence_threshold")
		}
		if cfg.Capture.SilenceDurationMS <= 0 {
			return errors.New("capture.silence_duration_ms must be positive")
		}
		if cfg.Capture.MinRecordingMS < 0 {
			return errors.New("capture.min_recording_ms must be >= 0")
		}
		if cfg.Capture.ZCRMin < 0 || cfg.Capture.ZCRMax <= cfg.Capture.ZCRMin {
			return errors.New("capture.zcr band must satisfy 0 <= zcr_min < zcr_max")
		}
		if cfg.Capture.StopTimeoutMS <= 0 {
			return errors.New("capture.stop_timeout_ms must be positive")
		}
	}
	if cfg.STT.Enabled {
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama":
		default:
			return errors.New("llm.mode must be one of mock|ollama")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		switch cfg.TTS.Playback {
		case "portaudio", "discard":
		default:
			return errors.New("tts.playback must be one of portaudio|discard")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.QueueSize <= 0 {
			return errors.New("tts.queue_size must be >= 1")
		}
	}
	if cfg.Conversation.Enabled {
		if cfg.Conversation.MaxHistory < 0 {
			return errors.New("conversation.max_history must be >= 0")
		}
		if cfg.Conversation.DefaultVoice == "" {
			return errors.New("conversation.default_voice must not be empty")
		}
	}
	return nil
}
