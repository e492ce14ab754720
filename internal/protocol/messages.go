package protocol

import "time"

// UtteranceEvent carries one finalized spoken segment from the capture
// core. PCM is little-endian 16-bit mono at SampleRate.
type UtteranceEvent struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id"`
	SampleRate  int       `json:"sample_rate"`
	Channels    int       `json:"channels"`
	BitDepth    int       `json:"bit_depth"`
	DurationMS  int64     `json:"duration_ms"`
	PCM         []byte    `json:"pcm"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence,omitempty"`
}

// LLMRequest asks the language model service for a response.
type LLMRequest struct {
	SessionID   string    `json:"session_id"`
	Prompt      string    `json:"prompt"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LLMResponse is the aggregated final model output.
type LLMResponse struct {
	SessionID        string    `json:"session_id"`
	Content          string    `json:"content"`
	TraceID          string    `json:"trace_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	LatencyMS        int64     `json:"latency_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// SpeechRequest asks the TTS service to speak text aloud.
type SpeechRequest struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Voice     string    `json:"voice,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechStatus reports completion of a speech request. Blocking callers
// wait for the status matching their request ID.
type SpeechStatus struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectUtterance        = "audio.utterance"
	SubjectTranscriptFinal  = "stt.text.final"
	SubjectLLMRequest       = "llm.request"
	SubjectLLMResponseFinal = "llm.response.final"
	SubjectSpeechSay        = "speech.say"
	SubjectSpeechDone       = "speech.done"
)
