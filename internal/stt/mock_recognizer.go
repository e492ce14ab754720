package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, sampleRate int, _ int) (TranscriptResult, error) {
	durationMS := 0
	if sampleRate > 0 {
		durationMS = len(pcm) / 2 * 1000 / sampleRate
	}
	return TranscriptResult{
		Text:       fmt.Sprintf("[transcript duration_ms=%d]", durationMS),
		Confidence: 0,
	}, nil
}
