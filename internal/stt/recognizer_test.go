package stt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ambiware-labs/hark/internal/config"
	"github.com/go-audio/wav"
)

func TestMockRecognizer(t *testing.T) {
	r := NewMockRecognizer()
	// 16000 samples of mono 16-bit PCM is one second.
	pcm := make([]byte, 32000)
	result, err := r.Transcribe(context.Background(), pcm, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Text, "duration_ms=1000") {
		t.Fatalf("unexpected mock transcript: %q", result.Text)
	}
}

func TestNewExecRecognizerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.STTConfig{Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestWritePCMToWavRejectsUnaligned(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.wav"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := writePCMToWav(f, []byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected error for odd-length pcm payload")
	}
}

func TestWritePCMToWavRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Two samples: 0x0102 and -2, little endian.
	if err := writePCMToWav(f, []byte{0x02, 0x01, 0xfe, 0xff}, 16000, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 2 || buf.Data[0] != 0x0102 || buf.Data[1] != -2 {
		t.Fatalf("unexpected samples: %v", buf.Data)
	}
}
