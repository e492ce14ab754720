package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ambiware-labs/hark/internal/config"
	"github.com/ambiware-labs/hark/internal/protocol"
)

func collectChunks(t *testing.T, s Synthesizer, req SynthRequest) ([]SynthChunk, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chunks, errs := s.Synthesize(ctx, req)
	var out []SynthChunk
	var synthErr error
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out = append(out, chunk)
		case err, ok := <-errs:
			if ok && err != nil {
				synthErr = err
			}
			errs = nil
		case <-ctx.Done():
			t.Fatal("synthesis timed out")
		}
		if chunks == nil && errs == nil {
			return out, synthErr
		}
	}
}

func TestMockSynthEmitsFinalChunk(t *testing.T) {
	synth := NewMockSynth(22050, 1)
	chunks, err := collectChunks(t, synth, SynthRequest{SessionID: "s1", Text: "hello"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(chunks) != 1 || !chunks[0].Final {
		t.Fatalf("expected single final chunk, got %+v", chunks)
	}
	if chunks[0].SampleRate != 22050 || chunks[0].Channels != 1 {
		t.Fatalf("unexpected format: %+v", chunks[0])
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("", 22050, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecSynthStreams(t *testing.T) {
	cmd := `sh -c 'cat > /dev/null; echo {\"pcm_base64\":\"AQACAA==\",\"final\":true}'`
	synth, err := NewExecSynth(cmd, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	chunks, synthErr := collectChunks(t, synth, SynthRequest{SessionID: "s1", Text: "hello"})
	if synthErr != nil {
		t.Fatalf("synthesize: %v", synthErr)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	want := []byte{0x01, 0x00, 0x02, 0x00}
	if string(chunks[0].PCM) != string(want) {
		t.Fatalf("unexpected pcm: %v", chunks[0].PCM)
	}
	if !chunks[0].Final {
		t.Fatal("chunk should be final")
	}
}

func TestExecSynthPropagatesCommandFailure(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'exit 3'`, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if _, synthErr := collectChunks(t, synth, SynthRequest{Text: "hi"}); synthErr == nil {
		t.Fatal("expected error from failing command")
	}
}

// manyChunkCommand emits a stream of non-final chunks and then a final
// one, enough that an unread producer would park on the chunk channel.
const manyChunkCommand = `sh -c 'cat > /dev/null; i=0; while [ $i -lt 50 ]; do echo {\"pcm_base64\":\"AQACAA==\",\"final\":false}; i=$((i+1)); done; echo {\"pcm_base64\":\"AQACAA==\",\"final\":true}'`

func TestExecSynthReleasesAbandonedProducer(t *testing.T) {
	synth, err := NewExecSynth(manyChunkCommand, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	chunks, _ := synth.Synthesize(ctx, SynthRequest{Text: "hello"})
	select {
	case <-chunks:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}
	// Abandon the stream mid-flight; cancellation must unpark the
	// producer and release the synthesizer for the next request.
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		next, nextErrs := synth.Synthesize(context.Background(), SynthRequest{Text: "again"})
		for range next {
		}
		for range nextErrs {
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("synthesizer wedged after an abandoned consumer")
	}
}

type failingPlayer struct{}

func (failingPlayer) Play(context.Context, SynthChunk) error {
	return errors.New("output device gone")
}

func (failingPlayer) Close() error { return nil }

func TestSpeakDrainsSynthAfterPlaybackFailure(t *testing.T) {
	synth, err := NewExecSynth(manyChunkCommand, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &Service{
		cfg:    config.TTSConfig{Enabled: true, QueueSize: 2},
		synth:  synth,
		player: failingPlayer{},
		ctx:    ctx,
		cancel: cancel,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if err := s.speak(protocol.SpeechRequest{RequestID: "r1", Text: "hello"}); err == nil {
		t.Fatal("expected playback error")
	}

	// A playback failure must leave the synthesizer usable: the next
	// request may fail the same way, but it must not block forever.
	done := make(chan error, 1)
	go func() {
		done <- s.speak(protocol.SpeechRequest{RequestID: "r2", Text: "again"})
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected playback error on second request")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second speech request wedged")
	}
}

func TestDiscardPlayer(t *testing.T) {
	p := NewDiscardPlayer()
	if err := p.Play(context.Background(), SynthChunk{PCM: []byte{1, 2}}); err != nil {
		t.Fatalf("play: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Play(ctx, SynthChunk{}); err == nil {
		t.Fatal("expected context error")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
