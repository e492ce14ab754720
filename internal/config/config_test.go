package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Capture.SampleRate != 16000 || cfg.Capture.ChunkSize != 1024 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Capture.SilenceThreshold != 100 || cfg.Capture.SpeechThreshold != 150 {
		t.Fatalf("expected asymmetric volume thresholds, got %+v", cfg.Capture)
	}
	if cfg.Conversation.MaxHistory != 10 {
		t.Fatalf("expected default history of 10, got %d", cfg.Conversation.MaxHistory)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HARK_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("HARK_BUS_USERNAME", "alice")
	t.Setenv("HARK_BUS_PASSWORD", "secret")
	t.Setenv("HARK_CAPTURE_SILENCE_THRESHOLD", "80")
	t.Setenv("HARK_CAPTURE_SPEECH_THRESHOLD", "200")
	t.Setenv("HARK_CAPTURE_SILENCE_DURATION_MS", "1500")
	t.Setenv("HARK_CAPTURE_CHUNK_SIZE", "2048")
	t.Setenv("HARK_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("HARK_EVENT_STORE_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Capture.SilenceThreshold != 80 {
		t.Fatalf("expected silence threshold override, got %v", cfg.Capture.SilenceThreshold)
	}
	if cfg.Capture.SpeechThreshold != 200 {
		t.Fatalf("expected speech threshold override, got %v", cfg.Capture.SpeechThreshold)
	}
	if cfg.Capture.SilenceDurationMS != 1500 {
		t.Fatalf("expected silence duration override, got %d", cfg.Capture.SilenceDurationMS)
	}
	if cfg.Capture.ChunkSize != 2048 {
		t.Fatalf("expected chunk size override, got %d", cfg.Capture.ChunkSize)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("HARK_CAPTURE_SILENCE_THRESHOLD", "300")
	t.Setenv("HARK_CAPTURE_SPEECH_THRESHOLD", "150")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when speech threshold is below silence threshold")
	}
}

func TestValidateRejectsBadZCRBand(t *testing.T) {
	t.Setenv("HARK_CAPTURE_ZCR_MIN", "0.4")
	t.Setenv("HARK_CAPTURE_ZCR_MAX", "0.3")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for inverted zcr band")
	}
}
