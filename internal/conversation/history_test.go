package conversation

import (
	"strings"
	"testing"
)

func TestPromptWithEmptyHistory(t *testing.T) {
	h := NewHistory(10)
	got := h.Prompt("hello")
	want := "User: hello\nAssistant:"
	if got != want {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestPromptIncludesPastExchanges(t *testing.T) {
	h := NewHistory(10)
	h.Record("what time is it", "it is noon")
	got := h.Prompt("thanks")
	if !strings.Contains(got, "User: what time is it\nAssistant: it is noon\n") {
		t.Fatalf("history missing from prompt: %q", got)
	}
	if !strings.HasSuffix(got, "User: thanks\nAssistant:") {
		t.Fatalf("prompt should end with the new turn: %q", got)
	}
}

func TestHistoryTrimsToWindow(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 10; i++ {
		h.Record("question", "answer")
	}
	if h.Len() != 3 {
		t.Fatalf("expected 3 exchanges, got %d", h.Len())
	}
}

func TestHistoryKeepsNewestEntries(t *testing.T) {
	h := NewHistory(2)
	h.Record("first", "a")
	h.Record("second", "b")
	h.Record("third", "c")
	prompt := h.Prompt("next")
	if strings.Contains(prompt, "first") {
		t.Fatalf("oldest exchange should be evicted: %q", prompt)
	}
	if !strings.Contains(prompt, "second") || !strings.Contains(prompt, "third") {
		t.Fatalf("recent exchanges missing: %q", prompt)
	}
}

func TestUnlimitedHistory(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 50; i++ {
		h.Record("q", "a")
	}
	if h.Len() != 50 {
		t.Fatalf("zero max should keep everything, got %d", h.Len())
	}
}
