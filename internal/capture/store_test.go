package capture

import (
	"sync"
	"testing"
	"time"
)

func testUtterance(nSamples int) *Utterance {
	return newUtterance(tone(2000, 10, nSamples), 16000, time.Now().UTC())
}

func TestStoreEmptyPeek(t *testing.T) {
	s := NewStore()
	if s.Peek() != nil {
		t.Fatal("expected empty store")
	}
}

func TestStorePublishReplaces(t *testing.T) {
	s := NewStore()
	first := testUtterance(1024)
	second := testUtterance(2048)

	s.Publish(first)
	s.Publish(second)

	got := s.Peek()
	if got != second {
		t.Fatal("expected the later publish to win")
	}
	// Peek does not consume.
	if s.Peek() != second {
		t.Fatal("peek must not consume the utterance")
	}
}

func TestStoreClearIdempotent(t *testing.T) {
	s := NewStore()
	s.Publish(testUtterance(1024))

	s.Clear()
	if s.Peek() != nil {
		t.Fatal("expected cleared store")
	}
	s.Clear() // second clear is a no-op
	if s.Peek() != nil {
		t.Fatal("expected cleared store after second clear")
	}
}

func TestStoreTake(t *testing.T) {
	s := NewStore()
	u := testUtterance(1024)
	s.Publish(u)

	if got := s.Take(); got != u {
		t.Fatal("expected take to return the held utterance")
	}
	if s.Take() != nil {
		t.Fatal("expected empty store after take")
	}
}

func TestStoreNotifyCoalesces(t *testing.T) {
	s := NewStore()
	s.Publish(testUtterance(1024))
	s.Publish(testUtterance(2048))

	select {
	case <-s.Notify():
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-s.Notify():
		t.Fatal("back-to-back publishes must coalesce into one wake-up")
	default:
	}
}

func TestStoreConcurrentReadersAndWriter(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Publish(testUtterance(64))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if u := s.Peek(); u != nil && u.SampleRate() != 16000 {
					t.Error("observed torn utterance")
					return
				}
				if i%10 == 0 {
					s.Clear()
				}
			}
		}()
	}
	wg.Wait()
}
