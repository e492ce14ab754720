package capture

import "sync"

// Store is the single-slot holder for the most recently finalized
// utterance. It is the only synchronization point between the capture
// goroutine (writer) and consumers: the lock is held just long enough
// to swap the pointer, never across I/O. Replacement is last-write-wins;
// the application only cares about the newest utterance.
type Store struct {
	mu      sync.Mutex
	current *Utterance
	notify  chan struct{}
}

func NewStore() *Store {
	return &Store{notify: make(chan struct{}, 1)}
}

// Publish atomically replaces the held utterance. The previous one is
// released in the same critical section; a reader concurrent with
// Publish observes either the old or the new utterance, never a torn
// one.
func (s *Store) Publish(u *Utterance) {
	s.mu.Lock()
	s.current = u
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Peek returns the current utterance without consuming it, or nil.
func (s *Store) Peek() *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Clear releases the current utterance if present. Idempotent.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Take returns the current utterance and clears the slot in one
// critical section, so a Publish racing with consumption is never
// silently dropped.
func (s *Store) Take() *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.current
	s.current = nil
	return u
}

// Notify wakes a single consumer after each Publish. The channel is
// buffered with one slot: back-to-back publishes coalesce into one
// wake-up, matching the store's last-write-wins contract.
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}
