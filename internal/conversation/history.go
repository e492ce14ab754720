package conversation

import "strings"

// Exchange is one completed user/assistant turn.
type Exchange struct {
	User      string
	Assistant string
}

// History holds the rolling window of past exchanges for one session.
// It is not safe for concurrent use; the service serializes access.
type History struct {
	max       int
	exchanges []Exchange
}

func NewHistory(max int) *History {
	return &History{max: max}
}

// Record appends a completed exchange and drops the oldest entries
// beyond the window.
func (h *History) Record(user, assistant string) {
	h.exchanges = append(h.exchanges, Exchange{User: user, Assistant: assistant})
	if h.max > 0 && len(h.exchanges) > h.max {
		h.exchanges = h.exchanges[len(h.exchanges)-h.max:]
	}
}

func (h *History) Len() int { return len(h.exchanges) }

// Prompt renders the window plus the new user text in the plain
// transcript format the model backends expect.
func (h *History) Prompt(userText string) string {
	var b strings.Builder
	for _, ex := range h.exchanges {
		b.WriteString("User: ")
		b.WriteString(ex.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(ex.Assistant)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(userText)
	b.WriteString("\nAssistant:")
	return b.String()
}
