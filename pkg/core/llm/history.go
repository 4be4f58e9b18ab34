package llm

import (
	"strings"
	"sync"
	"time"
)

const (
	// Retained entries per session. Older entries fall off first.
	historyCap = 20
	// Entries included in the prompt context.
	historyContextWindow = 10
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// History keeps bounded per-session conversation history for the lifetime of
// the process. Safe for concurrent use.
type History struct {
	mu       sync.Mutex
	sessions map[string][]Message
	now      func() time.Time
}

func NewHistory() *History {
	return &History{
		sessions: make(map[string][]Message),
		now:      time.Now,
	}
}

// Append records one turn for a session, evicting the oldest entries past
// the retention cap.
func (h *History) Append(sessionID, role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.sessions[sessionID], Message{
		Role:      role,
		Content:   content,
		Timestamp: h.now(),
	})
	if len(entries) > historyCap {
		entries = entries[len(entries)-historyCap:]
	}
	h.sessions[sessionID] = entries
}

// Messages returns a copy of the session's retained history.
func (h *History) Messages(sessionID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.sessions[sessionID]
	out := make([]Message, len(entries))
	copy(out, entries)
	return out
}

// Clear drops all history for a session.
func (h *History) Clear(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// Context renders the most recent turns as "User:"/"Assistant:" lines for
// inclusion in the prompt. Empty when the session has no history.
func (h *History) Context(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.sessions[sessionID]
	if len(entries) == 0 {
		return ""
	}
	if len(entries) > historyContextWindow {
		entries = entries[len(entries)-historyContextWindow:]
	}

	lines := make([]string, 0, len(entries))
	for _, msg := range entries {
		label := "Assistant"
		if msg.Role == RoleUser {
			label = "User"
		}
		lines = append(lines, label+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}
