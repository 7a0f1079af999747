package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// History is an ordered chat transcript. When a file path is configured,
// every added message triggers a save.
type History struct {
	mu       sync.Mutex
	messages []Message
	path     string
}

// NewHistory creates a history. path may be empty to disable persistence.
func NewHistory(path string) *History {
	return &History{path: path}
}

// SetSystemPrompt installs or replaces the system message at the head of
// the transcript.
func (h *History) SetSystemPrompt(content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		h.messages[0] = msg
	} else {
		h.messages = append([]Message{msg}, h.messages...)
	}
	h.saveLocked()
}

// AddMessage appends one message.
func (h *History) AddMessage(role, content string, metadata map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	h.saveLocked()
}

// ClearHistory drops every message.
func (h *History) ClearHistory() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.saveLocked()
}

// Messages returns a copy of the transcript.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// SaveToJSON writes the transcript to path atomically.
func (h *History) SaveToJSON(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writeTo(path)
}

// LoadFromJSON replaces the transcript with the contents of path.
func (h *History) LoadFromJSON(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return fmt.Errorf("parse history: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = messages
	return nil
}

// saveLocked persists to the configured path, if any. Failures are logged,
// not propagated: history persistence is best-effort.
func (h *History) saveLocked() {
	if h.path == "" {
		return
	}
	if err := h.writeTo(h.path); err != nil {
		slog.Warn("failed to persist chat history",
			slog.String("path", h.path),
			slog.String("error", err.Error()))
	}
}

func (h *History) writeTo(path string) error {
	msgs := h.messages
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}
