package runner

import (
	"strings"
	"sync"
	"time"
)

// DefaultHistoryMax is the bound on in-memory history entries.
const DefaultHistoryMax = 1000

// HistoryEntry is one executed command.
type HistoryEntry struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a bounded, in-memory record of executed commands. Consecutive
// duplicates are collapsed. Nothing is persisted to disk.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	max     int
}

// NewHistory creates a history bounded to max entries (DefaultHistoryMax
// when max <= 0).
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistoryMax
	}
	return &History{max: max}
}

// Add records a command. Blank commands and immediate repeats are ignored.
func (h *History) Add(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > 0 && h.entries[n-1].Command == command {
		return
	}
	h.entries = append(h.entries, HistoryEntry{Command: command, Timestamp: time.Now()})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Recent returns up to n entries in chronological order, oldest first.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]HistoryEntry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Search returns distinct commands with the given prefix, most recent first.
func (h *History) Search(prefix string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for i := len(h.entries) - 1; i >= 0; i-- {
		cmd := h.entries[i].Command
		if strings.HasPrefix(cmd, prefix) && !seen[cmd] {
			seen[cmd] = true
			out = append(out, cmd)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
