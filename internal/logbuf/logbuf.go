package logbuf

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is a single log record captured from slog, flattened for JSON.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer keeps the most recent log entries in memory so the admin API
// can serve them without touching disk. Safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	ring []Entry
	head int // index of the oldest entry
	n    int // number of valid entries
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	return &Buffer{ring: make([]Entry, capacity)}
}

// Write appends an entry, evicting the oldest once full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.n < len(b.ring) {
		b.ring[(b.head+b.n)%len(b.ring)] = e
		b.n++
		return
	}
	b.ring[b.head] = e
	b.head = (b.head + 1) % len(b.ring)
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Query returns entries at or above minLevel recorded since the given
// time, oldest first. A zero since matches everything; limit <= 0 means
// no limit, otherwise the newest limit entries are returned.
func (b *Buffer) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for i := 0; i < b.n; i++ {
		e := b.ring[(b.head+i)%len(b.ring)]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if levelFromString(e.Level) < minLevel {
			continue
		}
		out = append(out, e)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func levelFromString(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
