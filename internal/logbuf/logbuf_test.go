package logbuf

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func entry(msg string, level slog.Level, at time.Time) Entry {
	return Entry{Time: at, Level: level.String(), Message: msg}
}

func TestBufferEvictsOldest(t *testing.T) {
	b := New(3)
	now := time.Now()
	for i, msg := range []string{"a", "b", "c", "d"} {
		b.Write(entry(msg, slog.LevelInfo, now.Add(time.Duration(i)*time.Second)))
	}

	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}
	got := b.Query(time.Time{}, slog.LevelDebug, 0)
	if len(got) != 3 {
		t.Fatalf("query returned %d entries", len(got))
	}
	if got[0].Message != "b" || got[2].Message != "d" {
		t.Errorf("entries = %v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	now := time.Now()
	b.Write(entry("old debug", slog.LevelDebug, now.Add(-time.Hour)))
	b.Write(entry("recent info", slog.LevelInfo, now))
	b.Write(entry("recent error", slog.LevelError, now))

	got := b.Query(now.Add(-time.Minute), slog.LevelDebug, 0)
	if len(got) != 2 {
		t.Errorf("since filter: %d entries", len(got))
	}

	got = b.Query(time.Time{}, slog.LevelWarn, 0)
	if len(got) != 1 || got[0].Message != "recent error" {
		t.Errorf("level filter: %v", got)
	}

	got = b.Query(time.Time{}, slog.LevelDebug, 1)
	if len(got) != 1 || got[0].Message != "recent error" {
		t.Errorf("limit keeps newest: %v", got)
	}
}

func TestHandlerCapturesAttrs(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(NewHandler(inner, buf))

	logger.With("tenant", "acme").Info("routed", "node", "escalate", "error", errors.New("boom"))
	logger.WithGroup("turn").Info("grouped", "node", "faq")

	got := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(got) != 2 {
		t.Fatalf("captured %d entries", len(got))
	}
	e := got[0]
	if e.Message != "routed" || e.Level != "INFO" {
		t.Errorf("entry = %+v", e)
	}
	if e.Attrs["tenant"] != "acme" {
		t.Errorf("attrs = %v", e.Attrs)
	}
	if e.Attrs["node"] != "escalate" {
		t.Errorf("attrs = %v", e.Attrs)
	}
	if e.Attrs["error"] != "boom" {
		t.Errorf("error attr = %v", e.Attrs)
	}
	if got[1].Attrs["turn.node"] != "faq" {
		t.Errorf("grouped attr = %v", got[1].Attrs)
	}
}

func TestHandlerCapturesBelowInnerLevel(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(NewHandler(inner, buf))

	logger.Debug("invisible to inner")
	if buf.Len() != 1 {
		t.Fatalf("buffer missed debug entry, Len = %d", buf.Len())
	}
}
