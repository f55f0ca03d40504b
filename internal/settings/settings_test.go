package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUpdateValidRange(t *testing.T) {
	s := NewStore("", nil)
	ch, err := s.Update("audio.silence_duration_ms", 2000, "dashboard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.OldValue != 1200 || ch.NewValue != 2000 {
		t.Fatalf("unexpected change record: %+v", ch)
	}
	if s.Get().Audio.SilenceDurationMS != 2000 {
		t.Fatalf("expected applied value, got %d", s.Get().Audio.SilenceDurationMS)
	}
	if s.Get().Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", s.Get().Version)
	}
}

func TestUpdateOutOfRangeRejected(t *testing.T) {
	s := NewStore("", nil)
	before := s.Get()
	_, err := s.Update("audio.silence_duration_ms", 6000, "dashboard")
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
	if s.Get() != before {
		t.Fatalf("store must be unchanged after rejected update")
	}
}

func TestUpdateUnknownPath(t *testing.T) {
	s := NewStore("", nil)
	if _, err := s.Update("audio.unknown_field", 1, "dashboard"); err == nil {
		t.Fatal("expected unknown path error")
	}
}

func TestUpdateWrongType(t *testing.T) {
	s := NewStore("", nil)
	if _, err := s.Update("tts.speed", "fast", "dashboard"); err == nil {
		t.Fatal("expected type error for non-float value")
	}
}

func TestUpdateEnumValidation(t *testing.T) {
	s := NewStore("", nil)
	if _, err := s.Update("tts.voice", "Z9", "dashboard"); err == nil {
		t.Fatal("expected enum rejection for unknown voice")
	}
	if _, err := s.Update("tts.voice", "M2", "dashboard"); err != nil {
		t.Fatalf("expected valid voice to be accepted: %v", err)
	}
}

func TestUpdateAppendsHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "version_log.jsonl")
	s := NewStore(path, nil)

	if _, err := s.Update("llm.max_tokens", 120, "operator"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Update("llm.context_turns", 6, "operator"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected version log to exist: %v", err)
	}
	lines := splitLines(string(data))
	if len(lines) != 2 {
		t.Fatalf("expected 2 history lines, got %d: %q", len(lines), data)
	}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
