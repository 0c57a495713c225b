package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")
	logger.Info().Msg("hidden")
	logger.Warn().Str("source", "reddit").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["message"] != "shown" || entry["source"] != "reddit" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("missing timestamp")
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud", "console")
	logger.Debug().Msg("debug")
	logger.Info().Msg("info line")

	out := buf.String()
	if strings.Contains(out, "debug") {
		t.Fatalf("debug should be filtered: %q", out)
	}
	if !strings.Contains(out, "info line") {
		t.Fatalf("missing info line: %q", out)
	}
}
