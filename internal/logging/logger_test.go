package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriter_EmitsServiceFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("run_id", "r1").Msg("batch processed")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "newsbot" || entry["environment"] != "production" || entry["run_id"] != "r1" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestNewWithWriter_InvalidLevel(t *testing.T) {
	t.Parallel()

	if _, err := NewWithWriter(&bytes.Buffer{}, "local", "loud"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}
