package globaltime

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	fixed := time.Date(2026, 3, 20, 10, 30, 0, 0, time.UTC)
	SetMockTime(fixed)
	defer ResetTime()

	got, err := Parse("")
	if err != nil || !got.Equal(fixed) {
		t.Fatalf("expected mocked time for blank input, got %v err=%v", got, err)
	}

	got, err = Parse("2026-03-20T13:30:00+03:00")
	if err != nil || !got.Equal(fixed) || got.Location() != time.UTC {
		t.Fatalf("unexpected parsed time: %v err=%v", got, err)
	}

	if _, err := Parse("yesterday"); err == nil {
		t.Fatalf("expected invalid time to fail")
	}
}
