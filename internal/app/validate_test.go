package app

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validPayload = `{
	"payload_version":"v1",
	"id":"cbr-1",
	"url":"https://www.cbr.ru/press/pr/?file=20032026.htm",
	"title":"Bank of Russia raises key rate, SBER shares react",
	"summary":"The Board of Directors decided to raise the key rate by 200 basis points.",
	"published_at":"2026-03-20T10:30:00Z",
	"language":"en"
}`

const secondPayload = `{
	"payload_version":"v1",
	"id":"rbc-1",
	"url":"https://www.rbc.ru/business/20/03/2026/aeroflot",
	"title":"Aeroflot adds seasonal routes to Asian resorts",
	"published_at":"2026-03-20T10:33:00Z",
	"language":"en"
}`

func TestCollectJSONFilesRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"k":"v"}`)
	mustWriteFile(t, filepath.Join(root, "b.txt"), `x`)
	mustWriteFile(t, filepath.Join(root, ".hidden.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, ".cache", "d.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.JSON"), `{"k":"v2"}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 json files, got %d (%v)", len(files), files)
	}
}

func TestCollectJSONFilesNonRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"k":"v"}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"k":"v2"}`)

	files, err := collectJSONFiles(root, false)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 json file, got %d (%v)", len(files), files)
	}
}

func TestCollectJSONFilesRejectsFilesAndBlank(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "a.json")
	mustWriteFile(t, path, `{}`)

	if _, err := collectJSONFiles(path, true); err == nil {
		t.Fatalf("expected error for a file root")
	}
	if _, err := collectJSONFiles("  ", true); err == nil {
		t.Fatalf("expected error for a blank root")
	}
}

func TestValidateFilesCountsPayloads(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "single.json"), validPayload)
	mustWriteFile(t, filepath.Join(root, "batch.json"), "["+validPayload+","+secondPayload+"]")
	mustWriteFile(t, filepath.Join(root, "broken.json"), `{"payload_version":`)
	mustWriteFile(t, filepath.Join(root, "schema.json"), `{"payload_version":"v2","id":"x"}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}

	var report strings.Builder
	result := validateFiles(files, &report)
	if result.Files != 4 || result.Valid != 2 || result.Invalid != 2 || result.Payloads != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(report.String(), "broken.json: malformed JSON") {
		t.Fatalf("expected malformed JSON report, got %q", report.String())
	}
	if !strings.Contains(report.String(), "INVALID "+filepath.Join(root, "schema.json")) {
		t.Fatalf("expected schema failure report, got %q", report.String())
	}
}

func TestValidateFilesMissingFile(t *testing.T) {
	t.Parallel()

	result := validateFiles([]string{filepath.Join(t.TempDir(), "missing.json")}, io.Discard)
	if result.Invalid != 1 || result.Valid != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
