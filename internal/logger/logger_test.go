package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
}

func TestSetup_IncludesTimeField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_IncludesLevelField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Warn("warning test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_MultipleAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("record created",
		slog.String("user_id", "u-123"),
		slog.String("resource", "todos"),
		slog.String("path", "/api/todos"),
		slog.Int("status", 201),
		slog.Int("count", 25),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["user_id"] != "u-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "u-123")
	}
	if entry["resource"] != "todos" {
		t.Errorf("resource = %q, want %q", entry["resource"], "todos")
	}
	if entry["path"] != "/api/todos" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/todos")
	}
	if entry["status"] != float64(201) {
		t.Errorf("status = %v, want %v", entry["status"], 201)
	}
	if entry["count"] != float64(25) {
		t.Errorf("count = %v, want %v", entry["count"], 25)
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}

func TestSetLevel_FiltersBelowLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel returned error: %v", err)
	}

	var buf bytes.Buffer
	l := Setup(&buf)
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info log to be filtered, got %s", buf.String())
	}

	l.Warn("shown")
	if buf.Len() == 0 {
		t.Error("expected warn log to be written")
	}
}

func TestSetLevel_AppliesToExistingLoggers(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	var buf bytes.Buffer
	l := Setup(&buf)

	if err := SetLevel("DEBUG"); err != nil {
		t.Fatalf("SetLevel returned error: %v", err)
	}
	l.Debug("debug message")
	if buf.Len() == 0 {
		t.Error("expected debug log after SetLevel(DEBUG)")
	}
	if Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want %v", Level(), slog.LevelDebug)
	}
}

func TestSetLevel_InvalidName_ReturnsError(t *testing.T) {
	if err := SetLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level name")
	}
	if Level() != slog.LevelInfo {
		t.Errorf("Level() = %v, want %v (unchanged)", Level(), slog.LevelInfo)
	}
}
