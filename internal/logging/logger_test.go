package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesJSONFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(dir, "debug")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	log.Debug("test_message_from_logging_test")

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"test_message_from_logging_test"`) {
		t.Fatalf("unexpected log content: %s", b)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, "warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("should_not_appear")
	log.Warn("should_appear")
	_ = log.Sync()

	b, _ := os.ReadFile(filepath.Join(dir, FileName))
	if strings.Contains(string(b), "should_not_appear") || !strings.Contains(string(b), "should_appear") {
		t.Fatalf("level not applied: %s", b)
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	if _, err := NewLogger(t.TempDir(), "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
