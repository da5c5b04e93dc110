package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/zkgate/zkgate-core/internal/infrastructure/config"
)

func captureLogger(cfg config.LoggingConfig, version string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return newLogger(cfg, version, &buf), &buf
}

func TestLogger_JSONCarriesServiceAndVersion(t *testing.T) {
	logger, buf := captureLogger(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3")

	logger.Info("terminal connected", "device", "10.0.0.5:4370")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["service"] != "zkgate" {
		t.Errorf("service = %v, want zkgate", entry["service"])
	}
	if entry["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", entry["version"])
	}
	if entry["msg"] != "terminal connected" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["device"] != "10.0.0.5:4370" {
		t.Errorf("device = %v", entry["device"])
	}
}

func TestLogger_TextFormat(t *testing.T) {
	logger, buf := captureLogger(config.LoggingConfig{Level: "info", Format: "text"}, "dev")

	logger.Info("enumeration complete", "users", 12)

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("text format produced JSON: %s", out)
	}
	if !strings.Contains(out, "enumeration complete") {
		t.Errorf("output missing message: %s", out)
	}
}

func TestLogger_LevelFiltersDebug(t *testing.T) {
	logger, buf := captureLogger(config.LoggingConfig{Level: "info", Format: "json"}, "dev")

	logger.Debug("packet dump", "bytes", 48)
	if buf.Len() != 0 {
		t.Errorf("debug line emitted at info level: %s", buf.String())
	}

	logger.Warn("terminal slow to answer")
	if buf.Len() == 0 {
		t.Error("warn line dropped at info level")
	}
}

func TestLogger_WithTagsComponent(t *testing.T) {
	logger, buf := captureLogger(config.LoggingConfig{Level: "info", Format: "json"}, "dev")

	child := logger.With("component", "mqtt")
	if child == logger {
		t.Fatal("With() returned the parent logger")
	}
	child.Info("broker up")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["component"] != "mqtt" {
		t.Errorf("component = %v, want mqtt", entry["component"])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() = nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
