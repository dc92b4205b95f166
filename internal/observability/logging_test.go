package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRedactsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("request failed with api_key=abcdef0123456789abcdef")

	out := buf.String()
	if strings.Contains(out, "abcdef0123456789abcdef") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("no redaction marker: %s", out)
	}
}

func TestNewLoggerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	logger.Info("connecting", "token", "super-secret-value", "host", "example.com")

	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("token value leaked: %s", out)
	}
	if !strings.Contains(out, "example.com") {
		t.Errorf("benign value dropped: %s", out)
	}
}

func TestNewLoggerRedactsProviderKeyShapes(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"anthropic", "sk-ant-" + strings.Repeat("a", 30)},
		{"openai", "sk-" + strings.Repeat("b", 40)},
		{"jwt", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.c2ln"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Format: "json", Output: &buf})
			logger.Info("got credential", "value", tt.secret)
			if strings.Contains(buf.String(), tt.secret) {
				t.Errorf("%s key leaked: %s", tt.name, buf.String())
			}
		})
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("filtered levels leaked: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestNewLoggerWithAttrsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	logger.With("authorization", "Bearer abc").Info("ready")

	if strings.Contains(buf.String(), "Bearer abc") {
		t.Errorf("With attr leaked: %s", buf.String())
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.in); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
