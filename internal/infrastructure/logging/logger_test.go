package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/wooshrobot/armlink/internal/infrastructure/config"
)

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
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	log := New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, "test")
	if log == nil || log.Logger == nil {
		t.Fatal("New() returned nil logger")
	}

	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
}

func TestWith(t *testing.T) {
	log := Default()
	child := log.With("component", "test")
	if child == nil || child.Logger == nil {
		t.Fatal("With() returned nil logger")
	}
	if child == log {
		t.Error("With() should return a new logger")
	}
}
