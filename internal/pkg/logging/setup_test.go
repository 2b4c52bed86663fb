package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestMultiHandler_RespectsLevels(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("service", "goalbot")

	logger.Info("cycle finished", "sessions", 3)
	logger.Warn("refresh failed", "match", "mid:1")

	if !strings.Contains(debugBuf.String(), "cycle finished") || !strings.Contains(debugBuf.String(), "refresh failed") {
		t.Errorf("debug handler should receive both records, got %q", debugBuf.String())
	}
	if strings.Contains(warnBuf.String(), "cycle finished") {
		t.Errorf("warn handler should not receive info records, got %q", warnBuf.String())
	}
	if !strings.Contains(warnBuf.String(), "service=goalbot") {
		t.Errorf("attrs should propagate to every handler, got %q", warnBuf.String())
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Errorf("multi handler should be enabled when any handler is")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
