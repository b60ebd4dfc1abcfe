//go:build unit_test

package logging

import (
	"log/slog"
	"testing"
)

func TestNew_returnsUsableLogger(t *testing.T) {
	l := New(slog.LevelInfo, false)
	if l == nil {
		t.Fatal("New() returned nil")
	}
	if !l.Enabled(nil, slog.LevelInfo) {
		t.Error("expected info level to be enabled")
	}
	if l.Enabled(nil, slog.LevelDebug) {
		t.Error("expected debug level to be disabled above info")
	}
}
