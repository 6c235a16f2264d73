package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func swapLogger(t *testing.T, l *zap.Logger) {
	t.Helper()
	globalLogger = l
	t.Cleanup(func() { globalLogger = zap.NewNop() })
}

func TestInitHonoursLevel(t *testing.T) {
	t.Cleanup(func() { globalLogger = zap.NewNop() })

	if err := Init("debug"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !Logger().Core().Enabled(zap.DebugLevel) {
		t.Fatal("debug level not enabled")
	}

	if err := Init("not-a-level"); err != nil {
		t.Fatalf("Init with bad level: %v", err)
	}
	if Logger().Core().Enabled(zap.DebugLevel) {
		t.Fatal("bad level should fall back to info")
	}
}

func TestHelpersLogThroughGlobal(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	swapLogger(t, zap.New(core))

	Info("info message", zap.String("k", "v"))
	Warn("warn message")
	Error("error message")
	Debug("debug message")

	if recorded.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", recorded.Len())
	}
	if got := recorded.All()[0].ContextMap()["k"]; got != "v" {
		t.Fatalf("field k = %v, want v", got)
	}
}

func TestWithModuleTagsEntries(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	swapLogger(t, zap.New(core))

	WithModule("gate").Info("decision")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if module := entries[0].ContextMap()["module"]; module != "gate" {
		t.Fatalf("module = %v, want gate", module)
	}
}
