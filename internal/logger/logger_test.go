package logger

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithAddsFieldsToEveryEntry(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core)).With(String("request_id", "abc"))

	log.Info("publish accepted", Int("warnings", 2))
	log.Error("write failed", Error(errors.New("boom")))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.ContextMap()["request_id"] != "abc" {
			t.Fatalf("missing request_id on %q: %v", entry.Message, entry.ContextMap())
		}
	}
	if entries[1].ContextMap()["error"] != "boom" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap())
	}
}

func TestNopLoggerSync(t *testing.T) {
	if err := NewNopLogger().Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestNewLoggerProduction(t *testing.T) {
	log, err := NewLogger(false)
	if err != nil {
		t.Fatalf("NewLogger(false) error = %v", err)
	}
	log.Debug("dropped at info level")
}
