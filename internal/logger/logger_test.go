package logger

import (
	"testing"
)

func TestNew_Development(t *testing.T) {
	log, err := New(true)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}

	// Should not panic
	log.Info("test message")
}

func TestNew_Production(t *testing.T) {
	log, err := New(false)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewWithLevel(t *testing.T) {
	log, err := NewWithLevel(false, "debug")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if !log.Core().Enabled(-1) { // zapcore.DebugLevel
		t.Error("expected debug level to be enabled")
	}

	// unknown level falls back to info
	log, err = NewWithLevel(false, "nonsense")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Error("expected debug level to be disabled at info")
	}
}

func TestMust(t *testing.T) {
	// Should not panic
	log := Must(true)
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
}
