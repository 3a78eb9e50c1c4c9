package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug message written at info level: %q", buf.String())
	}

	l.SetLevel(DebugLevel)
	l.Debug("shown")
	if !strings.Contains(buf.String(), "[DEBUG] shown") {
		t.Fatalf("missing debug line, got %q", buf.String())
	}
}

func TestWithFieldsSharesLevelAndSortsFields(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriterLogger(&buf)
	child := root.WithFields(Fields{"component": "tempo", "a": 1})

	root.SetLevel(WarnLevel)
	child.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("child ignored root level: %q", buf.String())
	}

	child.Error(errors.New("boom"), "failed", Fields{"b": 2})
	line := buf.String()
	if !strings.Contains(line, "[ERROR] failed: boom a=1 b=2 component=tempo") {
		t.Fatalf("unexpected error line %q", line)
	}
}

func TestWithContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	ctx := ContextWithFields(context.Background(), Fields{"session": "s1"})
	ctx = ContextWithFields(ctx, Fields{"phase": 2})
	l.WithContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), "phase=2 session=s1") {
		t.Fatalf("context fields missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DebugLevel, "WARN": WarnLevel, " error ": ErrorLevel, "": InfoLevel}
	for name, want := range cases {
		got, ok := ParseLevel(name)
		if !ok || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", name, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Errorf("ParseLevel accepted unknown level")
	}
}

func TestSetGlobalLoggerNil(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	SetGlobalLogger(nil)
	if _, ok := GetGlobalLogger().(*NoOpLogger); !ok {
		t.Fatalf("nil logger should install NoOpLogger, got %T", GetGlobalLogger())
	}
	Info("nothing happens")
}
