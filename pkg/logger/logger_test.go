package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "error", ErrorLevel.String())
	assert.Equal(t, "unknown", Level(99).String())
}

func TestNew_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "json", Writer: &buf})

	log.Info("cycle started", "run_id", "r-1")
	log.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "cycle started", entry["message"])
	assert.Equal(t, "r-1", entry["run_id"])
}

func TestSlogLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "text", Writer: &buf})
	assert.Equal(t, InfoLevel, log.GetLevel())

	log.Debug("before")
	assert.Empty(t, buf.String())

	log.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, log.GetLevel())
	log.Debug("after")
	assert.Contains(t, buf.String(), "after")
}

func TestSlogLogger_WithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: WarnLevel, Format: "text", Writer: &buf})
	child := log.With("stage", "Priming")

	log.SetLevel(DebugLevel)
	child.Debug("child message")
	assert.Contains(t, buf.String(), "stage=Priming")
	assert.NoError(t, child.Close())
}

func TestContextTraceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "json", Writer: &buf})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	log.InfoContext(ctx, "traced")
	assert.Contains(t, buf.String(), `"trace_id":"0102030405060708090a0b0c0d0e0f10"`)
	assert.Contains(t, buf.String(), `"span_id":"0102030405060708"`)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pumpcycle.log")
	log := New(&Config{Level: InfoLevel, Format: "text", Output: path})

	log.Info("to file")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestFromContextAndGlobal(t *testing.T) {
	prev := Global()
	t.Cleanup(func() { SetGlobal(prev) })

	nop := Nop()
	SetGlobal(nop)
	assert.Same(t, nop, Global())
	assert.Same(t, nop, FromContext(context.Background()))

	var buf bytes.Buffer
	scoped := New(&Config{Level: InfoLevel, Writer: &buf})
	ctx := scoped.WithContext(context.Background())
	assert.Same(t, scoped, FromContext(ctx))
}
