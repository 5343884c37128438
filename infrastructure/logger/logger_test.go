package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestLogEventSchema(t *testing.T) {
	l, logs := observed()

	l.LogReplay("simulation_stopped", map[string]interface{}{"rows": 3})
	l.LogOrder("accepted", "a1", map[string]interface{}{"client_id": "alice"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	ok := entries[0].ContextMap()
	if ok["event"] != "simulation_stopped" || entries[0].Message != "replay_event" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if _, has := ok["schema_error"]; has {
		t.Fatalf("complete event flagged: %v", ok["schema_error"])
	}
	bad := entries[1].ContextMap()
	if bad["order_id"] != "a1" {
		t.Fatalf("order_id not set: %v", bad)
	}
	if _, has := bad["schema_error"]; !has {
		t.Fatalf("expected schema_error for incomplete order event")
	}
}

func TestLogError(t *testing.T) {
	l, logs := observed()
	l.LogError(errors.New("boom"), nil)
	entries := logs.FilterMessage("error_event").All()
	if len(entries) != 1 || entries[0].ContextMap()["error"] != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestNewFileOutputs(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Level:      "info",
		Outputs:    []string{"file"},
		OutputFile: filepath.Join(dir, "out.log"),
		ErrorFile:  filepath.Join(dir, "err.log"),
		Format:     "json",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Named("test").LogTrade("FILL", map[string]interface{}{"client_id": "alice"})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "out.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := string(raw)
	if !strings.Contains(line, `"msg":"trade_event"`) || !strings.Contains(line, `"time":`) || !strings.Contains(line, `"schema_error"`) {
		t.Fatalf("unexpected file output %s", line)
	}

	if _, err := New(Config{Level: "loud", Outputs: []string{"stdout"}}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, err := New(Config{Level: "info"}); err == nil {
		t.Fatalf("expected error without outputs")
	}
}
