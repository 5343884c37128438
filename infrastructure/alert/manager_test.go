package alert

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"exchange-sim/infrastructure/logger"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendAlert(Alert{
		Level:   LevelError,
		Message: "replay aborted",
		Fields:  map[string]interface{}{"symbol": "VOD.L"},
	})
	if err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}
	got := mock.GetAlerts()[0]
	if got.Level != LevelError || got.Fields["symbol"] != "VOD.L" {
		t.Errorf("unexpected alert %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	for i := 0; i < 5; i++ {
		if err := mgr.SendError("subscriber failed", nil); err != nil {
			t.Fatalf("SendError: %v", err)
		}
	}
	if mock.Count() != 1 {
		t.Errorf("expected throttled to 1 alert, got %d", mock.Count())
	}

	// 不同级别或消息不互相限流
	_ = mgr.SendCritical("subscriber failed", nil)
	_ = mgr.SendError("replay aborted", nil)
	if mock.Count() != 3 {
		t.Errorf("expected 3 alerts, got %d", mock.Count())
	}

	mgr.ResetThrottle()
	_ = mgr.SendError("subscriber failed", nil)
	if mock.Count() != 4 {
		t.Errorf("expected 4 alerts after reset, got %d", mock.Count())
	}
}

func TestThrottleScopedBySubscriber(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	send := func(sub string, n int) {
		_ = mgr.SendAlert(Alert{
			Level:   LevelError,
			Message: "book subscriber panicked",
			Fields:  map[string]interface{}{"symbol": "VOD.L", "subscriber": sub, "panic": n},
		})
	}
	send("portfolio:alice", 1)
	send("portfolio:alice", 2)
	send("bars", 3)
	if mock.Count() != 2 {
		t.Fatalf("expected one alert per subscriber, got %d", mock.Count())
	}
	if mgr.Suppressed() != 1 {
		t.Fatalf("expected 1 suppressed, got %d", mgr.Suppressed())
	}
}

func TestThrottlerWindow(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	if !th.Allow("k") {
		t.Fatal("first call should pass")
	}
	now = now.Add(30 * time.Second)
	if th.Allow("k") {
		t.Fatal("second call inside window should be throttled")
	}
	now = now.Add(31 * time.Second)
	if !th.Allow("k") {
		t.Fatal("call after window should pass")
	}
}

func TestChannelFailures(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	good := NewMockChannel("good")

	if err := NewManager([]Channel{bad}, 0).SendError("x", nil); err == nil {
		t.Fatal("all channels failing should return an error")
	}
	if err := NewManager([]Channel{bad, good}, 0).SendError("x", nil); err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if good.Count() != 1 {
		t.Errorf("good channel got %d alerts", good.Count())
	}
}

func TestAddChannel(t *testing.T) {
	mgr := NewManager(nil, 0)
	mgr.AddChannel(NewMockChannel("a"))
	mgr.AddChannel(NewMockChannel("b"))
	names := mgr.GetChannels()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("channels = %v", names)
	}
}

func TestLogChannelWritesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ch := NewLogChannel("log", &logger.Logger{Logger: zap.New(core)})

	err := ch.Send(Alert{Level: LevelWarning, Message: "slow consumer", Fields: map[string]interface{}{"subscriber": "md"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != zap.WarnLevel || e.Message != "slow consumer" {
		t.Errorf("entry = %v %q", e.Level, e.Message)
	}
	if e.ContextMap()["subscriber"] != "md" {
		t.Errorf("missing field: %v", e.ContextMap())
	}
}

func TestConcurrentAlerts(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.SendError("concurrent", nil)
		}()
	}
	wg.Wait()
	if mock.Count() == 0 {
		t.Error("expected at least one alert delivered")
	}
}
