package orchestrator

import "testing"

func TestMessage(t *testing.T) {
	msg := Message{Role: "user", Content: "Hello"}
	if msg.Role != "user" {
		t.Errorf("Expected role 'user', got '%s'", msg.Role)
	}
}

func TestStdLoggerImplementsLogger(t *testing.T) {
	var l Logger = NewStdLogger()
	l.Info("test message", "key", "value")
	l.Error("test error", "err", "boom")
}

func TestNoOpLoggerImplementsLogger(t *testing.T) {
	var l Logger = &NoOpLogger{}
	l.Debug("noop")
	l.Warn("noop")
}
