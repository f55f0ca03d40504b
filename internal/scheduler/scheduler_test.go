package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleRunsAfterDelay(t *testing.T) {
	m := NewManager()
	var ran int32

	m.Schedule("k1", 20*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&ran, 1)
	})

	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("action fired before its delay elapsed")
	}
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("expected action to have run once, got %d", ran)
	}
}

func TestCancelPreventsAction(t *testing.T) {
	m := NewManager()
	var ran int32

	m.Schedule("k1", 20*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&ran, 1)
	})
	if !m.Cancel("k1") {
		t.Fatal("expected Cancel to report a pending action")
	}

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Errorf("expected cancelled action not to run, got %d", ran)
	}
	if m.Cancel("k1") {
		t.Error("expected second cancel to report nothing pending")
	}
}

func TestScheduleSupersedesPriorPending(t *testing.T) {
	m := NewManager()
	var firstRan, secondRan int32

	m.Schedule("k1", 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&firstRan, 1)
	})
	m.Schedule("k1", 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&secondRan, 1)
	})

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&firstRan) != 0 {
		t.Error("expected the superseded action never to run")
	}
	if atomic.LoadInt32(&secondRan) != 1 {
		t.Errorf("expected the latest schedule to run once, got %d", secondRan)
	}
}

func TestFireRunsImmediatelyAndSkipsDelayedFire(t *testing.T) {
	m := NewManager()
	var runs int32

	m.Schedule("k1", time.Hour, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	})
	if !m.Fire("k1") {
		t.Fatal("expected Fire to report a pending action")
	}
	if atomic.LoadInt32(&runs) != 1 {
		t.Errorf("expected Fire to run the action synchronously, got %d", runs)
	}
	if m.Pending("k1") {
		t.Error("expected no action pending after Fire")
	}

	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&runs) != 1 {
		t.Errorf("expected the original delayed fire to have been suppressed, got %d", runs)
	}
}

func TestPendingReflectsState(t *testing.T) {
	m := NewManager()
	if m.Pending("k1") {
		t.Fatal("expected no pending action initially")
	}
	m.Schedule("k1", time.Hour, func(ctx context.Context) {})
	if !m.Pending("k1") {
		t.Error("expected action to be pending after Schedule")
	}
	m.Cancel("k1")
	if m.Pending("k1") {
		t.Error("expected no pending action after Cancel")
	}
}
