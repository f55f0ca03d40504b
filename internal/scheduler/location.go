package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// DefaultLocationSendDelay matches the reference auto_send_delay_seconds
// default.
const DefaultLocationSendDelay = 30 * time.Second

// SMSSender sends one SMS and reports whether it succeeded.
type SMSSender interface {
	Send(to, body string) (sid string, err error)
}

// LocationBroadcaster is the subset of the dashboard broadcaster the
// location manager drives.
type LocationBroadcaster interface {
	LocationSendPending(callSID, caller string, confidence float64, reason string, timeoutSeconds int)
	LocationSent(callSID, trigger string, success bool)
	LocationCancelled(callSID string)
}

// LocationManager queues location SMS sends on a per-call countdown,
// cancellable via an inbound dashboard signal. Call SIDs prefixed with
// "TEST-" never reach the real SMS sender, matching the convention used
// for seeded test calls.
type LocationManager struct {
	scheduler    *Manager
	sms          SMSSender
	broadcaster  LocationBroadcaster
	logger       orchestrator.Logger
	defaultDelay time.Duration

	mu      sync.Mutex
	pending map[string]queuedSend
}

type queuedSend struct {
	to      string
	message string
}

// NewLocationManager constructs a LocationManager.
func NewLocationManager(sms SMSSender, broadcaster LocationBroadcaster, logger orchestrator.Logger) *LocationManager {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &LocationManager{
		scheduler:    NewManager(),
		sms:          sms,
		broadcaster:  broadcaster,
		logger:       logger,
		defaultDelay: DefaultLocationSendDelay,
		pending:      make(map[string]queuedSend),
	}
}

// QueueSend schedules an SMS containing message to be sent to "to"
// after delay (or the default delay if delay <= 0), unless cancelled or
// fired early first. Queuing a new send for callID supersedes any
// already pending for that call.
func (l *LocationManager) QueueSend(callID, to, message string, delay time.Duration, confidence float64, reason string) {
	if delay <= 0 {
		delay = l.defaultDelay
	}

	l.mu.Lock()
	l.pending[callID] = queuedSend{to: to, message: message}
	l.mu.Unlock()

	l.broadcaster.LocationSendPending(callID, to, confidence, reason, int(delay/time.Second))

	l.scheduler.Schedule(callID, delay, func(ctx context.Context) {
		l.send(callID, "timeout")
	})
}

// Cancel cancels a queued send for callID, if any, and broadcasts
// location_cancelled.
func (l *LocationManager) Cancel(callID string) bool {
	cancelled := l.scheduler.Cancel(callID)

	l.mu.Lock()
	_, wasQueued := l.pending[callID]
	delete(l.pending, callID)
	l.mu.Unlock()

	if wasQueued {
		l.broadcaster.LocationCancelled(callID)
	}
	return cancelled || wasQueued
}

// SendNow sends a queued send immediately with the "manual" trigger,
// skipping the remainder of its countdown.
func (l *LocationManager) SendNow(callID string) bool {
	// Stop the countdown so the timeout send cannot also run, then send
	// directly if the call still has a queued message.
	l.scheduler.Cancel(callID)
	l.mu.Lock()
	_, ok := l.pending[callID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.send(callID, "manual")
	return true
}

func (l *LocationManager) send(callID, trigger string) {
	l.mu.Lock()
	q, ok := l.pending[callID]
	delete(l.pending, callID)
	l.mu.Unlock()
	if !ok {
		return
	}

	if strings.HasPrefix(callID, "TEST-") {
		l.logger.Info("scheduler: skipping real SMS for test call", "call_id", callID)
		l.broadcaster.LocationSent(callID, trigger, true)
		return
	}

	_, err := l.sms.Send(q.to, q.message)
	if err != nil {
		l.logger.Error("scheduler: location SMS failed", "call_id", callID, "error", err)
		l.broadcaster.LocationSent(callID, trigger, false)
		return
	}
	l.broadcaster.LocationSent(callID, trigger, true)
}

// Pending reports whether a send is currently queued for callID.
func (l *LocationManager) Pending(callID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[callID]
	return ok
}
