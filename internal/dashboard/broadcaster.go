// Package dashboard implements the fan-out broadcaster (C8): subscriber
// sessions receive live call events over WebSocket, with state replay on
// connect, a 30s heartbeat, and the inbound location-send control signals.
package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Frame is any outbound dashboard event; the Type field is the wire
// discriminant consumers switch on.
type Frame map[string]interface{}

// Subscriber is a live dashboard connection: a serialized send path and
// the last time it sent the broadcaster a message.
type Subscriber struct {
	id       string
	send     chan Frame
	lastPing time.Time
}

// NewSubscriber constructs a Subscriber with a buffered send channel; the
// caller is responsible for draining Send() into the transport.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Subscriber{id: id, send: make(chan Frame, bufferSize), lastPing: time.Now()}
}

// Send returns the channel frames are delivered on.
func (s *Subscriber) Send() <-chan Frame { return s.send }

// ActiveCall is the state replayed to a newly-subscribed dashboard client.
type ActiveCall struct {
	CallSID string    `json:"call_sid"`
	Caller  string    `json:"caller"`
	Called  string    `json:"called"`
	Started time.Time `json:"started_at"`
}

// Broadcaster holds the subscriber set and the active-call index used for
// state replay. Safe for concurrent use from any component.
type Broadcaster struct {
	logger orchestrator.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	activeCalls map[string]ActiveCall
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster(logger orchestrator.Logger) *Broadcaster {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Broadcaster{
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		activeCalls: make(map[string]ActiveCall),
	}
}

// Subscribe registers session and immediately sends an init frame listing
// current active calls.
func (b *Broadcaster) Subscribe(sub *Subscriber) {
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	calls := make([]ActiveCall, 0, len(b.activeCalls))
	for _, c := range b.activeCalls {
		calls = append(calls, c)
	}
	b.mu.Unlock()

	b.deliver(sub, Frame{"type": "init", "active_calls": calls})
}

// Unsubscribe removes session from the set; idempotent.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()
}

// Broadcast hands the same frame to every subscriber's own send channel;
// serialization happens per connection in the server. A subscriber whose
// channel is full is removed.
func (b *Broadcaster) Broadcast(frame Frame) {
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	var dead []*Subscriber
	for _, s := range targets {
		if !b.deliver(s, frame) {
			dead = append(dead, s)
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, s := range dead {
			delete(b.subscribers, s.id)
		}
		b.mu.Unlock()
	}
}

func (b *Broadcaster) deliver(s *Subscriber, frame Frame) bool {
	select {
	case s.send <- frame:
		return true
	default:
		b.logger.Warn("dashboard: subscriber send path full, dropping", "subscriber", s.id)
		return false
	}
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// CallStarted registers an active call and broadcasts call_started.
func (b *Broadcaster) CallStarted(callSID, caller, called string) {
	b.mu.Lock()
	b.activeCalls[callSID] = ActiveCall{CallSID: callSID, Caller: caller, Called: called, Started: time.Now()}
	b.mu.Unlock()

	b.Broadcast(Frame{"type": "call_started", "call_sid": callSID, "caller": caller, "called": called, "ts": nowISO()})
}

// TranscriptUpdate broadcasts one turn's transcript/reply with optional
// latency.
func (b *Broadcaster) TranscriptUpdate(callSID, speaker, text string, turnIndex int, latencyMS *int64) {
	frame := Frame{
		"type": "transcript", "call_sid": callSID, "speaker": speaker,
		"text": text, "turn_index": turnIndex, "ts": nowISO(),
	}
	if latencyMS != nil {
		frame["latency_ms"] = *latencyMS
	}
	b.Broadcast(frame)
}

// ProcessingStatus broadcasts the current pipeline stage for a call.
func (b *Broadcaster) ProcessingStatus(callSID, status string) {
	b.Broadcast(Frame{"type": "processing", "call_sid": callSID, "status": status, "ts": nowISO()})
}

// CallEnded broadcasts the end of a call and removes it from the active
// set.
func (b *Broadcaster) CallEnded(callSID string, durationSeconds *float64) {
	b.mu.Lock()
	delete(b.activeCalls, callSID)
	b.mu.Unlock()

	frame := Frame{"type": "call_ended", "call_sid": callSID, "ts": nowISO()}
	if durationSeconds != nil {
		frame["duration_seconds"] = *durationSeconds
	}
	b.Broadcast(frame)
}

// Error broadcasts a non-routine condition.
func (b *Broadcaster) Error(callSID, errorType, message string) {
	b.Broadcast(Frame{"type": "error", "call_sid": callSID, "error_type": errorType, "message": message, "ts": nowISO()})
}

// AnalyticsEvent implements analytics.Broadcaster, forwarding raw analytics
// event names to dashboard subscribers.
func (b *Broadcaster) AnalyticsEvent(callSID string, event string, ts time.Time) {
	b.Broadcast(Frame{"type": "analytics_event", "call_sid": callSID, "event": event, "ts": ts.UTC().Format(time.RFC3339)})
}

// ActiveCallCount reports the number of calls currently tracked as
// active, for /healthz and the gateway's Prometheus gauge.
func (b *Broadcaster) ActiveCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.activeCalls)
}

// Heartbeat broadcasts the active-call count to every subscriber; the
// server calls it from each dashboard connection's own 30s ticker.
func (b *Broadcaster) Heartbeat() {
	b.mu.Lock()
	count := len(b.activeCalls)
	b.mu.Unlock()
	b.Broadcast(Frame{"type": "heartbeat", "active_call_count": count, "ts": nowISO()})
}

// HandleInbound dispatches one inbound subscriber frame. send_location and
// cancel_location are relayed through onLocationSignal since the scheduled
// send itself is C9's responsibility, not the broadcaster's.
func (b *Broadcaster) HandleInbound(sub *Subscriber, raw []byte, onLocationSignal func(signal, callID, caller string)) {
	var msg struct {
		Type    string `json:"type"`
		CallSID string `json:"call_sid"`
		Caller  string `json:"caller"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.logger.Warn("dashboard: dropping malformed inbound frame", "error", err)
		return
	}

	sub.lastPing = time.Now()

	switch msg.Type {
	case "ping":
		b.deliver(sub, Frame{"type": "pong", "ts": nowISO()})
	case "send_location":
		if onLocationSignal != nil {
			onLocationSignal("send", msg.CallSID, msg.Caller)
		}
	case "cancel_location":
		if onLocationSignal != nil {
			onLocationSignal("cancel", msg.CallSID, msg.Caller)
		}
	default:
		b.logger.Warn("dashboard: unknown inbound frame type", "type", msg.Type)
	}
}

// LocationSendPending, LocationSent, LocationCancelled implement the
// location-send signal relay described alongside the scheduled-action
// manager (C9).
func (b *Broadcaster) LocationSendPending(callSID, caller string, confidence float64, reason string, timeoutSeconds int) {
	b.Broadcast(Frame{
		"type": "location_send_pending", "call_sid": callSID, "caller": caller,
		"confidence": confidence, "reason": reason, "timeout_seconds": timeoutSeconds, "ts": nowISO(),
	})
}

func (b *Broadcaster) LocationSent(callSID, trigger string, success bool) {
	b.Broadcast(Frame{"type": "location_sent", "call_sid": callSID, "trigger": trigger, "success": success, "ts": nowISO()})
}

func (b *Broadcaster) LocationCancelled(callSID string) {
	b.Broadcast(Frame{"type": "location_cancelled", "call_sid": callSID, "ts": nowISO()})
}
