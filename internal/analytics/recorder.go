package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type callLog struct {
	mu        sync.Mutex
	callID    string
	caller    string
	called    string
	startedAt time.Time
	nextID    int64
	events    []Event
	file      *os.File
}

// Recorder is the call-scoped analytics engine: it accepts emit() calls
// from the turn pipeline and the media handler, appends them in memory
// (the source of truth), persists them to a per-call JSON-line log, and
// forwards them to the dashboard broadcaster.
type Recorder struct {
	root            string
	transcriptsRoot string
	broadcaster     Broadcaster
	logger          orchestrator.Logger

	mu    sync.Mutex
	calls map[string]*callLog
}

// NewRecorder constructs a Recorder writing under root (analytics_root)
// and transcriptsRoot, forwarding events to broadcaster.
func NewRecorder(root, transcriptsRoot string, broadcaster Broadcaster, logger orchestrator.Logger) *Recorder {
	if broadcaster == nil {
		broadcaster = NoOpBroadcaster{}
	}
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Recorder{
		root:            root,
		transcriptsRoot: transcriptsRoot,
		broadcaster:     broadcaster,
		logger:          logger,
		calls:           make(map[string]*callLog),
	}
}

// StartCall opens the event log for a new call and emits call_started.
func (r *Recorder) StartCall(callID, caller, called string) error {
	dir := filepath.Join(r.root, callID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Error("analytics: failed to create call directory", "call_id", callID, "error", err)
	}

	var file *os.File
	var err error
	if dir != "" {
		file, err = os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			r.logger.Error("analytics: failed to open events.jsonl", "call_id", callID, "error", err)
		}
	}

	cl := &callLog{
		callID:    callID,
		caller:    caller,
		called:    called,
		startedAt: time.Now(),
		file:      file,
	}

	r.mu.Lock()
	r.calls[callID] = cl
	r.mu.Unlock()

	r.Emit(callID, CallStarted, nil, map[string]interface{}{"caller": caller, "called": called})
	return nil
}

// Emit appends event to the in-memory log (synchronously, the source of
// truth), writes a JSON line to disk, and forwards an analytics_event to
// the dashboard. Disk and dashboard delivery failures are logged but never
// prevent the in-memory append or block each other.
func (r *Recorder) Emit(callID string, evtType EventType, turnIndex *int, payload map[string]interface{}) {
	r.mu.Lock()
	cl := r.calls[callID]
	r.mu.Unlock()
	if cl == nil {
		r.logger.Warn("analytics: emit for unknown call", "call_id", callID, "type", evtType)
		return
	}

	cl.mu.Lock()
	cl.nextID++
	evt := Event{
		ID:        cl.nextID,
		CallID:    callID,
		Type:      evtType,
		Timestamp: time.Now(),
		TurnIndex: turnIndex,
		Payload:   payload,
	}
	cl.events = append(cl.events, evt)
	file := cl.file
	cl.mu.Unlock()

	if file != nil {
		line, err := json.Marshal(evt)
		if err != nil {
			r.logger.Error("analytics: failed to marshal event", "call_id", callID, "error", err)
		} else {
			line = append(line, '\n')
			if _, err := file.Write(line); err != nil {
				r.logger.Error("analytics: failed to write event log", "call_id", callID, "error", err)
			}
		}
	}

	r.broadcaster.AnalyticsEvent(callID, string(evtType), evt.Timestamp)
}

// Events returns a copy of the in-memory event list for callID.
func (r *Recorder) Events(callID string) []Event {
	r.mu.Lock()
	cl := r.calls[callID]
	r.mu.Unlock()
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]Event, len(cl.events))
	copy(out, cl.events)
	return out
}

// FinalizeCall reconstructs per-turn records and the call summary from the
// in-memory event stream, writes turns.json and summary.json, and removes
// the call from the active set.
func (r *Recorder) FinalizeCall(callID string) ([]Turn, CallSummary, error) {
	r.mu.Lock()
	cl := r.calls[callID]
	r.mu.Unlock()

	if cl == nil {
		return nil, CallSummary{}, fmt.Errorf("analytics: unknown call %q", callID)
	}

	cl.mu.Lock()
	events := make([]Event, len(cl.events))
	copy(events, cl.events)
	caller, called, startedAt := cl.caller, cl.called, cl.startedAt
	file := cl.file
	cl.mu.Unlock()

	// Emit call_ended while the call is still registered so Emit's
	// lookup succeeds, then remove it from the active set.
	r.Emit(callID, CallEnded, nil, nil)

	r.mu.Lock()
	delete(r.calls, callID)
	r.mu.Unlock()

	cl.mu.Lock()
	events = append(events, cl.events[len(events):]...)
	cl.mu.Unlock()

	if file != nil {
		file.Close()
	}

	turns := ReconstructTurns(callID, events)
	summary := Summarize(callID, caller, called, startedAt, time.Now(), turns)

	dir := filepath.Join(r.root, callID)

	// turns.json, summary.json, and the transcript are independent
	// files derived from the same in-memory snapshot, so the writes run
	// concurrently rather than one after another.
	var g errgroup.Group
	g.Go(func() error {
		return writeJSON(filepath.Join(dir, "turns.json"), turns)
	})
	g.Go(func() error {
		return writeJSON(filepath.Join(dir, "summary.json"), summary)
	})
	if r.transcriptsRoot != "" {
		g.Go(func() error {
			t := Transcript{
				CallID:          callID,
				Caller:          caller,
				Called:          called,
				StartedAt:       startedAt,
				EndedAt:         summary.EndedAt,
				DurationSeconds: summary.DurationSeconds,
				Turns:           turns,
			}
			if err := os.MkdirAll(r.transcriptsRoot, 0o755); err != nil {
				return fmt.Errorf("create transcripts root: %w", err)
			}
			return writeJSON(filepath.Join(r.transcriptsRoot, callID+".json"), t)
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("analytics: failed to persist call artifacts", "call_id", callID, "error", err)
	}

	return turns, summary, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
