// Package carrier implements the call-session media handler (C6): the
// carrier-facing WebSocket endpoint, its inbound/outbound frame
// protocol, and the per-call state machine that wires the segmenter
// (C2), the turn pipeline (C4), conversation state (C5), the analytics
// recorder (C7), the dashboard broadcaster (C8), the scheduled-action
// manager (C9), and hangup control (C10) together for one call.
package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/analytics"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/dashboard"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/hangup"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// goodbyeDrain is the pause after playback of a terminal reply before
// hangup is requested, matching the reference's 500ms grace period.
const goodbyeDrain = 500 * time.Millisecond

// KnowledgeLookup resolves a caller id to the knowledge snapshot that
// seeds that call's system prompt. Knowledge is read-only for the life
// of a call; it is fetched once when the session starts, before the
// greeting, and never reloaded.
type KnowledgeLookup func(callerID string) orchestrator.KnowledgeSnapshot

// Handler accepts carrier media WebSocket connections and runs the
// per-call session loop. One Handler serves every concurrent call; all
// per-call state lives in the callSession each ServeHTTP invocation
// owns exclusively.
type Handler struct {
	pipeline    *orchestrator.Pipeline
	recorder    *analytics.Recorder
	broadcaster *dashboard.Broadcaster
	hangupClt   *hangup.Client
	locationMgr LocationQueuer

	knowledge    KnowledgeLookup
	greeting     string
	contextTurns int
	language     orchestrator.Language
	segCfg       orchestrator.SegmenterConfig

	logger orchestrator.Logger
}

// LocationQueuer is the subset of scheduler.LocationManager the handler
// needs; narrowed to an interface so handler tests can stub it without
// a real scheduler.
type LocationQueuer interface {
	QueueSend(callID, to, message string, delay time.Duration, confidence float64, reason string)
	Cancel(callID string) bool
}

// Config bundles the construction-time parameters for a Handler.
type Config struct {
	Greeting     string
	ContextTurns int
	Language     orchestrator.Language
	Segmenter    orchestrator.SegmenterConfig
}

// NewHandler constructs a Handler. locationMgr may be nil if the
// deployment has no location-SMS policy wired in.
func NewHandler(
	pipeline *orchestrator.Pipeline,
	recorder *analytics.Recorder,
	broadcaster *dashboard.Broadcaster,
	hangupClt *hangup.Client,
	locationMgr LocationQueuer,
	knowledge KnowledgeLookup,
	cfg Config,
	logger orchestrator.Logger,
) *Handler {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	if cfg.Greeting == "" {
		cfg.Greeting = "Pronto, mi dica."
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = 4
	}
	if cfg.Language == "" {
		cfg.Language = orchestrator.LanguageIt
	}
	if cfg.Segmenter == (orchestrator.SegmenterConfig{}) {
		cfg.Segmenter = orchestrator.DefaultSegmenterConfig()
	}
	return &Handler{
		pipeline:     pipeline,
		recorder:     recorder,
		broadcaster:  broadcaster,
		hangupClt:    hangupClt,
		locationMgr:  locationMgr,
		knowledge:    knowledge,
		greeting:     cfg.Greeting,
		contextTurns: cfg.ContextTurns,
		language:     cfg.Language,
		segCfg:       cfg.Segmenter,
		logger:       logger,
	}
}

// ServeHTTP upgrades the request to a carrier media WebSocket and runs
// the session to completion. It returns once the call has ended.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("carrier: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	frames := make(chan inboundFrame, 64)
	readErrs := make(chan error, 1)
	go h.readLoop(ctx, conn, frames, readErrs)

	sess, err := h.awaitStart(ctx, conn, frames, readErrs)
	if err != nil {
		h.logger.Warn("carrier: session ended before start", "error", err)
		return
	}

	h.runSession(ctx, conn, sess, frames, readErrs)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, frames chan<- inboundFrame, errs chan<- error) {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			errs <- err
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.logger.Warn("carrier: dropping malformed inbound frame", "error", err)
			continue
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// awaitStart consumes connected/start frames until the handshake
// completes (State Accepted → Streaming-Handshake), emitting
// stream_connected and registering the call with C7/C8.
func (h *Handler) awaitStart(ctx context.Context, conn *websocket.Conn, frames <-chan inboundFrame, readErrs <-chan error) (*callSession, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-readErrs:
			return nil, err
		case frame := <-frames:
			switch frame.Event {
			case "connected":
				continue
			case "start":
				if frame.Start == nil {
					h.logger.Warn("carrier: start frame missing payload")
					continue
				}
				callID := frame.Start.CustomParams["call_sid"]
				caller := frame.Start.CustomParams["caller"]
				called := frame.Start.CustomParams["called"]
				if callID == "" {
					callID = frame.Start.StreamSID
				}

				sess := newCallSession(callID, caller, called)
				sess.streamSID = frame.Start.StreamSID
				sess.state = StateStreamingHandshake

				if err := h.recorder.StartCall(callID, caller, called); err != nil {
					h.logger.Error("carrier: failed to start call analytics", "call_id", callID, "error", err)
				}
				h.broadcaster.CallStarted(callID, caller, called)
				h.emitterFor(sess).Emit(nil, "stream_connected", nil)
				return sess, nil
			default:
				h.logger.Warn("carrier: unexpected frame before start", "event", frame.Event)
			}
		}
	}
}

func (h *Handler) emitterFor(sess *callSession) *recorderEmitter {
	return &recorderEmitter{rec: h.recorder, broadcaster: h.broadcaster, callID: sess.callID}
}

// runSession drives Greeting → Listening ⇄ Processing → (HangingUp) →
// Ended for one call.
func (h *Handler) runSession(ctx context.Context, conn *websocket.Conn, sess *callSession, frames <-chan inboundFrame, readErrs <-chan error) {
	emit := h.emitterFor(sess)

	var snapshot orchestrator.KnowledgeSnapshot
	if h.knowledge != nil {
		snapshot = h.knowledge(sess.caller)
	}
	conv := orchestrator.NewCallConversation(snapshot, sess.caller, h.contextTurns, h.greeting)

	recentAI := orchestrator.NewRecentRing(3)
	recentCaller := orchestrator.NewRecentRing(5)

	h.runGreeting(ctx, conn, sess, emit)

	seg := orchestrator.NewSegmenter(h.segCfg)
	sess.state = StateListening
	h.broadcaster.ProcessingStatus(sess.callID, "listening")

	ended := false
	for !ended {
		select {
		case <-ctx.Done():
			ended = true
		case err := <-readErrs:
			_ = err
			ended = true
		case frame, ok := <-frames:
			if !ok {
				ended = true
				break
			}
			ended = h.handleFrame(ctx, conn, sess, seg, conv, recentAI, recentCaller, emit, frame)
		}
	}

	if sess.state != StateHangingUp {
		if utt, ok := seg.Flush(time.Now()); ok {
			h.processTurn(ctx, conn, sess, conv, recentAI, recentCaller, emit, utt)
		}
	}

	h.finalize(sess)
}

// handleFrame processes one inbound carrier frame and reports whether
// the session should end.
func (h *Handler) handleFrame(
	ctx context.Context,
	conn *websocket.Conn,
	sess *callSession,
	seg *orchestrator.Segmenter,
	conv *orchestrator.CallConversation,
	recentAI, recentCaller *orchestrator.RecentRing,
	emit *recorderEmitter,
	frame inboundFrame,
) bool {
	switch frame.Event {
	case "media":
		if sess.state == StateHangingUp {
			// Terminal-phrase hangup is one-way; further inbound audio
			// is ignored once the goodbye wait has begun.
			return false
		}
		if frame.Media == nil {
			return false
		}
		mulaw, err := audio.DecodeCarrierFrame(frame.Media.Payload)
		if err != nil {
			h.logger.Warn("carrier: dropping malformed media frame", "error", err)
			return false
		}
		utt, ok := seg.Push(mulaw, time.Now())
		if !ok {
			return false
		}
		// The turn pipeline is strictly serial per call (§4.4 admission);
		// since handleFrame runs on the single session-owning goroutine,
		// this call already blocks new turn admission until it returns.
		h.processTurn(ctx, conn, sess, conv, recentAI, recentCaller, emit, utt)
		return false
	case "mark":
		if frame.Mark != nil {
			emit.Emit(nil, "mark_received", map[string]interface{}{"name": frame.Mark.Name})
		}
		return false
	case "stop":
		return true
	default:
		return false
	}
}

func (h *Handler) runGreeting(ctx context.Context, conn *websocket.Conn, sess *callSession, emit *recorderEmitter) {
	sess.state = StateGreeting
	turnZero := 0
	emit.Emit(&turnZero, "greeting_started", nil)

	pcm := h.pipeline.SynthesizeGreeting(ctx, h.greeting, h.language, emit, 0)
	if len(pcm) > 0 {
		h.playback(ctx, conn, sess, emit, pcm, 0)
	}

	emit.Emit(&turnZero, "greeting_completed", nil)
}

func (h *Handler) processTurn(
	ctx context.Context,
	conn *websocket.Conn,
	sess *callSession,
	conv *orchestrator.CallConversation,
	recentAI, recentCaller *orchestrator.RecentRing,
	emit *recorderEmitter,
	utt orchestrator.Utterance,
) {
	sess.state = StateProcessing
	outcome := h.pipeline.ProcessUtterance(ctx, conv, utt, h.language, recentAI, recentCaller, emit)

	if len(outcome.AudioPCM24) > 0 {
		h.playback(ctx, conn, sess, emit, outcome.AudioPCM24, outcome.TurnIndex)
	}

	if outcome.IsGoodbye {
		h.beginHangup(ctx, sess)
		return
	}

	sess.state = StateListening
	h.broadcaster.ProcessingStatus(sess.callID, "listening")
}

func (h *Handler) playback(ctx context.Context, conn *websocket.Conn, sess *callSession, emit *recorderEmitter, pcm24k []byte, turnIndex int) {
	ti := &turnIndex
	expectedMS := int64(len(pcm24k)) * 1000 / 48000 // 24kHz, 16-bit mono PCM
	emit.Emit(ti, "playback_started", map[string]interface{}{"expected_duration_ms": expectedMS})

	started := time.Now()
	written, err := playFrames(ctx, conn, sess.streamSID, pcm24k)
	if err != nil {
		h.logger.Warn("carrier: playback interrupted", "call_id", sess.callID, "error", err)
	}
	_ = writeMarkFrame(ctx, conn, sess.streamSID, "utterance_end")

	actualMS := time.Since(started).Milliseconds()
	_ = written
	emit.Emit(ti, "playback_completed", map[string]interface{}{"actual_duration_ms": actualMS})

	sess.lastPlaybackDuration = time.Since(started)
}

func (h *Handler) beginHangup(ctx context.Context, sess *callSession) {
	sess.state = StateHangingUp
	wait := goodbyeDrain
	go func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		if h.hangupClt != nil {
			if err := h.hangupClt.Hangup(context.Background(), sess.callID); err != nil {
				h.logger.Error("carrier: hangup request failed", "call_id", sess.callID, "error", err)
			}
		}
	}()
}

func (h *Handler) finalize(sess *callSession) {
	if h.locationMgr != nil {
		h.locationMgr.Cancel(sess.callID)
	}
	_, summary, err := h.recorder.FinalizeCall(sess.callID)
	if err != nil {
		h.logger.Error("carrier: failed to finalize call analytics", "call_id", sess.callID, "error", err)
		h.broadcaster.CallEnded(sess.callID, nil)
		return
	}
	duration := summary.DurationSeconds
	h.broadcaster.CallEnded(sess.callID, &duration)
}
