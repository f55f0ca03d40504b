package carrier

import (
	"github.com/lokutor-ai/lokutor-orchestrator/internal/analytics"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/dashboard"
)

// recorderEmitter adapts analytics.Recorder (which is keyed by call_id on
// every call) to orchestrator.TurnEmitter (which is not, since the turn
// pipeline is call-agnostic) by closing over the call a session owns. It
// also derives the dashboard's coarse processing/transcript frames from
// the same event stream, so the turn pipeline itself never depends on
// the dashboard package.
type recorderEmitter struct {
	rec         *analytics.Recorder
	broadcaster *dashboard.Broadcaster
	callID      string
}

func (e *recorderEmitter) Emit(turnIndex *int, eventType string, payload map[string]interface{}) {
	e.rec.Emit(e.callID, analytics.EventType(eventType), turnIndex, payload)

	switch eventType {
	case "whisper_started":
		e.broadcaster.ProcessingStatus(e.callID, "transcribing")
	case "whisper_completed":
		if turnIndex != nil && payload != nil {
			if transcript, ok := payload["transcript"].(string); ok && transcript != "" {
				e.broadcaster.TranscriptUpdate(e.callID, "caller", transcript, *turnIndex, nil)
			}
		}
	case "claude_started":
		e.broadcaster.ProcessingStatus(e.callID, "thinking")
	case "claude_completed":
		if turnIndex != nil && payload != nil {
			if response, ok := payload["response"].(string); ok && response != "" {
				e.broadcaster.TranscriptUpdate(e.callID, "ai", response, *turnIndex, nil)
			}
		}
	case "tts_started":
		e.broadcaster.ProcessingStatus(e.callID, "speaking")
	}
}
