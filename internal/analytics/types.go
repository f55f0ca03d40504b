// Package analytics implements the call-scoped analytics recorder (C7):
// event emission with durable JSON-line persistence, per-turn latency and
// quality-flag reconstruction, and call-level summaries.
package analytics

import "time"

// EventType is the closed set of event discriminants the recorder will
// accept. Anything else is a programming error, not a runtime condition.
type EventType string

const (
	CallStarted       EventType = "call_started"
	StreamConnected   EventType = "stream_connected"
	GreetingStarted   EventType = "greeting_started"
	GreetingCompleted EventType = "greeting_completed"
	CallEnded         EventType = "call_ended"

	SpeechStarted   EventType = "speech_started"
	SilenceDetected EventType = "silence_detected"

	WhisperStarted   EventType = "whisper_started"
	WhisperCompleted EventType = "whisper_completed"
	WhisperFailed    EventType = "whisper_failed"
	ClaudeStarted    EventType = "claude_started"
	ClaudeCompleted  EventType = "claude_completed"
	ClaudeFailed     EventType = "claude_failed"
	TTSStarted       EventType = "tts_started"
	TTSCompleted     EventType = "tts_completed"
	TTSFailed        EventType = "tts_failed"

	PlaybackStarted   EventType = "playback_started"
	PlaybackCompleted EventType = "playback_completed"
	MarkReceived      EventType = "mark_received"

	EchoDetected      EventType = "echo_detected"
	InterruptDetected EventType = "interrupt_detected"
	RepeatDetected    EventType = "repeat_detected"
	LowConfidence     EventType = "low_confidence"
	LongSilence       EventType = "long_silence"

	APIRetry EventType = "api_retry"
)

// pairedStart maps each *_COMPLETED/*_FAILED event back to the
// *_STARTED event it must pair with.
var pairedStart = map[EventType]EventType{
	WhisperCompleted:  WhisperStarted,
	WhisperFailed:     WhisperStarted,
	ClaudeCompleted:   ClaudeStarted,
	ClaudeFailed:      ClaudeStarted,
	TTSCompleted:      TTSStarted,
	TTSFailed:         TTSStarted,
	PlaybackCompleted: PlaybackStarted,
	GreetingCompleted: GreetingStarted,
}

// Event is an append-only record in a call's event stream.
type Event struct {
	ID        int64                  `json:"id"`
	CallID    string                 `json:"call_id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	TurnIndex *int                   `json:"turn_index,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Speaker identifies who produced a turn's content.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAI     Speaker = "ai"
)

// LatencyBreakdown is the per-turn timing reconstruction.
type LatencyBreakdown struct {
	SilenceDetectionMS int64 `json:"silence_detection_ms"`
	STTMS              int64 `json:"stt_ms"`
	LLMMS              int64 `json:"llm_ms"`
	TTSMS              int64 `json:"tts_ms"`
	OverheadMS         int64 `json:"overhead_ms"`
	TotalMS            int64 `json:"total_ms"`
}

// Turn is the reconstructed per-turn record written to turns.json.
type Turn struct {
	CallID      string           `json:"call_id"`
	TurnIndex   int              `json:"turn_index"`
	Speaker     Speaker          `json:"speaker"`
	Transcript  string           `json:"transcript,omitempty"`
	Reply       string           `json:"reply,omitempty"`
	AnchorWords []string         `json:"anchor_words,omitempty"`
	Confidence  float64          `json:"confidence,omitempty"`
	TokensIn    int              `json:"tokens_in"`
	TokensOut   int              `json:"tokens_out"`
	Latency     LatencyBreakdown `json:"latency"`
	Flags       []string         `json:"flags,omitempty"`
}

// CallSummary is the call-level post-hoc aggregate written to summary.json.
type CallSummary struct {
	CallID          string         `json:"call_id"`
	Caller          string         `json:"caller,omitempty"`
	Called          string         `json:"called,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	TotalTurns      int            `json:"total_turns"`
	AITurns         int            `json:"ai_turns"`
	CallerTurns     int            `json:"caller_turns"`
	AvgLatencyMS    float64        `json:"avg_latency_ms"`
	P95LatencyMS    float64        `json:"p95_latency_ms"`
	SlowestTurn     int            `json:"slowest_turn"`
	SlowestStage    string         `json:"slowest_stage,omitempty"`
	AvgConfidence   float64        `json:"avg_confidence"`
	FlagCounts      map[string]int `json:"flag_counts,omitempty"`
	TotalTokensIn   int            `json:"total_tokens_in"`
	TotalTokensOut  int            `json:"total_tokens_out"`
}

// Transcript is the consolidated per-call record written under
// <transcripts_root>/<call_id>.json for long-term listing.
type Transcript struct {
	CallID          string    `json:"call_id"`
	Caller          string    `json:"caller,omitempty"`
	Called          string    `json:"called,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Turns           []Turn    `json:"turns"`
}

// Broadcaster is the subset of the dashboard broadcaster's interface the
// recorder depends on, kept narrow so analytics has no import-time
// dependency on the dashboard package's WebSocket machinery.
type Broadcaster interface {
	AnalyticsEvent(callID string, event string, ts time.Time)
}

// NoOpBroadcaster discards every event; useful for tests and offline
// batch re-derivation.
type NoOpBroadcaster struct{}

func (NoOpBroadcaster) AnalyticsEvent(callID string, event string, ts time.Time) {}
