package analytics

import (
	"sort"
	"time"
)

// DefaultSlowResponseThresholdMS flags a turn as "slow" when its total
// latency exceeds this, matching analytics.slow_response_threshold_ms's
// default in the configuration store.
const DefaultSlowResponseThresholdMS = 4000

// ReconstructTurns groups a call's event stream by turn_index and rebuilds
// each turn's latency breakdown and quality flags purely from the event
// payloads and timestamps, so it is re-runnable given only the JSON-line
// log of a completed call.
func ReconstructTurns(callID string, events []Event) []Turn {
	byTurn := make(map[int][]Event)
	var order []int
	for _, e := range events {
		if e.TurnIndex == nil {
			continue
		}
		idx := *e.TurnIndex
		if _, seen := byTurn[idx]; !seen {
			order = append(order, idx)
		}
		byTurn[idx] = append(byTurn[idx], e)
	}
	sort.Ints(order)

	turns := make([]Turn, 0, len(order))
	for _, idx := range order {
		turns = append(turns, reconstructOne(callID, idx, byTurn[idx]))
	}
	return turns
}

func reconstructOne(callID string, idx int, events []Event) Turn {
	turn := Turn{CallID: callID, TurnIndex: idx}

	if idx == 0 {
		turn.Speaker = SpeakerAI
	} else {
		turn.Speaker = SpeakerCaller
	}

	var firstTS, lastTS time.Time
	flagSet := make(map[string]bool)

	for _, e := range events {
		if firstTS.IsZero() || e.Timestamp.Before(firstTS) {
			firstTS = e.Timestamp
		}
		if e.Timestamp.After(lastTS) {
			lastTS = e.Timestamp
		}

		switch e.Type {
		case SilenceDetected:
			turn.Latency.SilenceDetectionMS = int64AtMS(e.Payload, "speech_duration_ms")
		case WhisperCompleted:
			turn.Transcript, _ = e.Payload["transcript"].(string)
			turn.Latency.STTMS = int64AtMS(e.Payload, "duration_ms")
			turn.Confidence = floatAt(e.Payload, "confidence")
			turn.AnchorWords = stringsAt(e.Payload, "anchor_words")
		case WhisperFailed:
			turn.Latency.STTMS = int64AtMS(e.Payload, "duration_ms")
			flagSet["stt_failed"] = true
		case ClaudeCompleted:
			turn.Reply, _ = e.Payload["response"].(string)
			turn.Latency.LLMMS = int64AtMS(e.Payload, "duration_ms")
			turn.TokensIn = intAt(e.Payload, "tokens_in")
			turn.TokensOut = intAt(e.Payload, "tokens_out")
		case ClaudeFailed:
			turn.Latency.LLMMS = int64AtMS(e.Payload, "duration_ms")
			flagSet["llm_failed"] = true
		case TTSCompleted:
			turn.Latency.TTSMS = int64AtMS(e.Payload, "duration_ms")
		case TTSFailed:
			turn.Latency.TTSMS = int64AtMS(e.Payload, "duration_ms")
			flagSet["tts_failed"] = true
		case EchoDetected:
			flagSet["echo"] = true
		case RepeatDetected:
			flagSet["repeat"] = true
		case LowConfidence:
			flagSet["low_confidence"] = true
		case InterruptDetected:
			flagSet["interrupted"] = true
		case LongSilence:
			flagSet["long_silence"] = true
		}
	}

	total := lastTS.Sub(firstTS).Milliseconds()
	if total < 0 {
		total = 0
	}
	turn.Latency.TotalMS = total
	overhead := total - turn.Latency.STTMS - turn.Latency.LLMMS - turn.Latency.TTSMS
	if overhead < 0 {
		overhead = 0
	}
	turn.Latency.OverheadMS = overhead

	if total > DefaultSlowResponseThresholdMS {
		flagSet["slow"] = true
	}

	for f := range flagSet {
		turn.Flags = append(turn.Flags, f)
	}
	sort.Strings(turn.Flags)

	return turn
}

// Summarize computes the call-level aggregate from reconstructed turns.
func Summarize(callID, caller, called string, startedAt, endedAt time.Time, turns []Turn) CallSummary {
	summary := CallSummary{
		CallID:    callID,
		Caller:    caller,
		Called:    called,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}
	summary.DurationSeconds = endedAt.Sub(startedAt).Seconds()
	summary.TotalTurns = len(turns)

	var latencies []int64
	var confidenceSum float64
	var confidenceCount int
	flagCounts := make(map[string]int)

	slowestTurn := -1
	var slowestLatency int64 = -1
	slowestStage := ""

	for _, t := range turns {
		if t.Speaker == SpeakerAI {
			summary.AITurns++
		} else {
			summary.CallerTurns++
		}
		summary.TotalTokensIn += t.TokensIn
		summary.TotalTokensOut += t.TokensOut

		if t.Speaker == SpeakerCaller {
			latencies = append(latencies, t.Latency.TotalMS)
			if t.Confidence > 0 {
				confidenceSum += t.Confidence
				confidenceCount++
			}
		}
		for _, f := range t.Flags {
			flagCounts[f]++
		}

		if t.Latency.TotalMS > slowestLatency {
			slowestLatency = t.Latency.TotalMS
			slowestTurn = t.TurnIndex
			slowestStage = slowestComponent(t.Latency)
		}
	}

	if len(latencies) > 0 {
		var sum int64
		for _, l := range latencies {
			sum += l
		}
		summary.AvgLatencyMS = float64(sum) / float64(len(latencies))
		summary.P95LatencyMS = float64(p95(latencies))
	}
	if confidenceCount > 0 {
		summary.AvgConfidence = confidenceSum / float64(confidenceCount)
	}
	summary.SlowestTurn = slowestTurn
	summary.SlowestStage = slowestStage
	if len(flagCounts) > 0 {
		summary.FlagCounts = flagCounts
	}

	return summary
}

func slowestComponent(l LatencyBreakdown) string {
	stage := "overhead"
	max := l.OverheadMS
	if l.STTMS > max {
		max, stage = l.STTMS, "stt"
	}
	if l.LLMMS > max {
		max, stage = l.LLMMS, "llm"
	}
	if l.TTSMS > max {
		max, stage = l.TTSMS, "tts"
	}
	return stage
}

// p95 returns the 95th-percentile value by sorting and indexing at
// floor(0.95*n), clamped to the last element.
func p95(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func int64AtMS(payload map[string]interface{}, key string) int64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func intAt(payload map[string]interface{}, key string) int {
	return int(int64AtMS(payload, key))
}

func floatAt(payload map[string]interface{}, key string) float64 {
	if payload == nil {
		return 0
	}
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return 0
}

func stringsAt(payload map[string]interface{}, key string) []string {
	if payload == nil {
		return nil
	}
	raw, ok := payload[key].([]string)
	if ok {
		return raw
	}
	ifaceSlice, ok := payload[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ifaceSlice))
	for _, v := range ifaceSlice {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
