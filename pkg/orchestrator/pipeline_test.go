package orchestrator

import (
	"context"
	"errors"
	"testing"
)

type stubEmitter struct {
	events []stubEvent
}

type stubEvent struct {
	turnIndex int
	hasTurn   bool
	eventType string
	payload   map[string]interface{}
}

func (s *stubEmitter) Emit(turnIndex *int, eventType string, payload map[string]interface{}) {
	e := stubEvent{eventType: eventType, payload: payload}
	if turnIndex != nil {
		e.turnIndex, e.hasTurn = *turnIndex, true
	}
	s.events = append(s.events, e)
}

func (s *stubEmitter) types() []string {
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.eventType
	}
	return out
}

type stubSTT struct {
	transcript string
	confidence float64
	err        error
}

func (s *stubSTT) Name() string { return "stub-stt" }
func (s *stubSTT) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	return s.transcript, s.err
}
func (s *stubSTT) TranscribeDetailed(ctx context.Context, audio []byte, lang Language, prompt string) (STTResult, error) {
	if s.err != nil {
		return STTResult{}, s.err
	}
	return STTResult{Transcript: s.transcript, Confidence: s.confidence}, nil
}

type stubLLM struct {
	reply     string
	usage     LLMUsage
	err       error
	callCount int
}

func (s *stubLLM) Name() string { return "stub-llm" }
func (s *stubLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	s.callCount++
	return s.reply, s.err
}
func (s *stubLLM) CompleteDetailed(ctx context.Context, messages []Message, maxTokens int) (string, LLMUsage, error) {
	s.callCount++
	if s.err != nil {
		return "", LLMUsage{}, s.err
	}
	return s.reply, s.usage, nil
}

type stubTTS struct {
	pcm []byte
	err error
}

func (s *stubTTS) Name() string { return "stub-tts" }
func (s *stubTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return s.pcm, s.err
}
func (s *stubTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	if s.err != nil {
		return s.err
	}
	return onChunk(s.pcm)
}

func newTestConv() *CallConversation {
	return NewCallConversation(KnowledgeSnapshot{}, "+390000", 4, "Pronto, mi dica.")
}

func TestPipelineSingleExchange(t *testing.T) {
	stt := &stubSTT{transcript: "Pronto", confidence: 0.95}
	llm := &stubLLM{reply: "Salve, mi dica.", usage: LLMUsage{TokensIn: 12, TokensOut: 8}}
	tts := &stubTTS{pcm: make([]byte, 48000)} // 1s of 24kHz PCM
	p := NewPipeline(stt, llm, tts, DefaultPipelineConfig(), nil)

	conv := newTestConv()
	emit := &stubEmitter{}
	utt := Utterance{Audio: []byte{1, 2, 3}, SpeechDurationMS: 600}

	outcome := p.ProcessUtterance(context.Background(), conv, utt, LanguageIt, NewRecentRing(3), NewRecentRing(5), emit)

	if outcome.Transcript != "Pronto" {
		t.Fatalf("expected transcript Pronto, got %q", outcome.Transcript)
	}
	if outcome.Reply != "Salve, mi dica." {
		t.Fatalf("expected LLM reply, got %q", outcome.Reply)
	}
	if len(outcome.AudioPCM24) != 48000 {
		t.Fatalf("expected synthesized audio passthrough, got %d bytes", len(outcome.AudioPCM24))
	}
	if outcome.TurnIndex != 1 {
		t.Fatalf("expected turn index 1, got %d", outcome.TurnIndex)
	}

	wantSeq := []string{
		"silence_detected", "whisper_started", "whisper_completed",
		"claude_started", "claude_completed", "tts_started", "tts_completed",
	}
	got := emit.types()
	if len(got) != len(wantSeq) {
		t.Fatalf("event sequence = %v, want %v", got, wantSeq)
	}
	for i, w := range wantSeq {
		if got[i] != w {
			t.Errorf("event[%d] = %q, want %q", i, got[i], w)
		}
	}
}

func TestPipelineQuickReplyShortcutsLLM(t *testing.T) {
	stt := &stubSTT{transcript: "Grazie", confidence: 0.9}
	llm := &stubLLM{reply: "should never be used"}
	tts := &stubTTS{pcm: []byte{0, 0}}
	p := NewPipeline(stt, llm, tts, DefaultPipelineConfig(), nil)

	conv := newTestConv()
	emit := &stubEmitter{}
	outcome := p.ProcessUtterance(context.Background(), conv, Utterance{SpeechDurationMS: 500}, LanguageIt, NewRecentRing(3), NewRecentRing(5), emit)

	if outcome.Reply != "Prego." {
		t.Fatalf("expected quick reply, got %q", outcome.Reply)
	}
	if llm.callCount != 0 {
		t.Fatalf("expected no LLM call for quick reply, got %d calls", llm.callCount)
	}
	for _, e := range emit.events {
		if e.eventType == "claude_completed" {
			if e.payload["tokens_in"] != 0 || e.payload["tokens_out"] != 0 {
				t.Errorf("quick reply should report zero token usage, got %v", e.payload)
			}
		}
	}
}

func TestPipelineSTTFailureStopsBeforeLLM(t *testing.T) {
	stt := &stubSTT{err: errors.New("provider down")}
	llm := &stubLLM{reply: "unused"}
	tts := &stubTTS{pcm: []byte{0}}
	p := NewPipeline(stt, llm, tts, DefaultPipelineConfig(), nil)

	conv := newTestConv()
	emit := &stubEmitter{}
	outcome := p.ProcessUtterance(context.Background(), conv, Utterance{SpeechDurationMS: 500}, LanguageIt, NewRecentRing(3), NewRecentRing(5), emit)

	if outcome.Transcript != "" || outcome.Reply != "" {
		t.Fatalf("expected empty outcome on STT failure, got %+v", outcome)
	}
	if llm.callCount != 0 {
		t.Fatalf("LLM must not be called when STT fails")
	}
	got := emit.types()
	// one retry means whisper_started, api_retry, whisper_failed
	wantLast := "whisper_failed"
	if got[len(got)-1] != wantLast {
		t.Fatalf("expected terminal event %q, got sequence %v", wantLast, got)
	}
}

func TestPipelineLLMFailureFallsBackToStallPhrase(t *testing.T) {
	stt := &stubSTT{transcript: "Una domanda complicata", confidence: 0.9}
	llm := &stubLLM{err: errors.New("api down")}
	tts := &stubTTS{pcm: []byte{0, 0}}
	p := NewPipeline(stt, llm, tts, DefaultPipelineConfig(), nil)

	conv := newTestConv()
	emit := &stubEmitter{}
	outcome := p.ProcessUtterance(context.Background(), conv, Utterance{SpeechDurationMS: 700}, LanguageIt, NewRecentRing(3), NewRecentRing(5), emit)

	if outcome.Reply != stallPhrase {
		t.Fatalf("expected fallback stall phrase, got %q", outcome.Reply)
	}
	foundFailed := false
	for _, e := range emit.events {
		if e.eventType == "claude_failed" {
			foundFailed = true
		}
	}
	if !foundFailed {
		t.Fatalf("expected claude_failed event, got %v", emit.types())
	}
}

func TestPipelineTerminalPhraseDetected(t *testing.T) {
	stt := &stubSTT{transcript: "Devo andare", confidence: 0.9}
	llm := &stubLLM{reply: "Va bene, arrivederci."}
	tts := &stubTTS{pcm: []byte{0, 0}}
	p := NewPipeline(stt, llm, tts, DefaultPipelineConfig(), nil)

	conv := newTestConv()
	emit := &stubEmitter{}
	outcome := p.ProcessUtterance(context.Background(), conv, Utterance{SpeechDurationMS: 500}, LanguageIt, NewRecentRing(3), NewRecentRing(5), emit)

	if !outcome.IsGoodbye {
		t.Fatalf("expected goodbye phrase to be detected in reply %q", outcome.Reply)
	}
}

func TestPipelineEchoAndRepeatDetection(t *testing.T) {
	stt := &stubSTT{transcript: "il pacco è arrivato ieri", confidence: 0.9}
	llm := &stubLLM{reply: "Capito."}
	tts := &stubTTS{pcm: []byte{0, 0}}
	p := NewPipeline(stt, llm, tts, DefaultPipelineConfig(), nil)

	conv := newTestConv()
	emit := &stubEmitter{}
	recentAI := NewRecentRing(3)
	recentAI.Add("il pacco è arrivato ieri")
	recentCaller := NewRecentRing(5)
	recentCaller.Add("il pacco è arrivato ieri")

	p.ProcessUtterance(context.Background(), conv, Utterance{SpeechDurationMS: 500}, LanguageIt, recentAI, recentCaller, emit)

	var sawEcho, sawRepeat bool
	for _, e := range emit.events {
		switch e.eventType {
		case "echo_detected":
			sawEcho = true
		case "repeat_detected":
			sawRepeat = true
		}
	}
	if !sawEcho {
		t.Error("expected echo_detected for a transcript matching a recent AI output")
	}
	if !sawRepeat {
		t.Error("expected repeat_detected for a transcript matching a recent caller transcript")
	}
}

func TestPipelineLowConfidenceFlag(t *testing.T) {
	stt := &stubSTT{transcript: "forse ha detto qualcosa", confidence: 0.3}
	llm := &stubLLM{reply: "Ok."}
	tts := &stubTTS{pcm: []byte{0, 0}}
	p := NewPipeline(stt, llm, tts, DefaultPipelineConfig(), nil)

	conv := newTestConv()
	emit := &stubEmitter{}
	p.ProcessUtterance(context.Background(), conv, Utterance{SpeechDurationMS: 500}, LanguageIt, NewRecentRing(3), NewRecentRing(5), emit)

	found := false
	for _, e := range emit.events {
		if e.eventType == "low_confidence" {
			found = true
		}
	}
	if !found {
		t.Error("expected low_confidence event for confidence below threshold")
	}
}

func TestRecentRingCapacity(t *testing.T) {
	r := NewRecentRing(2)
	r.Add("a")
	r.Add("b")
	r.Add("c")
	items := r.Items()
	if len(items) != 2 || items[0] != "b" || items[1] != "c" {
		t.Fatalf("expected ring to retain only last 2 items, got %v", items)
	}
}
