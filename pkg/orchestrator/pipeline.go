package orchestrator

import (
	"context"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/textsim"
)

// PipelineConfig holds the tunable thresholds the turn pipeline consults at
// each turn boundary, mirroring the live-adjustable llm.*/tts.*/analytics.*
// settings in the external configuration store.
type PipelineConfig struct {
	ConfidenceThreshold float64
	EchoThreshold       float64
	RepeatThreshold     float64
	ContextTurns        int
	MaxTokens           int
	Voice               Voice
	Speed               float64
	STTTimeout          time.Duration
	LLMTimeout          time.Duration
	TTSTimeout          time.Duration
}

// DefaultPipelineConfig matches the reference thresholds.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ConfidenceThreshold: 0.80,
		EchoThreshold:       0.60,
		RepeatThreshold:     0.80,
		ContextTurns:        4,
		MaxTokens:           80,
		Voice:               VoiceF1,
		Speed:               0.9,
		STTTimeout:          15 * time.Second,
		LLMTimeout:          10 * time.Second,
		TTSTimeout:          10 * time.Second,
	}
}

// stallPhrase is the fixed safe reply synthesized when the LLM adapter
// fails, carried over from the Italian phone-proxy's "frasi utili" list so
// the caller always hears something natural rather than dead air.
const stallPhrase = "Mi scusi, può ripetere per favore?"

// SpeedTTSProvider is implemented by TTS adapters whose API accepts a
// speaking-rate parameter. Adapters that only implement TTSProvider are
// called at their own fixed default rate.
type SpeedTTSProvider interface {
	TTSProvider
	SynthesizeWithSpeed(ctx context.Context, text string, voice Voice, lang Language, speed float64) ([]byte, error)
}

// TurnEmitter is the narrow slice of the analytics recorder (C7) the
// pipeline drives. It is defined here, rather than importing the analytics
// package directly, so pkg/orchestrator carries no dependency on the
// persistence layer; internal/carrier adapts analytics.Recorder to this
// interface.
type TurnEmitter interface {
	Emit(turnIndex *int, eventType string, payload map[string]interface{})
}

// RecentRing is a small fixed-capacity FIFO of recent strings, used for the
// CallSession's rolling windows of recent AI outputs and recent caller
// transcripts that echo/repeat detection compares new turns against.
type RecentRing struct {
	capacity int
	items    []string
}

// NewRecentRing constructs a RecentRing holding at most capacity items.
func NewRecentRing(capacity int) *RecentRing {
	return &RecentRing{capacity: capacity}
}

// Add appends s, evicting the oldest entry if the ring is at capacity.
func (r *RecentRing) Add(s string) {
	r.items = append(r.items, s)
	if len(r.items) > r.capacity {
		r.items = r.items[len(r.items)-r.capacity:]
	}
}

// Items returns the ring's current contents, oldest first.
func (r *RecentRing) Items() []string {
	return r.items
}

// TurnOutcome is what ProcessUtterance hands back to the call-session
// owner (C6): the reply text (already appended to conversation history),
// synthesized audio ready for resampling/encoding, and whether the reply
// contained a terminal phrase. Playback pacing and the goodbye hangup wait
// belong to C6, which owns the carrier socket and its timing.
type TurnOutcome struct {
	TurnIndex  int
	Transcript string
	Confidence float64
	Reply      string
	AudioPCM24 []byte
	IsGoodbye  bool
}

// Pipeline is the per-call serial executor (C4): for one utterance it runs
// STT, the pre-LLM quality checks, the quick-reply shortcut or the LLM,
// and TTS, emitting the paired *_STARTED/*_COMPLETED/*_FAILED event for
// every stage it executes. It holds no per-call state itself — that lives
// in the CallConversation and RecentRings the caller passes in — so one
// Pipeline can be shared across every concurrent call.
type Pipeline struct {
	stt    STTProvider
	llm    LLMProvider
	tts    TTSProvider
	cfg    PipelineConfig
	logger Logger
}

// NewPipeline constructs a Pipeline over the given provider adapters.
func NewPipeline(stt STTProvider, llm LLMProvider, tts TTSProvider, cfg PipelineConfig, logger Logger) *Pipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Pipeline{stt: stt, llm: llm, tts: tts, cfg: cfg, logger: logger}
}

// ProcessUtterance runs one caller utterance through the full turn
// pipeline. STT/LLM/TTS failures degrade the turn and are reported
// through emit, never returned, matching the "per-turn failures
// never propagate to the call level" error-handling design.
func (p *Pipeline) ProcessUtterance(ctx context.Context, conv *CallConversation, utt Utterance, lang Language, recentAI, recentCaller *RecentRing, emit TurnEmitter) TurnOutcome {
	turnIndex := conv.NextTurnIndex()
	ti := &turnIndex

	emit.Emit(ti, "silence_detected", map[string]interface{}{
		"speech_duration_ms": utt.SpeechDurationMS,
		"audio_bytes":        len(utt.Audio),
	})

	transcript, confidence := p.transcribe(ctx, utt, lang, emit, ti)
	outcome := TurnOutcome{TurnIndex: turnIndex, Transcript: transcript, Confidence: confidence}
	if transcript == "" {
		return outcome
	}

	p.runQualityChecks(confidence, transcript, recentAI, recentCaller, emit, ti)

	conv.AddCallerMessage(transcript)
	recentCaller.Add(transcript)

	reply, tokensIn, tokensOut := p.reply(ctx, conv, transcript, emit, ti)
	outcome.Reply = reply
	outcome.IsGoodbye = IsGoodbye(reply)

	conv.AddAIMessage(reply)
	recentAI.Add(reply)

	outcome.AudioPCM24 = p.synthesize(ctx, reply, lang, emit, ti)
	_ = tokensIn
	_ = tokensOut
	return outcome
}

// SynthesizeGreeting runs the TTS stage alone, for the call-opening
// greeting turn (turn 0), which has no STT/LLM stage of its own. It
// emits the same tts_started/tts_completed/tts_failed events a regular
// turn would.
func (p *Pipeline) SynthesizeGreeting(ctx context.Context, text string, lang Language, emit TurnEmitter, turnIndex int) []byte {
	ti := &turnIndex
	return p.synthesize(ctx, text, lang, emit, ti)
}

func (p *Pipeline) transcribe(ctx context.Context, utt Utterance, lang Language, emit TurnEmitter, ti *int) (string, float64) {
	emit.Emit(ti, "whisper_started", nil)

	sctx, cancel := context.WithTimeout(ctx, p.cfg.STTTimeout)
	defer cancel()

	// The segmenter hands us raw 8kHz mulaw frames; STT adapters expect a
	// ready-to-send WAV file, so C1 does the resample-and-wrap here rather
	// than each adapter guessing at a sample rate.
	wav16k := audio.PrepareForSTT(utt.Audio)
	started := time.Now()
	result, err := p.transcribeWithRetry(sctx, wav16k, lang, emit, ti)
	durationMS := time.Since(started).Milliseconds()
	if err != nil {
		emit.Emit(ti, "whisper_failed", map[string]interface{}{"error": err.Error()})
		return "", 0
	}

	if result.Transcript == "" {
		emit.Emit(ti, "whisper_completed", map[string]interface{}{
			"transcript": "", "duration_ms": durationMS, "confidence": 0,
		})
		return "", 0
	}

	emit.Emit(ti, "whisper_completed", map[string]interface{}{
		"transcript":   result.Transcript,
		"duration_ms":  durationMS,
		"confidence":   result.Confidence,
		"anchor_words": textsim.AnchorWords(result.Transcript),
	})
	return result.Transcript, result.Confidence
}

func (p *Pipeline) transcribeWithRetry(ctx context.Context, audio []byte, lang Language, emit TurnEmitter, ti *int) (STTResult, error) {
	result, err := p.transcribeOnce(ctx, audio, lang)
	if err != nil {
		emit.Emit(ti, "api_retry", map[string]interface{}{"stage": "stt"})
		result, err = p.transcribeOnce(ctx, audio, lang)
	}
	return result, err
}

func (p *Pipeline) transcribeOnce(ctx context.Context, audio []byte, lang Language) (STTResult, error) {
	if confProvider, ok := p.stt.(ConfidenceSTTProvider); ok {
		return confProvider.TranscribeDetailed(ctx, audio, lang, "")
	}
	text, err := p.stt.Transcribe(ctx, audio, lang)
	if err != nil {
		return STTResult{}, err
	}
	confidence := 0.0
	if text != "" {
		confidence = 1.0
	}
	return STTResult{Transcript: text, Confidence: confidence}, nil
}

func (p *Pipeline) runQualityChecks(confidence float64, transcript string, recentAI, recentCaller *RecentRing, emit TurnEmitter, ti *int) {
	if confidence < p.cfg.ConfidenceThreshold {
		emit.Emit(ti, "low_confidence", map[string]interface{}{"confidence": confidence})
	}
	for _, prior := range recentAI.Items() {
		if textsim.Ratio(transcript, prior) >= p.cfg.EchoThreshold {
			emit.Emit(ti, "echo_detected", map[string]interface{}{"matched": prior})
			break
		}
	}
	for _, prior := range recentCaller.Items() {
		if textsim.Ratio(transcript, prior) >= p.cfg.RepeatThreshold {
			emit.Emit(ti, "repeat_detected", map[string]interface{}{"matched": prior})
			break
		}
	}
}

func (p *Pipeline) reply(ctx context.Context, conv *CallConversation, transcript string, emit TurnEmitter, ti *int) (text string, tokensIn, tokensOut int) {
	if quick, ok := QuickReply(transcript); ok {
		emit.Emit(ti, "claude_started", map[string]interface{}{"context_size": 0, "quick_reply": true})
		emit.Emit(ti, "claude_completed", map[string]interface{}{
			"response": quick, "tokens_in": 0, "tokens_out": 0, "quick_reply": true,
		})
		return quick, 0, 0
	}

	window := conv.ContextWindow()
	emit.Emit(ti, "claude_started", map[string]interface{}{"context_size": len(window)})

	lctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	started := time.Now()
	response, usage, err := p.completeWithRetry(lctx, window, emit, ti)
	durationMS := time.Since(started).Milliseconds()
	if err != nil {
		emit.Emit(ti, "claude_failed", map[string]interface{}{"error": err.Error()})
		return stallPhrase, 0, 0
	}

	emit.Emit(ti, "claude_completed", map[string]interface{}{
		"response": response, "duration_ms": durationMS, "tokens_in": usage.TokensIn, "tokens_out": usage.TokensOut,
	})
	return response, usage.TokensIn, usage.TokensOut
}

func (p *Pipeline) completeWithRetry(ctx context.Context, window []Message, emit TurnEmitter, ti *int) (string, LLMUsage, error) {
	text, usage, err := p.completeOnce(ctx, window)
	if err != nil {
		emit.Emit(ti, "api_retry", map[string]interface{}{"stage": "llm"})
		text, usage, err = p.completeOnce(ctx, window)
	}
	return text, usage, err
}

func (p *Pipeline) completeOnce(ctx context.Context, window []Message) (string, LLMUsage, error) {
	if usageLLM, ok := p.llm.(UsageLLMProvider); ok {
		return usageLLM.CompleteDetailed(ctx, window, p.cfg.MaxTokens)
	}
	text, err := p.llm.Complete(ctx, window)
	return text, LLMUsage{}, err
}

func (p *Pipeline) synthesize(ctx context.Context, text string, lang Language, emit TurnEmitter, ti *int) []byte {
	emit.Emit(ti, "tts_started", nil)

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TTSTimeout)
	defer cancel()

	started := time.Now()
	pcm, err := p.synthesizeWithRetry(tctx, text, lang, emit, ti)
	durationMS := time.Since(started).Milliseconds()
	if err != nil || len(pcm) == 0 {
		emit.Emit(ti, "tts_failed", map[string]interface{}{"error": errString(err)})
		return nil
	}

	// 24kHz, 16-bit mono PCM: 48000 bytes/sec of audio.
	audioDurationMS := int64(len(pcm)) * 1000 / 48000
	emit.Emit(ti, "tts_completed", map[string]interface{}{
		"duration_ms": durationMS, "audio_bytes": len(pcm), "audio_duration_ms": audioDurationMS,
	})
	return pcm
}

func (p *Pipeline) synthesizeWithRetry(ctx context.Context, text string, lang Language, emit TurnEmitter, ti *int) ([]byte, error) {
	pcm, err := p.synthesizeOnce(ctx, text, lang)
	if err != nil {
		emit.Emit(ti, "api_retry", map[string]interface{}{"stage": "tts"})
		pcm, err = p.synthesizeOnce(ctx, text, lang)
	}
	return pcm, err
}

func (p *Pipeline) synthesizeOnce(ctx context.Context, text string, lang Language) ([]byte, error) {
	if speedTTS, ok := p.tts.(SpeedTTSProvider); ok {
		return speedTTS.SynthesizeWithSpeed(ctx, text, p.cfg.Voice, lang, p.cfg.Speed)
	}
	return p.tts.Synthesize(ctx, text, p.cfg.Voice, lang)
}

func errString(err error) string {
	if err == nil {
		return "empty audio"
	}
	return err.Error()
}
