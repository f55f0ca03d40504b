package orchestrator

import (
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// Utterance is one caller speaking turn: raw mulaw 8kHz bytes bounded by
// silence detection, plus the instrumentation the segmenter collected while
// accumulating it.
type Utterance struct {
	Audio            []byte
	StartedAt        time.Time
	EndedAt          time.Time
	PeakRMS          int
	SpeechDurationMS int64
}

// SegmenterConfig holds the tunable thresholds for Segmenter, mirroring the
// live-adjustable audio.* settings in the external configuration store.
type SegmenterConfig struct {
	SilenceMS       int64 // default 1200
	MinSpeechMS     int64 // default 500
	SilenceRMS      int   // default 500
}

// DefaultSegmenterConfig matches the reference thresholds.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SilenceMS:   1200,
		MinSpeechMS: 500,
		SilenceRMS:  500,
	}
}

// Segmenter accumulates inbound mulaw frames and emits completed Utterance
// blobs on silence. It is the streaming voice-activity-detection buffer for
// one call; it is not safe for concurrent use — the call's media handler
// owns it exclusively.
type Segmenter struct {
	cfg SegmenterConfig

	speechActive bool
	buffer       []byte
	speechStart  time.Time
	silenceStart time.Time
	peakRMS      int
}

// NewSegmenter constructs a Segmenter with the given configuration.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Push feeds one inbound mulaw frame (typically ~20ms) into the segmenter.
// It returns a completed Utterance when silence following confirmed speech
// has lasted at least SilenceMS; otherwise ok is false.
func (s *Segmenter) Push(frame []byte, now time.Time) (utt Utterance, ok bool) {
	rms := audio.MulawRMS(frame)

	if rms > s.cfg.SilenceRMS {
		if !s.speechActive {
			s.speechActive = true
			s.speechStart = now
			s.buffer = s.buffer[:0]
			s.peakRMS = 0
		}
		s.silenceStart = time.Time{}
		s.buffer = append(s.buffer, frame...)
		if rms > s.peakRMS {
			s.peakRMS = rms
		}
		return Utterance{}, false
	}

	if !s.speechActive {
		return Utterance{}, false
	}

	// Tolerate intra-utterance micro-pauses: keep buffering.
	s.buffer = append(s.buffer, frame...)
	if s.silenceStart.IsZero() {
		s.silenceStart = now
	}

	if now.Sub(s.silenceStart) < time.Duration(s.cfg.SilenceMS)*time.Millisecond {
		return Utterance{}, false
	}

	// Speech duration runs from the first loud frame to the start of the
	// trailing silence, so the silence window itself never counts as speech.
	speechDurationMS := s.silenceStart.Sub(s.speechStart).Milliseconds()
	out := Utterance{
		Audio:            append([]byte(nil), s.buffer...),
		StartedAt:        s.speechStart,
		EndedAt:          now,
		PeakRMS:          s.peakRMS,
		SpeechDurationMS: speechDurationMS,
	}
	s.reset()

	if speechDurationMS < s.cfg.MinSpeechMS {
		return Utterance{}, false
	}
	return out, true
}

// Flush returns any in-progress buffer if speech is currently active,
// discarding it from internal state regardless of minimum-duration. Called
// at stream end so a caller who was mid-utterance when the carrier hung up
// is not silently lost.
func (s *Segmenter) Flush(now time.Time) (utt Utterance, ok bool) {
	if !s.speechActive {
		return Utterance{}, false
	}
	speechDurationMS := now.Sub(s.speechStart).Milliseconds()
	out := Utterance{
		Audio:            append([]byte(nil), s.buffer...),
		StartedAt:        s.speechStart,
		EndedAt:          now,
		PeakRMS:          s.peakRMS,
		SpeechDurationMS: speechDurationMS,
	}
	s.reset()
	return out, true
}

// IsSpeechActive reports whether the segmenter currently believes the
// caller is mid-utterance.
func (s *Segmenter) IsSpeechActive() bool {
	return s.speechActive
}

func (s *Segmenter) reset() {
	s.speechActive = false
	s.buffer = nil
	s.speechStart = time.Time{}
	s.silenceStart = time.Time{}
	s.peakRMS = 0
}
