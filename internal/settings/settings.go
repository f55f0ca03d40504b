// Package settings implements the live, runtime-adjustable parameter
// store (spec §6 "Configuration"): typed, range-validated entries grouped
// by component, with every write recorded to a JSON-line version log.
// Values are held in the store only: the segmenter and turn pipeline take
// their thresholds from their own config structs at startup and do not
// read the store, so an update does not change running calls. It is a
// direct Go translation of
// the reference SystemConfigService's dataclass groups and dot-path
// get/set, trading Python's dynamic attribute access for an explicit
// path switch.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// AudioConfig mirrors spec.md's audio.* range-validated group.
type AudioConfig struct {
	SilenceDurationMS   int `json:"silence_duration_ms"`
	MinSpeechDurationMS int `json:"min_speech_duration_ms"`
	SilenceThreshold    int `json:"silence_threshold"`
}

// LLMConfig mirrors spec.md's llm.* group.
type LLMConfig struct {
	Model        string `json:"model"`
	MaxTokens    int    `json:"max_tokens"`
	ContextTurns int    `json:"context_turns"`
}

// TTSConfig mirrors spec.md's tts.* group.
type TTSConfig struct {
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// AnalyticsConfig mirrors spec.md's analytics.* group.
type AnalyticsConfig struct {
	SlowResponseThresholdMS int     `json:"slow_response_threshold_ms"`
	ConfidenceThreshold     float64 `json:"confidence_threshold"`
}

// Config is the complete runtime configuration snapshot.
type Config struct {
	Audio     AudioConfig     `json:"audio"`
	LLM       LLMConfig       `json:"llm"`
	TTS       TTSConfig       `json:"tts"`
	Analytics AnalyticsConfig `json:"analytics"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by"`
}

// DefaultConfig matches the reference service's field defaults.
func DefaultConfig() Config {
	return Config{
		Audio: AudioConfig{
			SilenceDurationMS:   1200,
			MinSpeechDurationMS: 500,
			SilenceThreshold:    500,
		},
		LLM: LLMConfig{
			Model:        "claude-3-5-sonnet-20241022",
			MaxTokens:    80,
			ContextTurns: 4,
		},
		TTS: TTSConfig{
			Voice: "F1",
			Speed: 0.9,
		},
		Analytics: AnalyticsConfig{
			SlowResponseThresholdMS: 4000,
			ConfidenceThreshold:     0.80,
		},
		Version: 1,
	}
}

// Change is one recorded configuration write, appended to the JSONL
// version log.
type Change struct {
	Timestamp time.Time   `json:"timestamp"`
	Path      string      `json:"path"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
	Source    string      `json:"source"`
}

var allowedModels = map[string]bool{
	"claude-sonnet-4-20250514":    true,
	"claude-3-5-sonnet-20241022":  true,
	"claude-3-5-haiku-20241022":   true,
}

var allowedVoices = map[string]bool{
	"F1": true, "F2": true, "F3": true, "F4": true, "F5": true,
	"M1": true, "M2": true, "M3": true, "M4": true, "M5": true,
}

// Store holds the current Config behind a mutex and appends every
// validated write to historyPath. Reads never block on disk.
type Store struct {
	mu          sync.RWMutex
	cfg         Config
	historyPath string
	logger      orchestrator.Logger
}

// NewStore constructs a Store seeded with DefaultConfig. historyPath may
// be empty, in which case writes are validated and applied but not
// persisted to a version log (used by tests).
func NewStore(historyPath string, logger orchestrator.Logger) *Store {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Store{cfg: DefaultConfig(), historyPath: historyPath, logger: logger}
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update validates and applies a single dot-path parameter change,
// bumping Version and recording a Change to the version log. It returns
// the recorded Change, or an error if path is unknown or value fails
// validation — in which case the store is left unmodified.
func (s *Store) Update(path string, value interface{}, source string) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldValue, err := s.getPath(path)
	if err != nil {
		return Change{}, err
	}
	if err := validate(path, value); err != nil {
		return Change{}, err
	}
	if err := s.setPath(path, value); err != nil {
		return Change{}, err
	}

	s.cfg.Version++
	s.cfg.UpdatedAt = time.Now().UTC()
	s.cfg.UpdatedBy = source

	change := Change{Timestamp: s.cfg.UpdatedAt, Path: path, OldValue: oldValue, NewValue: value, Source: source}
	s.appendHistory(change)
	return change, nil
}

func (s *Store) getPath(path string) (interface{}, error) {
	switch path {
	case "audio.silence_duration_ms":
		return s.cfg.Audio.SilenceDurationMS, nil
	case "audio.min_speech_duration_ms":
		return s.cfg.Audio.MinSpeechDurationMS, nil
	case "audio.silence_threshold":
		return s.cfg.Audio.SilenceThreshold, nil
	case "llm.model":
		return s.cfg.LLM.Model, nil
	case "llm.max_tokens":
		return s.cfg.LLM.MaxTokens, nil
	case "llm.context_turns":
		return s.cfg.LLM.ContextTurns, nil
	case "tts.voice":
		return s.cfg.TTS.Voice, nil
	case "tts.speed":
		return s.cfg.TTS.Speed, nil
	case "analytics.slow_response_threshold_ms":
		return s.cfg.Analytics.SlowResponseThresholdMS, nil
	case "analytics.confidence_threshold":
		return s.cfg.Analytics.ConfidenceThreshold, nil
	default:
		return nil, fmt.Errorf("settings: unknown path %q", path)
	}
}

func (s *Store) setPath(path string, value interface{}) error {
	switch path {
	case "audio.silence_duration_ms":
		s.cfg.Audio.SilenceDurationMS = value.(int)
	case "audio.min_speech_duration_ms":
		s.cfg.Audio.MinSpeechDurationMS = value.(int)
	case "audio.silence_threshold":
		s.cfg.Audio.SilenceThreshold = value.(int)
	case "llm.model":
		s.cfg.LLM.Model = value.(string)
	case "llm.max_tokens":
		s.cfg.LLM.MaxTokens = value.(int)
	case "llm.context_turns":
		s.cfg.LLM.ContextTurns = value.(int)
	case "tts.voice":
		s.cfg.TTS.Voice = value.(string)
	case "tts.speed":
		s.cfg.TTS.Speed = value.(float64)
	case "analytics.slow_response_threshold_ms":
		s.cfg.Analytics.SlowResponseThresholdMS = value.(int)
	case "analytics.confidence_threshold":
		s.cfg.Analytics.ConfidenceThreshold = value.(float64)
	default:
		return fmt.Errorf("settings: unknown path %q", path)
	}
	return nil
}

// validate applies the VALIDATION_RULES-equivalent range/enum checks.
func validate(path string, value interface{}) error {
	switch path {
	case "audio.silence_duration_ms":
		return validateIntRange(path, value, 500, 5000)
	case "audio.min_speech_duration_ms":
		return validateIntRange(path, value, 100, 2000)
	case "audio.silence_threshold":
		return validateIntRange(path, value, 100, 2000)
	case "llm.max_tokens":
		return validateIntRange(path, value, 20, 500)
	case "llm.context_turns":
		return validateIntRange(path, value, 1, 20)
	case "llm.model":
		s, ok := value.(string)
		if !ok || !allowedModels[s] {
			return fmt.Errorf("settings: %s must be one of the supported models, got %v", path, value)
		}
	case "tts.voice":
		s, ok := value.(string)
		if !ok || !allowedVoices[s] {
			return fmt.Errorf("settings: %s must be a known voice, got %v", path, value)
		}
	case "tts.speed":
		return validateFloatRange(path, value, 0.5, 1.5)
	case "analytics.slow_response_threshold_ms":
		return validateIntRange(path, value, 1000, 10000)
	case "analytics.confidence_threshold":
		return validateFloatRange(path, value, 0.5, 1.0)
	default:
		return fmt.Errorf("settings: unknown path %q", path)
	}
	return nil
}

func validateIntRange(path string, value interface{}, min, max int) error {
	v, ok := value.(int)
	if !ok || v < min || v > max {
		return fmt.Errorf("settings: %s must be an int in [%d, %d], got %v", path, min, max, value)
	}
	return nil
}

func validateFloatRange(path string, value interface{}, min, max float64) error {
	v, ok := value.(float64)
	if !ok || v < min || v > max {
		return fmt.Errorf("settings: %s must be a float in [%.2f, %.2f], got %v", path, min, max, value)
	}
	return nil
}

func (s *Store) appendHistory(change Change) {
	if s.historyPath == "" {
		return
	}
	line, err := json.Marshal(change)
	if err != nil {
		s.logger.Error("settings: failed to marshal change", "error", err)
		return
	}
	f, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Error("settings: failed to open version log", "error", err)
		return
	}
	defer f.Close()
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		s.logger.Error("settings: failed to append version log", "error", err)
	}
}
