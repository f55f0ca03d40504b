package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// promptHint carries common Italian vocabulary to steer recognition,
// matching the original service's fixed prompt hint.
const promptHint = "Pronto, buongiorno, buonasera, grazie, prego, " +
	"codice fiscale, codice cliente, bolletta, fattura, " +
	"appuntamento, installazione, consegna"

// logprobToConfidence maps Whisper's avg_logprob to a 0-1 confidence using
// the reference anchors: -0.5 or higher -> 1.0, -3.0 or lower -> 0.05,
// with a sigmoid-like curve in between.
func logprobToConfidence(avgLogprob float64) float64 {
	if avgLogprob >= -0.5 {
		return 1.0
	}
	if avgLogprob <= -3.0 {
		return 0.05
	}
	normalized := (avgLogprob + 0.5) / 2.5
	return 1.0 / (1.0 + math.Exp(-5*(normalized+0.5)))
}

type OpenAISTT struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
	}
}

func (s *OpenAISTT) Name() string {
	return "openai_stt"
}

func (s *OpenAISTT) Transcribe(ctx context.Context, wavAudio []byte, lang orchestrator.Language) (string, error) {
	result, err := s.TranscribeDetailed(ctx, wavAudio, lang, "")
	return result.Transcript, err
}

// TranscribeDetailed requests OpenAI's verbose_json response format so the
// per-segment avg_logprob is available, and derives a confidence score
// from it via logprobToConfidence. wavAudio is expected to already be a
// complete WAV file (pkg/audio.PrepareForSTT does the mulaw decode, resample
// and container framing upstream).
func (s *OpenAISTT) TranscribeDetailed(ctx context.Context, wavAudio []byte, lang orchestrator.Language, prompt string) (orchestrator.STTResult, error) {
	if len(wavAudio) == 0 {
		return orchestrator.STTResult{}, nil
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return orchestrator.STTResult{}, err
	}

	if lang != "" {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return orchestrator.STTResult{}, err
		}
	}

	fullPrompt := promptHint
	if prompt != "" {
		fullPrompt = prompt + ". " + promptHint
	}
	if err := writer.WriteField("prompt", fullPrompt); err != nil {
		return orchestrator.STTResult{}, err
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return orchestrator.STTResult{}, err
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return orchestrator.STTResult{}, err
	}
	if _, err := part.Write(wavAudio); err != nil {
		return orchestrator.STTResult{}, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return orchestrator.STTResult{}, err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return orchestrator.STTResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return orchestrator.STTResult{}, fmt.Errorf("openai error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text     string `json:"text"`
		Segments []struct {
			AvgLogprob float64 `json:"avg_logprob"`
		} `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orchestrator.STTResult{}, err
	}

	transcript := strings.TrimSpace(result.Text)
	if transcript == "" {
		return orchestrator.STTResult{}, nil
	}

	confidence := 0.0
	if len(result.Segments) > 0 {
		var sum float64
		for _, seg := range result.Segments {
			sum += seg.AvgLogprob
		}
		confidence = logprobToConfidence(sum / float64(len(result.Segments)))
	}

	return orchestrator.STTResult{Transcript: transcript, Confidence: confidence}, nil
}
