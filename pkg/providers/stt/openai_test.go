package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func TestOpenAISTT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		resp := struct {
			Text string `json:"text"`
		}{
			Text: "transcribed text",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &OpenAISTT{
		apiKey: "test-key",
		url:    server.URL,
		model:  "whisper-1",
	}

	result, err := s.Transcribe(context.Background(), []byte{0, 0, 0, 0}, orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result != "transcribed text" {
		t.Errorf("expected 'transcribed text', got '%s'", result)
	}

	if s.Name() != "openai_stt" {
		t.Errorf("expected openai_stt, got %s", s.Name())
	}
}

func TestOpenAISTTTranscribeDetailedConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"text": "pronto",
			"segments": []map[string]float64{
				{"avg_logprob": -0.3},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &OpenAISTT{apiKey: "test-key", url: server.URL, model: "whisper-1"}
	result, err := s.TranscribeDetailed(context.Background(), []byte{0, 0, 0, 0}, orchestrator.LanguageIt, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Transcript != "pronto" {
		t.Errorf("expected transcript 'pronto', got %q", result.Transcript)
	}
	if result.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0 for avg_logprob >= -0.5, got %v", result.Confidence)
	}
}

func TestOpenAISTTTranscribeDetailedEmpty(t *testing.T) {
	s := &OpenAISTT{apiKey: "test-key", url: "http://unused", model: "whisper-1"}
	result, err := s.TranscribeDetailed(context.Background(), nil, orchestrator.LanguageIt, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Transcript != "" || result.Confidence != 0 {
		t.Errorf("expected empty result for empty audio, got %+v", result)
	}
}

func TestLogprobToConfidenceAnchors(t *testing.T) {
	cases := []struct {
		logprob float64
		want    float64
		approx  float64
	}{
		{-0.5, 1.0, 0.001},
		{-1.0, 0.85, 0.05},
		{-1.5, 0.60, 0.05},
		{-2.0, 0.35, 0.05},
		{-3.0, 0.05, 0.001},
	}
	for _, c := range cases {
		got := logprobToConfidence(c.logprob)
		diff := got - c.want
		if diff < 0 {
			diff = -diff
		}
		if diff > c.approx {
			t.Errorf("logprobToConfidence(%v) = %v, want ~%v", c.logprob, got, c.want)
		}
	}
}
