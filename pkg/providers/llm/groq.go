package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// GroqLLM talks to Groq's OpenAI-compatible chat completions endpoint,
// used as the default fast/cheap LLM provider (matching cmd/gateway's
// STT_PROVIDER/LLM_PROVIDER default of "groq").
type GroqLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqLLM{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/chat/completions",
		model:  model,
	}
}

func (l *GroqLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	text, _, err := l.complete(ctx, messages, 0)
	return text, err
}

func (l *GroqLLM) CompleteDetailed(ctx context.Context, messages []orchestrator.Message, maxTokens int) (string, orchestrator.LLMUsage, error) {
	return l.complete(ctx, messages, maxTokens)
}

func (l *GroqLLM) complete(ctx context.Context, messages []orchestrator.Message, maxTokens int) (string, orchestrator.LLMUsage, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", orchestrator.LLMUsage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", orchestrator.LLMUsage{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", orchestrator.LLMUsage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", orchestrator.LLMUsage{}, fmt.Errorf("groq llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", orchestrator.LLMUsage{}, err
	}

	if len(result.Choices) == 0 {
		return "", orchestrator.LLMUsage{}, fmt.Errorf("no choices returned from groq")
	}

	usage := orchestrator.LLMUsage{TokensIn: result.Usage.PromptTokens, TokensOut: result.Usage.CompletionTokens}
	return result.Choices[0].Message.Content, usage, nil
}

func (l *GroqLLM) Name() string {
	return "groq-llm"
}
