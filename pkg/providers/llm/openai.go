package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type OpenAILLM struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
	}
}

func (l *OpenAILLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	text, _, err := l.complete(ctx, messages, 0)
	return text, err
}

// CompleteDetailed also returns token usage reported by the API.
func (l *OpenAILLM) CompleteDetailed(ctx context.Context, messages []orchestrator.Message, maxTokens int) (string, orchestrator.LLMUsage, error) {
	return l.complete(ctx, messages, maxTokens)
}

func (l *OpenAILLM) complete(ctx context.Context, messages []orchestrator.Message, maxTokens int) (string, orchestrator.LLMUsage, error) {
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
		return "", orchestrator.LLMUsage{}, fmt.Errorf("openai llm error (status %d): %v", resp.StatusCode, errResp)
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
		return "", orchestrator.LLMUsage{}, fmt.Errorf("no choices returned from openai")
	}

	usage := orchestrator.LLMUsage{TokensIn: result.Usage.PromptTokens, TokensOut: result.Usage.CompletionTokens}
	return result.Choices[0].Message.Content, usage, nil
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}
