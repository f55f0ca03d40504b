package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type AnthropicLLM struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicLLM{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
	}
}

func (l *AnthropicLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	text, _, err := l.complete(ctx, messages, 1024)
	return text, err
}

// CompleteDetailed also returns Anthropic's reported input/output token
// counts, used to populate CLAUDE_COMPLETED's tokens_in/tokens_out.
func (l *AnthropicLLM) CompleteDetailed(ctx context.Context, messages []orchestrator.Message, maxTokens int) (string, orchestrator.LLMUsage, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return l.complete(ctx, messages, maxTokens)
}

func (l *AnthropicLLM) complete(ctx context.Context, messages []orchestrator.Message, maxTokens int) (string, orchestrator.LLMUsage, error) {
	var system string
	var anthropicMessages []map[string]string

	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
		} else {
			anthropicMessages = append(anthropicMessages, map[string]string{
				"role":    msg.Role,
				"content": msg.Content,
			})
		}
	}

	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   anthropicMessages,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
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
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", orchestrator.LLMUsage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", orchestrator.LLMUsage{}, fmt.Errorf("anthropic llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", orchestrator.LLMUsage{}, err
	}

	if len(result.Content) == 0 {
		return "", orchestrator.LLMUsage{}, fmt.Errorf("no content returned from anthropic")
	}

	usage := orchestrator.LLMUsage{TokensIn: result.Usage.InputTokens, TokensOut: result.Usage.OutputTokens}
	return result.Content[0].Text, usage, nil
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}
