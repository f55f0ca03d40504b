// Package sms implements the location-SMS sender the scheduled-action
// manager dispatches through (scheduler.SMSSender). It is deliberately
// carrier-agnostic: a minimal HTTP client POSTing to a single
// provider-issued endpoint, in the same shape as internal/hangup's call
// control client, since the orchestrator depends on neither a specific
// SMS vendor SDK nor Twilio/Vonage.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Config holds the environment-sourced settings for the HTTP sender.
type Config struct {
	Endpoint string
	APIKey   string
	From     string
	Timeout  time.Duration
}

// HTTPSender sends an SMS via a single JSON HTTP endpoint, bearer
// authenticated from an environment-provided API key.
type HTTPSender struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	from       string
	logger     orchestrator.Logger
}

// NewHTTPSender constructs an HTTPSender. A zero Timeout defaults to 10s.
func NewHTTPSender(cfg Config, logger orchestrator.Logger) *HTTPSender {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		logger:     logger,
	}
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	SID string `json:"sid"`
}

// Send implements scheduler.SMSSender, POSTing the message body to the
// configured provider endpoint and returning the provider's message SID.
func (s *HTTPSender) Send(to, body string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout)
	defer cancel()

	payload, err := json.Marshal(sendRequest{From: s.from, To: to, Body: body})
	if err != nil {
		return "", fmt.Errorf("sms: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("sms: send failed", "to", to, "error", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("sms: provider returned status %d: %s", resp.StatusCode, string(data))
		s.logger.Error("sms: send rejected", "to", to, "error", err)
		return "", err
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("sms: decode response: %w", err)
	}
	s.logger.Info("sms: sent", "to", to, "sid", out.SID)
	return out.SID, nil
}

// NoOpSender discards messages, reporting a synthetic SID. Used for
// local development and the micbridge harness where no SMS provider is
// configured.
type NoOpSender struct {
	logger orchestrator.Logger
}

// NewNoOpSender constructs a NoOpSender.
func NewNoOpSender(logger orchestrator.Logger) *NoOpSender {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &NoOpSender{logger: logger}
}

// Send implements scheduler.SMSSender without contacting any provider.
func (n *NoOpSender) Send(to, body string) (string, error) {
	n.logger.Info("sms: noop send", "to", to, "body_len", len(body))
	return "noop-sid", nil
}
