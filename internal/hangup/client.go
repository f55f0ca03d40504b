// Package hangup implements the carrier hangup control client (C10): an
// out-of-band HTTP call terminating a carrier call after the orchestrator
// detects a goodbye and drains TTS playback. It is adapter-shaped rather
// than tied to one carrier's SDK.
package hangup

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Broadcaster is the subset of the dashboard broadcaster used to report
// hangup failures without blocking the call teardown path on them.
type Broadcaster interface {
	Error(callSID, errorType, message string)
}

// Client terminates carrier calls by issuing an HTTP request to the
// carrier's call-control endpoint, bearer-authenticated from
// environment-provided credentials.
type Client struct {
	httpClient  *http.Client
	endpointFmt string
	bearerToken string
	broadcaster Broadcaster
	logger      orchestrator.Logger
}

// Config holds the environment-sourced settings for the hangup client.
// EndpointFmt must contain exactly one %s, substituted with the call ID
// (e.g. "https://carrier.example.com/v1/calls/%s/terminate").
type Config struct {
	EndpointFmt string
	BearerToken string
	Timeout     time.Duration
}

// NewClient constructs a Client. A zero Timeout defaults to 10s.
func NewClient(cfg Config, broadcaster Broadcaster, logger orchestrator.Logger) *Client {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		endpointFmt: cfg.EndpointFmt,
		bearerToken: cfg.BearerToken,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Hangup terminates callID. Failures are logged, broadcast as a dashboard
// error, and also returned to the caller.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	url := fmt.Sprintf(c.endpointFmt, callID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		c.reportFailure(callID, err)
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.reportFailure(callID, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("hangup request for %s failed: status %d", callID, resp.StatusCode)
		c.reportFailure(callID, err)
		return err
	}

	c.logger.Info("hangup: call terminated", "call_id", callID)
	return nil
}

func (c *Client) reportFailure(callID string, err error) {
	c.logger.Error("hangup: failed to terminate call", "call_id", callID, "error", err)
	if c.broadcaster != nil {
		c.broadcaster.Error(callID, "hangup_failed", err.Error())
	}
}
