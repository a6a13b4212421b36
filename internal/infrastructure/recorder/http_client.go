package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"liveclass/internal/core/ports"
	"liveclass/pkg/circuitbreaker"
	"liveclass/pkg/retry"

	"go.uber.org/zap"
)

// HTTPClient talks to the external recording service. Requests are
// retried with backoff and guarded by a circuit breaker so a flaky
// recorder degrades to structured errors instead of stalling sessions.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	retry   retry.Config
	breaker *circuitbreaker.Breaker
	log     *zap.SugaredLogger
}

type startResponse struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error,omitempty"`
	Target  ports.RecorderTarget `json:"target"`
}

// NewHTTPClient builds a recorder client. maxRetries counts retries on
// top of the first attempt.
func NewHTTPClient(baseURL string, maxRetries int, log *zap.Logger) *HTTPClient {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = maxRetries + 1
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		retry:   retryCfg,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		log:     log.Sugar(),
	}
}

// Start asks the recording service to begin receiving one track.
func (c *HTTPClient) Start(ctx context.Context, req ports.RecorderStartRequest) (*ports.RecorderTarget, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*ports.RecorderTarget, error) {
		var target *ports.RecorderTarget
		err := c.breaker.Execute(func() error {
			var resp startResponse
			if err := c.post(ctx, "/start", req, &resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("recorder rejected start: %s", resp.Error)
			}
			target = &resp.Target
			return nil
		})
		return target, err
	})
}

// Stop tells the recording service to stop one track, or all tracks
// when the request carries no kind.
func (c *HTTPClient) Stop(ctx context.Context, req ports.RecorderStopRequest) error {
	return retry.Do(ctx, c.retry, func() error {
		return c.breaker.Execute(func() error {
			return c.post(ctx, "/stop", req, nil)
		})
	})
}

// Status probes recorder health.
func (c *HTTPClient) Status(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("recorder unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recorder status returned %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode recorder request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("recorder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("recorder %s returned %d: %s", path, resp.StatusCode, string(snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode recorder response: %w", err)
		}
	}
	return nil
}
