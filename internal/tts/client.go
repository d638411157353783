package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxErrorBody = 4096

// HTTPClient implements the Client interface against the storefront's
// text-to-speech endpoint.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

// HTTPConfig holds configuration for the HTTP client.
type HTTPConfig struct {
	URL        string // full endpoint URL, e.g. https://shop.example.com/api/ai/text-to-speech
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// NewHTTPClient creates a new TTS endpoint client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPClient{
		url:        cfg.URL,
		httpClient: httpClient,
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "tts",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// A cancelled request says nothing about the endpoint.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warnf("tts: circuit breaker %s changed from %s to %s", name, from, to)
			},
		}),
	}
}

// Synthesize posts the request and returns the base64 audio payload.
func (c *HTTPClient) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("tts: empty text")
	}
	if c.url == "" {
		return nil, ErrServiceUnavailable
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	telemetry.ObserveCollaborator("tts", start, err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*Audio), nil
}

func (c *HTTPClient) do(ctx context.Context, req Request) (*Audio, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var audio Audio
	if err := json.NewDecoder(resp.Body).Decode(&audio); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if audio.Payload == "" {
		return nil, errors.New("tts: response has no audio")
	}
	if audio.Format == "" {
		audio.Format = "mp3"
	}
	return &audio, nil
}
