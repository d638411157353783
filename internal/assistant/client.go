package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("assistant is temporarily unavailable")

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// HTTPConfig holds configuration for the HTTP client.
type HTTPConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// NewHTTPClient creates a new assistant endpoint client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPClient{
		url:        cfg.URL,
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "assistant",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				if err == nil || errors.Is(err, context.Canceled) {
					return true
				}
				// Client errors are the caller's fault, not the endpoint's.
				var se *StatusError
				return errors.As(err, &se) && se.Code < 500
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warnf("assistant: circuit breaker %s changed from %s to %s", name, from, to)
			},
		}),
	}
}

// Send posts the utterance and decodes any JSON reply.
func (c *HTTPClient) Send(ctx context.Context, req Request) (any, error) {
	if req.History == nil {
		req.History = []HistoryTurn{}
	}
	if req.SelectedProductIDs == nil {
		req.SelectedProductIDs = []int{}
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	telemetry.ObserveCollaborator("assistant", start, err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, req Request) (any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var reply any
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return reply, nil
}
