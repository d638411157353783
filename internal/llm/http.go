package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
)

// HTTPSummarizer implements Summarizer against the storefront's
// summarization endpoint.
type HTTPSummarizer struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSummarizer creates a summarizer posting to url.
func NewHTTPSummarizer(url string, httpClient *http.Client) *HTTPSummarizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPSummarizer{url: url, httpClient: httpClient}
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary *string `json:"summary"`
}

// Summarize posts {text} and expects {summary}.
func (s *HTTPSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	start := time.Now()
	summary, err := s.do(ctx, text)
	telemetry.ObserveCollaborator("summarize", start, err)
	return summary, err
}

func (s *HTTPSummarizer) do(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(summarizeRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("summarize API error: %s - %s", resp.Status, string(respBody))
	}

	var out summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Summary == nil || strings.TrimSpace(*out.Summary) == "" {
		return "", ErrNoSummary
	}
	return strings.TrimSpace(*out.Summary), nil
}
