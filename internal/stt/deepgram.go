package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// ErrClosed is returned when audio is streamed after Close.
var ErrClosed = errors.New("stt: client is closed")

// DeepgramClient implements the Client interface using Deepgram's streaming API.
type DeepgramClient struct {
	conn      *websocket.Conn
	logger    *zap.SugaredLogger
	results   chan TranscriptResult
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup // Wait for readLoop to finish
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey      string
	URL         string // defaults to the public streaming endpoint
	Language    string // e.g., "en-US"
	Model       string // e.g., "nova-3"
	SampleRate  int    // e.g., 16000 for browser microphone capture
	Encoding    string // e.g., "linear16"
	Channels    int    // e.g., 1 for mono
	Punctuate   bool
	Endpointing int // milliseconds of silence for endpointing, 0 for default
	Logger      *zap.SugaredLogger
}

// withDefaults fills in the browser microphone format.
func (cfg DeepgramConfig) withDefaults() DeepgramConfig {
	if cfg.URL == "" {
		cfg.URL = deepgramWSURL
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return cfg
}

// streamURL builds the WebSocket URL with query parameters.
func (cfg DeepgramConfig) streamURL() string {
	q := url.Values{}
	q.Set("model", cfg.Model)
	q.Set("language", cfg.Language)
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("interim_results", "true")
	if cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.Endpointing))
	}
	return cfg.URL + "?" + q.Encode()
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

// NewDeepgramClient creates a new Deepgram streaming STT client.
func NewDeepgramClient(ctx context.Context, cfg DeepgramConfig) (*DeepgramClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stt: Deepgram API key is required")
	}
	cfg = cfg.withDefaults()

	// Set up headers with API key
	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.streamURL(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	client := &DeepgramClient{
		conn:    conn,
		logger:  cfg.Logger,
		results: make(chan TranscriptResult, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	// Start reading responses
	client.wg.Add(1)
	go client.readLoop()

	return client, nil
}

// DeepgramOpener returns an Opener dialing a fresh stream per call.
func DeepgramOpener(cfg DeepgramConfig) Opener {
	return func(ctx context.Context) (Client, error) {
		return NewDeepgramClient(ctx, cfg)
	}
}

// StreamAudio sends audio data to Deepgram.
func (c *DeepgramClient) StreamAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Results returns the channel for receiving transcription results.
func (c *DeepgramClient) Results() <-chan TranscriptResult {
	return c.results
}

// Errors returns the channel for receiving errors.
func (c *DeepgramClient) Errors() <-chan error {
	return c.errors
}

// Close closes the Deepgram connection.
func (c *DeepgramClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		// Send close message to Deepgram
		c.mu.Lock()
		closeMsg := []byte(`{"type": "CloseStream"}`)
		_ = c.conn.WriteMessage(websocket.TextMessage, closeMsg)
		c.mu.Unlock()

		err = c.conn.Close()

		// Wait for readLoop to finish before closing channels
		c.wg.Wait()
		close(c.results)
		close(c.errors)
	})
	return err
}

// readLoop reads responses from Deepgram and sends them to the results channel.
func (c *DeepgramClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.logger.Warnf("deepgram: failed to parse response: %v", err)
			continue
		}

		// Skip non-results messages
		if resp.Type != "Results" {
			continue
		}

		// Extract transcript from first alternative (can be empty).
		var transcript string
		var confidence float64
		if len(resp.Channel.Alternatives) > 0 {
			alt := resp.Channel.Alternatives[0]
			transcript = alt.Transcript
			confidence = alt.Confidence
		}

		result := TranscriptResult{
			Text:         transcript,
			Confidence:   confidence,
			SegmentFinal: resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
		}

		// Emit events even if transcript is empty when we have boundary signals.
		if result.Text == "" && !result.SegmentFinal && !result.SpeechFinal {
			continue
		}

		select {
		case <-c.done:
			return
		case c.results <- result:
		}
	}
}
