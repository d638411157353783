package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrServiceUnavailable means speech synthesis is not configured or not
// reachable right now. Callers log it and stay silent.
var ErrServiceUnavailable = errors.New("tts: service unavailable")

// Request is one synthesis request.
type Request struct {
	Text        string  `json:"text"`
	VoiceGender string  `json:"voice_gender"`
	VoiceID     string  `json:"voice_id"`
	SpeechSpeed float64 `json:"speech_speed"`
}

// Audio is synthesized speech as returned by the endpoint.
type Audio struct {
	Payload string `json:"audio"` // base64
	Format  string `json:"format"`
}

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts text to speech. The audio payload is base64 encoded.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

// StatusError is a non-2xx answer from the TTS endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("TTS API error: %d %s - %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Is makes a 503 match ErrServiceUnavailable.
func (e *StatusError) Is(target error) bool {
	return target == ErrServiceUnavailable && e.Code == http.StatusServiceUnavailable
}
