// Package assistant calls the storefront's chat completion endpoint.
//
// The reply is returned undecoded beyond generic JSON so the interpreter can
// read it defensively.
package assistant

import (
	"context"
	"fmt"
	"net/http"
)

// HistoryTurn is one prior message sent as context.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body posted to the assistant endpoint.
type Request struct {
	Message            string        `json:"message"`
	History            []HistoryTurn `json:"history"`
	SelectedProductIDs []int         `json:"selected_product_ids"`
	ImageURL           string        `json:"image_url,omitempty"`

	// AuthToken is forwarded as a bearer token so the storefront can apply
	// the shopper's permissions.
	AuthToken string `json:"-"`
}

// Client sends one utterance and returns the raw decoded reply.
type Client interface {
	Send(ctx context.Context, req Request) (any, error)
}

// StatusError is a non-2xx answer from the assistant endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("assistant API error: %d %s - %s", e.Code, http.StatusText(e.Code), e.Body)
}
