// Package chat is the send pipeline of one assistant session: it records the
// shopper's turn, calls the assistant, interprets the reply, applies the
// resulting page effects and hands the reply to the voice controller.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/assistant"
	"github.com/aminparva84/InsightShop-sub000/internal/eventlog"
	"github.com/aminparva84/InsightShop-sub000/internal/interpret"
	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
	"github.com/aminparva84/InsightShop-sub000/internal/transcript"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned while a previous message is still being answered.
	ErrBusy = errors.New("chat: a message is already being answered")
	// ErrEmptyMessage is returned for a message with neither text nor image.
	ErrEmptyMessage = errors.New("chat: message is empty")
)

// PendingText is shown in the placeholder turn while the assistant answers.
const PendingText = "..."

// defaultHistoryLimit bounds the context sent with each message.
const defaultHistoryLimit = 20

// Host is the page the session drives.
type Host interface {
	NavigateTo(path string, prefill map[string]any)
	UpdateInlineProductList(ids []int)
	RefreshCart()
	InlineUpdateAvailable() bool
	ShowTurn(t transcript.Turn)
	SetLoading(loading bool)
	ShowInput(text string)
}

// Speaker reads replies aloud.
type Speaker interface {
	Speak(ctx context.Context, text, key string) error
	DiscardConsent()
}

// EventLogger records session events.
type EventLogger interface {
	LogAsync(sessionID string, eventType eventlog.EventType, data map[string]any)
}

// Identity is who is chatting, as established by the transport.
type Identity struct {
	IsAdmin   bool
	AuthToken string
}

// Deps are the collaborators of a Session. Speaker and Events are optional.
type Deps struct {
	Transcript *transcript.Store
	Assistant  assistant.Client
	Host       Host
	Speaker    Speaker
	Events     EventLogger
	Logger     *zap.SugaredLogger
}

// Session is one shopper's conversation.
type Session struct {
	transcript *transcript.Store
	assistant  assistant.Client
	host       Host
	speaker    Speaker
	events     EventLogger
	logger     *zap.SugaredLogger

	// baseCtx outlives individual requests; replies are spoken under it.
	baseCtx      context.Context
	historyLimit int

	mu        sync.Mutex
	identity  Identity
	loading   bool
	selection []int
	input     []string
	wg        sync.WaitGroup
}

// NewSession creates a session. ctx bounds background work such as speech
// and should live as long as the connection.
func NewSession(ctx context.Context, deps Deps, identity Identity) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{
		transcript:   deps.Transcript,
		assistant:    deps.Assistant,
		host:         deps.Host,
		speaker:      deps.Speaker,
		events:       deps.Events,
		logger:       logger,
		baseCtx:      ctx,
		historyLimit: defaultHistoryLimit,
		identity:     identity,
	}
}

// Transcript returns the session's transcript.
func (s *Session) Transcript() *transcript.Store { return s.transcript }

// SetIdentity replaces the caller identity, e.g. after a token refresh.
func (s *Session) SetIdentity(id Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// Loading reports whether a reply is outstanding.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Selection returns the running product selection.
func (s *Session) Selection() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.selection...)
}

// Send delivers one shopper message and applies the interpreted reply.
// The assistant call is not cancelled by the caller going away; it runs
// to completion and its reply lands in whatever transcript exists then.
func (s *Session) Send(ctx context.Context, text string, attachment *transcript.Attachment) (interpret.Interpretation, error) {
	return s.send(ctx, text, attachment, false)
}

// send admits one message. With fromInput the pending input is the message
// and is cleared only once admitted.
func (s *Session) send(ctx context.Context, text string, attachment *transcript.Attachment, fromInput bool) (interpret.Interpretation, error) {
	s.mu.Lock()
	if fromInput {
		text = strings.Join(s.input, " ")
	}
	text = strings.TrimSpace(text)
	if text == "" && attachment == nil {
		s.mu.Unlock()
		return interpret.Interpretation{}, ErrEmptyMessage
	}
	if s.loading {
		s.mu.Unlock()
		telemetry.MessagesTotal.WithLabelValues("busy").Inc()
		return interpret.Interpretation{}, ErrBusy
	}
	s.loading = true
	if fromInput {
		s.input = nil
	}
	identity := s.identity
	prior := append([]int(nil), s.selection...)
	s.mu.Unlock()

	if fromInput {
		s.host.ShowInput("")
	}
	s.host.SetLoading(true)
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.host.SetLoading(false)
	}()

	history := s.history()

	user := s.transcript.Append(ctx, transcript.Turn{
		Role:       transcript.RoleUser,
		Text:       text,
		Attachment: attachment,
	})
	s.host.ShowTurn(user)
	placeholder := s.transcript.Append(ctx, transcript.Turn{
		Role:    transcript.RoleAssistant,
		Text:    PendingText,
		Pending: true,
	})
	s.host.ShowTurn(placeholder)

	sessionID := s.transcript.SessionID()
	s.logEvent(sessionID, eventlog.EventMessageSent, map[string]any{
		"text_length":    len(text),
		"has_attachment": attachment != nil,
		"selection_size": len(prior),
	})

	req := assistant.Request{
		Message:            text,
		History:            history,
		SelectedProductIDs: prior,
		AuthToken:          identity.AuthToken,
	}
	if attachment != nil {
		req.ImageURL = attachment.URL
	}

	start := time.Now()
	raw, err := s.assistant.Send(context.WithoutCancel(ctx), req)
	if err != nil {
		return interpret.Interpretation{}, s.fail(ctx, placeholder.Key, err)
	}
	s.logEvent(sessionID, eventlog.EventReplyReceived, map[string]any{
		"latency_ms": time.Since(start).Milliseconds(),
	})

	in := interpret.Interpret(raw, text, prior, interpret.Options{
		IsAdmin:               identity.IsAdmin,
		InlineUpdateAvailable: s.host.InlineUpdateAvailable(),
	})
	s.apply(ctx, placeholder.Key, in)
	telemetry.MessagesTotal.WithLabelValues("ok").Inc()
	return in, nil
}

// ApplyMatches records products found by an image search as if the
// assistant had returned them.
func (s *Session) ApplyMatches(ctx context.Context, ids []int, caption string) interpret.Interpretation {
	s.mu.Lock()
	prior := append([]int(nil), s.selection...)
	isAdmin := s.identity.IsAdmin
	s.mu.Unlock()

	in := interpret.InterpretMatches(ids, caption, prior, interpret.Options{
		IsAdmin:               isAdmin,
		InlineUpdateAvailable: s.host.InlineUpdateAvailable(),
	})
	s.logEvent(s.transcript.SessionID(), eventlog.EventMatchesApplied, map[string]any{"count": len(ids)})
	s.apply(ctx, "", in)
	return in
}

// apply stores the interpreted turn and runs its effects: cart refresh
// first, then navigation or inline update, then speech.
func (s *Session) apply(ctx context.Context, pendingKey string, in interpret.Interpretation) {
	turn := transcript.Turn{
		Role:        transcript.RoleAssistant,
		Text:        in.DisplayText,
		ProductRefs: in.ProductIDs,
		ActionTag:   in.Action,
	}
	if pendingKey != "" {
		turn = s.transcript.ResolvePending(ctx, pendingKey, turn)
	} else {
		turn = s.transcript.Append(ctx, turn)
	}
	s.host.ShowTurn(turn)

	s.mu.Lock()
	s.selection = append([]int(nil), in.Selection...)
	s.mu.Unlock()

	telemetry.InterpretationsTotal.WithLabelValues(string(in.Kind), string(effectKind(in.Effect))).Inc()
	s.logEvent(s.transcript.SessionID(), eventlog.EventReplyInterpreted, map[string]any{
		"kind":        in.Kind,
		"effect":      effectKind(in.Effect),
		"source":      in.Source,
		"product_ids": in.ProductIDs,
		"terminal":    in.Terminal,
	})

	if in.RefreshCart {
		s.host.RefreshCart()
	}
	switch in.Effect.Kind {
	case interpret.EffectNavigate:
		s.host.NavigateTo(in.Effect.Path, in.Effect.Prefill)
	case interpret.EffectUpdateInlineProductList:
		s.host.UpdateInlineProductList(in.Effect.IDs)
	}

	s.speak(turn.Text, turn.Key)
}

func (s *Session) fail(ctx context.Context, pendingKey string, err error) error {
	telemetry.MessagesTotal.WithLabelValues("error").Inc()
	s.logger.Errorf("chat: assistant call failed: %v", err)
	s.logEvent(s.transcript.SessionID(), eventlog.EventAssistantError, map[string]any{"error": err.Error()})

	turn := s.transcript.ResolvePending(ctx, pendingKey, transcript.Turn{
		Role: transcript.RoleAssistant,
		Text: fmt.Sprintf("Sorry, I encountered an error: %v", err),
	})
	s.host.ShowTurn(turn)

	if s.speaker != nil {
		s.speaker.DiscardConsent()
	}
	return fmt.Errorf("chat: send: %w", err)
}

func (s *Session) speak(text, key string) {
	if s.speaker == nil || text == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.speaker.Speak(s.baseCtx, text, key); err != nil {
			s.logger.Warnf("chat: speaking reply %s failed: %v", key, err)
		}
	}()
}

// Wait blocks until background speech hand-offs have returned.
func (s *Session) Wait() { s.wg.Wait() }

// AppendInput adds dictated text to the pending input, space-joined.
func (s *Session) AppendInput(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	s.input = append(s.input, text)
	joined := strings.Join(s.input, " ")
	s.mu.Unlock()

	s.host.ShowInput(joined)
}

// SetInput replaces the pending input with what the shopper typed. Typing
// over dictated text withdraws the dictation's consent to a spoken reply.
func (s *Session) SetInput(text string) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	changed := text != strings.Join(s.input, " ")
	s.input = nil
	if text != "" {
		s.input = []string{text}
	}
	s.mu.Unlock()

	if changed && s.speaker != nil {
		s.speaker.DiscardConsent()
	}
}

// PendingInput returns the text waiting to be submitted.
func (s *Session) PendingInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.input, " ")
}

// SubmitInput sends the pending input. A refused submit leaves the input
// in place.
func (s *Session) SubmitInput(ctx context.Context) (interpret.Interpretation, error) {
	return s.send(ctx, "", nil, true)
}

// ClearHistory empties the transcript and the running selection.
func (s *Session) ClearHistory(ctx context.Context) {
	s.transcript.Clear(ctx)
	s.mu.Lock()
	s.selection = nil
	s.mu.Unlock()
	s.logEvent(s.transcript.SessionID(), eventlog.EventHistoryCleared, nil)
}

func (s *Session) history() []assistant.HistoryTurn {
	turns := s.transcript.History(s.historyLimit)
	out := make([]assistant.HistoryTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, assistant.HistoryTurn{Role: string(t.Role), Content: t.Text})
	}
	return out
}

func (s *Session) logEvent(sessionID string, t eventlog.EventType, data map[string]any) {
	if s.events != nil {
		s.events.LogAsync(sessionID, t, data)
	}
}

func effectKind(e interpret.Effect) interpret.EffectKind {
	if e.None() {
		return interpret.EffectNone
	}
	return e.Kind
}
