package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/chat"
	"github.com/aminparva84/InsightShop-sub000/internal/eventlog"
	"github.com/aminparva84/InsightShop-sub000/internal/transcript"
	"github.com/aminparva84/InsightShop-sub000/internal/voice"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeTimeout    = 10 * time.Second
	helloTimeout    = 30 * time.Second
	maxMessageBytes = 8 << 20 // attachments arrive inline as data URLs
)

const speechFailedMessage = "could not read the reply aloud"

// inboundMessage is any JSON frame sent by the page.
type inboundMessage struct {
	Type         string                 `json:"type"`
	SessionID    string                 `json:"session_id,omitempty"`
	InlineUpdate bool                   `json:"inline_update,omitempty"`
	Text         string                 `json:"text,omitempty"`
	Attachment   *transcript.Attachment `json:"attachment,omitempty"`
	Key          string                 `json:"key,omitempty"`
	VoiceID      string                 `json:"voice_id,omitempty"`
	Rate         *float64               `json:"rate,omitempty"`
	Volume       *float64               `json:"volume,omitempty"`
	IDs          []int                  `json:"ids,omitempty"`
	Caption      string                 `json:"caption,omitempty"`
	AudioID      string                 `json:"audio_id,omitempty"`
	State        string                 `json:"state,omitempty"`
	Message      string                 `json:"message,omitempty"`
}

// assistantSession serves one browser tab over one socket.
type assistantSession struct {
	r      *Router
	user   *AuthUser
	logger *zap.SugaredLogger

	conn   *websocket.Conn
	connMu sync.Mutex

	sessionID    string
	inlineUpdate atomic.Bool
	release      func()

	transcript *transcript.Store
	chat       *chat.Session
	voice      *voice.Controller
	dictation  *voice.Dictation
	player     *remotePlayer

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func (r *Router) handleAssistantWS(w http.ResponseWriter, req *http.Request) {
	if !r.sessions.Add() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer r.sessions.Done()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warnf("assistant_ws: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	// The socket outlives the upgrade request's context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(req.Context()))

	s := &assistantSession{
		r:      r,
		user:   getAuthUser(req.Context()),
		logger: r.logger,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	s.run()
}

func (s *assistantSession) run() {
	defer s.cleanup()

	_ = s.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Infof("assistant_ws: connection closed for session %s", s.sessionID)
			} else if s.ctx.Err() == nil {
				s.logger.Warnf("assistant_ws: read error for session %s: %v", s.sessionID, err)
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			s.handleAudio(data)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnf("assistant_ws: failed to parse message: %v", err)
			s.sendError("malformed message")
			continue
		}

		if s.chat == nil {
			if msg.Type != "hello" {
				s.sendError("hello required")
				continue
			}
			if err := s.handleHello(msg); err != nil {
				s.logger.Errorf("assistant_ws: hello failed: %v", err)
				s.sendError("could not start session")
				return
			}
			_ = s.conn.SetReadDeadline(time.Time{})
			continue
		}

		s.dispatch(msg)
	}
}

// handleHello opens or restores the tab session and wires its components.
func (s *assistantSession) handleHello(msg inboundMessage) error {
	id := strings.TrimSpace(msg.SessionID)
	if id == "" {
		id = uuid.New().String()
	}
	s.sessionID = id
	s.logger = s.r.logger.With("session_id", id)
	s.inlineUpdate.Store(msg.InlineUpdate)
	s.release = s.r.sessions.Claim(id, s.close)

	s.transcript = transcript.New(id, s.r.svc.Transcripts, s.logger)
	restored, err := s.transcript.Restore(s.ctx)
	if err != nil {
		s.logger.Warnf("assistant_ws: restore transcript failed: %v", err)
	}

	owner := id
	if s.user != nil {
		owner = s.user.ID
	}

	s.player = newRemotePlayer(s.writeJSON, s.r.cfg.PlayAckTimeout)
	s.voice = voice.NewController(s.r.cfg.Voice, voice.Deps{
		Synthesizer: s.r.svc.TTS,
		Summarizer:  s.r.svc.Summarizer,
		Output:      s.player,
		Store:       s.r.preferenceStore(owner),
		Observer:    s.onVoiceEvent,
		Logger:      s.logger,
	})
	if _, err := s.voice.LoadPreferences(s.ctx); err != nil {
		s.logger.Warnf("assistant_ws: load voice preferences failed: %v", err)
	}

	s.chat = chat.NewSession(s.ctx, chat.Deps{
		Transcript: s.transcript,
		Assistant:  s.r.svc.Assistant,
		Host:       s,
		Speaker:    s.voice,
		Events:     s.r.svc.EventLog,
		Logger:     s.logger,
	}, s.identity())

	if s.r.svc.OpenSTT != nil {
		s.dictation = voice.NewDictation(voice.DictationDeps{
			Open:     s.r.svc.OpenSTT,
			Sink:     s.chat,
			Consent:  s.voice,
			Observer: s.onDictationState,
			Logger:   s.logger,
		})
	}

	eventType := eventlog.EventSessionStarted
	if restored > 0 {
		eventType = eventlog.EventSessionRestored
	}
	s.r.svc.EventLog.LogAsync(id, eventType, map[string]any{
		"restored_turns": restored,
		"signed_in":      s.user != nil,
	})
	s.logger.Infof("assistant_ws: session ready (%d turns restored)", restored)

	if err := s.writeJSON(map[string]any{
		"type":       "transcript",
		"session_id": id,
		"turns":      s.transcript.Turns(),
	}); err != nil {
		return fmt.Errorf("send transcript: %w", err)
	}
	return s.sendPreferences()
}

func (s *assistantSession) dispatch(msg inboundMessage) {
	switch msg.Type {
	case "view":
		s.inlineUpdate.Store(msg.InlineUpdate)

	case "send":
		go s.send(func(ctx context.Context) error {
			_, err := s.chat.Send(ctx, msg.Text, msg.Attachment)
			return err
		})

	case "input":
		s.chat.SetInput(msg.Text)

	case "submit":
		go s.send(func(ctx context.Context) error {
			_, err := s.chat.SubmitInput(ctx)
			return err
		})

	case "clear":
		s.voice.Stop()
		s.chat.ClearHistory(s.ctx)
		_ = s.writeJSON(map[string]any{"type": "transcript", "session_id": s.sessionID, "turns": []transcript.Turn{}})

	case "matches":
		s.chat.ApplyMatches(context.WithoutCancel(s.ctx), msg.IDs, msg.Caption)

	case "play":
		turn, ok := s.transcript.Find(msg.Key)
		if !ok {
			s.sendError("unknown message")
			return
		}
		go func() {
			if err := s.voice.PlayMessage(s.ctx, turn.Text, turn.Key); err != nil {
				s.logger.Warnf("assistant_ws: play %s failed: %v", turn.Key, err)
			}
			_ = s.sendPreferences()
		}()

	case "stop":
		s.voice.Stop()

	case "toggle_voice":
		enabled := s.voice.ToggleVoiceOutput(s.ctx)
		s.r.svc.EventLog.LogAsync(s.sessionID, eventlog.EventVoiceToggled, map[string]any{"enabled": enabled})
		_ = s.sendPreferences()

	case "set_voice":
		s.setVoice(msg)

	case "listen_start":
		if s.dictation == nil {
			s.sendError("dictation is not available")
			return
		}
		if err := s.dictation.Start(s.ctx); err != nil {
			s.logger.Warnf("assistant_ws: dictation start failed: %v", err)
			s.sendError("could not start dictation")
		}

	case "listen_stop":
		if s.dictation != nil {
			s.dictation.Stop()
		}

	case "audio_state":
		s.player.Ack(msg.AudioID, msg.State, msg.Message)

	default:
		s.logger.Debugf("assistant_ws: ignoring message type %q", msg.Type)
	}
}

// send runs one chat send. Failures of the assistant itself are already in
// the transcript; only refusals are reported separately.
func (s *assistantSession) send(fn func(ctx context.Context) error) {
	// A reply that arrives after the tab went away still lands in the
	// persisted transcript.
	err := fn(context.WithoutCancel(s.ctx))
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrBusy):
		s.sendError("please wait for the current answer")
	case errors.Is(err, chat.ErrEmptyMessage):
		s.sendError("message is empty")
	default:
		s.logger.Warnf("assistant_ws: send failed: %v", err)
	}
}

func (s *assistantSession) setVoice(msg inboundMessage) {
	if msg.VoiceID != "" {
		if _, err := s.voice.SetVoice(s.ctx, msg.VoiceID); err != nil {
			s.sendError("unknown voice")
		}
	}
	if msg.Rate != nil {
		s.voice.SetRate(s.ctx, *msg.Rate)
	}
	if msg.Volume != nil {
		s.voice.SetVolume(s.ctx, *msg.Volume)
	}
	_ = s.sendPreferences()
}

func (s *assistantSession) handleAudio(data []byte) {
	if s.dictation == nil {
		return
	}
	if err := s.dictation.Feed(s.ctx, data); err != nil && !errors.Is(err, voice.ErrNotListening) {
		s.logger.Warnf("assistant_ws: dictation feed failed: %v", err)
	}
}

func (s *assistantSession) onVoiceEvent(ev voice.Event) {
	frame := map[string]any{"type": "voice_state", "key": ev.Key, "state": ev.State}
	if ev.State == voice.StateFailed && voice.Reportable(ev.Err) {
		// Shown beside the message only; never added to the transcript.
		frame["error"] = speechFailedMessage
	}
	_ = s.writeJSON(frame)

	data := map[string]any{"key": ev.Key, "state": ev.State, "generation": ev.Generation}
	if ev.Err != nil {
		data["error"] = ev.Err.Error()
		s.r.svc.EventLog.LogAsync(s.sessionID, eventlog.EventPlaybackError, data)
		return
	}
	s.r.svc.EventLog.LogAsync(s.sessionID, eventlog.EventPlayback, data)
}

func (s *assistantSession) onDictationState(state voice.DictationState) {
	_ = s.writeJSON(map[string]any{"type": "listening", "state": state})
	switch state {
	case voice.DictationListening:
		s.r.svc.EventLog.LogAsync(s.sessionID, eventlog.EventDictationStarted, nil)
	case voice.DictationStopped:
		s.r.svc.EventLog.LogAsync(s.sessionID, eventlog.EventDictationStopped, nil)
	}
}

func (s *assistantSession) identity() chat.Identity {
	if s.user == nil {
		return chat.Identity{}
	}
	return chat.Identity{IsAdmin: s.user.IsAdmin, AuthToken: s.user.Token}
}

// Host implementation: page effects become server → client frames.

func (s *assistantSession) NavigateTo(path string, prefill map[string]any) {
	_ = s.writeJSON(map[string]any{"type": "navigate", "path": path, "prefill": prefill})
}

func (s *assistantSession) UpdateInlineProductList(ids []int) {
	_ = s.writeJSON(map[string]any{"type": "inline_products", "ids": ids})
}

func (s *assistantSession) RefreshCart() {
	_ = s.writeJSON(map[string]any{"type": "refresh_cart"})
}

func (s *assistantSession) InlineUpdateAvailable() bool {
	return s.inlineUpdate.Load()
}

func (s *assistantSession) ShowTurn(t transcript.Turn) {
	_ = s.writeJSON(map[string]any{"type": "turn", "turn": t})
}

func (s *assistantSession) SetLoading(loading bool) {
	_ = s.writeJSON(map[string]any{"type": "loading", "value": loading})
}

func (s *assistantSession) ShowInput(text string) {
	_ = s.writeJSON(map[string]any{"type": "input", "text": text})
}

func (s *assistantSession) sendPreferences() error {
	return s.writeJSON(map[string]any{"type": "preferences", "preferences": s.voice.Preferences()})
}

func (s *assistantSession) sendError(message string) {
	_ = s.writeJSON(map[string]any{"type": "error", "message": message})
}

func (s *assistantSession) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// close ends the socket; the read loop then runs cleanup.
func (s *assistantSession) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.connMu.Lock()
		_ = s.conn.Close()
		s.connMu.Unlock()
	})
}

func (s *assistantSession) cleanup() {
	s.close()

	if s.dictation != nil {
		s.dictation.Stop()
	}
	if s.voice != nil {
		s.voice.Stop()
	}
	if s.player != nil {
		s.player.ReleaseAll()
	}
	if s.release != nil {
		s.release()
	}
	if s.sessionID != "" {
		s.r.svc.EventLog.LogAsync(s.sessionID, eventlog.EventSessionEnded, nil)
	}

	s.logger.Infof("assistant_ws: session %s cleaned up", s.sessionID)
}
