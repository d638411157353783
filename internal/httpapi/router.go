package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/assistant"
	"github.com/aminparva84/InsightShop-sub000/internal/eventlog"
	"github.com/aminparva84/InsightShop-sub000/internal/llm"
	"github.com/aminparva84/InsightShop-sub000/internal/store"
	"github.com/aminparva84/InsightShop-sub000/internal/stt"
	"github.com/aminparva84/InsightShop-sub000/internal/transcript"
	"github.com/aminparva84/InsightShop-sub000/internal/tts"
	"github.com/aminparva84/InsightShop-sub000/internal/voice"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	// JWT Authentication (tokens are issued by the storefront)
	JWTSecret string

	// Voice playback tuning and default preferences
	Voice voice.Config

	// PlayAckTimeout bounds how long a play command waits for the page.
	PlayAckTimeout time.Duration

	// AllowedOrigin is echoed in CORS headers; "*" when empty.
	AllowedOrigin string
}

// Services are the collaborators behind the HTTP surface. Store, EventLog,
// Transcripts, Summarizer and OpenSTT may be nil; the matching feature is
// then skipped.
type Services struct {
	Store       *store.Store
	EventLog    *eventlog.Logger
	Transcripts transcript.Persister
	Assistant   assistant.Client
	TTS         tts.Client
	Summarizer  llm.Summarizer
	OpenSTT     stt.Opener
}

type Router struct {
	cfg      RouterConfig
	logger   *zap.SugaredLogger
	svc      Services
	sessions *SessionRegistry
	previews *previewCache
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *zap.SugaredLogger, svc Services, sessions *SessionRegistry) http.Handler {
	if cfg.PlayAckTimeout <= 0 {
		cfg.PlayAckTimeout = defaultPlayAckTimeout
	}
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	r := &Router{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		sessions: sessions,
		previews: newPreviewCache(previewCacheDuration),
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(cfg.AllowedOrigin, r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Voice catalogue (public)
	r.mux.HandleFunc("GET /api/voices", r.handleListVoices)
	r.mux.HandleFunc("POST /api/voices/preview", r.handlePreviewVoice)

	// Stored voice preferences (signed-in shoppers)
	r.mux.HandleFunc("GET /api/voice/preferences", r.withAuth(r.handleGetVoicePreferences))
	r.mux.HandleFunc("PUT /api/voice/preferences", r.withAuth(r.handlePutVoicePreferences))

	// Session event log (admins)
	r.mux.HandleFunc("GET /api/sessions/{sessionId}/events", r.withAdmin(r.handleListSessionEvents))

	// Assistant session (guests allowed, bad tokens rejected)
	r.mux.HandleFunc("GET /ws/assistant", r.withOptionalAuth(r.handleAssistantWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports 503 once the server is draining connections.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions != nil && r.sessions.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleListSessionEvents(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("sessionId")
	events, err := r.svc.EventLog.List(req.Context(), sessionID, 500)
	if err != nil {
		r.logger.Errorf("events: list for %s failed: %v", sessionID, err)
		captureError(req, err, "events: list failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(origin string, next http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
