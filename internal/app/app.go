package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/assistant"
	"github.com/aminparva84/InsightShop-sub000/internal/eventlog"
	"github.com/aminparva84/InsightShop-sub000/internal/httpapi"
	"github.com/aminparva84/InsightShop-sub000/internal/llm"
	"github.com/aminparva84/InsightShop-sub000/internal/sessioncache"
	"github.com/aminparva84/InsightShop-sub000/internal/store"
	"github.com/aminparva84/InsightShop-sub000/internal/stt"
	"github.com/aminparva84/InsightShop-sub000/internal/tts"
	"github.com/aminparva84/InsightShop-sub000/internal/voice"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type App struct {
	cfg        Config
	logger     *zap.SugaredLogger
	db         *pgxpool.Pool
	cache      *sessioncache.RedisCache
	services   httpapi.Services
	httpClient *http.Client // Shared HTTP client with connection pooling for the storefront
}

// New wires the collaborators. Postgres and Redis are optional: without
// them preferences live only in the socket session and transcripts are not
// restored after a reload.
func New(cfg Config, logger *zap.SugaredLogger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		a.services.Store = store.New(db)
		a.services.EventLog = eventlog.New(db)
		// Migrations are applied externally by the CI deploy job (migrations/*.sql).
	} else {
		logger.Warnf("app: DATABASE_URL not set, voice preferences and events are not stored")
	}

	if cfg.RedisURL != "" {
		cache, err := sessioncache.Connect(ctx, cfg.RedisURL, cfg.TranscriptTTL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = cache
		a.services.Transcripts = cache
	} else {
		logger.Warnf("app: REDIS_URL not set, transcripts are kept in memory only")
	}

	// Shared HTTP client with connection pooling.
	// The assistant, TTS and summarize endpoints all live on the storefront host.
	a.httpClient = &http.Client{
		Timeout: cfg.CollaboratorTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	a.services.Assistant = assistant.NewHTTPClient(assistant.HTTPConfig{
		URL:        cfg.CollaboratorURL(cfg.AssistantPath),
		HTTPClient: a.httpClient,
		Logger:     logger,
	})
	a.services.TTS = tts.NewHTTPClient(tts.HTTPConfig{
		URL:        cfg.CollaboratorURL(cfg.TTSPath),
		HTTPClient: a.httpClient,
		Logger:     logger,
	})
	a.services.Summarizer = a.summarizer()

	if cfg.DeepgramAPIKey != "" {
		a.services.OpenSTT = stt.DeepgramOpener(stt.DeepgramConfig{
			APIKey:      cfg.DeepgramAPIKey,
			Language:    cfg.STTLanguage,
			Punctuate:   true,
			Endpointing: cfg.STTEndpointingMs,
			Logger:      logger,
		})
	} else {
		logger.Warnf("app: DEEPGRAM_API_KEY not set, dictation is disabled")
	}

	return a, nil
}

// summarizer picks the summarization backend. Without one, long replies
// are spoken in full.
func (a *App) summarizer() llm.Summarizer {
	switch a.cfg.SummarizerProvider {
	case "openai":
		s, err := llm.NewOpenAISummarizer(llm.OpenAIConfig{
			APIKey: a.cfg.OpenAIAPIKey,
			Model:  a.cfg.OpenAIModel,
		})
		if err != nil {
			a.logger.Warnf("app: openai summarizer unavailable: %v", err)
			return nil
		}
		return s
	case "none", "":
		return nil
	default:
		url := a.cfg.CollaboratorURL(a.cfg.SummarizePath)
		if url == "" {
			return nil
		}
		return llm.NewHTTPSummarizer(url, a.httpClient)
	}
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret: a.cfg.JWTSecret,
		Voice: voice.Config{
			WordLimit:     a.cfg.SummaryWordLimit,
			FallbackDelay: a.cfg.PlayFallback,
			RetryDelay:    a.cfg.PlayRetry,
			Defaults: voice.Preferences{
				Enabled: a.cfg.DefaultVoiceOn,
				VoiceID: a.cfg.DefaultVoiceID,
				Rate:    a.cfg.DefaultSpeechRate,
				Volume:  a.cfg.DefaultVolume,
			},
		},
		PlayAckTimeout: a.cfg.PlayAckTimeout,
		AllowedOrigin:  a.cfg.AllowedOrigin,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.services, sessions)
}

func (a *App) Close() error {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
