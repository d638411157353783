package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	Environment string
	LogLevel    string
	SentryDSN   string

	// Optional persistence
	DatabaseURL   string
	RedisURL      string
	TranscriptTTL time.Duration

	// JWT Authentication (tokens are issued by the storefront)
	JWTSecret     string
	AllowedOrigin string

	// Storefront collaborators
	StorefrontAPIURL    string
	AssistantPath       string
	TTSPath             string
	SummarizePath       string
	CollaboratorTimeout time.Duration

	// Reply summarization before speech
	SummarizerProvider string // "http" or "openai"
	OpenAIAPIKey       string
	OpenAIModel        string
	SummaryWordLimit   int

	// Dictation
	DeepgramAPIKey   string
	STTLanguage      string
	STTEndpointingMs int

	// Voice defaults
	DefaultVoiceID    string
	DefaultSpeechRate float64
	DefaultVolume     float64
	DefaultVoiceOn    bool
	PlayFallback      time.Duration
	PlayRetry         time.Duration
	PlayAckTimeout    time.Duration
}

// LoadConfigFromEnv reads the configuration from the environment. In
// development a .env file in the working directory is loaded first.
func LoadConfigFromEnv() Config {
	env := getenv("ENVIRONMENT", "development")
	if env == "development" {
		_ = godotenv.Load()
	}

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Environment: env,
		LogLevel:    getenv("LOG_LEVEL", "info"),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		DatabaseURL:   getenv("DATABASE_URL", ""),
		RedisURL:      getenv("REDIS_URL", ""),
		TranscriptTTL: getenvDuration("TRANSCRIPT_TTL", 30*time.Minute),

		JWTSecret:     os.Getenv("JWT_SECRET"), // No fallback: without it every token is rejected
		AllowedOrigin: getenv("ALLOWED_ORIGIN", "*"),

		StorefrontAPIURL:    strings.TrimRight(getenv("STOREFRONT_API_URL", "http://localhost:5000"), "/"),
		AssistantPath:       getenv("ASSISTANT_PATH", "/api/ai/chat"),
		TTSPath:             getenv("TTS_PATH", "/api/ai/text-to-speech"),
		SummarizePath:       getenv("SUMMARIZE_PATH", "/api/ai/summarize"),
		CollaboratorTimeout: getenvDuration("COLLABORATOR_TIMEOUT", 30*time.Second),

		SummarizerProvider: strings.ToLower(getenv("SUMMARIZER_PROVIDER", "http")),
		OpenAIAPIKey:       getenv("OPENAI_API_KEY", ""),
		OpenAIModel:        getenv("OPENAI_MODEL", "gpt-4o-mini"),
		SummaryWordLimit:   getenvIntClamped("SUMMARY_WORD_LIMIT", 100, 20, 1000),

		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		STTLanguage:      getenv("STT_LANGUAGE", "en-US"),
		STTEndpointingMs: getenvIntClamped("STT_ENDPOINTING_MS", 800, 100, 5000),

		DefaultVoiceID:    getenv("DEFAULT_VOICE_ID", "Joanna"),
		DefaultSpeechRate: getenvFloatClamped("DEFAULT_SPEECH_RATE", 1.0, 0.5, 2.0),
		DefaultVolume:     getenvFloatClamped("DEFAULT_VOLUME", 1.0, 0.0, 1.0),
		DefaultVoiceOn:    getenvBool("DEFAULT_VOICE_ENABLED", false),
		PlayFallback:      time.Duration(getenvIntClamped("PLAY_FALLBACK_MS", 1000, 100, 10000)) * time.Millisecond,
		PlayRetry:         time.Duration(getenvIntClamped("PLAY_RETRY_MS", 500, 50, 5000)) * time.Millisecond,
		PlayAckTimeout:    getenvDuration("PLAY_ACK_TIMEOUT", 5*time.Second),
	}
}

// CollaboratorURL joins the storefront base URL and an endpoint path.
func (c Config) CollaboratorURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.StorefrontAPIURL + "/" + strings.TrimLeft(path, "/")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped reads an int, falling back to def when unset or invalid
// and clamping to [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// getenvFloatClamped reads a float, falling back to def when unset or
// invalid and clamping to [min, max].
func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
