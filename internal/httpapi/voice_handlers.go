package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/store"
	"github.com/aminparva84/InsightShop-sub000/internal/tts"
	"github.com/aminparva84/InsightShop-sub000/internal/voice"
)

const (
	previewCacheDuration = 24 * time.Hour
	previewText          = "Hi, I'm your shopping assistant. What can I help you find today?"
)

// previewCache stores preview audio per voice to spare the TTS endpoint.
type previewCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]cachedAudio
}

type cachedAudio struct {
	audio       []byte
	contentType string
	expiresAt   time.Time
}

func newPreviewCache(ttl time.Duration) *previewCache {
	return &previewCache{ttl: ttl, data: make(map[string]cachedAudio)}
}

func (c *previewCache) get(voiceID string) (cachedAudio, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.data[voiceID]
	if !ok || time.Now().After(cached.expiresAt) {
		return cachedAudio{}, false
	}
	return cached, true
}

func (c *previewCache) put(voiceID string, audio []byte, contentType string) {
	c.mu.Lock()
	c.data[voiceID] = cachedAudio{
		audio:       audio,
		contentType: contentType,
		expiresAt:   time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// handleListVoices returns the curated list of available voices
func (r *Router) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"voices":           tts.Voices(),
		"default_voice_id": r.defaultPreferences().VoiceID,
	})
}

// handlePreviewVoice generates a preview audio clip for a voice
func (r *Router) handlePreviewVoice(w http.ResponseWriter, req *http.Request) {
	var body struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.VoiceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "voice_id is required"})
		return
	}
	v, ok := tts.LookupVoice(body.VoiceID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid voice_id"})
		return
	}

	if cached, found := r.previews.get(v.ID); found {
		writeAudio(w, cached.audio, cached.contentType, "HIT")
		return
	}

	if r.svc.TTS == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "speech is not configured"})
		return
	}

	audio, contentType, err := r.generatePreviewAudio(req.Context(), v)
	if err != nil {
		r.logger.Errorf("voice: failed to generate preview for %s: %v", v.ID, err)
		if errors.Is(err, tts.ErrServiceUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "speech is temporarily unavailable"})
			return
		}
		captureError(req, err, "voice: preview failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to generate preview"})
		return
	}

	r.previews.put(v.ID, audio, contentType)
	writeAudio(w, audio, contentType, "MISS")
}

func (r *Router) generatePreviewAudio(ctx context.Context, v tts.Voice) ([]byte, string, error) {
	out, err := r.svc.TTS.Synthesize(ctx, tts.Request{
		Text:        previewText,
		VoiceGender: v.Gender,
		VoiceID:     v.ID,
		SpeechSpeed: 1.0,
	})
	if err != nil {
		return nil, "", err
	}
	audio, err := base64.StdEncoding.DecodeString(out.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode preview audio: %w", err)
	}
	return audio, audioContentType(out.Format), nil
}

func writeAudio(w http.ResponseWriter, audio []byte, contentType, cacheState string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(audio)))
	w.Header().Set("X-Cache", cacheState)
	_, _ = w.Write(audio)
}

func audioContentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

// handleGetVoicePreferences returns the stored preferences of the caller, or
// the defaults when nothing is stored.
func (r *Router) handleGetVoicePreferences(w http.ResponseWriter, req *http.Request) {
	if r.svc.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "preferences are not stored"})
		return
	}
	user := getAuthUser(req.Context())

	p, found, err := r.preferenceStore(user.ID).Load(req.Context())
	if err != nil {
		r.logger.Errorf("voice: load preferences for %s: %v", user.ID, err)
		captureError(req, err, "voice: load preferences failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load preferences"})
		return
	}
	if !found {
		p = r.defaultPreferences()
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutVoicePreferences stores the caller's preferences. Rate and volume
// are clamped to their ranges; an unknown voice is rejected.
func (r *Router) handlePutVoicePreferences(w http.ResponseWriter, req *http.Request) {
	if r.svc.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "preferences are not stored"})
		return
	}
	user := getAuthUser(req.Context())

	p := r.defaultPreferences()
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	v, ok := tts.LookupVoice(p.VoiceID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid voice_id"})
		return
	}
	p.VoiceID = v.ID
	p.Rate = clampFloat(p.Rate, voice.MinRate, voice.MaxRate)
	p.Volume = clampFloat(p.Volume, 0, 1)

	if err := r.preferenceStore(user.ID).Save(req.Context(), p); err != nil {
		r.logger.Errorf("voice: save preferences for %s: %v", user.ID, err)
		captureError(req, err, "voice: save preferences failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save preferences"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) defaultPreferences() voice.Preferences {
	p := r.cfg.Voice.Defaults
	if p.VoiceID == "" {
		p.VoiceID = tts.DefaultVoiceID
	}
	if p.Rate == 0 {
		p.Rate = 1.0
	}
	if p.Volume == 0 {
		p.Volume = 1.0
	}
	return p
}

// preferenceStore binds stored preferences to one owner. It returns nil when
// no database is configured so the controller keeps settings in memory.
func (r *Router) preferenceStore(ownerID string) voice.PreferenceStore {
	if r.svc.Store == nil || ownerID == "" {
		return nil
	}
	return &storedPreferences{store: r.svc.Store, ownerID: ownerID}
}

type storedPreferences struct {
	store   *store.Store
	ownerID string
}

func (s *storedPreferences) Load(ctx context.Context) (voice.Preferences, bool, error) {
	vp, err := s.store.GetVoicePreferences(ctx, s.ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return voice.Preferences{}, false, nil
	}
	if err != nil {
		return voice.Preferences{}, false, err
	}
	return voice.Preferences{
		Enabled: vp.Enabled,
		VoiceID: vp.VoiceID,
		Rate:    vp.SpeechRate,
		Volume:  vp.Volume,
	}, true, nil
}

func (s *storedPreferences) Save(ctx context.Context, p voice.Preferences) error {
	return s.store.UpsertVoicePreferences(ctx, store.VoicePreferences{
		OwnerID:    s.ownerID,
		Enabled:    p.Enabled,
		VoiceID:    p.VoiceID,
		SpeechRate: p.Rate,
		Volume:     p.Volume,
	})
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
