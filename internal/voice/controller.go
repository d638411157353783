// Package voice runs the assistant's speech output and dictation input.
//
// A Controller owns at most one playback session at a time. Every session
// change goes through transition, and every asynchronous continuation
// (synthesis result, decode result, play attempts, timers, end of playback)
// re-checks that its session is still current before acting. Superseding a
// session releases its audio before the next one starts requesting.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
	"github.com/aminparva84/InsightShop-sub000/internal/tts"
	"go.uber.org/zap"
)

var (
	// ErrUnknownVoice is returned when a voice id is not in the catalogue.
	ErrUnknownVoice = errors.New("voice: unknown voice id")
	// ErrEndedEarly is reported when audio ends before it ever started.
	ErrEndedEarly = errors.New("voice: audio ended before playback started")
)

// Synthesizer produces speech audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error)
}

// Summarizer shortens long replies before they are spoken.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Output decodes synthesized audio into a playable resource.
type Output interface {
	Load(ctx context.Context, audio tts.Audio, volume float64) (Resource, error)
}

// Resource is one loaded audio clip on the output device.
type Resource interface {
	// Ready reports whether enough audio is buffered to start right away.
	Ready() bool
	// CanPlay is closed once enough audio is buffered.
	CanPlay() <-chan struct{}
	// Play starts playback and returns once it has started or was rejected.
	Play(ctx context.Context) error
	// Finished delivers nil on natural end or the playback error.
	Finished() <-chan error
	// Release halts playback and frees the clip. Safe to call repeatedly.
	Release()
}

// Preferences are the shopper's voice settings.
type Preferences struct {
	Enabled bool    `json:"enabled"`
	VoiceID string  `json:"voice_id"`
	Rate    float64 `json:"rate"`
	Volume  float64 `json:"volume"`
}

// PreferenceStore persists preferences across sessions.
type PreferenceStore interface {
	Load(ctx context.Context) (Preferences, bool, error)
	Save(ctx context.Context, p Preferences) error
}

const (
	MinRate = 0.5
	MaxRate = 2.0
)

// Config tunes a Controller.
type Config struct {
	// WordLimit is the word count above which text is summarized first.
	WordLimit int
	// FallbackDelay is when a second play attempt is made if the first
	// has not started playback.
	FallbackDelay time.Duration
	// RetryDelay is the pause before retrying a rejected play attempt.
	RetryDelay time.Duration
	Defaults   Preferences
}

func (c Config) withDefaults() Config {
	if c.WordLimit <= 0 {
		c.WordLimit = 100
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.Defaults.VoiceID == "" {
		c.Defaults.VoiceID = tts.DefaultVoiceID
	}
	if c.Defaults.Rate == 0 {
		c.Defaults.Rate = 1.0
	}
	if c.Defaults.Volume == 0 {
		c.Defaults.Volume = 1.0
	}
	c.Defaults.Rate = clamp(c.Defaults.Rate, MinRate, MaxRate)
	c.Defaults.Volume = clamp(c.Defaults.Volume, 0, 1)
	return c
}

// Deps are the Controller's collaborators. Summarizer, Store and Observer
// are optional.
type Deps struct {
	Synthesizer Synthesizer
	Summarizer  Summarizer
	Output      Output
	Store       PreferenceStore
	Observer    func(Event)
	Logger      *zap.SugaredLogger
}

type session struct {
	gen       uint64
	key       string
	text      string
	state     State
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	resource   Resource
	attempting bool
	retried    bool
	fallback   *time.Timer
	retry      *time.Timer
}

// Controller is the voice playback state machine for one shopper.
type Controller struct {
	cfg        Config
	synth      Synthesizer
	summarizer Summarizer
	output     Output
	store      PreferenceStore
	observer   func(Event)
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	prefs   Preferences
	consent bool
	session *session
	gen     uint64
	pending []Event
	// epoch moves on every speak, stop and toggle. A speak still
	// summarizing when it moves is abandoned.
	epoch uint64

	emitMu sync.Mutex
}

// NewController creates an idle controller using cfg.Defaults as the
// initial preferences.
func NewController(cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		cfg:        cfg,
		synth:      deps.Synthesizer,
		summarizer: deps.Summarizer,
		output:     deps.Output,
		store:      deps.Store,
		observer:   deps.Observer,
		logger:     logger,
		prefs:      cfg.Defaults,
	}
}

// LoadPreferences replaces the in-memory preferences with the stored ones.
func (c *Controller) LoadPreferences(ctx context.Context) (Preferences, error) {
	if c.store == nil {
		return c.Preferences(), nil
	}
	p, found, err := c.store.Load(ctx)
	if err != nil {
		return c.Preferences(), err
	}
	if !found {
		return c.Preferences(), nil
	}
	if _, ok := tts.LookupVoice(p.VoiceID); !ok {
		p.VoiceID = c.cfg.Defaults.VoiceID
	}
	p.Rate = clamp(p.Rate, MinRate, MaxRate)
	p.Volume = clamp(p.Volume, 0, 1)

	c.mu.Lock()
	c.prefs = p
	c.mu.Unlock()
	return p, nil
}

// Preferences returns the current voice settings.
func (c *Controller) Preferences() Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// State returns the state of the active session, or Idle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return StateIdle
	}
	return c.session.state
}

// ActiveKey returns the message key of the active session.
func (c *Controller) ActiveKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.key
}

// GrantDictationConsent lets the next Speak run even with voice output off.
func (c *Controller) GrantDictationConsent() {
	c.mu.Lock()
	c.consent = true
	c.mu.Unlock()
}

// DiscardConsent drops an unused dictation consent.
func (c *Controller) DiscardConsent() {
	c.mu.Lock()
	c.consent = false
	c.mu.Unlock()
}

// HasConsent reports whether a dictation consent is waiting to be used.
func (c *Controller) HasConsent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consent
}

// Speak reads text aloud when voice output is enabled or a dictation
// consent is pending; the consent is consumed either way. It returns once
// playback has been armed. Service-unavailable failures are logged only;
// other failures are returned after the session has been released.
func (c *Controller) Speak(ctx context.Context, text, key string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	consent := c.consent
	c.consent = false
	prefs := c.prefs
	wanted := (prefs.Enabled || consent) && text != ""
	if wanted {
		c.epoch++
	}
	epoch := c.epoch
	c.mu.Unlock()

	if !wanted {
		return nil
	}
	if c.synth == nil || c.output == nil {
		c.logger.Warnf("voice: speech output is not configured, skipping %q", key)
		return nil
	}

	spoken := c.summarize(ctx, text)

	s := c.begin(ctx, key, spoken, epoch, consent)
	if s == nil {
		c.logger.Debugf("voice: speech for %q cancelled while summarizing", key)
		return nil
	}
	defer c.flush()

	audio, err := c.synth.Synthesize(s.ctx, tts.Request{
		Text:        spoken,
		VoiceGender: tts.GenderFor(prefs.VoiceID),
		VoiceID:     prefs.VoiceID,
		SpeechSpeed: prefs.Rate,
	})
	if err != nil {
		return c.fail(s, "synthesize", err)
	}
	if !c.advance(s, StateRequesting, StateDecoding) {
		return nil
	}

	res, err := c.output.Load(s.ctx, *audio, prefs.Volume)
	if err != nil {
		return c.fail(s, "decode", err)
	}
	if !c.attach(s, res) {
		res.Release()
		return nil
	}

	go c.watchFinished(s, res)
	go c.watchCanPlay(s, res)
	if res.Ready() {
		go c.attemptPlay(s)
	}
	return nil
}

// Stop halts and releases the active session. Calling it with nothing
// active is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.epoch++
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	res := c.endLocked(s, StateStopped, nil)
	c.mu.Unlock()

	c.flush()
	release(res)
}

// PlayMessage plays a transcript turn on request. Asking again for the turn
// that is currently playing stops it instead. Manual play counts as consent
// and leaves voice output enabled.
func (c *Controller) PlayMessage(ctx context.Context, text, key string) error {
	c.mu.Lock()
	if s := c.session; s != nil && key != "" && s.key == key && s.state == StatePlaying {
		c.epoch++
		res := c.endLocked(s, StateStopped, nil)
		c.mu.Unlock()
		c.flush()
		release(res)
		return nil
	}
	c.mu.Unlock()

	c.Stop()

	c.mu.Lock()
	changed := !c.prefs.Enabled
	c.prefs.Enabled = true
	prefs := c.prefs
	c.mu.Unlock()
	if changed {
		c.save(ctx, prefs)
	}

	return c.Speak(ctx, text, key)
}

// ToggleVoiceOutput flips the enabled flag, stops any active session and
// returns the new value.
func (c *Controller) ToggleVoiceOutput(ctx context.Context) bool {
	c.mu.Lock()
	c.prefs.Enabled = !c.prefs.Enabled
	prefs := c.prefs
	c.mu.Unlock()

	c.Stop()
	c.save(ctx, prefs)
	return prefs.Enabled
}

// SetVoice selects a voice from the catalogue.
func (c *Controller) SetVoice(ctx context.Context, voiceID string) (Preferences, error) {
	v, ok := tts.LookupVoice(voiceID)
	if !ok {
		return c.Preferences(), fmt.Errorf("%w: %q", ErrUnknownVoice, voiceID)
	}
	return c.update(ctx, func(p *Preferences) { p.VoiceID = v.ID }), nil
}

// SetRate sets the speech-rate multiplier, clamped to [MinRate, MaxRate].
func (c *Controller) SetRate(ctx context.Context, rate float64) Preferences {
	return c.update(ctx, func(p *Preferences) { p.Rate = clamp(rate, MinRate, MaxRate) })
}

// SetVolume sets the playback volume, clamped to [0, 1].
func (c *Controller) SetVolume(ctx context.Context, volume float64) Preferences {
	return c.update(ctx, func(p *Preferences) { p.Volume = clamp(volume, 0, 1) })
}

func (c *Controller) update(ctx context.Context, fn func(*Preferences)) Preferences {
	c.mu.Lock()
	fn(&c.prefs)
	prefs := c.prefs
	c.mu.Unlock()

	c.save(ctx, prefs)
	return prefs
}

func (c *Controller) save(ctx context.Context, p Preferences) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, p); err != nil {
		c.logger.Warnf("voice: failed to save preferences: %v", err)
	}
}

func (c *Controller) summarize(ctx context.Context, text string) string {
	if c.summarizer == nil || len(strings.Fields(text)) <= c.cfg.WordLimit {
		return text
	}
	summary, err := c.summarizer.Summarize(ctx, text)
	if err != nil {
		c.logger.Warnf("voice: summarization failed, speaking full text: %v", err)
		return text
	}
	if strings.TrimSpace(summary) == "" {
		return text
	}
	return summary
}

// begin supersedes whatever is active and registers a new session in
// Requesting. The superseded resource is released before the new session
// is registered. It returns nil when a later speak, stop or toggle has
// happened since epoch was taken, or when voice output was switched off and
// no consent was taken.
func (c *Controller) begin(ctx context.Context, key, text string, epoch uint64, consent bool) *session {
	for {
		c.mu.Lock()
		if c.epoch != epoch || (!c.prefs.Enabled && !consent) {
			c.mu.Unlock()
			return nil
		}
		if old := c.session; old != nil {
			res := c.endLocked(old, StateStopped, nil)
			c.mu.Unlock()
			c.flush()
			release(res)
			continue
		}

		c.gen++
		sctx, cancel := context.WithCancel(ctx)
		s := &session{
			gen:       c.gen,
			key:       key,
			text:      text,
			state:     StateIdle,
			startedAt: time.Now(),
			ctx:       sctx,
			cancel:    cancel,
		}
		c.session = s
		c.transitionLocked(s, StateRequesting, nil)
		c.mu.Unlock()
		c.flush()
		return s
	}
}

// advance moves a still-current session between two states.
func (c *Controller) advance(s *session, from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s || s.state != from {
		return false
	}
	return c.transitionLocked(s, to, nil)
}

// attach hands the decoded resource to the session and arms the fallback
// attempt.
func (c *Controller) attach(s *session, res Resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s || s.state != StateDecoding {
		return false
	}
	s.resource = res
	c.transitionLocked(s, StateWaitingCanPlay, nil)
	s.fallback = time.AfterFunc(c.cfg.FallbackDelay, func() { c.attemptPlay(s) })
	return true
}

// fail ends a session that broke before playback was armed.
func (c *Controller) fail(s *session, stage string, err error) error {
	c.mu.Lock()
	if c.session != s {
		// Superseded or stopped while waiting; the new owner cleaned up.
		c.mu.Unlock()
		return nil
	}
	res := c.endLocked(s, StateFailed, err)
	c.mu.Unlock()

	c.flush()
	release(res)

	if !Reportable(err) {
		c.logger.Warnf("voice: %s skipped for %q: %v", stage, s.key, err)
		return nil
	}
	c.logger.Errorf("voice: %s failed for %q: %v", stage, s.key, err)
	return fmt.Errorf("voice: %s: %w", stage, err)
}

// Reportable reports whether a speech failure should be shown to the
// shopper. Unconfigured speech and cancelled requests are only logged.
func Reportable(err error) bool {
	return err != nil &&
		!errors.Is(err, tts.ErrServiceUnavailable) &&
		!errors.Is(err, context.Canceled)
}

func (c *Controller) watchCanPlay(s *session, res Resource) {
	select {
	case <-res.CanPlay():
		c.attemptPlay(s)
	case <-s.ctx.Done():
	}
}

func (c *Controller) watchFinished(s *session, res Resource) {
	select {
	case err := <-res.Finished():
		c.finish(s, err)
	case <-s.ctx.Done():
	}
}

// attemptPlay is shared by the immediate attempt, the canplay signal, the
// fallback timer and the retry timer. Only one runs at a time and only while
// the session is still waiting to play.
func (c *Controller) attemptPlay(s *session) {
	c.mu.Lock()
	if c.session != s || s.state != StateWaitingCanPlay || s.attempting {
		c.mu.Unlock()
		return
	}
	s.attempting = true
	res := s.resource
	c.mu.Unlock()

	err := res.Play(s.ctx)

	c.mu.Lock()
	s.attempting = false
	if c.session != s || s.state != StateWaitingCanPlay {
		c.mu.Unlock()
		return
	}

	if err == nil {
		stopTimer(s.fallback)
		stopTimer(s.retry)
		c.transitionLocked(s, StatePlaying, nil)
		c.mu.Unlock()
		c.flush()
		return
	}

	if !s.retried {
		s.retried = true
		stopTimer(s.fallback)
		s.retry = time.AfterFunc(c.cfg.RetryDelay, func() { c.attemptPlay(s) })
		c.mu.Unlock()
		c.logger.Warnf("voice: play rejected for %q, retrying: %v", s.key, err)
		return
	}

	released := c.endLocked(s, StateFailed, err)
	c.mu.Unlock()
	c.logger.Warnf("voice: play failed for %q: %v", s.key, err)
	c.flush()
	release(released)
}

func (c *Controller) finish(s *session, err error) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}

	var res Resource
	switch {
	case err != nil:
		res = c.endLocked(s, StateFailed, err)
	case s.state == StateWaitingCanPlay && s.attempting:
		// The clip ended while its play acknowledgement was in flight.
		c.transitionLocked(s, StatePlaying, nil)
		res = c.endLocked(s, StateIdle, nil)
	case s.state == StatePlaying:
		res = c.endLocked(s, StateIdle, nil)
	default:
		res = c.endLocked(s, StateFailed, ErrEndedEarly)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warnf("voice: playback error for %q: %v", s.key, err)
	}
	c.flush()
	release(res)
}

// endLocked detaches s from the controller, moving it to final and then to
// Idle. The caller releases the returned resource after unlocking.
func (c *Controller) endLocked(s *session, final State, err error) Resource {
	s.cancel()
	stopTimer(s.fallback)
	stopTimer(s.retry)

	if s.state != final {
		c.transitionLocked(s, final, err)
	}
	if final != StateIdle {
		c.transitionLocked(s, StateIdle, nil)
	}
	if c.session == s {
		c.session = nil
	}

	res := s.resource
	s.resource = nil
	return res
}

// transitionLocked is the only place session state changes.
func (c *Controller) transitionLocked(s *session, to State, err error) bool {
	if !CanTransition(s.state, to) {
		c.logger.Errorf("voice: invalid transition %s -> %s for %q", s.state, to, s.key)
		return false
	}
	s.state = to
	telemetry.PlaybackTransitionsTotal.WithLabelValues(string(to)).Inc()
	c.pending = append(c.pending, Event{
		Key:        s.key,
		State:      to,
		Generation: s.gen,
		Err:        err,
		At:         time.Now().UTC(),
	})
	return true
}

// flush delivers queued events in order without holding mu. If another
// goroutine is already delivering, it picks up our events too.
func (c *Controller) flush() {
	for {
		if !c.emitMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			events := c.pending
			c.pending = nil
			c.mu.Unlock()
			if len(events) == 0 {
				break
			}
			if c.observer == nil {
				continue
			}
			for _, ev := range events {
				c.observer(ev)
			}
		}
		c.emitMu.Unlock()

		c.mu.Lock()
		more := len(c.pending) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

func release(res Resource) {
	if res != nil {
		res.Release()
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
