package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/tts"
	"go.uber.org/zap"
)

type fakeSynth struct {
	mu       sync.Mutex
	requests []tts.Request
	err      error
	onCall   func()
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.err
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if err != nil {
		return nil, err
	}
	return &tts.Audio{Payload: "AAAA", Format: "mp3"}, nil
}

func (f *fakeSynth) calls() []tts.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.Request(nil), f.requests...)
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   atomic.Int32

	// When set, Summarize signals entered and then waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.summary, f.err
}

// holdSummaries makes every Summarize call block until the returned func
// is called.
func (h *harness) holdSummaries() (entered <-chan struct{}, release func()) {
	h.sum.entered = make(chan struct{}, 4)
	h.sum.release = make(chan struct{})
	return h.sum.entered, func() { close(h.sum.release) }
}

func waitEntered(t *testing.T, entered <-chan struct{}) {
	t.Helper()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("summarizer was never called")
	}
}

type fakeResource struct {
	ready    bool
	canPlay  chan struct{}
	finished chan error

	mu       sync.Mutex
	playErrs []error
	plays    int
	released atomic.Int32
}

func newFakeResource(ready bool, playErrs ...error) *fakeResource {
	return &fakeResource{
		ready:    ready,
		canPlay:  make(chan struct{}),
		finished: make(chan error, 1),
		playErrs: playErrs,
	}
}

func (r *fakeResource) Ready() bool              { return r.ready }
func (r *fakeResource) CanPlay() <-chan struct{} { return r.canPlay }
func (r *fakeResource) Finished() <-chan error   { return r.finished }
func (r *fakeResource) Release()                 { r.released.Add(1) }

func (r *fakeResource) playCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plays
}

func (r *fakeResource) Play(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plays++
	if len(r.playErrs) == 0 {
		return nil
	}
	err := r.playErrs[0]
	r.playErrs = r.playErrs[1:]
	return err
}

type fakeOutput struct {
	mu        sync.Mutex
	resources []*fakeResource
	next      func() *fakeResource
	volumes   []float64
	err       error
}

func (o *fakeOutput) Load(ctx context.Context, audio tts.Audio, volume float64) (Resource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	res := newFakeResource(true)
	if o.next != nil {
		res = o.next()
	}
	o.resources = append(o.resources, res)
	o.volumes = append(o.volumes, volume)
	return res, nil
}

func (o *fakeOutput) resource(i int) *fakeResource {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.resources) {
		return nil
	}
	return o.resources[i]
}

type memPrefs struct {
	mu    sync.Mutex
	p     Preferences
	found bool
	saves int
}

func (m *memPrefs) Load(ctx context.Context) (Preferences, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p, m.found, nil
}

func (m *memPrefs) Save(ctx context.Context, p Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = p
	m.found = true
	m.saves++
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.State
	}
	return out
}

type harness struct {
	c     *Controller
	synth *fakeSynth
	sum   *fakeSummarizer
	out   *fakeOutput
	prefs *memPrefs
	rec   *recorder
}

func newHarness(cfg Config) *harness {
	h := &harness{
		synth: &fakeSynth{},
		sum:   &fakeSummarizer{summary: "short version"},
		out:   &fakeOutput{},
		prefs: &memPrefs{},
		rec:   &recorder{},
	}
	if cfg.FallbackDelay == 0 {
		cfg.FallbackDelay = time.Hour
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	h.c = NewController(cfg, Deps{
		Synthesizer: h.synth,
		Summarizer:  h.sum,
		Output:      h.out,
		Store:       h.prefs,
		Observer:    h.rec.observe,
		Logger:      zap.NewNop().Sugar(),
	})
	return h
}

func enabled() Config {
	return Config{Defaults: Preferences{Enabled: true}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSpeakDisabledIsNoop(t *testing.T) {
	h := newHarness(Config{})

	if err := h.c.Speak(context.Background(), "hello there", "k1"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if n := len(h.synth.calls()); n != 0 {
		t.Errorf("synthesize calls = %d, want 0", n)
	}
	if s := h.c.State(); s != StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestSpeakPlaysThenReturnsToIdle(t *testing.T) {
	h := newHarness(enabled())
	ctx := context.Background()

	if err := h.c.Speak(ctx, "Here are three shirts.", "k1"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	waitFor(t, "playing", func() bool { return h.c.State() == StatePlaying })

	if got := h.c.ActiveKey(); got != "k1" {
		t.Errorf("ActiveKey() = %q, want k1", got)
	}
	req := h.synth.calls()[0]
	if req.VoiceID != tts.DefaultVoiceID || req.VoiceGender != tts.GenderFemale || req.SpeechSpeed != 1.0 {
		t.Errorf("synthesize request = %+v", req)
	}

	res := h.out.resource(0)
	res.finished <- nil
	waitFor(t, "idle", func() bool { return h.c.State() == StateIdle })
	waitFor(t, "release", func() bool { return res.released.Load() == 1 })

	want := []State{StateRequesting, StateDecoding, StateWaitingCanPlay, StatePlaying, StateIdle}
	got := h.rec.states()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDictationConsentIsOneShot(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	h.c.GrantDictationConsent()
	if !h.c.HasConsent() {
		t.Fatal("HasConsent() = false after grant")
	}
	if err := h.c.Speak(ctx, "first reply", "k1"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if h.c.HasConsent() {
		t.Error("consent should be consumed by Speak")
	}
	if err := h.c.Speak(ctx, "second reply", "k2"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if n := len(h.synth.calls()); n != 1 {
		t.Errorf("synthesize calls = %d, want 1", n)
	}
}

func TestDiscardConsent(t *testing.T) {
	h := newHarness(Config{})
	h.c.GrantDictationConsent()
	h.c.DiscardConsent()

	_ = h.c.Speak(context.Background(), "reply", "k1")
	if n := len(h.synth.calls()); n != 0 {
		t.Errorf("synthesize calls = %d, want 0", n)
	}
}

func TestSpeakSummarizesLongText(t *testing.T) {
	long := "one two three four five six"

	t.Run("summary spoken", func(t *testing.T) {
		h := newHarness(Config{WordLimit: 3, Defaults: Preferences{Enabled: true}})
		_ = h.c.Speak(context.Background(), long, "k1")
		if got := h.synth.calls()[0].Text; got != "short version" {
			t.Errorf("spoken text = %q, want summary", got)
		}
	})

	t.Run("failure falls back to full text", func(t *testing.T) {
		h := newHarness(Config{WordLimit: 3, Defaults: Preferences{Enabled: true}})
		h.sum.err = errors.New("llm down")
		_ = h.c.Speak(context.Background(), long, "k1")
		if got := h.synth.calls()[0].Text; got != long {
			t.Errorf("spoken text = %q, want original", got)
		}
	})

	t.Run("short text not summarized", func(t *testing.T) {
		h := newHarness(Config{WordLimit: 10, Defaults: Preferences{Enabled: true}})
		_ = h.c.Speak(context.Background(), long, "k1")
		if n := h.sum.calls.Load(); n != 0 {
			t.Errorf("summarize calls = %d, want 0", n)
		}
	})
}

func TestNewSpeechSupersedesActiveSession(t *testing.T) {
	h := newHarness(enabled())
	ctx := context.Background()

	_ = h.c.Speak(ctx, "first", "k1")
	waitFor(t, "playing", func() bool { return h.c.State() == StatePlaying })
	first := h.out.resource(0)

	var releasedBeforeRequest int32 = -1
	h.synth.mu.Lock()
	h.synth.onCall = func() {
		if releasedBeforeRequest < 0 {
			releasedBeforeRequest = first.released.Load()
		}
	}
	h.synth.mu.Unlock()

	_ = h.c.Speak(ctx, "second", "k2")
	waitFor(t, "second playing", func() bool {
		return h.c.State() == StatePlaying && h.c.ActiveKey() == "k2"
	})

	if releasedBeforeRequest != 1 {
		t.Errorf("first resource released %d times before second request, want 1", releasedBeforeRequest)
	}

	// A late end signal from the superseded clip changes nothing.
	first.finished <- nil
	time.Sleep(20 * time.Millisecond)
	if h.c.State() != StatePlaying || h.c.ActiveKey() != "k2" {
		t.Errorf("state = %s key = %q after stale finish", h.c.State(), h.c.ActiveKey())
	}
}

func TestSpeakSupersedesSessionStillRequesting(t *testing.T) {
	h := newHarness(enabled())
	ctx := context.Background()

	entered := make(chan struct{})
	gate := make(chan struct{})
	var held atomic.Bool
	h.synth.onCall = func() {
		if held.CompareAndSwap(false, true) {
			close(entered)
			<-gate
		}
	}

	errA := make(chan error, 1)
	go func() { errA <- h.c.Speak(ctx, "first", "kA") }()
	<-entered
	if s := h.c.State(); s != StateRequesting {
		t.Fatalf("state = %s, want requesting while synthesis is held", s)
	}

	if err := h.c.Speak(ctx, "second", "kB"); err != nil {
		t.Fatalf("Speak(B) error = %v", err)
	}
	waitFor(t, "B playing", func() bool {
		return h.c.State() == StatePlaying && h.c.ActiveKey() == "kB"
	})

	close(gate)
	if err := <-errA; err != nil {
		t.Errorf("Speak(A) error = %v, want nil once superseded", err)
	}

	h.out.mu.Lock()
	loaded := len(h.out.resources)
	h.out.mu.Unlock()
	if loaded != 1 {
		t.Errorf("resources loaded = %d, want only B's", loaded)
	}
	if h.c.State() != StatePlaying || h.c.ActiveKey() != "kB" {
		t.Errorf("state = %s key = %q, want B playing", h.c.State(), h.c.ActiveKey())
	}
}

func TestInterruptDuringSummaryCancelsSpeech(t *testing.T) {
	long := "one two three four five six"
	tests := []struct {
		name        string
		interrupt   func(c *Controller)
		wantEnabled bool
	}{
		{"stop", func(c *Controller) { c.Stop() }, true},
		{"voice off", func(c *Controller) { c.ToggleVoiceOutput(context.Background()) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Config{WordLimit: 3, Defaults: Preferences{Enabled: true}})
			entered, release := h.holdSummaries()

			done := make(chan error, 1)
			go func() { done <- h.c.Speak(context.Background(), long, "k1") }()
			waitEntered(t, entered)

			tt.interrupt(h.c)
			release()

			if err := <-done; err != nil {
				t.Fatalf("Speak() error = %v", err)
			}
			if n := len(h.synth.calls()); n != 0 {
				t.Errorf("synthesize calls = %d, want 0", n)
			}
			if s := h.c.State(); s != StateIdle {
				t.Errorf("state = %s, want idle", s)
			}
			if got := h.c.Preferences().Enabled; got != tt.wantEnabled {
				t.Errorf("Enabled = %v, want %v", got, tt.wantEnabled)
			}
		})
	}
}

func TestLaterSpeechWinsOverSummarizingSpeech(t *testing.T) {
	h := newHarness(Config{WordLimit: 3, Defaults: Preferences{Enabled: true}})
	entered, release := h.holdSummaries()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.c.Speak(ctx, "one two three four five six", "k1") }()
	waitEntered(t, entered)

	if err := h.c.Speak(ctx, "short", "k2"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	waitFor(t, "k2 playing", func() bool { return h.c.ActiveKey() == "k2" && h.c.State() == StatePlaying })

	release()
	if err := <-done; err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if n := len(h.synth.calls()); n != 1 {
		t.Errorf("synthesize calls = %d, want 1", n)
	}
	if h.c.ActiveKey() != "k2" || h.c.State() != StatePlaying {
		t.Errorf("state = %s key = %q, want k2 playing", h.c.State(), h.c.ActiveKey())
	}
}

func TestReportable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"service unavailable", fmt.Errorf("voice: synthesize: %w", tts.ErrServiceUnavailable), false},
		{"503 status", &tts.StatusError{Code: 503}, false},
		{"cancelled", context.Canceled, false},
		{"server error", &tts.StatusError{Code: 500}, true},
		{"decode", errors.New("corrupt audio"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reportable(tt.err); got != tt.want {
				t.Errorf("Reportable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(enabled())

	h.c.Stop()
	if n := len(h.rec.states()); n != 0 {
		t.Fatalf("Stop() on idle emitted %d events", n)
	}

	_ = h.c.Speak(context.Background(), "reply", "k1")
	waitFor(t, "playing", func() bool { return h.c.State() == StatePlaying })

	h.c.Stop()
	h.c.Stop()

	if s := h.c.State(); s != StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
	if n := h.out.resource(0).released.Load(); n != 1 {
		t.Errorf("released = %d, want 1", n)
	}
	states := h.rec.states()
	if last := states[len(states)-1]; last != StateIdle {
		t.Errorf("last state = %s, want idle", last)
	}
	stopped := 0
	for _, s := range states {
		if s == StateStopped {
			stopped++
		}
	}
	if stopped != 1 {
		t.Errorf("stopped events = %d, want 1", stopped)
	}
}

func TestPlayMessageTogglesSameKey(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	if err := h.c.PlayMessage(ctx, "reply", "k1"); err != nil {
		t.Fatalf("PlayMessage() error = %v", err)
	}
	if !h.c.Preferences().Enabled {
		t.Error("manual play should enable voice output")
	}
	if !h.prefs.found || !h.prefs.p.Enabled {
		t.Error("enabled preference should be persisted")
	}
	waitFor(t, "playing", func() bool { return h.c.State() == StatePlaying })

	if err := h.c.PlayMessage(ctx, "reply", "k1"); err != nil {
		t.Fatalf("PlayMessage() error = %v", err)
	}
	if s := h.c.State(); s != StateIdle {
		t.Errorf("state = %s, want idle after toggle", s)
	}
	if n := len(h.synth.calls()); n != 1 {
		t.Errorf("synthesize calls = %d, want 1", n)
	}

	// A different key plays.
	_ = h.c.PlayMessage(ctx, "other", "k2")
	waitFor(t, "k2 playing", func() bool { return h.c.ActiveKey() == "k2" && h.c.State() == StatePlaying })
}

func TestSynthesisFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"service unavailable is silent", tts.ErrServiceUnavailable, false},
		{"503 status is silent", &tts.StatusError{Code: 503}, false},
		{"other errors are returned", errors.New("bad request"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(enabled())
			h.synth.err = tt.err

			err := h.c.Speak(context.Background(), "reply", "k1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Speak() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s := h.c.State(); s != StateIdle {
				t.Errorf("state = %s, want idle", s)
			}
			states := h.rec.states()
			if len(states) < 2 || states[len(states)-2] != StateFailed {
				t.Errorf("states = %v, want ... failed idle", states)
			}
		})
	}
}

func TestDecodeFailureReturnsToIdle(t *testing.T) {
	h := newHarness(enabled())
	h.out.err = errors.New("corrupt audio")

	if err := h.c.Speak(context.Background(), "reply", "k1"); err == nil {
		t.Fatal("expected decode error")
	}
	if s := h.c.State(); s != StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestRejectedPlayRetriesOnce(t *testing.T) {
	h := newHarness(enabled())
	h.out.next = func() *fakeResource { return newFakeResource(true, errors.New("autoplay blocked")) }

	_ = h.c.Speak(context.Background(), "reply", "k1")
	waitFor(t, "playing after retry", func() bool { return h.c.State() == StatePlaying })

	if n := h.out.resource(0).playCount(); n != 2 {
		t.Errorf("play attempts = %d, want 2", n)
	}
}

func TestRejectedPlayTwiceFails(t *testing.T) {
	h := newHarness(enabled())
	blocked := errors.New("autoplay blocked")
	h.out.next = func() *fakeResource { return newFakeResource(true, blocked, blocked) }

	_ = h.c.Speak(context.Background(), "reply", "k1")
	waitFor(t, "release", func() bool {
		res := h.out.resource(0)
		return res != nil && res.released.Load() == 1
	})

	if s := h.c.State(); s != StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
	if n := h.out.resource(0).playCount(); n != 2 {
		t.Errorf("play attempts = %d, want 2", n)
	}
}

func TestCanPlaySignalStartsPlayback(t *testing.T) {
	h := newHarness(enabled())
	h.out.next = func() *fakeResource { return newFakeResource(false) }

	_ = h.c.Speak(context.Background(), "reply", "k1")
	if s := h.c.State(); s != StateWaitingCanPlay {
		t.Fatalf("state = %s, want waiting_can_play", s)
	}
	close(h.out.resource(0).canPlay)
	waitFor(t, "playing", func() bool { return h.c.State() == StatePlaying })
}

func TestFallbackAttemptWithoutCanPlay(t *testing.T) {
	h := newHarness(Config{FallbackDelay: 20 * time.Millisecond, Defaults: Preferences{Enabled: true}})
	h.out.next = func() *fakeResource { return newFakeResource(false) }

	_ = h.c.Speak(context.Background(), "reply", "k1")
	waitFor(t, "playing via fallback", func() bool { return h.c.State() == StatePlaying })

	if n := h.out.resource(0).playCount(); n != 1 {
		t.Errorf("play attempts = %d, want 1", n)
	}
}

func TestPlaybackErrorReturnsToIdle(t *testing.T) {
	h := newHarness(enabled())
	_ = h.c.Speak(context.Background(), "reply", "k1")
	waitFor(t, "playing", func() bool { return h.c.State() == StatePlaying })

	res := h.out.resource(0)
	res.finished <- errors.New("media error")
	waitFor(t, "idle", func() bool { return h.c.State() == StateIdle })
	if n := res.released.Load(); n != 1 {
		t.Errorf("released = %d, want 1", n)
	}
}

func TestToggleVoiceOutputStopsPlayback(t *testing.T) {
	h := newHarness(enabled())
	ctx := context.Background()

	_ = h.c.Speak(ctx, "reply", "k1")
	waitFor(t, "playing", func() bool { return h.c.State() == StatePlaying })

	if on := h.c.ToggleVoiceOutput(ctx); on {
		t.Error("ToggleVoiceOutput() = true, want false")
	}
	if s := h.c.State(); s != StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
	if h.prefs.p.Enabled {
		t.Error("disabled preference should be persisted")
	}
	if on := h.c.ToggleVoiceOutput(ctx); !on {
		t.Error("ToggleVoiceOutput() = false, want true")
	}
}

func TestPreferenceSetters(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	if _, err := h.c.SetVoice(ctx, "nobody"); !errors.Is(err, ErrUnknownVoice) {
		t.Errorf("SetVoice(unknown) error = %v, want ErrUnknownVoice", err)
	}
	p, err := h.c.SetVoice(ctx, " matthew ")
	if err != nil {
		t.Fatalf("SetVoice() error = %v", err)
	}
	if p.VoiceID != "Matthew" {
		t.Errorf("VoiceID = %q, want Matthew", p.VoiceID)
	}

	rates := []struct{ in, want float64 }{{0.1, MinRate}, {1.25, 1.25}, {9, MaxRate}}
	for _, r := range rates {
		if got := h.c.SetRate(ctx, r.in).Rate; got != r.want {
			t.Errorf("SetRate(%v) = %v, want %v", r.in, got, r.want)
		}
	}
	volumes := []struct{ in, want float64 }{{-1, 0}, {0.4, 0.4}, {3, 1}}
	for _, v := range volumes {
		if got := h.c.SetVolume(ctx, v.in).Volume; got != v.want {
			t.Errorf("SetVolume(%v) = %v, want %v", v.in, got, v.want)
		}
	}

	if h.prefs.p.VoiceID != "Matthew" || h.prefs.p.Volume != 1 {
		t.Errorf("persisted = %+v", h.prefs.p)
	}
}

func TestSpeakUsesPreferences(t *testing.T) {
	h := newHarness(enabled())
	ctx := context.Background()
	_, _ = h.c.SetVoice(ctx, "Brian")
	h.c.SetRate(ctx, 1.5)
	h.c.SetVolume(ctx, 0.3)

	_ = h.c.Speak(ctx, "reply", "k1")
	req := h.synth.calls()[0]
	if req.VoiceID != "Brian" || req.VoiceGender != tts.GenderMale || req.SpeechSpeed != 1.5 {
		t.Errorf("request = %+v", req)
	}
	if v := h.out.volumes[0]; v != 0.3 {
		t.Errorf("volume = %v, want 0.3", v)
	}
}

func TestLoadPreferences(t *testing.T) {
	h := newHarness(Config{})
	h.prefs.p = Preferences{Enabled: true, VoiceID: "ghost", Rate: 7, Volume: 0.5}
	h.prefs.found = true

	p, err := h.c.LoadPreferences(context.Background())
	if err != nil {
		t.Fatalf("LoadPreferences() error = %v", err)
	}
	want := Preferences{Enabled: true, VoiceID: tts.DefaultVoiceID, Rate: MaxRate, Volume: 0.5}
	if p != want {
		t.Errorf("preferences = %+v, want %+v", p, want)
	}
	if h.c.Preferences() != want {
		t.Errorf("Preferences() = %+v", h.c.Preferences())
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateRequesting, true},
		{StateIdle, StatePlaying, false},
		{StateRequesting, StateDecoding, true},
		{StateDecoding, StateWaitingCanPlay, true},
		{StateWaitingCanPlay, StatePlaying, true},
		{StatePlaying, StateIdle, true},
		{StatePlaying, StateRequesting, false},
		{StateStopped, StateIdle, true},
		{StateFailed, StatePlaying, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
