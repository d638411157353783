package voice

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aminparva84/InsightShop-sub000/internal/stt"
	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
	"go.uber.org/zap"
)

// ErrNotListening is returned by Feed when no recognition stream is open.
var ErrNotListening = errors.New("voice: not listening")

// InputSink receives finalized dictation text.
type InputSink interface {
	AppendInput(text string)
}

// ConsentGranter records that the shopper spoke, which allows the next
// reply to be read aloud once.
type ConsentGranter interface {
	GrantDictationConsent()
}

// DictationDeps are the collaborators of a Dictation. Consent, Observer and
// Logger are optional.
type DictationDeps struct {
	Open     stt.Opener
	Sink     InputSink
	Consent  ConsentGranter
	Observer func(DictationState)
	Logger   *zap.SugaredLogger
}

// Dictation turns microphone audio into input text.
type Dictation struct {
	open     stt.Opener
	sink     InputSink
	consent  ConsentGranter
	observer func(DictationState)
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	state  DictationState
	gen    uint64
	client stt.Client
	cancel context.CancelFunc
}

func NewDictation(deps DictationDeps) *Dictation {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dictation{
		open:     deps.Open,
		sink:     deps.Sink,
		consent:  deps.Consent,
		observer: deps.Observer,
		logger:   logger,
		state:    DictationIdle,
	}
}

// State returns the current dictation state.
func (d *Dictation) State() DictationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start opens a recognition stream. Starting while already listening is a
// no-op. A failure to open the stream leaves dictation idle and is returned.
func (d *Dictation) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state == DictationListening {
		d.mu.Unlock()
		return nil
	}
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	if d.open == nil {
		telemetry.DictationTotal.WithLabelValues("unavailable").Inc()
		return errors.New("voice: speech recognition is not configured")
	}

	client, err := d.open(ctx)
	if err != nil {
		telemetry.DictationTotal.WithLabelValues("open_failed").Inc()
		d.logger.Warnf("voice: failed to open recognition stream: %v", err)
		return err
	}

	lctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if d.gen != gen || d.state == DictationListening {
		// Stop or another Start won the race.
		d.mu.Unlock()
		cancel()
		_ = client.Close()
		return nil
	}
	d.client = client
	d.cancel = cancel
	d.state = DictationListening
	d.mu.Unlock()

	telemetry.DictationTotal.WithLabelValues("started").Inc()
	d.notify(DictationListening)

	go d.consume(lctx, gen, client)
	return nil
}

// Feed forwards a chunk of microphone audio to the open stream.
func (d *Dictation) Feed(ctx context.Context, audio []byte) error {
	d.mu.Lock()
	client := d.client
	listening := d.state == DictationListening
	d.mu.Unlock()

	if !listening || client == nil {
		return ErrNotListening
	}
	return client.StreamAudio(ctx, audio)
}

// Stop ends listening. Text already delivered stays in the sink.
func (d *Dictation) Stop() {
	d.mu.Lock()
	d.gen++
	d.end()
}

// end closes the current stream and reports Stopped then Idle.
// Called with mu held; it unlocks.
func (d *Dictation) end() {
	client := d.client
	cancel := d.cancel
	wasListening := d.state == DictationListening
	d.client = nil
	d.cancel = nil
	d.state = DictationIdle
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			d.logger.Debugf("voice: closing recognition stream: %v", err)
		}
	}
	if wasListening {
		d.notify(DictationStopped)
		d.notify(DictationIdle)
	}
}

func (d *Dictation) consume(ctx context.Context, gen uint64, client stt.Client) {
	heard := false
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-client.Errors():
			if !ok {
				d.finish(gen)
				return
			}
			telemetry.DictationTotal.WithLabelValues("error").Inc()
			d.logger.Warnf("voice: recognition error: %v", err)
			d.finish(gen)
			return
		case res, ok := <-client.Results():
			if !ok {
				d.finish(gen)
				return
			}
			text := strings.TrimSpace(res.Text)
			if res.SegmentFinal && text != "" {
				if !d.current(gen) {
					return
				}
				heard = true
				d.sink.AppendInput(text)
				if d.consent != nil {
					d.consent.GrantDictationConsent()
				}
				telemetry.DictationTotal.WithLabelValues("segment").Inc()
			}
			if res.SpeechFinal && heard {
				d.finish(gen)
				return
			}
		}
	}
}

func (d *Dictation) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen == gen && d.state == DictationListening
}

// finish ends the stream that gen opened, if it is still the current one.
func (d *Dictation) finish(gen uint64) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.end()
}

func (d *Dictation) notify(s DictationState) {
	if d.observer != nil {
		d.observer(s)
	}
}
