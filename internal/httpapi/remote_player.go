package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/tts"
	"github.com/aminparva84/InsightShop-sub000/internal/voice"
	"github.com/google/uuid"
)

// defaultPlayAckTimeout bounds how long a play command waits for the page
// to report that playback started or was rejected.
const defaultPlayAckTimeout = 5 * time.Second

var (
	errPlaybackRejected = errors.New("playback rejected by the page")
	errPlayAckTimeout   = errors.New("page did not acknowledge play")
	errClipReleased     = errors.New("audio clip released")
)

// Page-reported audio states.
const (
	audioCanPlay  = "canplay"
	audioPlaying  = "playing"
	audioRejected = "rejected"
	audioEnded    = "ended"
	audioError    = "error"
)

type outboundAudio struct {
	Type    string   `json:"type"`
	AudioID string   `json:"audio_id"`
	Format  string   `json:"format,omitempty"`
	Payload string   `json:"payload,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// remotePlayer plays synthesized audio in the shopper's browser. Clips are
// shipped over the session socket and the page reports their progress back
// through Ack.
type remotePlayer struct {
	send       func(v any) error
	ackTimeout time.Duration

	mu    sync.Mutex
	clips map[string]*remoteClip
}

func newRemotePlayer(send func(v any) error, ackTimeout time.Duration) *remotePlayer {
	if ackTimeout <= 0 {
		ackTimeout = defaultPlayAckTimeout
	}
	return &remotePlayer{
		send:       send,
		ackTimeout: ackTimeout,
		clips:      make(map[string]*remoteClip),
	}
}

// Load validates the payload and hands the clip to the page.
func (p *remotePlayer) Load(_ context.Context, audio tts.Audio, volume float64) (voice.Resource, error) {
	if audio.Payload == "" {
		return nil, errors.New("empty audio payload")
	}
	if _, err := base64.StdEncoding.DecodeString(audio.Payload); err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}

	clip := &remoteClip{
		id:       uuid.New().String(),
		player:   p,
		canPlay:  make(chan struct{}),
		finished: make(chan error, 1),
		playAck:  make(chan error, 1),
	}

	p.mu.Lock()
	p.clips[clip.id] = clip
	p.mu.Unlock()

	if err := p.send(outboundAudio{
		Type:    "audio",
		AudioID: clip.id,
		Format:  audio.Format,
		Payload: audio.Payload,
		Volume:  &volume,
	}); err != nil {
		p.forget(clip.id)
		return nil, fmt.Errorf("send audio: %w", err)
	}
	return clip, nil
}

// Ack applies a state report from the page. Reports for unknown or released
// clips are ignored.
func (p *remotePlayer) Ack(audioID, state, message string) {
	p.mu.Lock()
	clip := p.clips[audioID]
	p.mu.Unlock()
	if clip == nil {
		return
	}

	switch state {
	case audioCanPlay:
		clip.markCanPlay()
	case audioPlaying:
		clip.markCanPlay()
		trySend(clip.playAck, nil)
	case audioRejected:
		trySend(clip.playAck, fmt.Errorf("%w: %s", errPlaybackRejected, message))
	case audioEnded:
		trySend(clip.finished, nil)
	case audioError:
		err := fmt.Errorf("audio error: %s", message)
		trySend(clip.playAck, err)
		trySend(clip.finished, err)
	}
}

// ReleaseAll forgets every clip, e.g. when the socket closes.
func (p *remotePlayer) ReleaseAll() {
	p.mu.Lock()
	clips := p.clips
	p.clips = make(map[string]*remoteClip)
	p.mu.Unlock()

	for _, c := range clips {
		c.released.Store(true)
		trySend(c.playAck, errClipReleased)
		trySend(c.finished, errClipReleased)
	}
}

func (p *remotePlayer) forget(audioID string) {
	p.mu.Lock()
	delete(p.clips, audioID)
	p.mu.Unlock()
}

type remoteClip struct {
	id     string
	player *remotePlayer

	canPlayOnce sync.Once
	canPlay     chan struct{}
	ready       atomic.Bool
	released    atomic.Bool
	releaseOnce sync.Once

	finished chan error
	playAck  chan error
}

func (c *remoteClip) markCanPlay() {
	c.canPlayOnce.Do(func() {
		c.ready.Store(true)
		close(c.canPlay)
	})
}

func (c *remoteClip) Ready() bool              { return c.ready.Load() }
func (c *remoteClip) CanPlay() <-chan struct{} { return c.canPlay }
func (c *remoteClip) Finished() <-chan error   { return c.finished }

// Play asks the page to start the clip and waits for its answer.
func (c *remoteClip) Play(ctx context.Context) error {
	if c.released.Load() {
		return errClipReleased
	}

	// A late answer to an earlier attempt must not settle this one.
	select {
	case <-c.playAck:
	default:
	}

	if err := c.player.send(outboundAudio{Type: "play", AudioID: c.id}); err != nil {
		return fmt.Errorf("send play: %w", err)
	}

	timer := time.NewTimer(c.player.ackTimeout)
	defer timer.Stop()

	select {
	case err := <-c.playAck:
		return err
	case <-timer.C:
		return errPlayAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *remoteClip) Release() {
	c.releaseOnce.Do(func() {
		c.released.Store(true)
		c.player.forget(c.id)
		_ = c.player.send(outboundAudio{Type: "stop", AudioID: c.id})
	})
}

func trySend(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
