package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/tts"
)

// sentFrames collects what the player pushes to the page.
type sentFrames struct {
	mu     sync.Mutex
	frames []outboundAudio
	err    error
}

func (s *sentFrames) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, v.(outboundAudio))
	return nil
}

func (s *sentFrames) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Type)
	}
	return out
}

func testClip() tts.Audio {
	return tts.Audio{Payload: base64.StdEncoding.EncodeToString([]byte("audio")), Format: "mp3"}
}

func TestRemotePlayer_LoadSendsAudio(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, time.Second)

	res, err := p.Load(context.Background(), testClip(), 0.4)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if res.Ready() {
		t.Error("clip should not be ready before canplay")
	}
	if len(sent.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(sent.frames))
	}
	f := sent.frames[0]
	if f.Type != "audio" || f.Format != "mp3" || f.AudioID == "" || f.Volume == nil || *f.Volume != 0.4 {
		t.Errorf("frame = %+v", f)
	}
}

func TestRemotePlayer_LoadRejectsBadPayload(t *testing.T) {
	tests := []struct {
		name  string
		audio tts.Audio
	}{
		{"empty", tts.Audio{Format: "mp3"}},
		{"not base64", tts.Audio{Payload: "%%%", Format: "mp3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := &sentFrames{}
			p := newRemotePlayer(sent.send, time.Second)
			if _, err := p.Load(context.Background(), tt.audio, 1); err == nil {
				t.Error("expected error")
			}
			if len(sent.frames) != 0 {
				t.Errorf("frames = %d, want 0", len(sent.frames))
			}
		})
	}
}

func TestRemotePlayer_SendFailureForgetsClip(t *testing.T) {
	sent := &sentFrames{err: errors.New("socket closed")}
	p := newRemotePlayer(sent.send, time.Second)
	if _, err := p.Load(context.Background(), testClip(), 1); err == nil {
		t.Fatal("expected error")
	}
	if len(p.clips) != 0 {
		t.Errorf("clips = %d, want 0", len(p.clips))
	}
}

func TestRemotePlayer_PlayAcknowledged(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, time.Second)
	res, _ := p.Load(context.Background(), testClip(), 1)
	id := sent.frames[0].AudioID

	p.Ack(id, audioCanPlay, "")
	select {
	case <-res.CanPlay():
	default:
		t.Fatal("CanPlay should be closed after canplay")
	}
	if !res.Ready() {
		t.Error("clip should be ready after canplay")
	}

	done := make(chan error, 1)
	go func() { done <- res.Play(context.Background()) }()

	waitFor(t, func() bool { return len(sent.types()) == 2 })
	p.Ack(id, audioPlaying, "")

	if err := <-done; err != nil {
		t.Errorf("Play() error = %v", err)
	}

	p.Ack(id, audioEnded, "")
	select {
	case err := <-res.Finished():
		if err != nil {
			t.Errorf("finished error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("finished not delivered")
	}
}

func TestRemotePlayer_PlayRejected(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, time.Second)
	res, _ := p.Load(context.Background(), testClip(), 1)
	id := sent.frames[0].AudioID

	done := make(chan error, 1)
	go func() { done <- res.Play(context.Background()) }()
	waitFor(t, func() bool { return len(sent.types()) == 2 })
	p.Ack(id, audioRejected, "NotAllowedError")

	if err := <-done; !errors.Is(err, errPlaybackRejected) {
		t.Errorf("Play() error = %v, want errPlaybackRejected", err)
	}
}

func TestRemotePlayer_PlayTimeout(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, 20*time.Millisecond)
	res, _ := p.Load(context.Background(), testClip(), 1)

	if err := res.Play(context.Background()); !errors.Is(err, errPlayAckTimeout) {
		t.Errorf("Play() error = %v, want errPlayAckTimeout", err)
	}
}

func TestRemotePlayer_StaleAckIgnored(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, 30*time.Millisecond)
	res, _ := p.Load(context.Background(), testClip(), 1)
	id := sent.frames[0].AudioID

	// Rejection left over from an attempt that already timed out.
	p.Ack(id, audioRejected, "late")

	if err := res.Play(context.Background()); !errors.Is(err, errPlayAckTimeout) {
		t.Errorf("Play() error = %v, want errPlayAckTimeout", err)
	}
}

func TestRemotePlayer_Release(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, time.Second)
	res, _ := p.Load(context.Background(), testClip(), 1)
	id := sent.frames[0].AudioID

	res.Release()
	res.Release()

	got := sent.types()
	if len(got) != 2 || got[1] != "stop" {
		t.Errorf("frames = %v, want [audio stop]", got)
	}
	if err := res.Play(context.Background()); !errors.Is(err, errClipReleased) {
		t.Errorf("Play() after release error = %v", err)
	}

	// Acks for released clips are dropped.
	p.Ack(id, audioEnded, "")
	select {
	case <-res.Finished():
		t.Error("finished should not be delivered after release")
	default:
	}
}

func TestRemotePlayer_ErrorSettlesBoth(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, time.Second)
	res, _ := p.Load(context.Background(), testClip(), 1)
	id := sent.frames[0].AudioID

	done := make(chan error, 1)
	go func() { done <- res.Play(context.Background()) }()
	waitFor(t, func() bool { return len(sent.types()) == 2 })
	p.Ack(id, audioError, "decode failed")

	if err := <-done; err == nil {
		t.Error("Play() should fail on audio error")
	}
	select {
	case err := <-res.Finished():
		if err == nil {
			t.Error("finished should carry the error")
		}
	case <-time.After(time.Second):
		t.Fatal("finished not delivered")
	}
}

func TestRemotePlayer_ReleaseAll(t *testing.T) {
	sent := &sentFrames{}
	p := newRemotePlayer(sent.send, time.Second)
	res, _ := p.Load(context.Background(), testClip(), 1)

	p.ReleaseAll()

	select {
	case err := <-res.Finished():
		if !errors.Is(err, errClipReleased) {
			t.Errorf("finished = %v, want errClipReleased", err)
		}
	case <-time.After(time.Second):
		t.Fatal("finished not delivered")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
