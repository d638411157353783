package voice

import "time"

// State is the lifecycle position of a playback session.
type State string

const (
	StateIdle           State = "idle"
	StateRequesting     State = "requesting"
	StateDecoding       State = "decoding"
	StateWaitingCanPlay State = "waiting_can_play"
	StatePlaying        State = "playing"
	StateStopped        State = "stopped"
	StateFailed         State = "failed"
)

// transitions lists the legal moves. Stopped and Failed always fall through
// to Idle once the session's resources are released.
var transitions = map[State][]State{
	StateIdle:           {StateRequesting},
	StateRequesting:     {StateDecoding, StateStopped, StateFailed},
	StateDecoding:       {StateWaitingCanPlay, StateStopped, StateFailed},
	StateWaitingCanPlay: {StatePlaying, StateStopped, StateFailed},
	StatePlaying:        {StateIdle, StateStopped, StateFailed},
	StateStopped:        {StateIdle},
	StateFailed:         {StateIdle},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether a session in this state owns the audio output.
func (s State) Active() bool {
	switch s {
	case StateRequesting, StateDecoding, StateWaitingCanPlay, StatePlaying:
		return true
	}
	return false
}

// Event is emitted for every playback transition.
type Event struct {
	Key        string    `json:"key"`
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Err        error     `json:"-"`
	At         time.Time `json:"at"`
}

// DictationState is the lifecycle position of microphone capture.
type DictationState string

const (
	DictationIdle      DictationState = "idle"
	DictationListening DictationState = "listening"
	DictationStopped   DictationState = "stopped"
)
