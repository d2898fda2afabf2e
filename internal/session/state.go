// Package session runs the conversation state machine. One goroutine owns
// all mutable state; microphone chunks, transport events, timers, and
// public operations are funneled into that loop so no handler ever races
// another.
package session

import "github.com/voicewire/voicewire/internal/vad"

// State is the session lifecycle phase. Transitions happen only on the
// session loop.
type State int

const (
	// Idle: no session, no resources held.
	Idle State = iota
	// Connecting: microphone acquired, websocket dial or server handshake
	// in flight.
	Connecting
	// Ready: connected and waiting for speech or a manual start.
	Ready
	// Listening: an utterance is being captured and streamed.
	Listening
	// Processing: utterance finished, waiting on transcription and reply.
	Processing
	// Speaking: synthesized reply is playing.
	Speaking
	// Error: a failure occurred; the session auto-recovers after a delay.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// phaseOf maps a session state onto the detector's coarser view.
func phaseOf(s State) vad.Phase {
	switch s {
	case Ready:
		return vad.PhaseReady
	case Listening:
		return vad.PhaseListening
	case Processing:
		return vad.PhaseProcessing
	case Speaking:
		return vad.PhaseSpeaking
	default:
		return vad.PhaseOther
	}
}

// Transcript is a line of conversation surfaced to the hosting application.
type Transcript struct {
	// Role is "user" for recognized speech, "assistant" for replies.
	Role string
	Text string
}
