// Package transport owns the duplex websocket channel to the
// transcription/synthesis service: outbound audio frames and control
// markers, inbound session events.
package transport

import "encoding/json"

// Event is an inbound message decoded off the wire. The session controller
// is the only consumer; events are delivered in the order received.
type Event interface {
	transportEvent() string
}

// ReadyEvent signals the server is ready to receive audio.
type ReadyEvent struct{}

func (ReadyEvent) transportEvent() string { return "ready" }

// TranscriptEvent carries recognized text. NoSpeech marks the
// protocol-level "heard nothing" outcome, which is not an error.
type TranscriptEvent struct {
	Text     string
	NoSpeech bool
}

func (TranscriptEvent) transportEvent() string { return "transcript" }

// AudioEvent carries a synthesized reply: the text and its rendered audio,
// base64-decoded at this boundary.
type AudioEvent struct {
	Text  string
	Audio []byte
}

func (AudioEvent) transportEvent() string { return "audio" }

// ErrorEvent reports a server-side or channel-level failure.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) transportEvent() string { return "error" }

// ControlSignal is an out-of-band marker bounding an utterance for the
// server regardless of audio framing.
type ControlSignal string

const (
	StartRecording ControlSignal = "start_recording"
	StopRecording  ControlSignal = "stop_recording"
)

// Wire shapes. Inbound messages are a type envelope plus a payload object;
// outbound control markers carry a unix-ms timestamp and the utterance ID
// for log correlation on the far side.

type controlMarker struct {
	Type        string `json:"type"`
	T           int64  `json:"t,omitempty"`
	UtteranceID string `json:"utterance_id,omitempty"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type transcriptPayload struct {
	Text     string `json:"text"`
	NoSpeech bool   `json:"noSpeech"`
}

type audioPayload struct {
	Text  string `json:"text"`
	Audio string `json:"audio"`
}

type errorPayload struct {
	Message string `json:"message"`
}
