// Package vad implements volume-threshold voice activity detection.
// The detector turns a stream of volume samples into listening decisions:
// speech onset, silence-hangover stop, hard utterance cap, and barge-in
// while synthesized speech is playing.
package vad

import "time"

// Command is a decision emitted toward the session controller.
type Command int

const (
	None Command = iota
	// StartListening fires on speech onset while the session is ready.
	StartListening
	// StopListening fires when the silence hangover expires.
	StopListening
	// MaxUtterance fires when a recording hits the hard duration cap,
	// regardless of current volume.
	MaxUtterance
	// BargeIn fires when speech is detected over active playback.
	BargeIn
)

func (c Command) String() string {
	switch c {
	case StartListening:
		return "start_listening"
	case StopListening:
		return "stop_listening"
	case MaxUtterance:
		return "max_utterance"
	case BargeIn:
		return "barge_in"
	default:
		return "none"
	}
}

// Phase is the detector's view of the session. It deliberately mirrors only
// the states the algorithm distinguishes.
type Phase int

const (
	PhaseOther Phase = iota
	PhaseReady
	PhaseListening
	PhaseProcessing
	PhaseSpeaking
)

// Config holds the detection thresholds. Mutable at runtime via SetConfig.
type Config struct {
	// ThresholdPercent in [0,100]; samples above it count as speech.
	ThresholdPercent float64
	// SilenceHangover is how long speech must stay below threshold before
	// the recording stops.
	SilenceHangover time.Duration
	// MaxUtterance hard-caps a single recording so background noise
	// misclassified as speech cannot stream forever.
	MaxUtterance time.Duration
}

type timerHandle interface {
	Stop() bool
}

// Detector evaluates one volume sample per capture tick. It is owned by the
// session loop and must only be touched from that goroutine; the silence
// timer callback does not mutate state directly, it reports the expiry back
// through onSilence so the loop can call SilenceExpired in order.
type Detector struct {
	cfg Config

	isSpeaking     bool
	utteranceStart time.Time

	silenceGen   int
	silenceTimer timerHandle

	newTimer  func(d time.Duration, fn func()) timerHandle
	onSilence func(gen int)
}

// New creates a detector. onSilence is invoked from a timer goroutine when
// the silence hangover elapses; the caller routes it back to the session
// loop and then calls SilenceExpired with the same generation.
func New(cfg Config, onSilence func(gen int)) *Detector {
	return &Detector{
		cfg: cfg,
		newTimer: func(d time.Duration, fn func()) timerHandle {
			return time.AfterFunc(d, fn)
		},
		onSilence: onSilence,
	}
}

// SetConfig replaces the thresholds. Takes effect on the next sample.
func (d *Detector) SetConfig(cfg Config) { d.cfg = cfg }

// Config returns the active thresholds.
func (d *Detector) Config() Config { return d.cfg }

// Speaking reports whether the detector currently classifies the input as
// speech.
func (d *Detector) Speaking() bool { return d.isSpeaking }

// Process evaluates one volume sample against the current session phase and
// returns at most one command. Barge-in takes priority over everything else.
func (d *Detector) Process(level float64, phase Phase, now time.Time) Command {
	// No decisions while a network round-trip is in flight.
	if phase == PhaseProcessing {
		return None
	}

	if phase == PhaseSpeaking && level > d.cfg.ThresholdPercent {
		return BargeIn
	}

	cmd := None
	if level > d.cfg.ThresholdPercent {
		d.isSpeaking = true
		d.cancelSilenceTimer()
		if phase == PhaseReady {
			cmd = StartListening
		}
	} else if d.isSpeaking && phase == PhaseListening {
		d.startSilenceTimer()
	}

	// Hard cap overrides the silence rule entirely.
	if phase == PhaseListening && !d.utteranceStart.IsZero() &&
		d.cfg.MaxUtterance > 0 && now.Sub(d.utteranceStart) > d.cfg.MaxUtterance {
		return MaxUtterance
	}

	return cmd
}

// SilenceExpired handles a silence timer expiry delivered back on the
// session loop. Stale generations (timer cancelled or superseded after the
// callback fired) are ignored.
func (d *Detector) SilenceExpired(gen int) Command {
	if gen != d.silenceGen || d.silenceTimer == nil || !d.isSpeaking {
		return None
	}
	d.silenceTimer = nil
	d.isSpeaking = false
	return StopListening
}

// OnEnterListening records the utterance start. Called by the controller on
// every transition into the listening state, VAD-driven or push-to-talk.
func (d *Detector) OnEnterListening(now time.Time) {
	d.utteranceStart = now
	d.isSpeaking = true
}

// OnLeaveListening resets the runtime. The silence timer is always cleared
// before the session state transitions out of listening.
func (d *Detector) OnLeaveListening() {
	d.cancelSilenceTimer()
	d.isSpeaking = false
	d.utteranceStart = time.Time{}
}

// CancelSilenceTimer clears a pending hangover without resetting the rest of
// the runtime. Used when voice-driven stopping is switched off while a
// recording is in flight.
func (d *Detector) CancelSilenceTimer() { d.cancelSilenceTimer() }

func (d *Detector) startSilenceTimer() {
	if d.silenceTimer != nil {
		return
	}
	d.silenceGen++
	gen := d.silenceGen
	d.silenceTimer = d.newTimer(d.cfg.SilenceHangover, func() {
		d.onSilence(gen)
	})
}

func (d *Detector) cancelSilenceTimer() {
	if d.silenceTimer == nil {
		return
	}
	d.silenceTimer.Stop()
	d.silenceTimer = nil
	d.silenceGen++
}
