package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/audio"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/errors"
	"github.com/voicewire/voicewire/internal/resilience"
	"github.com/voicewire/voicewire/internal/settings"
	"github.com/voicewire/voicewire/internal/syncx"
	"github.com/voicewire/voicewire/internal/transport"
	"github.com/voicewire/voicewire/internal/vad"
)

const (
	// Buffered fanout to the hosting application. Publishes never block
	// the loop; a slow consumer loses updates, not the session.
	notifyBuffer = 16
)

// Transport is the duplex channel to the voice service.
type Transport interface {
	Events() <-chan transport.Event
	Send(frame []byte)
	SendControl(signal transport.ControlSignal, utteranceID string) error
	Close() error
}

// Dialer opens a Transport. Production wires transport.Dial; tests
// substitute fakes.
type Dialer func(ctx context.Context, url string) (Transport, error)

// Player renders synthesized speech.
type Player interface {
	Play(payload []byte, onDone func()) error
	CancelActive()
}

// Encoder compresses one capture frame for the wire.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Deps are the collaborators a Controller drives. All of them are
// interfaces or injectable functions so the state machine is testable
// without hardware or a server.
type Deps struct {
	Device   audio.Device
	Dial     Dialer
	Player   Player
	Encoder  Encoder
	Settings *settings.Store
	Log      *slog.Logger
}

type command struct {
	fn   func() error
	done chan error
}

// Controller is the session state machine. All handlers run on the loop
// goroutine started by Run; public operations post commands into it and
// wait, which makes them naturally serialized.
type Controller struct {
	cfg  *config.Config
	deps Deps
	log  *slog.Logger

	detector *vad.Detector
	breaker  *resilience.Breaker

	state     *syncx.RWGuard[State]
	lastErr   *syncx.RWGuard[string]
	lastLevel *syncx.RWGuard[float64]

	cmdCh      chan command
	silenceCh  chan int
	playedCh   chan string
	recoveryCh chan struct{}
	doneCh     chan struct{}

	stateCh      chan State
	transcriptCh chan Transcript

	// Loop-owned. Never touched off the loop goroutine.
	ch            Transport
	deviceRunning bool
	continuous    bool
	voice         settings.Voice
	utteranceID   string
	recoveryTimer *time.Timer
}

// New builds a controller. Run must be called before any operation.
func New(cfg *config.Config, deps Deps) *Controller {
	c := &Controller{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log,

		breaker: resilience.NewBreaker(resilience.BreakerConfig{}),

		state:     syncx.NewGuard(Idle),
		lastErr:   syncx.NewGuard(""),
		lastLevel: syncx.NewGuard(0.0),

		cmdCh:      make(chan command),
		silenceCh:  make(chan int, 1),
		playedCh:   make(chan string, 1),
		recoveryCh: make(chan struct{}, 1),
		doneCh:     make(chan struct{}),

		stateCh:      make(chan State, notifyBuffer),
		transcriptCh: make(chan Transcript, notifyBuffer),

		continuous: true,
	}

	c.voice = deps.Settings.Load()
	c.detector = vad.New(voiceConfig(c.voice), c.onSilenceExpired)
	return c
}

// onSilenceExpired runs on a timer goroutine; it only forwards the
// generation to the loop.
func (c *Controller) onSilenceExpired(gen int) {
	select {
	case c.silenceCh <- gen:
	case <-c.doneCh:
	}
}

// Run drives the loop until ctx is cancelled. Everything the session
// holds is released before it returns.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.doneCh)

	for {
		var chunks <-chan audio.Chunk
		if c.deviceRunning {
			chunks = c.deps.Device.Chunks()
		}
		var events <-chan transport.Event
		if c.ch != nil {
			events = c.ch.Events()
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return

		case cmd := <-c.cmdCh:
			cmd.done <- cmd.fn()

		case chunk, ok := <-chunks:
			if !ok {
				c.deviceRunning = false
				continue
			}
			c.handleChunk(chunk)

		case ev, ok := <-events:
			if !ok {
				c.handleTransportClosed()
				continue
			}
			c.handleEvent(ev)

		case gen := <-c.silenceCh:
			c.handleSilence(gen)

		case id := <-c.playedCh:
			c.handlePlaybackDone(id)

		case <-c.recoveryCh:
			c.handleRecovery()
		}
	}
}

// post runs fn on the loop and waits for its result.
func (c *Controller) post(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case c.cmdCh <- cmd:
	case <-c.doneCh:
		return errors.New(errors.Internal, "session loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-c.doneCh:
		return errors.New(errors.Internal, "session loop stopped")
	}
}

// StartSession acquires the microphone and connects to the voice service.
// On success the session sits in Connecting until the server reports
// ready. Calling it from Error retries: whatever the failed attempt left
// behind is released first.
func (c *Controller) StartSession(ctx context.Context) error {
	return c.post(ctx, func() error {
		switch s := c.state.Get(); s {
		case Idle:
		case Error:
			c.shutdown()
		default:
			return errors.Newf(errors.Internal, "session already active in state %s", s)
		}

		if err := c.deps.Device.Start(context.Background()); err != nil {
			err = errors.Wrap(err, errors.DeviceUnavailable, "microphone unavailable")
			c.enterError(err.Error(), errors.DeviceUnavailable)
			return err
		}
		c.deviceRunning = true

		if err := c.connect(); err != nil {
			return err
		}
		return nil
	})
}

// EndSession releases everything and returns the session to Idle. Calling
// it with no session active is a no-op.
func (c *Controller) EndSession(ctx context.Context) error {
	return c.post(ctx, func() error {
		c.shutdown()
		return nil
	})
}

// StartListening begins an utterance manually, bypassing voice detection.
// In any state but Ready it is a logged no-op.
func (c *Controller) StartListening(ctx context.Context) error {
	return c.post(ctx, func() error {
		if s := c.state.Get(); s != Ready {
			c.log.Debug("start listening ignored", "state", s)
			return nil
		}
		c.beginListening("manual")
		return nil
	})
}

// StopListening finishes the current utterance manually. In any state but
// Listening it is a logged no-op.
func (c *Controller) StopListening(ctx context.Context) error {
	return c.post(ctx, func() error {
		if s := c.state.Get(); s != Listening {
			c.log.Debug("stop listening ignored", "state", s)
			return nil
		}
		c.finishUtterance("manual")
		return nil
	})
}

// Interrupt abandons the exchange in flight: playback is cancelled, an
// active recording is force-stopped, continuous mode is switched off, and
// the session lands in Ready. It never fails and may be invoked blindly
// from any state; with no session it leaves Idle alone.
func (c *Controller) Interrupt(ctx context.Context) error {
	return c.post(ctx, func() error {
		c.interrupt()
		return nil
	})
}

func (c *Controller) interrupt() {
	s := c.state.Get()
	if s == Idle {
		return
	}

	c.deps.Player.CancelActive()
	if s == Listening && c.ch != nil {
		if err := c.ch.SendControl(transport.StopRecording, c.utteranceID); err != nil {
			c.log.Warn("stop marker failed", "error", err)
		}
	}
	c.detector.OnLeaveListening()

	if c.continuous {
		c.continuous = false
		c.log.Info("continuous mode", "enabled", false)
	}
	if s == Error {
		if c.recoveryTimer != nil {
			c.recoveryTimer.Stop()
			c.recoveryTimer = nil
		}
		c.lastErr.Set("")
	}

	c.log.Info("interrupted", "from", s)
	c.setState(Ready)
}

// ToggleContinuousMode switches voice-driven listening on or off. Turning
// it on while Ready opens an utterance immediately. Turning it off clears
// a pending silence hangover but does not stop a recording in flight; the
// user finishes it explicitly or the utterance cap does.
func (c *Controller) ToggleContinuousMode(ctx context.Context, enabled bool) error {
	return c.post(ctx, func() error {
		if c.continuous == enabled {
			return nil
		}
		c.continuous = enabled
		c.log.Info("continuous mode", "enabled", enabled)

		if enabled {
			if c.state.Get() == Ready {
				c.beginListening("continuous_on")
			}
		} else {
			c.detector.CancelSilenceTimer()
		}
		return nil
	})
}

// UpdateVoiceSettings applies and persists new detection settings.
func (c *Controller) UpdateVoiceSettings(ctx context.Context, v settings.Voice) error {
	return c.post(ctx, func() error { return c.applyVoice(v) })
}

// Calibrate samples ambient microphone volume and derives a new speech
// threshold, which is applied and persisted. The microphone must already
// be running.
func (c *Controller) Calibrate(ctx context.Context) (float64, error) {
	switch c.state.Get() {
	case Idle, Connecting:
		return 0, errors.New(errors.Internal, "calibration requires an active session")
	}

	threshold, err := vad.Calibrate(ctx, c.lastLevel.Get, vad.CalibrateOptions{})
	if err != nil {
		return 0, err
	}

	v := c.voiceSettings()
	v.VoiceThreshold = threshold
	if err := c.post(ctx, func() error { return c.applyVoice(v) }); err != nil {
		return 0, err
	}
	return threshold, nil
}

// State returns the current session state.
func (c *Controller) State() State { return c.state.Get() }

// ErrorMessage returns the message behind the current Error state, empty
// otherwise.
func (c *Controller) ErrorMessage() string { return c.lastErr.Get() }

// Level returns the most recent microphone volume percent.
func (c *Controller) Level() float64 { return c.lastLevel.Get() }

// StateChanges yields state transitions. Updates are dropped rather than
// buffered unboundedly when the consumer falls behind.
func (c *Controller) StateChanges() <-chan State { return c.stateCh }

// Transcripts yields conversation lines as they arrive.
func (c *Controller) Transcripts() <-chan Transcript { return c.transcriptCh }

// VoiceSettings returns the detection settings currently in effect.
func (c *Controller) VoiceSettings(ctx context.Context) (settings.Voice, error) {
	var v settings.Voice
	err := c.post(ctx, func() error {
		v = c.voice
		return nil
	})
	return v, err
}

func (c *Controller) voiceSettings() settings.Voice {
	v, _ := c.VoiceSettings(context.Background())
	return v
}

// ---- loop handlers ----

func (c *Controller) handleChunk(chunk audio.Chunk) {
	level := audio.LevelPercent(chunk.Samples)
	c.lastLevel.Set(level)

	cmd := c.detector.Process(level, phaseOf(c.state.Get()), chunk.Timestamp)
	switch cmd {
	case vad.StartListening:
		if c.continuous {
			c.beginListening("voice")
		}
	case vad.BargeIn:
		if c.continuous {
			c.log.Info("barge-in detected", "level", level)
			c.deps.Player.CancelActive()
			c.beginListening("barge_in")
		}
	case vad.MaxUtterance:
		// Honored even in manual mode so a stuck recording cannot
		// stream forever.
		c.log.Warn("utterance cap hit", "utterance_id", c.utteranceID)
		c.finishUtterance("max_utterance")
		return
	}

	// The chunk that triggered a start still belongs to the utterance.
	if c.state.Get() == Listening && c.ch != nil {
		pkt, err := c.deps.Encoder.Encode(chunk.Samples)
		if err != nil {
			c.log.Debug("frame encode failed", "error", err)
			return
		}
		c.ch.Send(pkt)
	}
}

func (c *Controller) handleEvent(ev transport.Event) {
	switch e := ev.(type) {
	case transport.ReadyEvent:
		if c.state.Get() == Connecting {
			c.lastErr.Set("")
			c.setState(Ready)
		}

	case transport.TranscriptEvent:
		if e.NoSpeech {
			c.log.Info("no speech recognized", "utterance_id", c.utteranceID)
			if c.state.Get() == Processing {
				c.setState(Ready)
			}
			return
		}
		c.publishTranscript(Transcript{Role: "user", Text: e.Text})

	case transport.AudioEvent:
		if c.state.Get() != Processing {
			// Stale reply, the utterance it answers was interrupted.
			c.log.Debug("dropping audio outside processing", "state", c.state.Get())
			return
		}
		if e.Text != "" {
			c.publishTranscript(Transcript{Role: "assistant", Text: e.Text})
		}
		c.startPlayback(e.Audio)

	case transport.ErrorEvent:
		c.enterError(e.Message, errors.Unknown)
	}
}

func (c *Controller) startPlayback(payload []byte) {
	id := c.utteranceID
	err := c.deps.Player.Play(payload, func() {
		select {
		case c.playedCh <- id:
		case <-c.doneCh:
		}
	})
	if err != nil {
		// Playback trouble loses the reply audio, not the session.
		c.log.Error("playback failed", "error", err)
		c.setState(Ready)
		return
	}
	c.setState(Speaking)
}

func (c *Controller) handlePlaybackDone(id string) {
	if c.state.Get() == Speaking && id == c.utteranceID {
		c.setState(Ready)
	}
}

func (c *Controller) handleSilence(gen int) {
	if !c.continuous {
		return
	}
	if c.detector.SilenceExpired(gen) == vad.StopListening && c.state.Get() == Listening {
		c.finishUtterance("silence")
	}
}

func (c *Controller) handleTransportClosed() {
	c.ch = nil
	switch c.state.Get() {
	case Idle, Error:
		// Already down or already recovering.
	default:
		c.enterError("connection closed", errors.ConnectionError)
	}
}

func (c *Controller) handleRecovery() {
	if c.state.Get() != Error {
		return
	}
	c.recoveryTimer = nil
	c.log.Info("attempting recovery", "error", c.lastErr.Get())

	if !c.deviceRunning {
		if err := c.deps.Device.Start(context.Background()); err != nil {
			c.enterError("microphone unavailable: "+err.Error(), errors.DeviceUnavailable)
			return
		}
		c.deviceRunning = true
	}
	if c.ch == nil {
		if err := c.connect(); err != nil {
			return
		}
		// Ready arrives from the server.
		return
	}

	c.lastErr.Set("")
	c.setState(Ready)
}

// ---- loop helpers ----

func (c *Controller) beginListening(trigger string) {
	c.utteranceID = uuid.NewString()
	c.detector.OnEnterListening(time.Now())
	c.setState(Listening)
	c.log.Info("listening", "trigger", trigger, "utterance_id", c.utteranceID)

	if c.ch != nil {
		if err := c.ch.SendControl(transport.StartRecording, c.utteranceID); err != nil {
			c.log.Warn("start marker failed", "error", err)
		}
	}
}

func (c *Controller) finishUtterance(reason string) {
	if c.state.Get() != Listening {
		return
	}
	c.detector.OnLeaveListening()
	c.log.Info("utterance finished", "reason", reason, "utterance_id", c.utteranceID)

	if c.ch != nil {
		if err := c.ch.SendControl(transport.StopRecording, c.utteranceID); err != nil {
			c.log.Warn("stop marker failed", "error", err)
		}
	}
	c.setState(Processing)
}

// connect dials with retry behind the circuit breaker and leaves the
// session in Connecting on success.
func (c *Controller) connect() error {
	c.setState(Connecting)

	var ch Transport
	dial := func() error {
		return c.breaker.Execute(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
			defer cancel()
			t, err := c.deps.Dial(ctx, c.cfg.ServerURL)
			if err != nil {
				return err
			}
			ch = t
			return nil
		})
	}

	if err := resilience.Retry(context.Background(), resilience.DialRetryConfig(), dial); err != nil {
		err = errors.Wrap(err, errors.ConnectionError, "voice service unreachable")
		c.enterError(err.Error(), errors.ConnectionError)
		return err
	}

	c.ch = ch
	return nil
}

// enterError abandons whatever was in flight and schedules recovery. The
// transport, when still alive, is kept; recovery only re-dials a dead one.
// Microphone denial does not heal on a timer, so it never schedules
// recovery; the user grants access and retries StartSession explicitly.
func (c *Controller) enterError(msg string, code errors.Code) {
	c.deps.Player.CancelActive()
	c.detector.OnLeaveListening()

	c.lastErr.Set(msg)
	c.setState(Error)

	if code == errors.DeviceUnavailable {
		c.log.Error("session error, awaiting explicit retry", "error", msg)
		return
	}
	c.log.Error("session error", "error", msg, "recovery_in", c.cfg.ErrorRecoveryDelay)
	c.scheduleRecovery()
}

func (c *Controller) scheduleRecovery() {
	if c.recoveryTimer != nil {
		c.recoveryTimer.Stop()
	}
	c.recoveryTimer = time.AfterFunc(c.cfg.ErrorRecoveryDelay, func() {
		select {
		case c.recoveryCh <- struct{}{}:
		case <-c.doneCh:
		}
	})
}

// shutdown releases everything: capture first so no frames arrive
// mid-teardown, then playback, then the transport.
func (c *Controller) shutdown() {
	if c.recoveryTimer != nil {
		c.recoveryTimer.Stop()
		c.recoveryTimer = nil
	}
	c.detector.OnLeaveListening()

	if c.deviceRunning {
		c.deps.Device.Stop()
		c.deviceRunning = false
	}
	c.deps.Player.CancelActive()
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}

	c.lastErr.Set("")
	if c.state.Get() != Idle {
		c.setState(Idle)
	}
}

func (c *Controller) applyVoice(v settings.Voice) error {
	c.voice = v
	c.detector.SetConfig(voiceConfig(v))
	if err := c.deps.Settings.Save(v); err != nil {
		return err
	}
	c.log.Info("voice settings applied",
		"threshold", v.VoiceThreshold,
		"stop_delay_ms", v.StopDelayMs,
		"max_utterance_ms", v.MaxUtteranceMs)
	return nil
}

func (c *Controller) setState(s State) {
	old := c.state.Swap(s)
	if old == s {
		return
	}
	c.log.Debug("state transition", "from", old, "to", s)
	select {
	case c.stateCh <- s:
	default:
	}
}

func (c *Controller) publishTranscript(t Transcript) {
	select {
	case c.transcriptCh <- t:
	default:
		c.log.Debug("transcript dropped, consumer behind")
	}
}

func voiceConfig(v settings.Voice) vad.Config {
	return vad.Config{
		ThresholdPercent: v.VoiceThreshold,
		SilenceHangover:  time.Duration(v.StopDelayMs) * time.Millisecond,
		MaxUtterance:     time.Duration(v.MaxUtteranceMs) * time.Millisecond,
	}
}
