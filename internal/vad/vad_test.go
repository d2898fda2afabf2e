package vad

import (
	"testing"
	"time"
)

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.stopped
}

// testDetector wires a detector with a fake timer so hangover expiry is
// driven by the test, not the clock.
func testDetector(cfg Config) (*Detector, *struct {
	timer *fakeTimer
	fire  func()
	gens  []int
}) {
	captured := &struct {
		timer *fakeTimer
		fire  func()
		gens  []int
	}{}
	d := New(cfg, func(gen int) { captured.gens = append(captured.gens, gen) })
	d.newTimer = func(_ time.Duration, fn func()) timerHandle {
		captured.timer = &fakeTimer{}
		captured.fire = fn
		return captured.timer
	}
	return d, captured
}

func defaultTestConfig() Config {
	return Config{ThresholdPercent: 10, SilenceHangover: 1500 * time.Millisecond, MaxUtterance: 30 * time.Second}
}

func TestBelowThresholdNeverStartsListening(t *testing.T) {
	d, _ := testDetector(defaultTestConfig())

	now := time.Now()
	for _, level := range []float64{0, 1, 3.5, 7, 9.9, 10, 5, 0} {
		if cmd := d.Process(level, PhaseReady, now); cmd != None {
			t.Fatalf("Process(%v) = %v, want None for sub-threshold sample", level, cmd)
		}
		now = now.Add(20 * time.Millisecond)
	}
}

func TestSpeechOnsetStartsListening(t *testing.T) {
	d, _ := testDetector(defaultTestConfig())

	if cmd := d.Process(42, PhaseReady, time.Now()); cmd != StartListening {
		t.Fatalf("Process = %v, want StartListening", cmd)
	}
	if !d.Speaking() {
		t.Error("detector should be marked speaking after onset")
	}
}

func TestSilenceHangoverStopsListening(t *testing.T) {
	d, cap := testDetector(defaultTestConfig())

	now := time.Now()
	d.OnEnterListening(now)
	d.Process(42, PhaseListening, now)

	// Drop below threshold: the hangover timer starts exactly once.
	d.Process(2, PhaseListening, now.Add(20*time.Millisecond))
	if cap.timer == nil {
		t.Fatal("silence timer should be running")
	}
	first := cap.timer
	d.Process(2, PhaseListening, now.Add(40*time.Millisecond))
	if cap.timer != first {
		t.Fatal("second silent sample must not restart the timer")
	}

	cap.fire()
	if len(cap.gens) != 1 {
		t.Fatalf("onSilence fired %d times, want 1", len(cap.gens))
	}
	if cmd := d.SilenceExpired(cap.gens[0]); cmd != StopListening {
		t.Fatalf("SilenceExpired = %v, want StopListening", cmd)
	}
	if d.Speaking() {
		t.Error("detector should not be speaking after hangover")
	}
}

func TestSpeechCancelsPendingSilenceTimer(t *testing.T) {
	d, cap := testDetector(defaultTestConfig())

	now := time.Now()
	d.OnEnterListening(now)
	d.Process(2, PhaseListening, now)
	timer := cap.timer
	staleGen := 1

	// Voice returns before the hangover elapses.
	d.Process(42, PhaseListening, now.Add(100*time.Millisecond))
	if !timer.stopped {
		t.Error("speech should stop the pending silence timer")
	}

	// A racing expiry that already fired must be ignored as stale.
	if cmd := d.SilenceExpired(staleGen); cmd != None {
		t.Errorf("stale SilenceExpired = %v, want None", cmd)
	}
}

func TestBargeInTakesPriority(t *testing.T) {
	d, _ := testDetector(defaultTestConfig())

	if cmd := d.Process(42, PhaseSpeaking, time.Now()); cmd != BargeIn {
		t.Fatalf("Process = %v, want BargeIn", cmd)
	}
	if cmd := d.Process(2, PhaseSpeaking, time.Now()); cmd != None {
		t.Errorf("quiet sample while speaking = %v, want None", cmd)
	}
}

func TestProcessingPhaseIgnored(t *testing.T) {
	d, _ := testDetector(defaultTestConfig())

	if cmd := d.Process(95, PhaseProcessing, time.Now()); cmd != None {
		t.Errorf("Process during network wait = %v, want None", cmd)
	}
	if d.Speaking() {
		t.Error("samples during processing must not mutate runtime")
	}
}

func TestMaxUtteranceCutoff(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxUtterance = 5 * time.Second
	d, _ := testDetector(cfg)

	start := time.Now()
	d.OnEnterListening(start)

	// Continuous loud signal: the silence rule alone would never fire.
	for elapsed := time.Duration(0); elapsed <= 4800*time.Millisecond; elapsed += 200 * time.Millisecond {
		if cmd := d.Process(42, PhaseListening, start.Add(elapsed)); cmd != None {
			t.Fatalf("Process at %v = %v, want None before cap", elapsed, cmd)
		}
	}
	if cmd := d.Process(42, PhaseListening, start.Add(5200*time.Millisecond)); cmd != MaxUtterance {
		t.Fatalf("Process past cap = %v, want MaxUtterance", cmd)
	}
}

func TestLeaveListeningClearsRuntime(t *testing.T) {
	d, cap := testDetector(defaultTestConfig())

	now := time.Now()
	d.OnEnterListening(now)
	d.Process(2, PhaseListening, now)
	if cap.timer == nil {
		t.Fatal("silence timer should be running")
	}

	d.OnLeaveListening()
	if !cap.timer.stopped {
		t.Error("leaving listening must clear the silence timer")
	}
	if d.Speaking() {
		t.Error("runtime should be reset")
	}
	if cmd := d.SilenceExpired(1); cmd != None {
		t.Errorf("expiry after leave = %v, want None", cmd)
	}
}

func TestCancelSilenceTimerKeepsSpeaking(t *testing.T) {
	d, cap := testDetector(defaultTestConfig())

	now := time.Now()
	d.OnEnterListening(now)
	d.Process(2, PhaseListening, now)
	if cap.timer == nil {
		t.Fatal("silence timer should be running")
	}

	d.CancelSilenceTimer()
	if !cap.timer.stopped {
		t.Error("pending silence timer must be stopped")
	}
	if !d.Speaking() {
		t.Error("cancelling the timer must not reset the speaking flag")
	}

	// An expiry that raced the cancellation is stale.
	if cmd := d.SilenceExpired(1); cmd != None {
		t.Errorf("stale expiry = %v, want None", cmd)
	}
}

func TestSetConfigTakesEffect(t *testing.T) {
	d, _ := testDetector(defaultTestConfig())

	d.SetConfig(Config{ThresholdPercent: 50, SilenceHangover: time.Second, MaxUtterance: time.Minute})
	if cmd := d.Process(42, PhaseReady, time.Now()); cmd != None {
		t.Errorf("Process below raised threshold = %v, want None", cmd)
	}
}
