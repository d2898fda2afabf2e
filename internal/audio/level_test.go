package audio

import (
	"math"
	"testing"
)

func TestLevelPercentSilence(t *testing.T) {
	samples := make([]int16, 320)
	if got := LevelPercent(samples); got != 0 {
		t.Errorf("LevelPercent(silence) = %v, want 0", got)
	}
}

func TestLevelPercentEmpty(t *testing.T) {
	if got := LevelPercent(nil); got != 0 {
		t.Errorf("LevelPercent(nil) = %v, want 0", got)
	}
}

func TestLevelPercentFullScale(t *testing.T) {
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = math.MaxInt16
	}

	got := LevelPercent(samples)
	if got < 99.9 || got > 100 {
		t.Errorf("LevelPercent(full scale) = %v, want ~100", got)
	}
}

func TestLevelPercentHalfScaleSquare(t *testing.T) {
	// A square wave at half amplitude has RMS equal to its amplitude.
	samples := make([]int16, 320)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 16384
		} else {
			samples[i] = -16384
		}
	}

	got := LevelPercent(samples)
	if math.Abs(got-50) > 0.1 {
		t.Errorf("LevelPercent(half square) = %v, want 50", got)
	}
}

func TestLevelPercentMonotonic(t *testing.T) {
	quiet := make([]int16, 320)
	loud := make([]int16, 320)
	for i := range quiet {
		quiet[i] = 500
		loud[i] = 5000
	}

	if LevelPercent(quiet) >= LevelPercent(loud) {
		t.Error("louder signal should yield higher level")
	}
}
