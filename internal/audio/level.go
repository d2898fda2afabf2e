package audio

import "math"

// LevelPercent computes the RMS energy of a PCM frame scaled to [0,100].
// 100 corresponds to a full-scale signal; typical speech lands well below,
// which is why the detection threshold is calibrated rather than fixed.
func LevelPercent(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	pct := rms / MaxSampleValue * 100
	return math.Min(pct, 100)
}
