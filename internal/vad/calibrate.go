package vad

import (
	"context"
	"math"
	"time"
)

// Calibration defaults: sample ambient volume for 800ms at 25ms resolution
// and place the threshold a fixed margin above the mean.
const (
	DefaultCalibrateWindow   = 800 * time.Millisecond
	DefaultCalibrateInterval = 25 * time.Millisecond
	DefaultCalibrateMargin   = 6.0
)

// CalibrateOptions tunes the one-shot ambient calibration.
type CalibrateOptions struct {
	Window   time.Duration
	Interval time.Duration
	Margin   float64
}

func (o CalibrateOptions) withDefaults() CalibrateOptions {
	if o.Window <= 0 {
		o.Window = DefaultCalibrateWindow
	}
	if o.Interval <= 0 {
		o.Interval = DefaultCalibrateInterval
	}
	if o.Margin == 0 {
		o.Margin = DefaultCalibrateMargin
	}
	return o
}

// Calibrate measures ambient volume and returns a detection threshold:
// round(mean + margin), clamped to [0,100]. It is user-triggered and
// independent of the detection loop; the caller persists the result.
func Calibrate(ctx context.Context, sample func() float64, opts CalibrateOptions) (float64, error) {
	opts = opts.withDefaults()
	n := int(opts.Window / opts.Interval)
	if n < 1 {
		n = 1
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var sum float64
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			sum += sample()
		}
	}

	threshold := math.Round(sum/float64(n) + opts.Margin)
	return math.Max(0, math.Min(threshold, 100)), nil
}
