package playback

import (
	"log/slog"
	"sync"

	"github.com/voicewire/voicewire/internal/errors"
)

// Output is the device half of playback. The real implementation wraps
// the system mixer; tests substitute a fake.
type Output interface {
	Play(clip Clip) (Playing, error)
}

// Playing is one clip in flight. Stop halts it immediately and must be
// safe to call after the clip has already finished.
type Playing interface {
	Done() <-chan struct{}
	Stop()
}

// Controller serializes clips through one Output. At most one clip is
// active; starting a new one cancels the old one first.
type Controller struct {
	out Output
	log *slog.Logger

	mu     sync.Mutex
	active Playing
	gen    uint64
}

func NewController(out Output, log *slog.Logger) *Controller {
	return &Controller{out: out, log: log}
}

// Play decodes the WAV payload and starts it. onDone runs exactly once,
// from a playback goroutine, when the clip runs to completion on its own.
// A cancelled or superseded clip never invokes onDone.
func (c *Controller) Play(payload []byte, onDone func()) error {
	clip, err := DecodeWAV(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.active != nil {
		c.active.Stop()
		c.active = nil
	}
	playing, err := c.out.Play(clip)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, errors.PlaybackFailure, "start playback")
	}
	c.gen++
	gen := c.gen
	c.active = playing
	c.mu.Unlock()

	c.log.Debug("playback started",
		"frames", clip.Frames(),
		"sample_rate", clip.SampleRate)

	go func() {
		<-playing.Done()

		c.mu.Lock()
		finished := c.gen == gen && c.active == playing
		if finished {
			c.active = nil
		}
		c.mu.Unlock()

		if finished && onDone != nil {
			onDone()
		}
	}()
	return nil
}

// CancelActive stops the current clip before returning. Calling it with
// nothing playing is a no-op, so callers do not need to track whether a
// clip is still in flight.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.gen++
	c.active.Stop()
	c.active = nil
}

// Active reports whether a clip is currently playing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
