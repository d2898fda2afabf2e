package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/voicewire/voicewire/internal/errors"
)

// Chunk is one fixed-duration frame of captured microphone audio. Its
// duration doubles as the volume sampling tick for voice detection.
type Chunk struct {
	Samples   []int16
	Timestamp time.Time
}

// Device is the capture device owned by one session at a time.
type Device interface {
	Start(ctx context.Context) error
	Chunks() <-chan Chunk
	Stop()
}

// Capturer captures mono PCM from the default input device.
type Capturer struct {
	sampleRate   int
	channels     int
	frameSamples int

	mu       sync.Mutex
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	stopOnce *sync.Once
	outCh    chan Chunk
}

// NewCapturer initializes the audio backend. The device itself is not
// acquired until Start so a failed session leaves nothing held.
func NewCapturer(sampleRate, channels, frameSamples int) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "audio backend init failed")
	}
	return &Capturer{
		sampleRate:   sampleRate,
		channels:     channels,
		frameSamples: frameSamples,
	}, nil
}

// Chunks returns the channel for receiving capture frames. Valid between
// Start and Stop.
func (c *Capturer) Chunks() <-chan Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outCh
}

// Start acquires the default input device and begins delivering chunks.
// Returns DeviceUnavailable when no input device exists or the platform
// denies access.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		return apperrors.Wrap(err, apperrors.DeviceUnavailable, "no input device")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: c.channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: c.frameSamples,
	}

	buf := make([]int16, c.frameSamples*c.channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DeviceUnavailable, "open input stream failed")
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return apperrors.Wrap(err, apperrors.DeviceUnavailable, "start input stream failed")
	}

	devCtx, cancel := context.WithCancel(ctx)
	outCh := make(chan Chunk, ChunkBuffer)
	c.stream = stream
	c.cancel = cancel
	c.stopOnce = &sync.Once{}
	c.outCh = outCh

	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.sampleRate, "frame_samples", c.frameSamples)

	go func() {
		defer close(outCh)
		for {
			select {
			case <-devCtx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				slog.Debug("audio read error", "error", err)
				return
			}

			chunk := Chunk{
				Samples:   append([]int16(nil), buf...),
				Timestamp: time.Now(),
			}

			select {
			case outCh <- chunk:
			default:
				slog.Debug("audio buffer full, dropping chunk")
			}
		}
	}()

	return nil
}

// Stop releases the device. Idempotent; safe before Start.
func (c *Capturer) Stop() {
	c.mu.Lock()
	stream, cancel, once := c.stream, c.cancel, c.stopOnce
	c.stream = nil
	c.cancel = nil
	c.outCh = nil
	c.mu.Unlock()

	if once == nil {
		return
	}
	once.Do(func() {
		if cancel != nil {
			cancel()
		}
		if stream != nil {
			_ = stream.Stop()
			_ = stream.Close()
		}
	})
}

// Terminate shuts down the audio backend. Call once at process exit.
func (c *Capturer) Terminate() {
	c.Stop()
	_ = portaudio.Terminate()
}
