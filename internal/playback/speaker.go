package playback

import (
	"bytes"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/voicewire/voicewire/internal/errors"
)

const (
	// Mixer buffer; small enough that a cancel is heard immediately.
	speakerBuffer = 100 * time.Millisecond

	// How often the watch goroutine polls for end of playback.
	drainPoll = 20 * time.Millisecond
)

// Speaker plays clips through the system mixer. The underlying context
// can only be created once per process, so it is opened lazily with the
// first clip's layout and later clips are conformed to it.
type Speaker struct {
	mu       sync.Mutex
	ctx      *oto.Context
	rate     int
	channels int
}

func NewSpeaker() *Speaker {
	return &Speaker{}
}

func (s *Speaker) Play(clip Clip) (Playing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   clip.SampleRate,
			ChannelCount: clip.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   speakerBuffer,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.PlaybackFailure, "open audio output")
		}
		<-ready
		s.ctx = ctx
		s.rate = clip.SampleRate
		s.channels = clip.Channels
	}

	conformed := Conform(clip, s.rate, s.channels)
	player := s.ctx.NewPlayer(bytes.NewReader(conformed.PCM))
	player.Play()

	sc := &speakerClip{player: player, done: make(chan struct{})}
	go sc.watch()
	return sc, nil
}

type speakerClip struct {
	player *oto.Player
	done   chan struct{}
	once   sync.Once
}

func (p *speakerClip) Done() <-chan struct{} { return p.done }

func (p *speakerClip) Stop() {
	p.once.Do(func() {
		p.player.Close()
		close(p.done)
	})
}

// watch polls until the mixer has drained the clip, then releases it.
func (p *speakerClip) watch() {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if !p.player.IsPlaying() {
				p.Stop()
				return
			}
		}
	}
}
