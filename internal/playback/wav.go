// Package playback renders synthesized speech clips through the system
// audio output and supports immediate cancellation for interrupts.
package playback

import (
	"encoding/binary"

	"github.com/voicewire/voicewire/internal/errors"
)

// Clip is decoded 16-bit PCM ready for an output device.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration of the clip in samples per channel.
func (c Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.PCM) / 2 / c.Channels
}

// DecodeWAV parses a RIFF/WAVE payload into a Clip. Only uncompressed
// 16-bit PCM is accepted, which is what the synthesis service produces.
func DecodeWAV(payload []byte) (Clip, error) {
	if len(payload) < 12 || string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return Clip{}, errors.New(errors.PlaybackFailure, "payload is not a RIFF/WAVE file")
	}

	var (
		clip      Clip
		haveFmt   bool
		haveData  bool
		remaining = payload[12:]
	)
	for len(remaining) >= 8 {
		id := string(remaining[0:4])
		size := int(binary.LittleEndian.Uint32(remaining[4:8]))
		body := remaining[8:]
		if size > len(body) {
			return Clip{}, errors.New(errors.PlaybackFailure, "truncated wav chunk").
				WithMetadata("chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, errors.New(errors.PlaybackFailure, "short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return Clip{}, errors.Newf(errors.PlaybackFailure, "unsupported wav format %d", format)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if bits != 16 {
				return Clip{}, errors.Newf(errors.PlaybackFailure, "unsupported bit depth %d", bits)
			}
			haveFmt = true

		case "data":
			clip.PCM = body[:size]
			haveData = true
		}

		// Chunks are word aligned.
		advance := 8 + size + size%2
		if advance > len(remaining) {
			break
		}
		remaining = remaining[advance:]
	}

	if !haveFmt || !haveData {
		return Clip{}, errors.New(errors.PlaybackFailure, "wav missing fmt or data chunk")
	}
	if clip.Channels < 1 || clip.Channels > 2 || clip.SampleRate <= 0 {
		return Clip{}, errors.Newf(errors.PlaybackFailure,
			"implausible wav layout: %d channels at %d Hz", clip.Channels, clip.SampleRate)
	}
	return clip, nil
}

// Conform converts a clip to the given rate and channel count so it can
// share an already-open output device. Rate conversion is linear; it is
// plenty for speech.
func Conform(clip Clip, rate, channels int) Clip {
	if clip.SampleRate == rate && clip.Channels == channels {
		return clip
	}

	samples := bytesToSamples(clip.PCM)
	if clip.Channels != channels {
		if channels == 2 {
			samples = monoToStereo(samples)
		} else {
			samples = stereoToMono(samples)
		}
	}
	if clip.SampleRate != rate {
		samples = resampleLinear(samples, channels, clip.SampleRate, rate)
	}
	return Clip{PCM: samplesToBytes(samples), SampleRate: rate, Channels: channels}
}

func bytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func monoToStereo(samples []int16) []int16 {
	out := make([]int16, 0, len(samples)*2)
	for _, s := range samples {
		out = append(out, s, s)
	}
	return out
}

func stereoToMono(samples []int16) []int16 {
	out := make([]int16, 0, len(samples)/2)
	for i := 0; i+1 < len(samples); i += 2 {
		out = append(out, int16((int32(samples[i])+int32(samples[i+1]))/2))
	}
	return out
}

func resampleLinear(samples []int16, channels, from, to int) []int16 {
	frames := len(samples) / channels
	if frames == 0 || from == to {
		return samples
	}
	outFrames := int(int64(frames) * int64(to) / int64(from))
	out := make([]int16, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * float64(from) / float64(to)
		i := int(pos)
		frac := pos - float64(i)
		j := i + 1
		if j >= frames {
			j = frames - 1
		}
		for ch := 0; ch < channels; ch++ {
			a := float64(samples[i*channels+ch])
			b := float64(samples[j*channels+ch])
			out[f*channels+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}
