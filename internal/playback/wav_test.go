package playback

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE payload around the given samples.
func buildWAV(t *testing.T, rate, channels int, samples []int16) []byte {
	t.Helper()

	data := samplesToBytes(samples)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

func TestDecodeWAV(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32000}
	clip, err := DecodeWAV(buildWAV(t, 24000, 1, samples))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if clip.SampleRate != 24000 || clip.Channels != 1 {
		t.Errorf("layout = %d Hz x%d, want 24000 Hz x1", clip.SampleRate, clip.Channels)
	}
	if clip.Frames() != len(samples) {
		t.Errorf("frames = %d, want %d", clip.Frames(), len(samples))
	}
	if got := bytesToSamples(clip.PCM); got[3] != 32000 {
		t.Errorf("sample round trip: got %v", got)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":        nil,
		"not riff":     []byte("OGGSxxxxxxxxxxxxxxxx"),
		"riff no wave": []byte("RIFF\x10\x00\x00\x00AVI xxxxxxxx"),
		"truncated":    buildWAV(t, 16000, 1, []int16{1, 2, 3, 4})[:20],
	}
	for name, payload := range cases {
		if _, err := DecodeWAV(payload); err == nil {
			t.Errorf("%s: expected decode error", name)
		}
	}
}

func TestDecodeWAVRejectsCompressedFormats(t *testing.T) {
	payload := buildWAV(t, 16000, 1, []int16{1, 2})
	// Flip the audio format field in the fmt chunk to IEEE float.
	binary.LittleEndian.PutUint16(payload[20:], 3)
	if _, err := DecodeWAV(payload); err == nil {
		t.Error("expected error for non-PCM format")
	}
}

func TestConformResamplesRate(t *testing.T) {
	clip := Clip{PCM: samplesToBytes(make([]int16, 800)), SampleRate: 8000, Channels: 1}
	out := Conform(clip, 16000, 1)

	if out.SampleRate != 16000 {
		t.Errorf("rate = %d, want 16000", out.SampleRate)
	}
	if out.Frames() != 1600 {
		t.Errorf("frames = %d, want 1600", out.Frames())
	}
}

func TestConformChannels(t *testing.T) {
	mono := Clip{PCM: samplesToBytes([]int16{100, 200}), SampleRate: 16000, Channels: 1}
	stereo := Conform(mono, 16000, 2)
	if got := bytesToSamples(stereo.PCM); len(got) != 4 || got[0] != got[1] || got[2] != got[3] {
		t.Errorf("mono to stereo: %v", got)
	}

	back := Conform(stereo, 16000, 1)
	if got := bytesToSamples(back.PCM); len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Errorf("stereo to mono: %v", got)
	}
}

func TestConformNoopWhenMatching(t *testing.T) {
	clip := Clip{PCM: samplesToBytes([]int16{1, 2, 3}), SampleRate: 16000, Channels: 1}
	out := Conform(clip, 16000, 1)
	if !bytes.Equal(out.PCM, clip.PCM) {
		t.Error("matching clip should pass through unchanged")
	}
}
