package audio

import (
	"github.com/hraban/opus"

	apperrors "github.com/voicewire/voicewire/internal/errors"
)

// FrameEncoder packs capture frames into opus packets for the wire.
// Each packet is handed to the transport the moment it is produced and
// never retained afterwards.
type FrameEncoder struct {
	enc          *opus.Encoder
	channels     int
	frameSamples int
	buf          []byte
}

// NewFrameEncoder creates a VoIP-tuned opus encoder. frameSamples must be
// a frame duration opus accepts (enforced upstream by config validation).
func NewFrameEncoder(sampleRate, channels, frameSamples int) (*FrameEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "opus encoder init failed")
	}
	return &FrameEncoder{
		enc:          enc,
		channels:     channels,
		frameSamples: frameSamples,
		buf:          make([]byte, MaxPacketSize),
	}, nil
}

// Encode turns one capture frame into an opus packet. The returned slice
// is a copy; the encoder's scratch buffer is reused across calls.
func (e *FrameEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != e.frameSamples*e.channels {
		return nil, apperrors.Newf(apperrors.Internal, "encode: got %d samples, want %d", len(pcm), e.frameSamples*e.channels)
	}
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "opus encode failed")
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
