// Package audio handles microphone capture, level metering, and frame encoding
package audio

const (
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0

	// ChunkBuffer is the capture channel depth; chunks are dropped past it.
	ChunkBuffer = 32

	// MaxPacketSize bounds one encoded opus packet.
	MaxPacketSize = 1500
)
