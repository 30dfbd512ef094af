package softcodec

import (
	"errors"
	"io"
)

// Common software codec errors
var (
	ErrInvalidData         = errors.New("invalid audio data")
	ErrReadFailure         = errors.New("failed to read audio data")
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")
)

// pcmSource produces interleaved 16-bit little-endian frames from one opened
// stream. Every backend converts its native sample layout to this form.
type pcmSource interface {
	SampleRate() int
	Channels() int

	// Frames returns the total frame count, or -1 when the container does
	// not declare it
	Frames() int64

	// ReadFrames fills dst with whole frames and returns how many were
	// written. It returns 0, io.EOF once the stream is exhausted.
	ReadFrames(dst []byte) (int, error)

	Close() error
}

// frameSeeker is implemented by sources that can reposition without decoding
// the skipped frames
type frameSeeker interface {
	SeekFrame(frame int64) error
}

// scaleTo16 converts a signed sample of the given bit depth to 16 bits
func scaleTo16(v, bitDepth int) int16 {
	switch {
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(v << (16 - bitDepth))
	default:
		return int16(v)
	}
}

func putSample(dst []byte, pos int, v int16) {
	dst[pos] = byte(v)
	dst[pos+1] = byte(uint16(v) >> 8)
}

// endOfStream maps a short read at the end of a stream to the source contract
func endOfStream(frames int, err error) (int, error) {
	if frames > 0 {
		return frames, nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, io.EOF
	}
	return 0, err
}
