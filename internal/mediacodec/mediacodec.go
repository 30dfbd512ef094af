// Package mediacodec defines the contract between the file reader and a
// platform media codec. The codec owns a finite pool of output buffers; every
// Chunk handed out by Decode must be returned with ReleaseBuffer.
package mediacodec

import "errors"

// Common codec errors
var (
	ErrNoFreeBuffer       = errors.New("no free output buffer")
	ErrInvalidBufferIndex = errors.New("invalid output buffer index")
	ErrDecoderReleased    = errors.New("decoder has been released")
	ErrUnsupportedCodec   = errors.New("unsupported codec")
)

// Chunk is one decode step's output. Data belongs to the codec's buffer pool
// and stays valid until the chunk is released.
type Chunk struct {
	BufferIndex        int    // Pool slot to hand back to ReleaseBuffer
	DataSize           int    // Number of valid bytes
	DataOffset         int    // Offset of the first valid byte in Data
	PresentationTimeUs int64  // Timestamp of the first frame in microseconds
	Data               []byte // 16-bit little-endian interleaved PCM
}

// Valid reports whether the chunk's byte span lies inside its buffer.
func (c *Chunk) Valid() bool {
	return c.DataOffset >= 0 && c.DataSize >= 0 && c.DataOffset+c.DataSize <= len(c.Data)
}

// Decoder is a single platform decoder instance bound to one file.
type Decoder interface {
	// Err reports a construction-time failure, nil when the decoder is usable.
	Err() error

	SampleRate() int
	DurationMicroseconds() int64
	ChannelCount() int

	// Decode returns the next chunk, or nil at end of stream.
	Decode() (*Chunk, error)

	// ReleaseBuffer returns a chunk's buffer to the pool.
	ReleaseBuffer(index int) error

	// Seek repositions the decoder. The next chunk's timestamp reports where
	// decoding actually resumed.
	Seek(positionUs int64) error

	// Release frees the decoder and all its buffers.
	Release() error
}

// Opener constructs platform decoders by file path.
type Opener interface {
	Open(path string) (Decoder, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Decoder, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Decoder, error) {
	return f(path)
}
