package audio

import (
	"errors"
	"io"
	"strings"
)

// Common reader errors
var (
	ErrOpenFailed        = errors.New("input cannot be resolved to a file")
	ErrDecoderInitFailed = errors.New("platform decoder failed to initialize")
	ErrUnsupported       = errors.New("operation not supported by this format")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrReaderClosed      = errors.New("audio reader is closed")
	ErrDecodeFailed      = errors.New("platform decoder failed")
	ErrDecoderStalled    = errors.New("platform decoder keeps returning empty chunks")
	ErrMalformedChunk    = errors.New("decoded chunk exceeds its buffer")
	ErrBufferTooSmall    = errors.New("destination buffer too small")
)

// StreamInfo describes the audio a SampleReader produces
type StreamInfo struct {
	FormatName            string // Name of the format that opened the stream
	SampleRate            int    // Sample rate in Hz
	NumChannels           int    // Number of source channels
	LengthInSamples       int64  // Total length in sample frames
	BitsPerSample         int    // Bit depth of the decoded source
	UsesFloatingPointData bool   // Whether the source data is floating point
}

// SampleReader is the generic multi-channel sample reader contract
type SampleReader interface {
	// Info returns the stream's format metadata
	Info() StreamInfo

	// ReadSamples fills dest[ch][destOffset:destOffset+numSamples] with
	// full-scale int32 samples starting at startSampleInFile. nil channels
	// are skipped. Reading past the end of the stream is not an error; the
	// unread tail of each channel is left as the caller seeded it.
	ReadSamples(dest [][]int32, destOffset int, startSampleInFile int64, numSamples int) error

	// Close releases the reader and everything it owns
	Close() error
}

// SampleWriter is the write-side counterpart of SampleReader
type SampleWriter interface {
	WriteSamples(src [][]int32, numSamples int) error
	Close() error
}

// Format describes one audio file format and creates readers for it
type Format interface {
	// Name returns a human readable format name
	Name() string

	// Extensions returns the file extensions this format claims, with dots
	Extensions() []string

	// CanHandleFile checks the filename's extension against Extensions
	CanHandleFile(filename string) bool

	PossibleSampleRates() []int
	PossibleBitDepths() []int
	CanDoStereo() bool
	CanDoMono() bool

	// CreateReaderFor opens a reader on input. When opening fails and
	// closeOnFailure is set, input is closed if it is an io.Closer.
	CreateReaderFor(input io.Reader, closeOnFailure bool) (SampleReader, error)

	// CreateWriterFor opens a writer on output
	CreateWriterFor(output io.Writer, sampleRate float64, numChannels, bitsPerSample int,
		metadata map[string]string, qualityOptionIndex int) (SampleWriter, error)
}

// hasExtension reports whether filename ends with one of extensions
func hasExtension(filename string, extensions []string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
