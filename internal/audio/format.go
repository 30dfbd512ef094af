package audio

import (
	"fmt"
	"io"
	"log/slog"

	"codecbridge.dev/internal/mediacodec"
)

// MediaCodecFormatName is the name reported by MediaCodecFormat
const MediaCodecFormatName = "Platform MediaCodec supported file"

// mediaCodecExtensions are delegated wholesale to the platform decoder
var mediaCodecExtensions = []string{".mp3", ".flac", ".ogg", ".aac", ".wav"}

// fileInput is an input that resolves to a concrete, seekable file.
// *os.File and afero.File both qualify.
type fileInput interface {
	io.Reader
	io.Seeker
	Name() string
}

// MediaCodecFormat reads any file the platform media codec understands. It
// parses no bytes itself: the file path is handed to the platform decoder.
type MediaCodecFormat struct {
	opener  mediacodec.Opener
	options ReaderOptions
}

// NewMediaCodecFormat creates a format backed by the given platform decoder
func NewMediaCodecFormat(opener mediacodec.Opener, options ReaderOptions) *MediaCodecFormat {
	slog.Debug("creating media codec format",
		"empty_chunk_policy", options.EmptyChunkPolicy,
		"max_empty_chunk_retries", options.MaxEmptyChunkRetries)
	return &MediaCodecFormat{
		opener:  opener,
		options: options.normalized(),
	}
}

// Name returns the format name
func (f *MediaCodecFormat) Name() string {
	return MediaCodecFormatName
}

// Extensions returns the advertised container/codec extensions
func (f *MediaCodecFormat) Extensions() []string {
	return append([]string(nil), mediaCodecExtensions...)
}

// CanHandleFile checks if the filename has one of the advertised extensions
func (f *MediaCodecFormat) CanHandleFile(filename string) bool {
	canHandle := hasExtension(filename, mediaCodecExtensions)

	slog.Debug("media codec format file check",
		"filename", filename,
		"can_handle", canHandle)

	return canHandle
}

// PossibleSampleRates is empty: the platform decoder decides
func (f *MediaCodecFormat) PossibleSampleRates() []int {
	return []int{}
}

// PossibleBitDepths is empty: the platform decoder decides
func (f *MediaCodecFormat) PossibleBitDepths() []int {
	return []int{}
}

// CanDoStereo reports true: stereo streams are read as two channels
func (f *MediaCodecFormat) CanDoStereo() bool { return true }

// CanDoMono reports true: mono streams are read as one channel
func (f *MediaCodecFormat) CanDoMono() bool { return true }

// Open opens a decode session on input, which must be a file
func (f *MediaCodecFormat) Open(input io.Reader, closeOnFailure bool) (*Reader, error) {
	file, ok := input.(fileInput)
	if !ok {
		slog.Error("media codec format needs a file input", "input_type", fmt.Sprintf("%T", input))
		closeInput(input, closeOnFailure)
		return nil, fmt.Errorf("%w: %T", ErrOpenFailed, input)
	}

	path := file.Name()
	if path == "" {
		slog.Error("file input has no name")
		closeInput(input, closeOnFailure)
		return nil, fmt.Errorf("%w: empty file name", ErrOpenFailed)
	}

	reader, err := newReader(input, path, f.Name(), f.opener, f.options)
	if err != nil {
		closeInput(input, closeOnFailure)
		return nil, err
	}
	return reader, nil
}

// CreateReaderFor implements Format
func (f *MediaCodecFormat) CreateReaderFor(input io.Reader, closeOnFailure bool) (SampleReader, error) {
	reader, err := f.Open(input, closeOnFailure)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

// CreateWriterFor always fails: the platform codec path is decode-only
func (f *MediaCodecFormat) CreateWriterFor(output io.Writer, sampleRate float64, numChannels, bitsPerSample int,
	metadata map[string]string, qualityOptionIndex int) (SampleWriter, error) {
	slog.Warn("write requested on decode-only format",
		"format", f.Name(),
		"sample_rate", sampleRate,
		"channels", numChannels,
		"bits_per_sample", bitsPerSample)
	return nil, fmt.Errorf("%w: %s cannot write", ErrUnsupported, f.Name())
}

func closeInput(input io.Reader, closeOnFailure bool) {
	if !closeOnFailure {
		return
	}
	if closer, ok := input.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close input after open failure", "error", err)
		}
	}
}
