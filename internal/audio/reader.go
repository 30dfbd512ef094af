package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"codecbridge.dev/internal/mediacodec"
)

// EmptyChunkPolicy decides what a zero-length decoded chunk means
type EmptyChunkPolicy string

const (
	// EmptyChunkRetry releases the empty chunk and decodes again
	EmptyChunkRetry EmptyChunkPolicy = "retry"
	// EmptyChunkEndOfStream treats an empty chunk as the end of the stream
	EmptyChunkEndOfStream EmptyChunkPolicy = "end_of_stream"
)

// DefaultMaxEmptyChunkRetries bounds consecutive empty chunks under EmptyChunkRetry
const DefaultMaxEmptyChunkRetries = 64

// ReaderOptions tunes the decode loop
type ReaderOptions struct {
	EmptyChunkPolicy     EmptyChunkPolicy
	MaxEmptyChunkRetries int
}

// DefaultReaderOptions returns the retry policy with the default bound
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		EmptyChunkPolicy:     EmptyChunkRetry,
		MaxEmptyChunkRetries: DefaultMaxEmptyChunkRetries,
	}
}

func (o ReaderOptions) normalized() ReaderOptions {
	if o.EmptyChunkPolicy == "" {
		o.EmptyChunkPolicy = EmptyChunkRetry
	}
	if o.MaxEmptyChunkRetries <= 0 {
		o.MaxEmptyChunkRetries = DefaultMaxEmptyChunkRetries
	}
	return o
}

// SessionStats counts the platform decoder traffic of one Reader
type SessionStats struct {
	Seeks          int
	ChunksDecoded  int
	ChunksReleased int
	EmptyChunks    int
	SamplesRead    int64
}

// Reader is a decode session: one opened file bound to one platform decoder.
// It is not safe for concurrent use.
type Reader struct {
	input      io.Reader
	path       string
	formatName string
	decoder    mediacodec.Decoder
	options    ReaderOptions

	sampleRate      int
	numChannels     int
	lengthInSamples int64

	lastReadPosition int64
	seekTarget       int64
	seeking          bool

	current     *mediacodec.Chunk
	currentPos  int // byte offset of the next unread frame in current.Data
	samplesLeft int

	stats  SessionStats
	closed bool
}

// newReader constructs the platform decoder for path and reads back its
// format. No Reader is returned unless sample rate, duration and channel
// count were all obtained.
func newReader(input io.Reader, path, formatName string, opener mediacodec.Opener, options ReaderOptions) (*Reader, error) {
	slog.Debug("constructing platform decoder", "path", path, "format", formatName)

	decoder, err := opener.Open(path)
	if err != nil {
		slog.Error("platform decoder construction failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDecoderInitFailed, err)
	}
	if decoder == nil {
		slog.Error("platform decoder construction returned nothing", "path", path)
		return nil, fmt.Errorf("%w: no decoder for %s", ErrDecoderInitFailed, path)
	}

	if decoderErr := decoder.Err(); decoderErr != nil {
		slog.Error("platform decoder reported an error", "path", path, "error", decoderErr)
		releaseDecoder(decoder, path)
		return nil, fmt.Errorf("%w: %v", ErrDecoderInitFailed, decoderErr)
	}

	sampleRate := decoder.SampleRate()
	durationUs := decoder.DurationMicroseconds()
	numChannels := decoder.ChannelCount()

	if sampleRate <= 0 || numChannels <= 0 || durationUs < 0 {
		slog.Error("platform decoder reported an invalid format",
			"path", path,
			"sample_rate", sampleRate,
			"channels", numChannels,
			"duration_us", durationUs)
		releaseDecoder(decoder, path)
		return nil, fmt.Errorf("%w: invalid format (rate %d, channels %d, duration %dus)",
			ErrDecoderInitFailed, sampleRate, numChannels, durationUs)
	}

	r := &Reader{
		input:           input,
		path:            path,
		formatName:      formatName,
		decoder:         decoder,
		options:         options.normalized(),
		sampleRate:      sampleRate,
		numChannels:     numChannels,
		lengthInSamples: SamplesForDuration(durationUs, sampleRate),
	}

	slog.Info("decode session opened",
		"path", path,
		"sample_rate", r.sampleRate,
		"channels", r.numChannels,
		"duration_us", durationUs,
		"length_samples", r.lengthInSamples)

	return r, nil
}

func releaseDecoder(decoder mediacodec.Decoder, path string) {
	if err := decoder.Release(); err != nil {
		slog.Warn("failed to release platform decoder", "path", path, "error", err)
	}
}

// Info returns the stream's format metadata
func (r *Reader) Info() StreamInfo {
	return StreamInfo{
		FormatName:            r.formatName,
		SampleRate:            r.sampleRate,
		NumChannels:           r.numChannels,
		LengthInSamples:       r.lengthInSamples,
		BitsPerSample:         16,
		UsesFloatingPointData: false,
	}
}

// Path returns the file path the platform decoder was opened with
func (r *Reader) Path() string {
	return r.path
}

// Position returns the decode cursor: the next sample produced without a seek
func (r *Reader) Position() int64 {
	return r.lastReadPosition
}

// Stats returns the decoder traffic counters for this session
func (r *Reader) Stats() SessionStats {
	return r.stats
}

// ReadSamples implements SampleReader
func (r *Reader) ReadSamples(dest [][]int32, destOffset int, startSampleInFile int64, numSamples int) error {
	if r.closed {
		return ErrReaderClosed
	}
	if numSamples > 0 && !checkDestination(dest, destOffset, numSamples) {
		return fmt.Errorf("%w: need %d samples at offset %d", ErrBufferTooSmall, numSamples, destOffset)
	}

	if startSampleInFile < 0 && numSamples > 0 {
		silence := int(min(-startSampleInFile, int64(numSamples)))
		clearChannels(dest, destOffset, silence)
		destOffset += silence
		numSamples -= silence
		startSampleInFile = 0
	}

	numSamples = ClearSamplesBeyondAvailableLength(dest, destOffset, startSampleInFile, numSamples, r.lengthInSamples)
	if numSamples <= 0 {
		return nil
	}

	if r.lastReadPosition != startSampleInFile {
		if err := r.seek(startSampleInFile); err != nil {
			return err
		}
	}

	samplesLeftToCopy := numSamples
	for samplesLeftToCopy > 0 {
		if r.samplesLeft <= 0 {
			ok, err := r.decode()
			if err != nil {
				return err
			}
			if !ok {
				slog.Debug("end of stream reached during read",
					"path", r.path,
					"position", r.lastReadPosition,
					"unfilled_samples", samplesLeftToCopy)
				return nil
			}
		}

		available := min(samplesLeftToCopy, r.samplesLeft)
		r.copyFrames(dest, destOffset, available)

		destOffset += available
		samplesLeftToCopy -= available
		r.samplesLeft -= available
		r.lastReadPosition += int64(available)
		r.stats.SamplesRead += int64(available)

		if r.samplesLeft == 0 {
			if err := r.releaseCurrentChunk(); err != nil {
				return err
			}
		}
	}

	return nil
}

// seek drops the current chunk and repositions the platform decoder
func (r *Reader) seek(target int64) error {
	if err := r.releaseCurrentChunk(); err != nil {
		return err
	}

	positionUs := SeekPositionUs(target, r.sampleRate)
	slog.Debug("seeking platform decoder",
		"path", r.path,
		"from", r.lastReadPosition,
		"to", target,
		"position_us", positionUs)

	if err := r.decoder.Seek(positionUs); err != nil {
		slog.Error("platform decoder seek failed", "path", r.path, "position_us", positionUs, "error", err)
		return fmt.Errorf("%w: seek to %dus: %v", ErrDecodeFailed, positionUs, err)
	}

	r.stats.Seeks++
	r.lastReadPosition = target
	r.seekTarget = target
	r.seeking = true
	return nil
}

// decode performs decode steps until it holds a chunk with unread frames.
// It returns false at end of stream.
func (r *Reader) decode() (bool, error) {
	bytesPerFrame := 2 * r.numChannels
	emptyChunks := 0

	for {
		if err := r.releaseCurrentChunk(); err != nil {
			return false, err
		}

		chunk, err := r.decoder.Decode()
		if err != nil {
			slog.Error("platform decoder decode failed", "path", r.path, "error", err)
			return false, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		if chunk == nil {
			return false, nil
		}

		r.current = chunk
		r.currentPos = chunk.DataOffset
		r.stats.ChunksDecoded++

		if !chunk.Valid() {
			slog.Error("malformed chunk from platform decoder",
				"path", r.path,
				"buffer_index", chunk.BufferIndex,
				"data_offset", chunk.DataOffset,
				"data_size", chunk.DataSize,
				"buffer_len", len(chunk.Data))
			releaseErr := r.releaseCurrentChunk()
			return false, errors.Join(
				fmt.Errorf("%w: offset %d size %d buffer %d", ErrMalformedChunk, chunk.DataOffset, chunk.DataSize, len(chunk.Data)),
				releaseErr)
		}

		r.samplesLeft = chunk.DataSize / bytesPerFrame

		if r.samplesLeft == 0 {
			r.stats.EmptyChunks++
			if err := r.releaseCurrentChunk(); err != nil {
				return false, err
			}
			if r.options.EmptyChunkPolicy == EmptyChunkEndOfStream {
				slog.Debug("empty chunk treated as end of stream", "path", r.path)
				return false, nil
			}

			emptyChunks++
			if emptyChunks > r.options.MaxEmptyChunkRetries {
				slog.Error("platform decoder stalled on empty chunks",
					"path", r.path,
					"empty_chunks", emptyChunks)
				return false, fmt.Errorf("%w: %d in a row", ErrDecoderStalled, emptyChunks)
			}
			continue
		}
		emptyChunks = 0

		// Outside a seek the cursor already counts every frame handed out;
		// timestamps are only trusted to find where a seek landed.
		if r.seeking {
			position := sampleForTimestamp(chunk.PresentationTimeUs, r.sampleRate)
			if position < r.seekTarget {
				skip := int(min(r.seekTarget-position, int64(r.samplesLeft)))
				r.currentPos += skip * bytesPerFrame
				r.samplesLeft -= skip
				position += int64(skip)
			}
			r.lastReadPosition = position
			if r.samplesLeft == 0 {
				continue
			}
			r.seeking = false
		}

		return true, nil
	}
}

// copyFrames converts n interleaved int16 frames from the current chunk into
// the destination channels and advances the chunk read offset
func (r *Reader) copyFrames(dest [][]int32, destOffset, n int) {
	data := r.current.Data
	stride := 2 * r.numChannels

	for ch, channel := range dest {
		if channel == nil {
			continue
		}
		out := channel[destOffset : destOffset+n]
		if ch >= r.numChannels {
			clear(out)
			continue
		}

		pos := r.currentPos + 2*ch
		for i := range out {
			out[i] = int32(int16(binary.LittleEndian.Uint16(data[pos:]))) << 16
			pos += stride
		}
	}

	r.currentPos += n * stride
}

// releaseCurrentChunk hands the outstanding chunk back to the platform
// decoder. State is cleared first so a failing release is never retried.
func (r *Reader) releaseCurrentChunk() error {
	if r.current == nil {
		return nil
	}

	index := r.current.BufferIndex
	r.current = nil
	r.currentPos = 0
	r.samplesLeft = 0
	r.stats.ChunksReleased++

	if err := r.decoder.ReleaseBuffer(index); err != nil {
		slog.Error("failed to release decoder buffer", "path", r.path, "buffer_index", index, "error", err)
		return fmt.Errorf("%w: release buffer %d: %v", ErrDecodeFailed, index, err)
	}
	return nil
}

// Close releases the outstanding chunk, then the platform decoder, then the
// input. Calling Close again is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		slog.Debug("decode session already closed", "path", r.path)
		return nil
	}
	r.closed = true

	var errs []error
	if err := r.releaseCurrentChunk(); err != nil {
		errs = append(errs, err)
	}

	if err := r.decoder.Release(); err != nil {
		slog.Error("failed to release platform decoder", "path", r.path, "error", err)
		errs = append(errs, fmt.Errorf("release decoder: %w", err))
	}

	if closer, ok := r.input.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input: %w", err))
		}
	}

	slog.Debug("decode session closed",
		"path", r.path,
		"seeks", r.stats.Seeks,
		"chunks_decoded", r.stats.ChunksDecoded,
		"chunks_released", r.stats.ChunksReleased,
		"samples_read", r.stats.SamplesRead)

	return errors.Join(errs...)
}
