package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"codecbridge.dev/internal/audio"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

// DefaultResampleQuality is the beep resampling quality used for rate changes
const DefaultResampleQuality = 4

// Options shapes the playback pipeline
type Options struct {
	Volume          float64 // 0.0 to 1.0
	OutputRate      int     // 0 plays at the source rate
	ResampleQuality int
}

// NewPipeline builds Streamer -> optional Resample -> Gain over reader and
// returns the head of the chain with its output rate
func NewPipeline(reader audio.SampleReader, opts Options) (*Streamer, beep.Streamer, beep.SampleRate) {
	source := NewStreamer(reader)
	sourceRate := source.Format().SampleRate

	var stream beep.Streamer = source
	outputRate := sourceRate
	if opts.OutputRate > 0 && beep.SampleRate(opts.OutputRate) != sourceRate {
		quality := opts.ResampleQuality
		if quality <= 0 {
			quality = DefaultResampleQuality
		}
		outputRate = beep.SampleRate(opts.OutputRate)
		stream = beep.Resample(quality, sourceRate, outputRate, stream)
		slog.Debug("resampling for playback", "from", sourceRate, "to", outputRate, "quality", quality)
	}

	volume := min(max(opts.Volume, 0), 1)
	stream = &effects.Gain{Streamer: stream, Gain: volume - 1}

	return source, stream, outputRate
}

// Play runs reader through the pipeline on backend and blocks until the
// stream ends or ctx is done. The reader is closed when playback stops.
func Play(ctx context.Context, backend Backend, reader audio.SampleReader, opts Options) error {
	source, stream, rate := NewPipeline(reader, opts)
	defer func() {
		if err := source.Close(); err != nil {
			slog.Warn("failed to close sample reader after playback", "error", err)
		}
	}()

	slog.Info("starting playback",
		"backend", backend.Name(),
		"sample_rate", rate,
		"volume", opts.Volume,
		"length_in_samples", source.Len())

	if err := backend.Play(ctx, stream, rate); err != nil {
		return fmt.Errorf("%s playback failed: %w", backend.Name(), err)
	}
	if err := source.Err(); err != nil {
		return fmt.Errorf("playback source failed: %w", err)
	}

	slog.Info("playback finished", "backend", backend.Name(), "position", source.Position())
	return nil
}

// pcmReader renders a beep stream as interleaved signed 16-bit little-endian
// stereo. Output devices pull from it on their own thread.
type pcmReader struct {
	mu     sync.Mutex
	stream beep.Streamer
	buf    [][2]float64
	done   bool
}

func newPCMReader(stream beep.Streamer) *pcmReader {
	return &pcmReader{stream: stream}
}

const bytesPerFrame = 4

// Read implements io.Reader. It returns io.EOF once the stream is drained.
func (r *pcmReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return 0, io.EOF
	}

	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if cap(r.buf) < frames {
		r.buf = make([][2]float64, frames)
	}

	n, ok := r.stream.Stream(r.buf[:frames])
	if !ok || n == 0 {
		r.done = true
		return 0, io.EOF
	}

	for i, frame := range r.buf[:n] {
		binary.LittleEndian.PutUint16(p[i*bytesPerFrame:], uint16(toInt16(frame[0])))
		binary.LittleEndian.PutUint16(p[i*bytesPerFrame+2:], uint16(toInt16(frame[1])))
	}
	return n * bytesPerFrame, nil
}

// Err reports the underlying stream error, if any
func (r *pcmReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream.Err()
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}

// isEndOfStream reports whether err only marks the end of the PCM data
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
