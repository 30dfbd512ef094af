package softcodec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/spf13/afero"
)

// flacSource decodes FLAC frame by frame through mewkiz/flac
type flacSource struct {
	file     afero.File
	stream   *flac.Stream
	rate     int
	channels int
	bitDepth int
	frames   int64

	pending *frame.Frame // partially consumed frame
	offset  int          // next unread sample in pending
}

func openFlac(file afero.File) (pcmSource, error) {
	slog.Debug("opening FLAC stream", "name", file.Name())

	stream, err := flac.New(file)
	if err != nil {
		slog.Error("failed to create FLAC decoder", "name", file.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	info := stream.Info
	rate := int(info.SampleRate)
	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)

	slog.Debug("FLAC format detected",
		"sample_rate", rate,
		"channels", channels,
		"bits_per_sample", bitDepth,
		"frames", info.NSamples)

	if rate == 0 || channels == 0 || bitDepth == 0 {
		slog.Error("invalid FLAC stream info",
			"channels", channels,
			"sample_rate", rate,
			"bit_depth", bitDepth)
		return nil, ErrInvalidData
	}

	frames := int64(info.NSamples)
	if frames == 0 {
		// NSamples of zero means the encoder did not know the length
		frames = -1
	}

	return &flacSource{
		file:     file,
		stream:   stream,
		rate:     rate,
		channels: channels,
		bitDepth: bitDepth,
		frames:   frames,
	}, nil
}

func (s *flacSource) SampleRate() int { return s.rate }
func (s *flacSource) Channels() int   { return s.channels }
func (s *flacSource) Frames() int64   { return s.frames }

func (s *flacSource) ReadFrames(dst []byte) (int, error) {
	want := len(dst) / (2 * s.channels)
	written := 0

	for written < want {
		if s.pending == nil || s.offset >= len(s.pending.Subframes[0].Samples) {
			next, err := s.stream.ParseNext()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return endOfStream(written, io.EOF)
				}
				slog.Error("failed to parse FLAC frame", "name", s.file.Name(), "error", err)
				return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
			}
			if len(next.Subframes) < s.channels {
				return 0, fmt.Errorf("%w: frame has %d subframes, stream has %d channels",
					ErrInvalidData, len(next.Subframes), s.channels)
			}
			s.pending = next
			s.offset = 0
		}

		available := len(s.pending.Subframes[0].Samples) - s.offset
		n := min(available, want-written)
		pos := written * 2 * s.channels
		for i := s.offset; i < s.offset+n; i++ {
			for ch := 0; ch < s.channels; ch++ {
				putSample(dst, pos, scaleTo16(int(s.pending.Subframes[ch].Samples[i]), s.bitDepth))
				pos += 2
			}
		}
		s.offset += n
		written += n
	}

	return written, nil
}

func (s *flacSource) Close() error {
	if err := s.stream.Close(); err != nil {
		slog.Debug("FLAC stream close reported an error", "name", s.file.Name(), "error", err)
	}
	if err := s.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
