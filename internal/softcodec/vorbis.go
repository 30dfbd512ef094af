package softcodec

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/vorbis"
	"github.com/spf13/afero"
)

// vorbisSource decodes Ogg Vorbis through beep's vorbis streamer, which
// yields float frames in [-1, 1]
type vorbisSource struct {
	name   string
	stream beep.StreamSeekCloser
	format beep.Format
	buf    [][2]float64
}

func openVorbis(file afero.File) (pcmSource, error) {
	slog.Debug("opening Ogg Vorbis stream", "name", file.Name())

	stream, format, err := vorbis.Decode(file)
	if err != nil {
		slog.Error("failed to create Vorbis decoder", "name", file.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if format.SampleRate <= 0 || format.NumChannels < 1 || format.NumChannels > 2 {
		stream.Close()
		slog.Error("unsupported Vorbis layout",
			"sample_rate", format.SampleRate,
			"channels", format.NumChannels)
		return nil, ErrInvalidData
	}

	slog.Debug("Vorbis format detected",
		"sample_rate", format.SampleRate,
		"channels", format.NumChannels,
		"frames", stream.Len())

	return &vorbisSource{name: file.Name(), stream: stream, format: format}, nil
}

func (s *vorbisSource) SampleRate() int { return int(s.format.SampleRate) }
func (s *vorbisSource) Channels() int   { return s.format.NumChannels }

func (s *vorbisSource) Frames() int64 {
	if s.stream.Len() <= 0 {
		return -1
	}
	return int64(s.stream.Len())
}

func (s *vorbisSource) ReadFrames(dst []byte) (int, error) {
	channels := s.format.NumChannels
	frames := len(dst) / (2 * channels)
	if cap(s.buf) < frames {
		s.buf = make([][2]float64, frames)
	}

	n, ok := s.stream.Stream(s.buf[:frames])
	if !ok || n == 0 {
		if err := s.stream.Err(); err != nil {
			slog.Error("failed to read Vorbis PCM data", "name", s.name, "error", err)
			return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
		}
		return 0, io.EOF
	}

	pos := 0
	for _, frame := range s.buf[:n] {
		for ch := range channels {
			putSample(dst, pos, floatTo16(frame[ch]))
			pos += 2
		}
	}
	return n, nil
}

// SeekFrame uses the Ogg page index instead of decoding up to frame
func (s *vorbisSource) SeekFrame(frame int64) error {
	if err := s.stream.Seek(int(frame)); err != nil {
		slog.Error("Vorbis seek failed", "name", s.name, "frame", frame, "error", err)
		return fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	return nil
}

func (s *vorbisSource) Close() error {
	return s.stream.Close()
}

func floatTo16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}
