package softcodec

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
	"github.com/spf13/afero"
)

// aiffSource decodes AIFF through go-audio/aiff
type aiffSource struct {
	file     afero.File
	decoder  *aiff.Decoder
	rate     int
	channels int
	bitDepth int
	frames   int64
	buf      *audio.IntBuffer
}

func openAiff(file afero.File) (pcmSource, error) {
	slog.Debug("opening AIFF stream", "name", file.Name())

	decoder := aiff.NewDecoder(file)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		slog.Error("invalid AIFF file format", "name", file.Name())
		return nil, fmt.Errorf("%w: not an AIFF file", ErrInvalidData)
	}

	rate := decoder.SampleRate
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)

	slog.Debug("AIFF format detected",
		"sample_rate", rate,
		"channels", channels,
		"bits_per_sample", bitDepth,
		"frames", decoder.NumSampleFrames)

	if channels == 0 || rate == 0 || bitDepth == 0 {
		slog.Error("invalid AIFF format parameters",
			"channels", channels,
			"sample_rate", rate,
			"bit_depth", bitDepth)
		return nil, ErrInvalidData
	}

	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		slog.Error("unsupported bit depth", "bits", bitDepth)
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}

	return &aiffSource{
		file:     file,
		decoder:  decoder,
		rate:     rate,
		channels: channels,
		bitDepth: bitDepth,
		frames:   int64(decoder.NumSampleFrames),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

func (s *aiffSource) SampleRate() int { return s.rate }
func (s *aiffSource) Channels() int   { return s.channels }
func (s *aiffSource) Frames() int64   { return s.frames }

func (s *aiffSource) ReadFrames(dst []byte) (int, error) {
	want := len(dst) / (2 * s.channels) * s.channels
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		slog.Error("failed to read AIFF samples", "name", s.file.Name(), "error", err)
		return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	frames := n / s.channels
	for i, v := range s.buf.Data[:frames*s.channels] {
		putSample(dst, 2*i, scaleTo16(v, s.bitDepth))
	}

	return endOfStream(frames, err)
}

func (s *aiffSource) Close() error {
	return s.file.Close()
}
