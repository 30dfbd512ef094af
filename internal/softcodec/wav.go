package softcodec

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

const wavFormatFloat = 3

// wavSource decodes PCM WAV through go-audio/wav
type wavSource struct {
	file     afero.File
	decoder  *wav.Decoder
	rate     int
	channels int
	bitDepth int
	frames   int64
	buf      *audio.IntBuffer
}

func openWav(file afero.File) (pcmSource, error) {
	slog.Debug("opening WAV stream", "name", file.Name())

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		slog.Error("invalid WAV file", "name", file.Name())
		return nil, fmt.Errorf("%w: not a WAV file", ErrInvalidData)
	}

	if decoder.WavAudioFormat == wavFormatFloat {
		slog.Error("floating point WAV is not supported", "name", file.Name())
		return nil, fmt.Errorf("%w: floating point WAV", ErrUnsupportedBitDepth)
	}

	if err := decoder.FwdToPCM(); err != nil {
		slog.Error("failed to seek to WAV PCM data", "name", file.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	rate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)

	slog.Debug("WAV format detected",
		"sample_rate", rate,
		"channels", channels,
		"bits_per_sample", bitDepth)

	if channels == 0 || rate == 0 {
		slog.Error("invalid WAV format parameters",
			"channels", channels,
			"sample_rate", rate)
		return nil, ErrInvalidData
	}

	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		slog.Error("unsupported bit depth", "bits", bitDepth)
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}

	return &wavSource{
		file:     file,
		decoder:  decoder,
		rate:     rate,
		channels: channels,
		bitDepth: bitDepth,
		frames:   decoder.PCMLen() / int64(bitDepth/8*channels),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

func (s *wavSource) SampleRate() int { return s.rate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) Frames() int64   { return s.frames }

func (s *wavSource) ReadFrames(dst []byte) (int, error) {
	want := len(dst) / (2 * s.channels) * s.channels
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		slog.Error("failed to read WAV PCM buffer", "name", s.file.Name(), "error", err)
		return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	frames := n / s.channels
	for i, v := range s.buf.Data[:frames*s.channels] {
		if s.bitDepth == 8 {
			// 8-bit WAV is unsigned
			v -= 128
		}
		putSample(dst, 2*i, scaleTo16(v, s.bitDepth))
	}

	return endOfStream(frames, err)
}

func (s *wavSource) Close() error {
	return s.file.Close()
}
