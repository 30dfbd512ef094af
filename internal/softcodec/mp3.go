package softcodec

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hajimehoshi/go-mp3"
	"github.com/spf13/afero"
)

// go-mp3 always produces 16-bit stereo
const (
	mp3Channels      = 2
	mp3BytesPerFrame = 4
)

// mp3Source decodes MPEG audio through go-mp3
type mp3Source struct {
	file    afero.File
	decoder *mp3.Decoder
}

func openMp3(file afero.File) (pcmSource, error) {
	slog.Debug("opening MP3 stream", "name", file.Name())

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		slog.Error("failed to create MP3 decoder", "name", file.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	if decoder.SampleRate() <= 0 {
		slog.Error("invalid MP3 sample rate", "sample_rate", decoder.SampleRate())
		return nil, ErrInvalidData
	}

	slog.Debug("MP3 format detected",
		"sample_rate", decoder.SampleRate(),
		"channels", mp3Channels,
		"length_bytes", decoder.Length())

	return &mp3Source{file: file, decoder: decoder}, nil
}

func (s *mp3Source) SampleRate() int { return s.decoder.SampleRate() }
func (s *mp3Source) Channels() int   { return mp3Channels }

func (s *mp3Source) Frames() int64 {
	length := s.decoder.Length()
	if length < 0 {
		return -1
	}
	return length / mp3BytesPerFrame
}

func (s *mp3Source) ReadFrames(dst []byte) (int, error) {
	want := len(dst) / mp3BytesPerFrame * mp3BytesPerFrame

	n, err := io.ReadFull(s.decoder, dst[:want])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		slog.Error("failed to read MP3 PCM data", "name", s.file.Name(), "error", err)
		return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	return endOfStream(n/mp3BytesPerFrame, err)
}

// SeekFrame uses go-mp3's own seek table instead of decoding up to frame
func (s *mp3Source) SeekFrame(frame int64) error {
	if _, err := s.decoder.Seek(frame*mp3BytesPerFrame, io.SeekStart); err != nil {
		slog.Error("MP3 seek failed", "name", s.file.Name(), "frame", frame, "error", err)
		return fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	return nil
}

func (s *mp3Source) Close() error {
	return s.file.Close()
}
