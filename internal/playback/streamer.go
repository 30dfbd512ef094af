// Package playback plays any audio.SampleReader through a beep pipeline
// into a malgo or oto output device.
package playback

import (
	"fmt"
	"log/slog"

	"codecbridge.dev/internal/audio"
	"github.com/gopxl/beep"
)

const fullScale = float64(1 << 31)

// Streamer adapts an audio.SampleReader to beep.StreamSeekCloser. Sources
// with more than two channels play their first two; mono is duplicated.
type Streamer struct {
	reader   audio.SampleReader
	info     audio.StreamInfo
	channels int
	pos      int64
	buf      [][]int32
	err      error
}

// NewStreamer wraps reader. Closing the streamer closes the reader.
func NewStreamer(reader audio.SampleReader) *Streamer {
	info := reader.Info()
	channels := min(max(info.NumChannels, 1), 2)

	slog.Debug("creating sample reader streamer",
		"format", info.FormatName,
		"sample_rate", info.SampleRate,
		"source_channels", info.NumChannels,
		"length_in_samples", info.LengthInSamples)

	return &Streamer{
		reader:   reader,
		info:     info,
		channels: channels,
		buf:      make([][]int32, channels),
	}
}

// Format returns the beep format of the source
func (s *Streamer) Format() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(s.info.SampleRate),
		NumChannels: s.channels,
		Precision:   2,
	}
}

// Stream implements beep.Streamer
func (s *Streamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.err != nil {
		return 0, false
	}

	remaining := s.info.LengthInSamples - s.pos
	if remaining <= 0 {
		return 0, false
	}
	n = int(min(int64(len(samples)), remaining))

	for ch := range s.buf {
		if cap(s.buf[ch]) < n {
			s.buf[ch] = make([]int32, n)
		}
		s.buf[ch] = s.buf[ch][:n]
		clear(s.buf[ch])
	}

	if err := s.reader.ReadSamples(s.buf, 0, s.pos, n); err != nil {
		slog.Error("sample reader failed during playback", "position", s.pos, "error", err)
		s.err = err
		return 0, false
	}

	left, right := s.buf[0], s.buf[len(s.buf)-1]
	for i := range n {
		samples[i] = [2]float64{float64(left[i]) / fullScale, float64(right[i]) / fullScale}
	}

	s.pos += int64(n)
	return n, true
}

// Err implements beep.Streamer
func (s *Streamer) Err() error {
	return s.err
}

// Len implements beep.StreamSeeker
func (s *Streamer) Len() int {
	return int(s.info.LengthInSamples)
}

// Position implements beep.StreamSeeker
func (s *Streamer) Position() int {
	return int(s.pos)
}

// Seek implements beep.StreamSeeker
func (s *Streamer) Seek(p int) error {
	if p < 0 || int64(p) > s.info.LengthInSamples {
		return fmt.Errorf("seek position %d out of range [0, %d]", p, s.info.LengthInSamples)
	}
	s.pos = int64(p)
	return nil
}

// Close implements beep.StreamCloser
func (s *Streamer) Close() error {
	return s.reader.Close()
}
