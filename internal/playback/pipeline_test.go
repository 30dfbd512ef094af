package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"codecbridge.dev/internal/audio"
	"github.com/gopxl/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainBackend pulls the whole stream through a pcmReader without a device
type drainBackend struct {
	pcm      []byte
	rate     beep.SampleRate
	playErr  error
	canceled bool
}

func (b *drainBackend) Name() string    { return "drain" }
func (b *drainBackend) IsPlaying() bool { return false }
func (b *drainBackend) Close() error    { return nil }

func (b *drainBackend) Play(ctx context.Context, stream beep.Streamer, rate beep.SampleRate) error {
	if b.playErr != nil {
		return b.playErr
	}
	if ctx.Err() != nil {
		b.canceled = true
		return nil
	}
	b.rate = rate
	data, err := io.ReadAll(newPCMReader(stream))
	b.pcm = data
	return err
}

func pcmFrame(data []byte, frame int) (int16, int16) {
	off := frame * bytesPerFrame
	return int16(binary.LittleEndian.Uint16(data[off:])), int16(binary.LittleEndian.Uint16(data[off+2:]))
}

func TestPlayAtFullVolume(t *testing.T) {
	reader := newFakeReader(2, 1000)
	backend := &drainBackend{}

	require.NoError(t, Play(context.Background(), backend, reader, Options{Volume: 1}))

	assert.Equal(t, beep.SampleRate(8000), backend.rate)
	require.Len(t, backend.pcm, 1000*bytesPerFrame)
	left, right := pcmFrame(backend.pcm, 9)
	assert.Equal(t, toInt16(expectedSample(9, 0)), left)
	assert.Equal(t, toInt16(expectedSample(9, 1)), right)
	assert.Equal(t, 1, reader.closed, "playback closes the reader")
}

func TestPlayAppliesVolume(t *testing.T) {
	backend := &drainBackend{}

	require.NoError(t, Play(context.Background(), backend, newFakeReader(2, 100), Options{Volume: 0.5}))

	left, _ := pcmFrame(backend.pcm, 99)
	full := toInt16(expectedSample(99, 0))
	assert.InDelta(t, float64(full)/2, float64(left), 1)
}

func TestPlayMutedIsSilent(t *testing.T) {
	backend := &drainBackend{}

	require.NoError(t, Play(context.Background(), backend, newFakeReader(2, 50), Options{Volume: 0}))

	for frame := range 50 {
		left, right := pcmFrame(backend.pcm, frame)
		assert.Zero(t, left)
		assert.Zero(t, right)
	}
}

func TestPlayResamples(t *testing.T) {
	backend := &drainBackend{}

	require.NoError(t, Play(context.Background(), backend, newFakeReader(2, 8000), Options{Volume: 1, OutputRate: 16000}))

	assert.Equal(t, beep.SampleRate(16000), backend.rate)
	frames := len(backend.pcm) / bytesPerFrame
	assert.InDelta(t, 16000, frames, 200, "one second of audio at the output rate")
}

func TestPlayReportsSourceErrors(t *testing.T) {
	reader := newFakeReader(2, 100)
	reader.readErr = audio.ErrDecoderStalled

	err := Play(context.Background(), &drainBackend{}, reader, Options{Volume: 1})
	assert.ErrorIs(t, err, audio.ErrDecoderStalled)
	assert.Equal(t, 1, reader.closed)
}

func TestPlayReportsBackendErrors(t *testing.T) {
	reader := newFakeReader(2, 100)
	err := Play(context.Background(), &drainBackend{playErr: ErrBackendNotAvailable}, reader, Options{})

	assert.ErrorIs(t, err, ErrBackendNotAvailable)
	assert.ErrorContains(t, err, "drain playback failed")
	assert.Equal(t, 1, reader.closed)
}

func TestPlayCancelledIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backend := &drainBackend{}

	require.NoError(t, Play(ctx, backend, newFakeReader(2, 100), Options{Volume: 1}))
	assert.True(t, backend.canceled)
}

func TestPCMReader(t *testing.T) {
	t.Run("partial frames are not written", func(t *testing.T) {
		r := newPCMReader(NewStreamer(newFakeReader(2, 10)))
		n, err := r.Read(make([]byte, 3))
		assert.Zero(t, n)
		assert.NoError(t, err)
	})

	t.Run("eof is sticky", func(t *testing.T) {
		r := newPCMReader(NewStreamer(newFakeReader(2, 2)))
		buf := make([]byte, 64)

		n, err := r.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 2*bytesPerFrame, n)

		_, err = r.Read(buf)
		assert.ErrorIs(t, err, io.EOF)
		_, err = r.Read(buf)
		assert.ErrorIs(t, err, io.EOF)
		assert.NoError(t, r.Err())
	})

	t.Run("stream errors surface through Err", func(t *testing.T) {
		reader := newFakeReader(2, 10)
		reader.readErr = errors.New("gone")
		r := newPCMReader(NewStreamer(reader))

		_, err := r.Read(make([]byte, 16))
		assert.ErrorIs(t, err, io.EOF)
		assert.ErrorContains(t, r.Err(), "gone")
	})
}

func TestToInt16Clamps(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), toInt16(2))
	assert.Equal(t, int16(-math.MaxInt16), toInt16(-2))
	assert.Zero(t, toInt16(0))
}

func TestIsEndOfStream(t *testing.T) {
	assert.True(t, isEndOfStream(io.EOF))
	assert.True(t, isEndOfStream(io.ErrUnexpectedEOF))
	assert.False(t, isEndOfStream(errors.New("device lost")))
}
