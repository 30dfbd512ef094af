package softcodec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youpy/go-wav"

	"codecbridge.dev/internal/audio"
	"codecbridge.dev/internal/mediacodec"
)

// pattern is the 16-bit value written for a frame/channel in test fixtures
func pattern(frame, channel int) int {
	return (frame*7 + channel*1000) % 30000
}

func writeTestWav(t *testing.T, fs afero.Fs, path string, channels, sampleRate, frames int) {
	t.Helper()

	var buf bytes.Buffer
	writer := wav.NewWriter(&buf, uint32(frames), uint16(channels), uint32(sampleRate), 16)

	samples := make([]wav.Sample, frames)
	for f := range samples {
		for ch := 0; ch < channels; ch++ {
			samples[f].Values[ch] = pattern(f, ch)
		}
	}
	require.NoError(t, writer.WriteSamples(samples))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func openTestDecoder(t *testing.T, fs afero.Fs, path string, config Config) *Decoder {
	t.Helper()

	decoder, err := New(fs, config).Open(path)
	require.NoError(t, err)
	require.NoError(t, decoder.Err())

	d := decoder.(*Decoder)
	t.Cleanup(func() { d.Release() })
	return d
}

func frameAt(chunk *mediacodec.Chunk, channels, frame, channel int) int {
	pos := chunk.DataOffset + (frame*channels+channel)*2
	return int(int16(binary.LittleEndian.Uint16(chunk.Data[pos:])))
}

func TestDecoderReportsWavFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/clips/tone.wav", 2, 8000, 1000)

	d := openTestDecoder(t, fs, "/clips/tone.wav", DefaultConfig())

	assert.Equal(t, 8000, d.SampleRate())
	assert.Equal(t, 2, d.ChannelCount())
	assert.Equal(t, int64(125_000), d.DurationMicroseconds())
	assert.Equal(t, "wav", d.Kind())
}

func TestDecodeProducesInterleavedPCM(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/tone.wav", 2, 8000, 600)

	d := openTestDecoder(t, fs, "/tone.wav", Config{BufferCount: 2, FramesPerBuffer: 256})

	first, err := d.Decode()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Valid())
	assert.Equal(t, 256*2*2, first.DataSize)
	assert.Equal(t, int64(0), first.PresentationTimeUs)
	assert.Equal(t, pattern(0, 0), frameAt(first, 2, 0, 0))
	assert.Equal(t, pattern(255, 1), frameAt(first, 2, 255, 1))
	require.NoError(t, d.ReleaseBuffer(first.BufferIndex))

	second, err := d.Decode()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, int64(32_000), second.PresentationTimeUs)
	assert.Equal(t, pattern(256, 0), frameAt(second, 2, 0, 0))
}

func TestDecodeEndOfStream(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/short.wav", 1, 8000, 300)

	d := openTestDecoder(t, fs, "/short.wav", Config{BufferCount: 4, FramesPerBuffer: 256})

	first, err := d.Decode()
	require.NoError(t, err)
	require.NotNil(t, first)

	last, err := d.Decode()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 44*2, last.DataSize)

	end, err := d.Decode()
	require.NoError(t, err)
	assert.Nil(t, end)
}

func TestPresentationTimesRoundTripToFrames(t *testing.T) {
	for _, rate := range []int{8000, 22050, 44100, 48000, 96000} {
		for _, frame := range []int64{0, 1, 255, 1024, 44099, 1_000_003} {
			pts := presentationTimeUs(frame, rate)
			assert.Equal(t, frame, audio.SamplesForDuration(pts, rate), "rate %d frame %d", rate, frame)
		}
	}
}

func TestBufferPoolExhaustion(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/pool.wav", 1, 8000, 2000)

	d := openTestDecoder(t, fs, "/pool.wav", Config{BufferCount: 2, FramesPerBuffer: 100})

	a, err := d.Decode()
	require.NoError(t, err)
	b, err := d.Decode()
	require.NoError(t, err)
	assert.NotEqual(t, a.BufferIndex, b.BufferIndex)

	_, err = d.Decode()
	assert.ErrorIs(t, err, mediacodec.ErrNoFreeBuffer)

	require.NoError(t, d.ReleaseBuffer(a.BufferIndex))
	c, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, a.BufferIndex, c.BufferIndex)
	assert.Equal(t, pattern(200, 0), frameAt(c, 1, 0, 0), "a failed decode must not skip frames")
}

func TestReleaseBufferRejectsUnknownIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/pool.wav", 1, 8000, 500)

	d := openTestDecoder(t, fs, "/pool.wav", Config{BufferCount: 2, FramesPerBuffer: 100})

	assert.ErrorIs(t, d.ReleaseBuffer(-1), mediacodec.ErrInvalidBufferIndex)
	assert.ErrorIs(t, d.ReleaseBuffer(2), mediacodec.ErrInvalidBufferIndex)
	assert.ErrorIs(t, d.ReleaseBuffer(0), mediacodec.ErrInvalidBufferIndex)

	chunk, err := d.Decode()
	require.NoError(t, err)
	require.NoError(t, d.ReleaseBuffer(chunk.BufferIndex))
	assert.ErrorIs(t, d.ReleaseBuffer(chunk.BufferIndex), mediacodec.ErrInvalidBufferIndex)
}

func TestSeekForwardAndBackward(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/seek.wav", 2, 44100, 3000)

	d := openTestDecoder(t, fs, "/seek.wav", Config{BufferCount: 2, FramesPerBuffer: 128})

	require.NoError(t, d.Seek(audio.SeekPositionUs(1500, 44100)))
	chunk, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(1500), audio.SamplesForDuration(chunk.PresentationTimeUs, 44100))
	assert.Equal(t, pattern(1500, 1), frameAt(chunk, 2, 0, 1))
	require.NoError(t, d.ReleaseBuffer(chunk.BufferIndex))

	require.NoError(t, d.Seek(audio.SeekPositionUs(10, 44100)))
	chunk, err = d.Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(10), audio.SamplesForDuration(chunk.PresentationTimeUs, 44100))
	assert.Equal(t, pattern(10, 0), frameAt(chunk, 2, 0, 0))
}

func TestSeekPastEndYieldsEndOfStream(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/seek.wav", 1, 8000, 100)

	d := openTestDecoder(t, fs, "/seek.wav", DefaultConfig())

	require.NoError(t, d.Seek(10_000_000))
	chunk, err := d.Decode()
	require.NoError(t, err)
	assert.Nil(t, chunk)
}

func TestSeekReturnsOutstandingBuffers(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/seek.wav", 1, 8000, 1000)

	d := openTestDecoder(t, fs, "/seek.wav", Config{BufferCount: 1, FramesPerBuffer: 100})

	chunk, err := d.Decode()
	require.NoError(t, err)
	require.NoError(t, d.Seek(0))

	next, err := d.Decode()
	require.NoError(t, err, "seek must return the outstanding buffer to the pool")
	require.NotNil(t, next)
	assert.Equal(t, chunk.BufferIndex, next.BufferIndex)
	assert.Equal(t, int64(0), next.PresentationTimeUs)
	assert.Equal(t, pattern(0, 0), frameAt(next, 1, 0, 0))
}

func TestReleaseIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/done.wav", 1, 8000, 100)

	d := openTestDecoder(t, fs, "/done.wav", DefaultConfig())

	require.NoError(t, d.Release())
	require.NoError(t, d.Release())

	_, err := d.Decode()
	assert.ErrorIs(t, err, mediacodec.ErrDecoderReleased)
	assert.ErrorIs(t, d.ReleaseBuffer(0), mediacodec.ErrDecoderReleased)
	assert.ErrorIs(t, d.Seek(0), mediacodec.ErrDecoderReleased)
}

func TestReaderOverSoftwareCodec(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWav(t, fs, "/music/take.wav", 2, 44100, 5000)

	codec := New(fs, Config{BufferCount: 2, FramesPerBuffer: 512})
	format := audio.NewMediaCodecFormat(codec, audio.DefaultReaderOptions())

	file, err := fs.Open("/music/take.wav")
	require.NoError(t, err)
	reader, err := format.Open(file, true)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(5000), reader.Info().LengthInSamples)

	check := func(start int64, n int) {
		dest := [][]int32{make([]int32, n), make([]int32, n)}
		require.NoError(t, reader.ReadSamples(dest, 0, start, n))
		for i := 0; i < n; i++ {
			frame := int(start) + i
			require.Equal(t, int32(pattern(frame, 0))<<16, dest[0][i], "frame %d", frame)
			require.Equal(t, int32(pattern(frame, 1))<<16, dest[1][i], "frame %d", frame)
		}
	}

	check(0, 1500)
	check(1500, 700)
	check(1234, 100)
	check(4900, 100)
	check(3, 10)

	assert.Equal(t, 3, reader.Stats().Seeks)
}
