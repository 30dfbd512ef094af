package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"codecbridge.dev/internal/mediacodec"
)

// fakeDecoder is an in-memory platform decoder. Frame f, channel c holds
// the value f*10+c so tests can check exactly which frames were copied.
type fakeDecoder struct {
	err         error
	sampleRate  int
	channels    int
	durationUs  int64
	totalFrames int64

	framesPerChunk int
	chunkPadding   int   // bytes placed before the PCM data in each buffer
	seekAlign      int64 // seeks land on a multiple of this many frames
	emptyChunks    int   // empty chunks emitted before the next real one
	alwaysEmpty    bool
	decodeErr      error
	malformed      bool
	truncatePTS    bool // report floor(frame*1e6/rate) instead of the ceiling

	position    int64
	nextIndex   int
	outstanding map[int]bool

	calls           []string
	decodeCalls     int
	seekCalls       int
	bufferReleases  map[int]int
	releaseCount    int
	releaseBufferFn func(int) error
}

func newFakeDecoder(sampleRate, channels int, totalFrames int64) *fakeDecoder {
	return &fakeDecoder{
		sampleRate:     sampleRate,
		channels:       channels,
		totalFrames:    totalFrames,
		durationUs:     totalFrames * 1_000_000 / int64(sampleRate),
		framesPerChunk: 64,
		chunkPadding:   6,
		seekAlign:      1,
		outstanding:    make(map[int]bool),
		bufferReleases: make(map[int]int),
	}
}

func (d *fakeDecoder) Err() error                  { return d.err }
func (d *fakeDecoder) SampleRate() int             { return d.sampleRate }
func (d *fakeDecoder) DurationMicroseconds() int64 { return d.durationUs }
func (d *fakeDecoder) ChannelCount() int           { return d.channels }

func (d *fakeDecoder) Decode() (*mediacodec.Chunk, error) {
	d.decodeCalls++
	d.calls = append(d.calls, "decode")

	if d.decodeErr != nil {
		return nil, d.decodeErr
	}

	if d.alwaysEmpty || d.emptyChunks > 0 {
		if d.emptyChunks > 0 {
			d.emptyChunks--
		}
		return d.hand(make([]byte, d.chunkPadding), 0), nil
	}

	if d.position >= d.totalFrames {
		return nil, nil
	}

	frames := min(int64(d.framesPerChunk), d.totalFrames-d.position)
	data := make([]byte, d.chunkPadding+int(frames)*2*d.channels)
	pos := d.chunkPadding
	for f := d.position; f < d.position+frames; f++ {
		for c := 0; c < d.channels; c++ {
			binary.LittleEndian.PutUint16(data[pos:], uint16(int16(f*10+int64(c))))
			pos += 2
		}
	}

	chunk := d.hand(data, len(data)-d.chunkPadding)
	chunk.PresentationTimeUs = (d.position*1_000_000 + int64(d.sampleRate) - 1) / int64(d.sampleRate)
	if d.truncatePTS {
		chunk.PresentationTimeUs = d.position * 1_000_000 / int64(d.sampleRate)
	}
	if d.malformed {
		chunk.DataSize = len(data) + 2
	}
	d.position += frames
	return chunk, nil
}

func (d *fakeDecoder) hand(data []byte, size int) *mediacodec.Chunk {
	index := d.nextIndex
	d.nextIndex++
	d.outstanding[index] = true
	return &mediacodec.Chunk{
		BufferIndex: index,
		DataOffset:  d.chunkPadding,
		DataSize:    size,
		Data:        data,
	}
}

func (d *fakeDecoder) ReleaseBuffer(index int) error {
	d.calls = append(d.calls, fmt.Sprintf("release:%d", index))
	d.bufferReleases[index]++
	if !d.outstanding[index] {
		return mediacodec.ErrInvalidBufferIndex
	}
	delete(d.outstanding, index)
	if d.releaseBufferFn != nil {
		return d.releaseBufferFn(index)
	}
	return nil
}

func (d *fakeDecoder) Seek(positionUs int64) error {
	d.seekCalls++
	d.calls = append(d.calls, fmt.Sprintf("seek:%d", positionUs))
	frame := positionUs * int64(d.sampleRate) / 1_000_000
	d.position = frame - frame%d.seekAlign
	return nil
}

func (d *fakeDecoder) Release() error {
	d.releaseCount++
	d.calls = append(d.calls, "release-decoder")
	if d.releaseCount > 1 {
		return errors.New("decoder released twice")
	}
	return nil
}

// sampleAt is the int32 value the reader should produce for a frame/channel
func sampleAt(frame int64, channel int) int32 {
	return int32(int16(frame*10+int64(channel))) << 16
}

func (d *fakeDecoder) opener() *recordingOpener {
	return &recordingOpener{decoder: d}
}

type recordingOpener struct {
	decoder *fakeDecoder
	err     error
	paths   []string
}

func (o *recordingOpener) Open(path string) (mediacodec.Decoder, error) {
	o.paths = append(o.paths, path)
	if o.err != nil {
		return nil, o.err
	}
	return o.decoder, nil
}
