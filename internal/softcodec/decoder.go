package softcodec

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/afero"

	"codecbridge.dev/internal/mediacodec"
)

const microsecondsPerSecond = 1_000_000

// Decoder is a software platform decoder bound to one file. Output buffers
// come from a fixed pool and must be handed back with ReleaseBuffer.
type Decoder struct {
	mu sync.Mutex

	fs     afero.Fs
	path   string
	kind   codecKind
	config Config
	err    error

	src        pcmSource
	sampleRate int
	channels   int
	frames     int64
	durationUs int64
	position   int64 // next frame src produces

	buffers  [][]byte
	inUse    []bool
	released bool
}

func (d *Decoder) init(src pcmSource) {
	d.src = src
	d.sampleRate = src.SampleRate()
	d.channels = src.Channels()
	d.frames = src.Frames()
	if d.frames >= 0 {
		d.durationUs = ceilDiv(d.frames*microsecondsPerSecond, int64(d.sampleRate))
	} else {
		d.durationUs = 0
	}

	bufferSize := d.config.FramesPerBuffer * d.channels * 2
	d.buffers = make([][]byte, d.config.BufferCount)
	for i := range d.buffers {
		d.buffers[i] = make([]byte, bufferSize)
	}
	d.inUse = make([]bool, d.config.BufferCount)

	slog.Info("software decoder ready",
		"path", d.path,
		"kind", d.kind,
		"sample_rate", d.sampleRate,
		"channels", d.channels,
		"frames", d.frames,
		"duration_us", d.durationUs,
		"buffer_count", len(d.buffers),
		"buffer_bytes", bufferSize)
}

// ceilDiv rounds the quotient of two non-negative numbers up
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// presentationTimeUs is the timestamp of a frame, rounded up so that
// frame == pts*rate/1e6 under truncating division
func presentationTimeUs(frame int64, sampleRate int) int64 {
	return ceilDiv(frame*microsecondsPerSecond, int64(sampleRate))
}

// Err reports why the decoder could not be constructed
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) SampleRate() int             { return d.sampleRate }
func (d *Decoder) ChannelCount() int           { return d.channels }
func (d *Decoder) DurationMicroseconds() int64 { return d.durationUs }

// Kind returns the detected codec name, empty when detection failed
func (d *Decoder) Kind() string { return string(d.kind) }

func (d *Decoder) usable() error {
	if d.released {
		return mediacodec.ErrDecoderReleased
	}
	if d.err != nil {
		return d.err
	}
	return nil
}

// Decode fills the next free pool buffer. It returns nil at end of stream.
func (d *Decoder) Decode() (*mediacodec.Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return nil, err
	}

	index := -1
	for i, busy := range d.inUse {
		if !busy {
			index = i
			break
		}
	}
	if index < 0 {
		slog.Warn("decode with every output buffer outstanding",
			"path", d.path,
			"buffer_count", len(d.buffers))
		return nil, mediacodec.ErrNoFreeBuffer
	}

	buf := d.buffers[index]
	n, err := d.src.ReadFrames(buf)
	if err == io.EOF {
		slog.Debug("software decoder reached end of stream", "path", d.path, "position", d.position)
		return nil, nil
	}
	if err != nil {
		slog.Error("software decode failed", "path", d.path, "position", d.position, "error", err)
		return nil, err
	}

	d.inUse[index] = true
	chunk := &mediacodec.Chunk{
		BufferIndex:        index,
		DataOffset:         0,
		DataSize:           n * d.channels * 2,
		PresentationTimeUs: presentationTimeUs(d.position, d.sampleRate),
		Data:               buf,
	}
	d.position += int64(n)

	return chunk, nil
}

// ReleaseBuffer returns a buffer handed out by Decode to the pool
func (d *Decoder) ReleaseBuffer(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return mediacodec.ErrDecoderReleased
	}
	if index < 0 || index >= len(d.inUse) || !d.inUse[index] {
		slog.Warn("release of a buffer that is not outstanding", "path", d.path, "buffer_index", index)
		return fmt.Errorf("%w: %d", mediacodec.ErrInvalidBufferIndex, index)
	}

	d.inUse[index] = false
	return nil
}

// Seek repositions to the frame at positionUs. Frames are decoded and
// discarded up to the target unless the backend can seek directly; a
// backward seek reopens the file. Outstanding buffers return to the pool.
func (d *Decoder) Seek(positionUs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return err
	}
	if positionUs < 0 {
		positionUs = 0
	}

	target := ceilDiv(positionUs*int64(d.sampleRate), microsecondsPerSecond)
	if d.frames >= 0 && target > d.frames {
		target = d.frames
	}

	slog.Debug("software decoder seek",
		"path", d.path,
		"position_us", positionUs,
		"from_frame", d.position,
		"to_frame", target)

	clear(d.inUse)

	if seeker, ok := d.src.(frameSeeker); ok {
		if err := seeker.SeekFrame(target); err != nil {
			return err
		}
		d.position = target
		return nil
	}

	if target < d.position {
		if err := d.reopen(); err != nil {
			return err
		}
	}

	return d.discard(target - d.position)
}

// reopen restarts the source at frame zero
func (d *Decoder) reopen() error {
	if err := d.src.Close(); err != nil {
		slog.Warn("failed to close source before reopening", "path", d.path, "error", err)
	}

	file, err := d.fs.Open(d.path)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", d.path, err)
	}
	src, err := backends[d.kind](file)
	if err != nil {
		file.Close()
		return fmt.Errorf("reopen %s: %w", d.path, err)
	}

	d.src = src
	d.position = 0
	return nil
}

// discard decodes and drops frames, stopping early at end of stream
func (d *Decoder) discard(frames int64) error {
	scratch := d.buffers[0]
	for frames > 0 {
		limit := min(int64(len(scratch)/(2*d.channels)), frames)
		n, err := d.src.ReadFrames(scratch[:limit*int64(2*d.channels)])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		d.position += int64(n)
		frames -= int64(n)
	}
	return nil
}

// Release frees the source and the pool. Further calls are no-ops.
func (d *Decoder) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil
	}
	d.released = true

	d.buffers = nil
	d.inUse = nil

	if d.src == nil {
		return nil
	}

	slog.Debug("releasing software decoder", "path", d.path, "position", d.position)
	if err := d.src.Close(); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}
