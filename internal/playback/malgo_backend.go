//go:build cgo

package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/gopxl/beep"
)

// MalgoBackend plays through a miniaudio device. The device callback pulls
// PCM from the pipeline on the audio thread.
type MalgoBackend struct {
	mutex   sync.Mutex
	context *Context
	playing atomic.Bool
	closed  bool
}

// NewMalgoBackend creates a backend; the audio context is created on first Play
func NewMalgoBackend() *MalgoBackend {
	slog.Debug("creating new MalgoBackend")
	return &MalgoBackend{}
}

// Name implements Backend
func (mb *MalgoBackend) Name() string { return "malgo" }

// IsPlaying implements Backend
func (mb *MalgoBackend) IsPlaying() bool { return mb.playing.Load() }

func (mb *MalgoBackend) audioContext() (*Context, error) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.closed {
		return nil, ErrBackendClosed
	}
	if mb.context == nil {
		audioCtx, err := NewContext()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendNotAvailable, err)
		}
		mb.context = audioCtx
	}
	return mb.context, nil
}

// Play implements Backend
func (mb *MalgoBackend) Play(ctx context.Context, stream beep.Streamer, sampleRate beep.SampleRate) error {
	audioCtx, err := mb.audioContext()
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 2
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	pcm := newPCMReader(stream)
	finished := make(chan struct{})
	var finishOnce sync.Once

	onSamples := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		n, err := io.ReadFull(pcm, pOutputSample)
		if err == nil {
			return
		}
		clear(pOutputSample[n:])
		if !isEndOfStream(err) {
			slog.Debug("error reading audio data", "error", err)
		}
		finishOnce.Do(func() { close(finished) })
	}

	device, err := malgo.InitDevice(audioCtx.GetContext().Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	mb.playing.Store(true)
	defer mb.playing.Store(false)

	slog.Debug("malgo playback started", "sample_rate", sampleRate)

	select {
	case <-finished:
		slog.Debug("malgo playback drained")
	case <-ctx.Done():
		slog.Debug("malgo playback cancelled", "reason", ctx.Err())
	}

	if err := device.Stop(); err != nil {
		slog.Warn("failed to stop playback device", "error", err)
	}
	return nil
}

// Close shuts down the backend
func (mb *MalgoBackend) Close() error {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.closed {
		return nil
	}
	mb.closed = true

	if mb.context != nil {
		if err := mb.context.Close(); err != nil {
			return fmt.Errorf("error closing audio context: %w", err)
		}
	}

	slog.Debug("MalgoBackend closed")
	return nil
}
